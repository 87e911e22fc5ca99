package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"roundtable/internal/engine"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func TestShowVersionDefaults(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()

	output := captureOutput(t, func() {
		if err := showVersion(&cobra.Command{}, nil); err != nil {
			t.Fatalf("showVersion returned error: %v", err)
		}
	})

	if !strings.Contains(output, "roundtable 0.3.0") {
		t.Fatalf("expected default name and version, got: %s", output)
	}
}

func TestListProfilesEmptyDirectory(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()
	descriptorDir = filepath.Join(workspace, "profiles")

	output := captureOutput(t, func() {
		if err := listProfiles(&cobra.Command{}, nil); err != nil {
			t.Fatalf("listProfiles returned error: %v", err)
		}
	})

	if strings.TrimSpace(output) != "[]" {
		t.Fatalf("expected empty JSON array, got: %s", output)
	}
}

func TestListProfilesShowsDescriptor(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()
	descriptorDir = writeDescriptor(t, workspace)

	output := captureOutput(t, func() {
		if err := listProfiles(&cobra.Command{}, nil); err != nil {
			t.Fatalf("listProfiles returned error: %v", err)
		}
	})

	if !strings.Contains(output, `"go-backend"`) {
		t.Fatalf("expected go-backend profile in listing, got: %s", output)
	}
}

func TestRunRouteEndToEnd(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()
	descriptorDir = writeDescriptor(t, workspace)
	timeout = 10 * time.Second

	output := captureOutput(t, func() {
		if err := runRoute(&cobra.Command{}, []string{"build", "the", "go", "api", "handler"}); err != nil {
			t.Fatalf("runRoute returned error: %v", err)
		}
	})

	var resp engine.Response
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("route output is not valid JSON: %v\n%s", err, output)
	}
	if len(resp.WorkingSet) != 1 || resp.WorkingSet[0].ProfileID != "go-backend" {
		t.Fatalf("expected go-backend working set, got %+v", resp.WorkingSet)
	}
	if got := resp.Payload["advice:transport"]; got != "use net/http with context-aware handlers" {
		t.Fatalf("expected descriptor advice in payload, got %q", got)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session id in the response")
	}
}

func TestRunRouteNoMatchSurfacesError(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()
	descriptorDir = writeDescriptor(t, workspace)
	timeout = 10 * time.Second

	err := runRoute(&cobra.Command{}, []string{"refurbish", "vintage", "typewriter", "platen"})
	if err == nil {
		t.Fatal("expected a no-match error")
	}
	if !strings.Contains(err.Error(), "no profile matched") {
		t.Fatalf("expected clarification message, got: %v", err)
	}
}

func TestRunInitScaffoldsWorkspace(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()

	output := captureOutput(t, func() {
		if err := runInit(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runInit returned error: %v", err)
		}
	})
	if !strings.Contains(output, "Config written") {
		t.Fatalf("expected scaffold confirmation, got: %s", output)
	}

	if _, err := os.Stat(filepath.Join(workspace, ".roundtable", "config.yaml")); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, "profiles", "general-advisor.yaml")); err != nil {
		t.Fatalf("expected example descriptor: %v", err)
	}

	// The scaffolded workspace must route out of the box.
	descriptorDir = filepath.Join(workspace, "profiles")
	timeout = 10 * time.Second
	routeOut := captureOutput(t, func() {
		if err := runRoute(&cobra.Command{}, []string{"fix", "the", "api", "build"}); err != nil {
			t.Fatalf("runRoute on scaffold returned error: %v", err)
		}
	})
	if !strings.Contains(routeOut, `"general-advisor"`) {
		t.Fatalf("expected example advisor in route output, got: %s", routeOut)
	}
}

func TestRunInitAlreadyInitialized(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()

	cfgPath := filepath.Join(workspace, ".roundtable", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("name: roundtable\n"), 0644); err != nil {
		t.Fatal(err)
	}

	output := captureOutput(t, func() {
		if err := runInit(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runInit returned error: %v", err)
		}
	})
	if !strings.Contains(output, "already initialized") {
		t.Fatalf("expected already-initialized notice, got: %s", output)
	}
}

func TestLoadConfigProfileDirOverride(t *testing.T) {
	resetGlobals(t)
	workspace = t.TempDir()

	cfgPath := filepath.Join(workspace, ".roundtable", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("registry:\n  descriptor_dir: from-config\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Registry.DescriptorDir != "from-config" {
		t.Fatalf("expected config value, got %q", cfg.Registry.DescriptorDir)
	}

	descriptorDir = "from-flag"
	cfg, err = loadConfig()
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Registry.DescriptorDir != "from-flag" {
		t.Fatalf("expected flag override to win, got %q", cfg.Registry.DescriptorDir)
	}
}

// writeDescriptor drops a single advisor descriptor under ws/profiles and
// returns the directory.
func writeDescriptor(t *testing.T, ws string) string {
	t.Helper()

	dir := filepath.Join(ws, "profiles")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	descriptor := `id: go-backend
name: Go Backend Advisor
tags: [go, backend]
keywords: [build, go, api, handler]
task_types: [develop]
authority: 0.8
advice:
  "advice:transport": use net/http with context-aware handlers
`
	if err := os.WriteFile(filepath.Join(dir, "go-backend.yaml"), []byte(descriptor), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func resetGlobals(t *testing.T) {
	t.Helper()

	logger = zap.NewNop()
	t.Cleanup(func() {
		verbose = false
		configPath = filepath.Join(".roundtable", "config.yaml")
		workspace = ""
		descriptorDir = ""
		timeout = 0
		signalPaths = nil
		signalTags = nil
		signalProfiles = nil
		callerID = ""
	})
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
