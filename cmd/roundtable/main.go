package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"roundtable/internal/config"
	"roundtable/internal/engine"
	"roundtable/internal/logging"
	"roundtable/internal/registry"
	"roundtable/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose       bool
	configPath    string
	workspace     string
	descriptorDir string
	timeout       time.Duration

	// Route signal flags
	signalPaths    []string
	signalTags     []string
	signalProfiles []string
	callerID       string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "roundtable",
	Short: "roundtable - context-routing engine for capability profiles",
	Long: `roundtable routes incoming requests to the capability profiles best
equipped to handle them.

Each request is distilled into an intent (task type, keywords, domain tags),
scored against every registered profile, and dispatched to a collaboration
session. Contributions from the selected profiles are fused into a single
response; conflicts that cannot be resolved are surfaced to the caller.

Profiles are defined as YAML descriptors in the descriptor directory and can
be hot-reloaded while the engine runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Category file logging is debug-gated; a missing workspace config
		// just leaves it off.
		if err := logging.Initialize(resolveWorkspace()); err != nil {
			logger.Warn("Category logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// routeCmd routes a single request through the full pipeline
var routeCmd = &cobra.Command{
	Use:   "route [request]",
	Short: "Route a request to the best-matching capability profiles",
	Long: `Routes a natural language request through the full pipeline:
  1. Extract intent (task type, keywords, domain tags)
  2. Score every registered profile and select the working set
  3. Run a collaboration session across the selected profiles
  4. Fuse contributions and resolve conflicts

The fused response is printed as JSON on stdout.

Examples:
  roundtable route "build the payments api handler"
  roundtable route --path api/server.go --tag backend "add retries"
  roundtable route --profile security-reviewer "audit the login flow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

// profilesCmd lists the registered capability profiles
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List capability profiles loaded from the descriptor directory",
	RunE:  listProfiles,
}

// versionCmd shows the configured engine name and version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show engine version",
	RunE:  showVersion,
}

// initCmd scaffolds a roundtable workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize roundtable in the current workspace",
	Long: `Creates the .roundtable/ directory with a default config file and a
profile descriptor directory seeded with one example advisor.

Run this once when setting up roundtable for a new project, then edit or
replace the example descriptor with your own capability profiles.`,
	RunE: runInit,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", filepath.Join(".roundtable", "config.yaml"), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&descriptorDir, "profile-dir", "", "Profile descriptor directory (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Route timeout")

	// Route signal flags
	routeCmd.Flags().StringSliceVar(&signalPaths, "path", nil, "File path signal (repeatable)")
	routeCmd.Flags().StringSliceVar(&signalTags, "tag", nil, "Domain tag signal (repeatable)")
	routeCmd.Flags().StringSliceVar(&signalProfiles, "profile", nil, "Pin a profile into the working set (repeatable)")
	routeCmd.Flags().StringVar(&callerID, "caller", "", "Caller identifier recorded with the request")

	// Add commands to root
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runRoute routes a single request and prints the fused response as JSON.
func runRoute(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("engine start failed: %w", err)
	}
	defer func() { _ = eng.Close() }()

	req := engine.Request{
		Text: strings.Join(args, " "),
		Signals: types.Signals{
			Paths:    signalPaths,
			Tags:     signalTags,
			Profiles: signalProfiles,
		},
		CallerID: callerID,
	}
	logger.Info("Routing request",
		zap.String("text", req.Text),
		zap.Int("signals", len(signalPaths)+len(signalTags)+len(signalProfiles)))

	resp, err := eng.Route(ctx, req)
	if err != nil {
		return fmt.Errorf("route failed: %w", err)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// listProfiles prints the registered profiles as JSON. It loads descriptors
// directly without starting the orchestration machinery.
func listProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := registry.New()
	loader := registry.NewLoader(cfg.Registry.DescriptorDir, reg)
	n, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load descriptors: %w", err)
	}
	logger.Debug("Descriptors loaded", zap.Int("count", n))

	out, err := json.MarshalIndent(reg.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// showVersion prints the configured engine name and version.
func showVersion(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	return nil
}

// exampleDescriptor seeds a fresh descriptor directory so the first route
// has something to hit. Users replace it with their own profiles.
const exampleDescriptor = `# Example capability profile. One profile per file.
id: general-advisor
name: General Advisor
tags: [backend]
keywords: [build, fix, review, test, design]
authority: 0.3
advice:
  "advice:general": start from the failing case and work outward
`

// runInit scaffolds .roundtable/config.yaml and the descriptor directory.
func runInit(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfgPath := configPath
	if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(ws, cfgPath)
	}

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Println("Workspace already initialized. Use 'roundtable profiles' to inspect it.")
		fmt.Printf("To reinitialize, delete %s first.\n", cfgPath)
		return nil
	}

	cfg := config.DefaultConfig()
	if descriptorDir != "" {
		cfg.Registry.DescriptorDir = descriptorDir
	}
	if err := cfg.Save(cfgPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	profileDir := cfg.Registry.DescriptorDir
	if !filepath.IsAbs(profileDir) {
		profileDir = filepath.Join(ws, profileDir)
	}
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return fmt.Errorf("failed to create descriptor directory: %w", err)
	}
	examplePath := filepath.Join(profileDir, "general-advisor.yaml")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(exampleDescriptor), 0644); err != nil {
			return fmt.Errorf("failed to write example descriptor: %w", err)
		}
	}

	logger.Info("Workspace initialized",
		zap.String("config", cfgPath),
		zap.String("profiles", profileDir))
	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Printf("Profile descriptors live in %s (example included)\n", profileDir)
	return nil
}

// loadConfig reads the config file relative to the workspace and applies
// command-line overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(resolveWorkspace(), path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if descriptorDir != "" {
		cfg.Registry.DescriptorDir = descriptorDir
	}
	return cfg, nil
}

func resolveWorkspace() string {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	return ws
}
