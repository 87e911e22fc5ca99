package orchestrator

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"roundtable/internal/types"
)

// depProfile builds a participant with the given soft dependencies.
func depProfile(id string, deps ...string) types.Profile {
	p := types.Profile{ID: id}
	for _, d := range deps {
		p.DependsOn = append(p.DependsOn, types.Dependency{ProfileID: d})
	}
	return p
}

func allRegistered(string) bool { return true }

func TestPlanWaves(t *testing.T) {
	cases := []struct {
		name         string
		participants []types.Profile
		wantWaves    [][]string
		wantMode     types.ExecutionMode
	}{
		{
			name:         "independent set runs parallel",
			participants: []types.Profile{depProfile("c"), depProfile("a"), depProfile("b")},
			wantWaves:    [][]string{{"a", "b", "c"}},
			wantMode:     types.ModeParallel,
		},
		{
			name:         "single profile runs parallel",
			participants: []types.Profile{depProfile("solo")},
			wantWaves:    [][]string{{"solo"}},
			wantMode:     types.ModeParallel,
		},
		{
			name: "linear chain runs serial",
			participants: []types.Profile{
				depProfile("c", "b"),
				depProfile("b", "a"),
				depProfile("a"),
			},
			wantWaves: [][]string{{"a"}, {"b"}, {"c"}},
			wantMode:  types.ModeSerial,
		},
		{
			name: "diamond runs hybrid",
			participants: []types.Profile{
				depProfile("a"),
				depProfile("b", "a"),
				depProfile("c", "a"),
				depProfile("d", "b", "c"),
			},
			wantWaves: [][]string{{"a"}, {"b", "c"}, {"d"}},
			wantMode:  types.ModeHybrid,
		},
		{
			name: "independent member alongside a chain runs hybrid",
			participants: []types.Profile{
				depProfile("a"),
				depProfile("b", "a"),
				depProfile("lone"),
			},
			wantWaves: [][]string{{"a", "lone"}, {"b"}},
			wantMode:  types.ModeHybrid,
		},
		{
			name: "dependency outside the set imposes no ordering",
			participants: []types.Profile{
				depProfile("a", "outsider"),
				depProfile("b"),
			},
			wantWaves: [][]string{{"a", "b"}},
			wantMode:  types.ModeParallel,
		},
		{
			name: "duplicate dependency declarations collapse",
			participants: []types.Profile{
				depProfile("b", "a", "a"),
				depProfile("a"),
			},
			wantWaves: [][]string{{"a"}, {"b"}},
			wantMode:  types.ModeSerial,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			waves, mode, err := planWaves(tc.participants, allRegistered)
			if err != nil {
				t.Fatalf("planWaves: %v", err)
			}
			if diff := cmp.Diff(tc.wantWaves, waves); diff != "" {
				t.Errorf("waves mismatch (-want +got):\n%s", diff)
			}
			if mode != tc.wantMode {
				t.Errorf("mode = %s, want %s", mode, tc.wantMode)
			}
		})
	}
}

func TestPlanWavesDanglingDependency(t *testing.T) {
	participants := []types.Profile{depProfile("a", "ghost")}
	registered := func(id string) bool { return id == "a" }

	_, _, err := planWaves(participants, registered)
	if err == nil {
		t.Fatal("planWaves accepted a dependency on an unregistered profile")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error %q does not name the missing profile", err)
	}
}

func TestPlanWavesCycle(t *testing.T) {
	cases := []struct {
		name         string
		participants []types.Profile
	}{
		{
			name: "two profile cycle",
			participants: []types.Profile{
				depProfile("a", "b"),
				depProfile("b", "a"),
			},
		},
		{
			name: "three profile cycle with a clean head",
			participants: []types.Profile{
				depProfile("head"),
				depProfile("a", "c"),
				depProfile("b", "a"),
				depProfile("c", "b"),
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := planWaves(tc.participants, allRegistered)
			if err == nil {
				t.Fatal("planWaves accepted a dependency cycle")
			}
			if !strings.Contains(err.Error(), "cycle") {
				t.Errorf("error %q does not mention the cycle", err)
			}
		})
	}
}
