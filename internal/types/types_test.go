package types

import "testing"

func TestSessionStateString(t *testing.T) {
	cases := []struct {
		state SessionState
		want  string
	}{
		{SessionForming, "forming"},
		{SessionWorking, "working"},
		{SessionMerging, "merging"},
		{SessionCompleted, "completed"},
		{SessionFailed, "failed"},
		{SessionAborted, "aborted"},
		{SessionState(99), "unknown(99)"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}

func TestSessionStateTerminal(t *testing.T) {
	terminal := []SessionState{SessionCompleted, SessionFailed, SessionAborted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []SessionState{SessionForming, SessionWorking, SessionMerging}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestExecutionModeString(t *testing.T) {
	if ModeParallel.String() != "parallel" || ModeSerial.String() != "serial" || ModeHybrid.String() != "hybrid" {
		t.Error("execution mode names are wrong")
	}
}

func TestProfileDependencyHelpers(t *testing.T) {
	p := Profile{
		ID: "perf-tuner",
		DependsOn: []Dependency{
			{ProfileID: "profiler", Hard: true},
			{ProfileID: "reviewer"},
		},
	}

	ids := p.DependencyIDs()
	if len(ids) != 2 || ids[0] != "profiler" || ids[1] != "reviewer" {
		t.Errorf("DependencyIDs() = %v", ids)
	}
	if !p.HardDependency("profiler") {
		t.Error("profiler should be a hard dependency")
	}
	if p.HardDependency("reviewer") {
		t.Error("reviewer should be soft")
	}
	if p.HardDependency("missing") {
		t.Error("unknown dependency should report soft")
	}
}

func TestProfileServesTaskType(t *testing.T) {
	p := Profile{ID: "dbg", TaskTypes: []string{TaskDebug, TaskTest}}
	if !p.ServesTaskType(TaskDebug) {
		t.Error("expected debug to be served")
	}
	if p.ServesTaskType(TaskDeploy) {
		t.Error("deploy should not be served")
	}
}

func TestKnownTaskType(t *testing.T) {
	for _, tt := range KnownTaskTypes {
		if !KnownTaskType(tt) {
			t.Errorf("%q should be known", tt)
		}
	}
	if KnownTaskType("gardening") {
		t.Error("unexpected task type accepted")
	}
}

func TestContributionOK(t *testing.T) {
	good := Contribution{ProfileID: "a", Confidence: 0.8}
	if !good.OK() {
		t.Error("clean contribution should be OK")
	}
	skipped := Contribution{ProfileID: "b", Skipped: true}
	if skipped.OK() {
		t.Error("skipped contribution should not be OK")
	}
}
