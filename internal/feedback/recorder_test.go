package feedback

import (
	"errors"
	"math"
	"testing"

	"roundtable/internal/config"
	"roundtable/internal/matching"
	"roundtable/internal/memory"
	"roundtable/internal/orchestrator"
	"roundtable/internal/types"
)

// fakeSessions serves canned sessions for outcome validation.
type fakeSessions map[string]orchestrator.Session

func (f fakeSessions) GetSession(id string) (orchestrator.Session, bool) {
	s, ok := f[id]
	return s, ok
}

func debugSession(id string, participantIDs ...string) orchestrator.Session {
	participants := make([]types.Profile, len(participantIDs))
	for i, pid := range participantIDs {
		participants[i] = types.Profile{ID: pid}
	}
	return orchestrator.Session{
		ID:           id,
		State:        types.SessionCompleted,
		Intent:       types.Intent{TaskType: types.TaskDebug},
		Participants: participants,
	}
}

func newTestRecorder(t *testing.T, sessions fakeSessions) (*Recorder, *memory.Store) {
	t.Helper()
	store, err := memory.New(config.DefaultMemoryConfig())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := NewRecorder(config.DefaultFeedbackConfig(), sessions, store, 0.5)
	r.Start()
	t.Cleanup(r.Stop)
	return r, store
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEMA(t *testing.T) {
	cases := []struct {
		name  string
		alpha float64
		old   float64
		score float64
		want  float64
	}{
		{"perfect outcome from neutral", 0.2, 0.5, 1.0, 0.6},
		{"failure from neutral", 0.2, 0.5, 0.0, 0.4},
		{"no movement on equal score", 0.2, 0.7, 0.7, 0.7},
		{"heavier alpha moves faster", 0.5, 0.5, 1.0, 0.75},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := ema(tc.alpha, tc.old, tc.score); !almostEqual(got, tc.want) {
				t.Errorf("ema(%.2f, %.2f, %.2f) = %f, want %f", tc.alpha, tc.old, tc.score, got, tc.want)
			}
		})
	}
}

func TestEMASequenceIsReproducible(t *testing.T) {
	run := func() float64 {
		eff := 0.5
		for _, score := range []float64{0.8, 0.3, 1.0, 0.6} {
			eff = ema(0.2, eff, score)
		}
		return eff
	}
	if first, second := run(), run(); first != second {
		t.Errorf("same sequence produced different efficacies: %f vs %f", first, second)
	}
}

func TestRecordOutcomeValidation(t *testing.T) {
	r, _ := newTestRecorder(t, fakeSessions{})

	cases := []struct {
		name      string
		sessionID string
		profileID string
		score     float64
	}{
		{"empty session id", "", "gopher", 0.5},
		{"empty profile id", "s1", "", 0.5},
		{"nan score", "s1", "gopher", math.NaN()},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := r.RecordOutcome(tc.sessionID, tc.profileID, tc.score)
			if !errors.Is(err, ErrMalformedOutcome) {
				t.Errorf("err = %v, want ErrMalformedOutcome", err)
			}
		})
	}
}

func TestOutcomeUpdatesBothScopes(t *testing.T) {
	sessions := fakeSessions{"s1": debugSession("s1", "gopher")}
	r, store := newTestRecorder(t, sessions)

	if err := r.RecordOutcome("s1", "gopher", 1.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	r.Stop() // drains the queue

	key := matching.EfficacyKey("gopher", types.TaskDebug)
	for _, scope := range []memory.Scope{memory.ScopeMid, memory.ScopeLong} {
		got, ok := store.GetFloat(scope, key)
		if !ok {
			t.Fatalf("no efficacy in %s scope", scope)
		}
		if !almostEqual(got, 0.6) {
			t.Errorf("%s efficacy = %f, want 0.6", scope, got)
		}
	}
}

func TestSequentialOutcomesCompound(t *testing.T) {
	sessions := fakeSessions{"s1": debugSession("s1", "gopher")}
	r, store := newTestRecorder(t, sessions)

	if err := r.RecordOutcome("s1", "gopher", 1.0); err != nil {
		t.Fatalf("first RecordOutcome: %v", err)
	}
	if err := r.RecordOutcome("s1", "gopher", 1.0); err != nil {
		t.Fatalf("second RecordOutcome: %v", err)
	}
	r.Stop()

	key := matching.EfficacyKey("gopher", types.TaskDebug)
	got, ok := store.GetFloat(memory.ScopeMid, key)
	if !ok {
		t.Fatal("no efficacy recorded")
	}
	// 0.5 -> 0.6 -> 0.68: the second update compounds on the first.
	if !almostEqual(got, 0.68) {
		t.Errorf("efficacy after two perfect outcomes = %f, want 0.68", got)
	}
}

func TestScoreClamped(t *testing.T) {
	sessions := fakeSessions{"s1": debugSession("s1", "gopher")}
	r, store := newTestRecorder(t, sessions)

	if err := r.RecordOutcome("s1", "gopher", -3.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	r.Stop()

	key := matching.EfficacyKey("gopher", types.TaskDebug)
	got, _ := store.GetFloat(memory.ScopeMid, key)
	if !almostEqual(got, 0.4) {
		t.Errorf("efficacy = %f, want 0.4 (score clamped to 0)", got)
	}
}

func TestUnknownSessionDropped(t *testing.T) {
	r, store := newTestRecorder(t, fakeSessions{})

	if err := r.RecordOutcome("never-ran", "gopher", 1.0); err != nil {
		t.Fatalf("unknown session must not error the caller: %v", err)
	}
	r.Stop()

	key := matching.EfficacyKey("gopher", types.TaskDebug)
	if _, ok := store.GetFloat(memory.ScopeMid, key); ok {
		t.Error("dropped outcome still updated efficacy")
	}
}

func TestNonParticipantDropped(t *testing.T) {
	sessions := fakeSessions{"s1": debugSession("s1", "gopher")}
	r, store := newTestRecorder(t, sessions)

	if err := r.RecordOutcome("s1", "outsider", 1.0); err != nil {
		t.Fatalf("non-participant must not error the caller: %v", err)
	}
	r.Stop()

	key := matching.EfficacyKey("outsider", types.TaskDebug)
	if _, ok := store.GetFloat(memory.ScopeMid, key); ok {
		t.Error("dropped outcome still updated efficacy")
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	cfg := config.DefaultFeedbackConfig()
	cfg.QueueSize = 1
	store, err := memory.New(config.DefaultMemoryConfig())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	// Never started: nothing drains, so the second outcome finds the
	// queue full and must drop without blocking or erroring.
	r := NewRecorder(cfg, fakeSessions{}, store, 0.5)
	if err := r.RecordOutcome("s1", "gopher", 0.9); err != nil {
		t.Fatalf("first outcome: %v", err)
	}
	if err := r.RecordOutcome("s1", "gopher", 0.9); err != nil {
		t.Fatalf("overflow outcome must be dropped silently, got %v", err)
	}
}

func TestEfficacyFeedsBackIntoMatching(t *testing.T) {
	sessions := fakeSessions{"s1": debugSession("s1", "gopher")}
	r, store := newTestRecorder(t, sessions)

	if err := r.RecordOutcome("s1", "gopher", 1.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	r.Stop()

	m := matching.NewMatcher(config.DefaultMatchingConfig(), nil, store)
	profile := types.Profile{ID: "gopher", Keywords: []string{"goroutine"}, TaskTypes: []string{types.TaskDebug}}
	intent := types.Intent{TaskType: types.TaskDebug, Keywords: []string{"goroutine"}}

	score := m.ScoreProfile(profile, intent)
	if !almostEqual(score.Components.HistoricalEfficacy, 0.6) {
		t.Errorf("matcher saw efficacy %f, want the updated 0.6", score.Components.HistoricalEfficacy)
	}
}
