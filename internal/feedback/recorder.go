// Package feedback closes the routing loop: outcome scores reported
// after response delivery update each participant's historical efficacy,
// which the matcher reads on the next request. Reporting is best-effort
// and never blocks or fails the serving path; only malformed input is
// rejected synchronously.
package feedback

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/matching"
	"roundtable/internal/memory"
	"roundtable/internal/orchestrator"
	"roundtable/internal/types"
)

// ErrMalformedOutcome rejects outcomes that carry no usable information:
// empty IDs or a NaN score.
var ErrMalformedOutcome = errors.New("malformed outcome")

// SessionLookup resolves recent sessions for outcome validation.
// *orchestrator.Orchestrator satisfies it.
type SessionLookup interface {
	GetSession(id string) (orchestrator.Session, bool)
}

// EfficacyStore is the slice of the memory store feedback writes to.
type EfficacyStore interface {
	GetFloat(scope memory.Scope, key string) (float64, bool)
	PutFloat(scope memory.Scope, key string, v float64) error
}

type outcome struct {
	sessionID string
	profileID string
	score     float64
}

// Recorder applies outcome reports asynchronously through a single
// worker so efficacy updates never contend with request serving.
type Recorder struct {
	cfg      config.FeedbackConfig
	sessions SessionLookup
	store    EfficacyStore
	seed     float64 // starting efficacy for profiles with no history

	queue  chan outcome
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRecorder builds a recorder. The seed is the efficacy assumed for a
// profile with no recorded history and should match the matcher's
// default so the first update moves off the same baseline the scorer
// read. Start must be called before outcomes are applied.
func NewRecorder(cfg config.FeedbackConfig, sessions SessionLookup, store EfficacyStore, seed float64) *Recorder {
	return &Recorder{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		seed:     seed,
		queue:    make(chan outcome, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the application worker. Starting twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.worker()
	logging.Feedback("feedback recorder started (alpha=%.2f queue=%d)", r.cfg.Alpha, r.cfg.QueueSize)
}

// Stop drains queued outcomes, applies them, and waits for the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// RecordOutcome queues one outcome score for a profile's part in a
// session. The score is clamped to [0,1]. Unknown sessions or profiles
// are dropped during application, not reported here; a full queue drops
// the outcome rather than blocking.
func (r *Recorder) RecordOutcome(sessionID, profileID string, score float64) error {
	if sessionID == "" || profileID == "" {
		return fmt.Errorf("%w: session and profile IDs are required", ErrMalformedOutcome)
	}
	if math.IsNaN(score) {
		return fmt.Errorf("%w: score is NaN", ErrMalformedOutcome)
	}
	score = clamp01(score)

	select {
	case r.queue <- outcome{sessionID: sessionID, profileID: profileID, score: score}:
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditFeedbackReceived,
			SessionID: sessionID,
			ProfileID: profileID,
			Score:     score,
			Success:   true,
			Message:   fmt.Sprintf("Outcome %.2f for %s in %s", score, profileID, sessionID),
		})
		return nil
	default:
		r.drop(sessionID, profileID, "feedback queue full")
		return nil
	}
}

func (r *Recorder) worker() {
	defer close(r.doneCh)
	for {
		select {
		case o := <-r.queue:
			r.apply(o)
		case <-r.stopCh:
			for {
				select {
				case o := <-r.queue:
					r.apply(o)
				default:
					logging.Feedback("feedback recorder stopped")
					return
				}
			}
		}
	}
}

// apply validates an outcome against the session history and folds it
// into the profile's efficacy for the session's task type.
func (r *Recorder) apply(o outcome) {
	sess, ok := r.sessions.GetSession(o.sessionID)
	if !ok {
		r.drop(o.sessionID, o.profileID, "unknown session")
		return
	}
	if !sess.HasParticipant(o.profileID) {
		r.drop(o.sessionID, o.profileID, "profile did not participate")
		return
	}

	taskType := sess.Intent.TaskType
	if taskType == "" {
		taskType = types.TaskOther
	}
	key := matching.EfficacyKey(o.profileID, taskType)

	old, found := r.store.GetFloat(memory.ScopeMid, key)
	if !found {
		old, found = r.store.GetFloat(memory.ScopeLong, key)
	}
	if !found {
		old = r.seed
	}
	updated := ema(r.cfg.Alpha, old, o.score)

	if err := r.store.PutFloat(memory.ScopeMid, key, updated); err != nil {
		logging.FeedbackWarn("mid-term efficacy write failed for %s: %v", key, err)
	}
	if err := r.store.PutFloat(memory.ScopeLong, key, updated); err != nil {
		logging.FeedbackWarn("long-term efficacy write failed for %s: %v", key, err)
	}

	logging.Audit().EfficacyUpdated(o.sessionID, o.profileID, updated)
	logging.Feedback("efficacy %s: %.3f -> %.3f (outcome %.2f, task %s)", o.profileID, old, updated, o.score, taskType)
}

func (r *Recorder) drop(sessionID, profileID, reason string) {
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditFeedbackDropped,
		SessionID: sessionID,
		ProfileID: profileID,
		Success:   false,
		Error:     reason,
		Message:   fmt.Sprintf("Outcome for %s in %s dropped: %s", profileID, sessionID, reason),
	})
	logging.FeedbackWarn("outcome for %s in %s dropped: %s", profileID, sessionID, reason)
}

// ema folds one outcome into the running efficacy average. Same inputs,
// same output: the update is a pure function of (alpha, old, score).
func ema(alpha, old, score float64) float64 {
	return alpha*score + (1-alpha)*old
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
