// Package orchestrator runs collaboration sessions: it orders a working
// set by its dependencies, dispatches profile evaluations through a
// shared priority queue, and tracks each session through an explicit
// state machine until its contributions are ready for fusion.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// ErrSessionNotFound is returned for session IDs that were never run or
// have been evicted from the history ring.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Registry is the profile lookup needed to validate dependencies.
// *registry.Registry satisfies it.
type Registry interface {
	Has(id string) bool
}

// SessionRequest carries everything a collaboration session needs: the
// raw request, its structured intent, the selected working set, and
// which members were pinned by explicit caller signals.
type SessionRequest struct {
	Request      string
	Intent       types.Intent
	Participants []types.Profile

	// Pinned members enqueue at high priority so explicit signals are
	// never starved by bulk scored work.
	Pinned map[string]bool
}

// Orchestrator coordinates sessions over a shared evaluation queue.
type Orchestrator struct {
	mu       sync.RWMutex
	cfg      config.OrchestratorConfig
	queue    *EvalQueue
	registry Registry

	// sessions and order form a bounded history ring; the oldest
	// session is evicted once SessionHistory is exceeded.
	sessions map[string]*Session
	order    []string
}

// New builds an orchestrator. Start must be called before Run.
func New(cfg config.OrchestratorConfig, reg Registry) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		queue:    NewEvalQueue(cfg),
		registry: reg,
		sessions: make(map[string]*Session),
	}
}

// Start launches the evaluation workers.
func (o *Orchestrator) Start() {
	o.queue.Start()
}

// Stop halts the evaluation workers. Sessions still running observe
// queue-stopped evaluation failures and fail normally.
func (o *Orchestrator) Stop() {
	o.queue.Stop()
}

// QueueStats exposes the evaluation queue counters.
func (o *Orchestrator) QueueStats() QueueStats {
	return o.queue.Stats()
}

// Run executes one collaboration session to the merge point. On success
// the returned session is in the Merging state and carries every
// contribution; the caller fuses them and then finalizes with Complete.
// On failure the session is terminal and the error explains why.
func (o *Orchestrator) Run(ctx context.Context, req SessionRequest) (*Session, error) {
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrSessionFailed)
	}

	sess := newSession(req.Request, req.Intent, req.Participants)
	sessCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	defer cancel()
	o.track(sess)

	ids := make([]string, len(req.Participants))
	for i, p := range req.Participants {
		ids[i] = p.ID
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditSessionStart,
		SessionID: sess.ID,
		Target:    strings.Join(ids, ","),
		Success:   true,
		Fields:    map[string]interface{}{"participants": len(ids)},
		Message:   fmt.Sprintf("Session %s started with [%s]", sess.ID, strings.Join(ids, ", ")),
	})

	waves, mode, err := planWaves(req.Participants, o.registry.Has)
	if err != nil {
		ferr := fmt.Errorf("%w: %v", ErrSessionFailed, err)
		o.fail(sess, ferr)
		return sess, ferr
	}

	o.mu.Lock()
	sess.Mode = mode
	sess.Waves = waves
	terr := sess.transition(types.SessionWorking)
	o.mu.Unlock()
	if terr != nil {
		ferr := fmt.Errorf("%w: %v", ErrSessionFailed, terr)
		o.fail(sess, ferr)
		return sess, ferr
	}
	logging.Audit().SessionMode(sess.ID, mode.String(), len(waves))
	logging.Orchestrator("session %s: %d participants, mode=%s, %d waves", sess.ID, len(ids), mode, len(waves))

	profiles := make(map[string]types.Profile, len(req.Participants))
	for _, p := range req.Participants {
		profiles[p.ID] = p
	}

	prior := make(map[string]types.Contribution, len(req.Participants))
	for _, wave := range waves {
		if o.stateOf(sess) != types.SessionWorking {
			break
		}
		batch := o.runWave(sessCtx, sess, wave, profiles, prior, req.Pinned)
		for _, c := range batch {
			prior[c.ProfileID] = c
			logging.Audit().EvalResult(sess.ID, c.ProfileID, auditEventFor(c), c.Elapsed.Milliseconds(), errString(c.Err))
		}
		o.appendContributions(sess, batch)
	}

	if o.stateOf(sess) == types.SessionAborted {
		return sess, o.errOf(sess)
	}

	usable := 0
	for _, c := range prior {
		if c.OK() {
			usable++
		}
	}
	if usable == 0 {
		ferr := fmt.Errorf("%w: no evaluation produced usable output", ErrSessionFailed)
		o.fail(sess, ferr)
		return sess, ferr
	}

	o.mu.Lock()
	terr = sess.transition(types.SessionMerging)
	o.mu.Unlock()
	if terr != nil {
		// Aborted between the last wave and here.
		if serr := o.errOf(sess); serr != nil {
			return sess, serr
		}
		return sess, fmt.Errorf("%w: %v", ErrSessionFailed, terr)
	}
	logging.Orchestrator("session %s: %d/%d contributions usable, merging", sess.ID, usable, len(prior))
	return sess, nil
}

// runWave dispatches one Kahn layer through the queue and collects all
// results before returning. Hard-dependency gating happens here: a
// member whose hard dependency produced no usable output is recorded as
// skipped without ever being enqueued.
func (o *Orchestrator) runWave(ctx context.Context, sess *Session, wave []string, profiles map[string]types.Profile, prior map[string]types.Contribution, pinned map[string]bool) []types.Contribution {
	out := make([]types.Contribution, len(wave))
	g, waveCtx := errgroup.WithContext(ctx)

	for i, id := range wave {
		profile := profiles[id]
		if depID, blocked := blockedByHardDep(profile, prior); blocked {
			out[i] = skippedContribution(id, depID)
			logging.OrchestratorWarn("session %s: skipping %s, hard dependency %s unusable", sess.ID, id, depID)
			continue
		}

		evalReq := &EvalRequest{
			SessionID: sess.ID,
			Profile:   profile,
			Task: types.EvalTask{
				SessionID: sess.ID,
				Request:   sess.Request,
				Intent:    sess.Intent,
				Inputs:    dependencyInputs(profile, prior),
			},
			Priority: priorityFor(pinned, id),
			Ctx:      waveCtx,
		}
		if err := o.queue.Submit(waveCtx, evalReq); err != nil {
			out[i] = types.Contribution{
				ID:        uuid.NewString(),
				ProfileID: id,
				Err:       fmt.Errorf("%w: profile %s not dispatched: %v", ErrEvalFailed, id, err),
			}
			continue
		}

		i, id := i, id
		g.Go(func() error {
			select {
			case res := <-evalReq.ResultCh:
				out[i] = res.Contribution
			case <-waveCtx.Done():
				out[i] = types.Contribution{
					ID:        uuid.NewString(),
					ProfileID: id,
					Err:       fmt.Errorf("%w: profile %s: %v", ErrEvalFailed, id, waveCtx.Err()),
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.OrchestratorWarn("session %s: wave collection: %v", sess.ID, err)
	}
	return out
}

// Complete finalizes a merged session. Only legal from Merging.
func (o *Orchestrator) Complete(sessionID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := sess.transition(types.SessionCompleted); err != nil {
		o.mu.Unlock()
		return err
	}
	elapsed := sess.EndedAt.Sub(sess.StartedAt)
	o.mu.Unlock()

	logging.Audit().Log(logging.AuditEvent{
		EventType:  logging.AuditSessionEnd,
		SessionID:  sessionID,
		Target:     types.SessionCompleted.String(),
		Success:    true,
		DurationMs: elapsed.Milliseconds(),
		Message:    fmt.Sprintf("Session %s completed in %v", sessionID, elapsed),
	})
	logging.Session("session %s completed in %v", sessionID, elapsed)
	return nil
}

// Fail marks a session failed with the given cause. Used when a stage
// after evaluation (fusion, in strict mode) cannot produce a result.
func (o *Orchestrator) Fail(sessionID string, cause error) error {
	o.mu.RLock()
	sess, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	o.fail(sess, cause)
	return nil
}

// Abort cancels a session before completion. In-flight evaluations are
// cancelled and already collected contributions are discarded.
func (o *Orchestrator) Abort(sessionID, reason string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := sess.transition(types.SessionAborted); err != nil {
		o.mu.Unlock()
		return err
	}
	sess.Err = fmt.Errorf("%w: aborted: %s", ErrSessionFailed, reason)
	sess.Contributions = nil
	cancel := sess.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditSessionAbort,
		SessionID: sessionID,
		Target:    reason,
		Success:   true,
		Message:   fmt.Sprintf("Session %s aborted: %s", sessionID, reason),
	})
	logging.SessionWarn("session %s aborted: %s", sessionID, reason)
	return nil
}

// fail moves a session to Failed unless it already reached a terminal
// state (a concurrent abort wins).
func (o *Orchestrator) fail(sess *Session, cause error) {
	o.mu.Lock()
	if sess.State.Terminal() {
		o.mu.Unlock()
		return
	}
	if err := sess.transition(types.SessionFailed); err != nil {
		o.mu.Unlock()
		return
	}
	sess.Err = cause
	o.mu.Unlock()

	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditSessionEnd,
		SessionID: sess.ID,
		Target:    types.SessionFailed.String(),
		Success:   false,
		Error:     errString(cause),
		Message:   fmt.Sprintf("Session %s failed: %v", sess.ID, cause),
	})
	logging.SessionError("session %s failed: %v", sess.ID, cause)
}

func (o *Orchestrator) appendContributions(sess *Session, batch []types.Contribution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess.State != types.SessionWorking {
		return
	}
	sess.Contributions = append(sess.Contributions, batch...)
}

func (o *Orchestrator) stateOf(sess *Session) types.SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sess.State
}

func (o *Orchestrator) errOf(sess *Session) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sess.Err
}

// blockedByHardDep reports the first hard dependency that ran and
// produced no usable output. Dependencies outside the working set never
// gate; they were not evaluated.
func blockedByHardDep(p types.Profile, prior map[string]types.Contribution) (string, bool) {
	for _, dep := range p.DependsOn {
		if !dep.Hard {
			continue
		}
		if c, ok := prior[dep.ProfileID]; ok && !c.OK() {
			return dep.ProfileID, true
		}
	}
	return "", false
}

// dependencyInputs collects contributions from dependencies that already
// ran. Failed soft dependencies pass through error-valued so the
// dependent can decide what to do with them.
func dependencyInputs(p types.Profile, prior map[string]types.Contribution) map[string]types.Contribution {
	var inputs map[string]types.Contribution
	for _, dep := range p.DependsOn {
		c, ok := prior[dep.ProfileID]
		if !ok {
			continue
		}
		if inputs == nil {
			inputs = make(map[string]types.Contribution, len(p.DependsOn))
		}
		inputs[dep.ProfileID] = c
	}
	return inputs
}

func priorityFor(pinned map[string]bool, id string) types.EvalPriority {
	if pinned[id] {
		return types.PriorityHigh
	}
	return types.PriorityNormal
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
