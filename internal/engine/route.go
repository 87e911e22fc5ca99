package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"roundtable/internal/fusion"
	"roundtable/internal/logging"
	"roundtable/internal/matching"
	"roundtable/internal/memory"
	"roundtable/internal/orchestrator"
	"roundtable/internal/types"
)

// Request is one inbound routing request.
type Request struct {
	// Text is the raw request prose.
	Text string `json:"text"`
	// Signals carry explicit project context: file paths, stack tags,
	// pinned profile ids.
	Signals types.Signals `json:"signals"`
	// CallerID identifies the requester for audit correlation.
	CallerID string `json:"caller_id,omitempty"`
}

// Response is the synchronous routing result.
type Response struct {
	SessionID  string            `json:"session_id"`
	Intent     types.Intent      `json:"intent"`
	WorkingSet []matching.Score  `json:"working_set"`
	Escalated  bool              `json:"escalated"`
	Mode       string            `json:"mode"`
	Payload    map[string]string `json:"payload"`
	Conflicts  []fusion.Conflict `json:"conflicts,omitempty"`

	// Degraded lists profiles whose evaluation failed, timed out, or
	// was skipped, with the cause. Partial failure is disclosed, never
	// hidden.
	Degraded []string `json:"degraded,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// Route runs the full pipeline for one request: extract the intent,
// score and select the working set, orchestrate the collaboration,
// fuse the contributions, and return the merged result.
//
// Only empty requests and fully failed sessions abort the route. A
// missing match surfaces as *matching.NoMatchError so callers can ask
// for clarification; partial evaluation failures and unresolved
// conflicts come back inside the Response.
func (e *Engine) Route(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logging.Audit().RouteReceived(requestID, req.CallerID, len(req.Text))

	e.intake(req)
	defer e.endSession()

	it, err := e.extractor.Extract(req.Text, req.Signals)
	if err != nil {
		return nil, e.routeFailed(requestID, err)
	}
	logging.Audit().IntentExtracted(requestID, it.TaskType, len(it.DomainTags), len(it.Keywords))

	sel, err := e.selectWorkingSet(requestID, it)
	if err != nil {
		return nil, e.routeFailed(requestID, err)
	}

	participants, missing := e.resolveProfiles(sel.Scores)
	if len(participants) == 0 {
		return nil, e.routeFailed(requestID,
			fmt.Errorf("%w: selected profiles vanished from registry", orchestrator.ErrSessionFailed))
	}

	pinned := make(map[string]bool, len(it.ExplicitProfiles))
	for _, id := range it.ExplicitProfiles {
		pinned[id] = true
	}

	sess, err := e.orch.Run(ctx, orchestrator.SessionRequest{
		Request:      req.Text,
		Intent:       it,
		Participants: participants,
		Pinned:       pinned,
	})
	if err != nil {
		return nil, e.routeFailed(requestID, err)
	}

	snap, ok := e.orch.GetSession(sess.ID)
	if !ok {
		return nil, e.routeFailed(requestID,
			fmt.Errorf("%w: session %s evicted mid-route", orchestrator.ErrSessionFailed, sess.ID))
	}

	fused, ferr := e.fuserFor(it.TaskType).Fuse(snap.ID, snap.Contributions)
	if ferr != nil {
		_ = e.orch.Fail(snap.ID, ferr)
		return nil, e.routeFailed(requestID, ferr)
	}
	if err := e.orch.Complete(snap.ID); err != nil {
		return nil, e.routeFailed(requestID, err)
	}

	degraded := degradedFrom(snap.Contributions)
	for _, id := range missing {
		degraded = append(degraded, id+": removed from registry before evaluation")
	}
	sort.Strings(degraded)

	var notes []string
	if sel.Ambiguous {
		notes = append(notes, "ambiguous: top candidates within the ambiguity band, clarification may narrow the set")
	}
	notes = append(notes, fused.Notes...)

	resp := &Response{
		SessionID:  snap.ID,
		Intent:     it,
		WorkingSet: sel.Scores,
		Escalated:  sel.Escalated,
		Mode:       snap.Mode.String(),
		Payload:    fused.Payload,
		Conflicts:  fused.Conflicts,
		Degraded:   degraded,
		Notes:      notes,
	}

	logging.Audit().RouteCompleted(requestID, time.Since(start).Milliseconds(), len(participants))
	logging.Session("route %s: session %s mode=%s profiles=%d conflicts=%d degraded=%d",
		requestID, snap.ID, resp.Mode, len(participants), len(resp.Conflicts), len(resp.Degraded))
	return resp, nil
}

// intake records the raw request into short-term memory so evaluators
// can recall it within the session window.
func (e *Engine) intake(req Request) {
	if err := e.memory.Put(memory.ScopeShort, "request:text", req.Text); err != nil {
		logging.MemoryError("intake text: %v", err)
	}
	if req.CallerID != "" {
		if err := e.memory.Put(memory.ScopeShort, "request:caller", req.CallerID); err != nil {
			logging.MemoryError("intake caller: %v", err)
		}
	}
}

// endSession advances the memory session window and sweeps expired
// records once the route attempt is over, success or failure.
func (e *Engine) endSession() {
	e.memory.EndSession()
	e.memory.Sweep()
}

// selectWorkingSet scores every registered profile and picks the set.
// When nothing survives even the escalated threshold, configured
// default profiles serve as the generalist fallback.
func (e *Engine) selectWorkingSet(requestID string, it types.Intent) (matching.SelectionResult, error) {
	scores := e.matcher.ScoreAll(e.registry.All(), it)

	sel, err := e.matcher.SelectWorkingSet(scores, it.ExplicitProfiles)
	if err != nil {
		var noMatch *matching.NoMatchError
		if errors.As(err, &noMatch) {
			if fb, ok := e.defaultFallback(scores); ok {
				logging.Session("route %s: no match at %.2f, falling back to %d default profile(s)",
					requestID, noMatch.Threshold, len(fb.Scores))
				e.auditScores(requestID, scores, fb)
				logging.Audit().WorkingSet(requestID, profileIDs(fb.Scores), true)
				return fb, nil
			}
			logging.Audit().Log(logging.AuditEvent{
				EventType: logging.AuditNoMatch,
				RequestID: requestID,
				Score:     noMatch.Threshold,
				Error:     noMatch.Error(),
				Message:   "No profile cleared the escalated threshold",
			})
		}
		return matching.SelectionResult{}, err
	}

	e.auditScores(requestID, scores, sel)
	logging.Audit().WorkingSet(requestID, profileIDs(sel.Scores), sel.Escalated)
	return sel, nil
}

// defaultFallback builds a working set from Registry.DefaultProfiles in
// scored order, still subject to the cap. The second return is false
// when no default profile is registered.
func (e *Engine) defaultFallback(scores []matching.Score) (matching.SelectionResult, bool) {
	if len(e.cfg.Registry.DefaultProfiles) == 0 {
		return matching.SelectionResult{}, false
	}
	want := make(map[string]bool, len(e.cfg.Registry.DefaultProfiles))
	for _, id := range e.cfg.Registry.DefaultProfiles {
		want[id] = true
	}

	out := matching.SelectionResult{Escalated: true}
	for _, s := range scores {
		if len(out.Scores) == e.cfg.Matching.MaxWorkingSet {
			break
		}
		if !want[s.ProfileID] {
			continue
		}
		s.Reasons = append(s.Reasons, "fallback: default profile")
		out.Scores = append(out.Scores, s)
	}
	return out, len(out.Scores) > 0
}

// auditScores logs one scored event per candidate with its selection
// outcome.
func (e *Engine) auditScores(requestID string, scores []matching.Score, sel matching.SelectionResult) {
	selected := make(map[string]bool, len(sel.Scores))
	for _, s := range sel.Scores {
		selected[s.ProfileID] = true
	}
	for _, s := range scores {
		logging.Audit().ProfileScored(requestID, s.ProfileID, s.Total, selected[s.ProfileID])
	}
}

// resolveProfiles turns scored ids back into live profiles. A profile
// removed between scoring and session start is reported, not fatal.
func (e *Engine) resolveProfiles(scores []matching.Score) ([]types.Profile, []string) {
	var out []types.Profile
	var missing []string
	for _, s := range scores {
		p, err := e.registry.Get(s.ProfileID)
		if err != nil {
			missing = append(missing, s.ProfileID)
			continue
		}
		out = append(out, p)
	}
	return out, missing
}

// fuserFor builds a fuser whose evidence rung reads the same efficacy
// lane the matcher scored with for this task type.
func (e *Engine) fuserFor(taskType string) *fusion.Fuser {
	authority := func(profileID string) float64 {
		p, err := e.registry.Get(profileID)
		if err != nil {
			return 0
		}
		return p.Authority
	}
	efficacy := func(profileID string) float64 {
		key := matching.EfficacyKey(profileID, taskType)
		if v, ok := e.memory.GetFloat(memory.ScopeMid, key); ok {
			return v
		}
		if v, ok := e.memory.GetFloat(memory.ScopeLong, key); ok {
			return v
		}
		return e.cfg.Matching.DefaultEfficacy
	}
	return fusion.NewFuser(e.cfg.Fusion, authority, efficacy)
}

// degradedFrom lists non-usable contributions as "id: cause".
func degradedFrom(contribs []types.Contribution) []string {
	var out []string
	for _, c := range contribs {
		if c.OK() {
			continue
		}
		cause := "skipped"
		if c.Err != nil {
			cause = c.Err.Error()
		}
		out = append(out, c.ProfileID+": "+cause)
	}
	return out
}

// routeFailed audits the failure and passes the error through.
func (e *Engine) routeFailed(requestID string, err error) error {
	logging.Audit().RouteFailed(requestID, err)
	logging.SessionWarn("route %s failed: %v", requestID, err)
	return err
}

func profileIDs(scores []matching.Score) []string {
	ids := make([]string, len(scores))
	for i, s := range scores {
		ids[i] = s.ProfileID
	}
	return ids
}
