package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roundtable/internal/types"
)

// =============================================================================
// COLLABORATION SESSIONS
// =============================================================================

// Session is one collaboration run: the selected participants, the
// execution mode chosen for them, and everything they produced. Fields
// are guarded by the owning Orchestrator; callers outside the package
// read sessions through GetSession, which returns a detached copy.
type Session struct {
	ID            string               `json:"id"`
	State         types.SessionState   `json:"state"`
	Mode          types.ExecutionMode  `json:"mode"`
	Intent        types.Intent         `json:"intent"`
	Request       string               `json:"request,omitempty"`
	Participants  []types.Profile      `json:"participants"`
	Contributions []types.Contribution `json:"contributions,omitempty"`
	Waves         [][]string           `json:"waves,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	EndedAt       time.Time            `json:"ended_at,omitempty"`
	Err           error                `json:"-"`

	// cancel stops in-flight evaluations when the session is aborted.
	cancel context.CancelFunc
}

func newSession(request string, intent types.Intent, participants []types.Profile) *Session {
	return &Session{
		ID:           uuid.NewString(),
		State:        types.SessionForming,
		Intent:       intent,
		Request:      request,
		Participants: participants,
		StartedAt:    time.Now(),
	}
}

// transition moves the session to the next state. Illegal transitions
// return an error and leave the state unchanged. Callers hold the
// orchestrator lock.
func (s *Session) transition(to types.SessionState) error {
	if !legalTransition(s.State, to) {
		return fmt.Errorf("illegal session transition %s -> %s (session %s)", s.State, to, s.ID)
	}
	s.State = to
	if to.Terminal() {
		s.EndedAt = time.Now()
	}
	return nil
}

func legalTransition(from, to types.SessionState) bool {
	// Failure and abort are reachable from any non-terminal state.
	if from.Terminal() {
		return false
	}
	if to == types.SessionFailed || to == types.SessionAborted {
		return true
	}
	switch from {
	case types.SessionForming:
		return to == types.SessionWorking
	case types.SessionWorking:
		return to == types.SessionMerging
	case types.SessionMerging:
		return to == types.SessionCompleted
	default:
		return false
	}
}

// participant returns the profile with the given ID, if it is part of
// this session.
func (s *Session) participant(id string) (types.Profile, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return types.Profile{}, false
}

// HasParticipant reports whether the profile took part in this session.
func (s *Session) HasParticipant(id string) bool {
	_, ok := s.participant(id)
	return ok
}

// clone returns a detached copy safe to hand outside the orchestrator.
func (s *Session) clone() Session {
	out := *s
	out.cancel = nil
	if len(s.Participants) > 0 {
		out.Participants = make([]types.Profile, len(s.Participants))
		copy(out.Participants, s.Participants)
	}
	if len(s.Contributions) > 0 {
		out.Contributions = make([]types.Contribution, len(s.Contributions))
		copy(out.Contributions, s.Contributions)
	}
	if len(s.Waves) > 0 {
		out.Waves = make([][]string, len(s.Waves))
		for i, w := range s.Waves {
			out.Waves[i] = append([]string(nil), w...)
		}
	}
	return out
}
