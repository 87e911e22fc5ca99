package matching

import (
	"errors"
	"fmt"

	"roundtable/internal/logging"
)

// ErrNoMatch is returned when no profile clears the threshold even
// after escalation. Callers surface it as a clarification request, not
// a hard failure.
var ErrNoMatch = errors.New("no profile matched the request")

// NoMatchError carries the best rejected score so the caller can phrase
// a useful clarification.
type NoMatchError struct {
	// Threshold is the lowest threshold tried (after escalation).
	Threshold float64
	// Best is the highest rejected score; nil when nothing was scored.
	Best *Score
}

func (e *NoMatchError) Error() string {
	if e.Best == nil {
		return fmt.Sprintf("no profile matched (threshold %.2f, no candidates)", e.Threshold)
	}
	return fmt.Sprintf("no profile matched (threshold %.2f, best %s at %.2f)",
		e.Threshold, e.Best.ProfileID, e.Best.Total)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// SelectionResult is the chosen working set plus how it was reached.
type SelectionResult struct {
	// Scores is the working set in final order: pinned profiles first
	// (caller order), scored survivors after (score order).
	Scores []Score
	// Escalated is set when the threshold had to be lowered once.
	Escalated bool
	// Ambiguous is set when the top two scored survivors sit within the
	// ambiguity band; callers may request clarification.
	Ambiguous bool
	// AppliedThreshold is the threshold that produced the set.
	AppliedThreshold float64
}

// SelectWorkingSet picks the profiles that will collaborate on the
// request. Pinned ids (explicit caller signals) bypass scoring and are
// force-included ahead of scored profiles; everything remains subject
// to the MaxWorkingSet cap.
func (m *Matcher) SelectWorkingSet(scores []Score, pinned []string) (SelectionResult, error) {
	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sortScores(sorted)

	byID := make(map[string]Score, len(sorted))
	for _, s := range sorted {
		byID[s.ProfileID] = s
	}
	pinnedSet := make(map[string]bool, len(pinned))

	result := SelectionResult{AppliedThreshold: m.cfg.Threshold}

	// Pinned profiles first, caller order, deduped.
	for _, id := range pinned {
		s, ok := byID[id]
		if !ok || pinnedSet[id] {
			continue
		}
		pinnedSet[id] = true
		s.Reasons = append(s.Reasons, "pinned: explicit signal")
		result.Scores = append(result.Scores, s)
		if len(result.Scores) == m.cfg.MaxWorkingSet {
			logging.Matching("working set filled by pinned profiles (%d)", len(result.Scores))
			return result, nil
		}
	}

	survivors := surviving(sorted, m.cfg.Threshold, pinnedSet)
	if len(survivors) == 0 && len(result.Scores) == 0 {
		// Escalate once: lower the threshold and retry.
		lowered := m.cfg.Threshold - m.cfg.EscalationDrop
		survivors = surviving(sorted, lowered, pinnedSet)
		if len(survivors) == 0 {
			err := &NoMatchError{Threshold: lowered}
			if len(sorted) > 0 {
				best := sorted[0]
				err.Best = &best
			}
			logging.MatchingWarn("no match: %v", err)
			return SelectionResult{AppliedThreshold: lowered}, err
		}
		result.Escalated = true
		result.AppliedThreshold = lowered
		logging.Matching("threshold escalated to %.2f: %d survivor(s)", lowered, len(survivors))
	}

	for _, s := range survivors {
		if len(result.Scores) == m.cfg.MaxWorkingSet {
			break
		}
		result.Scores = append(result.Scores, s)
	}

	// Top two scored survivors inside the band: the near-tie is
	// disclosed so callers can ask for clarification. Config validation
	// keeps the cap at two or more, so absent pins both are retained.
	if len(survivors) >= 2 && survivors[0].Total-survivors[1].Total < m.cfg.AmbiguityBand {
		result.Ambiguous = true
	}

	logging.Matching("working set: %d profile(s), escalated=%v ambiguous=%v",
		len(result.Scores), result.Escalated, result.Ambiguous)
	return result, nil
}

// surviving filters sorted scores by threshold, skipping pinned ids that
// are already in the set.
func surviving(sorted []Score, threshold float64, pinnedSet map[string]bool) []Score {
	var out []Score
	for _, s := range sorted {
		if pinnedSet[s.ProfileID] {
			continue
		}
		if s.Total >= threshold {
			out = append(out, s)
		}
	}
	return out
}
