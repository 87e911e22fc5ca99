// Package fusion merges the contributions of a collaboration session
// into one payload, detecting contradictory positions on shared decision
// keys and resolving them through a fixed ladder: evidence, authority,
// compromise, unresolved.
package fusion

import (
	"errors"
	"fmt"
	"sort"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// ErrUnresolvedConflict is returned in strict mode when the ladder
// exhausts without a winner. In the normal path unresolved conflicts are
// surfaced in the result, not as errors.
var ErrUnresolvedConflict = errors.New("unresolved fusion conflict")

// ResolutionKind names the ladder rung that settled a conflict.
type ResolutionKind string

const (
	ResolutionEvidence   ResolutionKind = "evidence"
	ResolutionAuthority  ResolutionKind = "authority"
	ResolutionCompromise ResolutionKind = "compromise"
	ResolutionUnresolved ResolutionKind = "unresolved"
)

// Position is one contributor's stance on a decision key.
type Position struct {
	ProfileID  string  `json:"profile_id"`
	Value      string  `json:"value"`
	Hard       bool    `json:"hard,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Conflict records a disagreement and how (or whether) it was settled.
type Conflict struct {
	Key        string         `json:"key"`
	Positions  []Position     `json:"positions"`
	Resolution ResolutionKind `json:"resolution"`
	Winner     string         `json:"winner,omitempty"` // empty for compromise and unresolved
	Rationale  string         `json:"rationale"`
}

// Result is the fused output of a session.
type Result struct {
	Payload      map[string]string `json:"payload"`
	Conflicts    []Conflict        `json:"conflicts,omitempty"`
	Contributors []string          `json:"contributors"`
	Notes        []string          `json:"notes,omitempty"`
}

// Unresolved reports how many conflicts the ladder could not settle.
func (r Result) Unresolved() int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Resolution == ResolutionUnresolved {
			n++
		}
	}
	return n
}

// AuthorityLookup resolves a profile's authority weight in [0,1];
// higher wins ties.
type AuthorityLookup func(profileID string) float64

// EfficacyLookup resolves a profile's historical efficacy for the
// session's task type. The evidence rung compares these.
type EfficacyLookup func(profileID string) float64

// Fuser merges contributions under one resolution configuration.
type Fuser struct {
	cfg       config.FusionConfig
	authority AuthorityLookup
	efficacy  EfficacyLookup
}

// NewFuser builds a fuser. Nil lookups fall back to weight 0 and the
// neutral efficacy 0.5, which pushes every conflict past the evidence
// rung.
func NewFuser(cfg config.FusionConfig, authority AuthorityLookup, efficacy EfficacyLookup) *Fuser {
	if authority == nil {
		authority = func(string) float64 { return 0 }
	}
	if efficacy == nil {
		efficacy = func(string) float64 { return 0.5 }
	}
	return &Fuser{cfg: cfg, authority: authority, efficacy: efficacy}
}

// Fuse merges all usable contributions. The fused payload is the union
// of non-conflicting entries plus the resolved side of each conflict;
// unresolved conflicts contribute nothing to the payload and are
// surfaced with both positions. The returned error is non-nil only in
// strict mode with unresolved conflicts, and the result is still valid
// then.
func (f *Fuser) Fuse(sessionID string, contribs []types.Contribution) (Result, error) {
	usable := make([]types.Contribution, 0, len(contribs))
	for _, c := range contribs {
		if c.OK() {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return Result{}, fmt.Errorf("nothing to fuse: no usable contributions")
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].ProfileID < usable[j].ProfileID })

	result := Result{Payload: make(map[string]string)}
	for _, c := range usable {
		result.Contributors = append(result.Contributors, c.ProfileID)
	}

	positions := collectPositions(usable)
	keys := make([]string, 0, len(positions))
	for k := range positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		stances := positions[key]
		if agreed, ok := agreement(stances); ok {
			result.Payload[key] = agreed
			continue
		}

		conflict := f.resolve(key, stances)
		result.Conflicts = append(result.Conflicts, conflict)
		logging.Audit().Conflict(sessionID, key, string(conflict.Resolution), conflict.Resolution != ResolutionUnresolved)
		logging.FusionDebug("session %s: conflict on %q resolved by %s (%s)", sessionID, key, conflict.Resolution, conflict.Rationale)

		switch conflict.Resolution {
		case ResolutionEvidence, ResolutionAuthority:
			for _, p := range conflict.Positions {
				if p.ProfileID == conflict.Winner {
					result.Payload[key] = p.Value
					break
				}
			}
		case ResolutionCompromise:
			// Soft disagreement: every stance survives under its
			// qualified key so the caller sees all of them.
			for _, p := range conflict.Positions {
				result.Payload[key+"."+p.ProfileID] = p.Value
			}
			result.Notes = append(result.Notes, fmt.Sprintf("compromise on %q: positions kept under qualified keys", key))
		case ResolutionUnresolved:
			result.Notes = append(result.Notes, fmt.Sprintf("unresolved conflict on %q: caller must choose", key))
		}
	}

	logging.Fusion("session %s: fused %d contributions, %d keys, %d conflicts (%d unresolved)",
		sessionID, len(usable), len(result.Payload), len(result.Conflicts), result.Unresolved())

	if f.cfg.Strict {
		if n := result.Unresolved(); n > 0 {
			return result, fmt.Errorf("%w: %d conflicts left unresolved", ErrUnresolvedConflict, n)
		}
	}
	return result, nil
}

// collectPositions indexes every stance by decision key. Constraints
// take precedence over payload entries for the same profile and key;
// payload entries are soft by definition.
func collectPositions(contribs []types.Contribution) map[string][]Position {
	positions := make(map[string][]Position)
	taken := make(map[string]bool) // profileID+"\x00"+key

	for _, c := range contribs {
		for _, con := range c.Constraints {
			mark := c.ProfileID + "\x00" + con.Key
			if con.Key == "" || taken[mark] {
				continue
			}
			taken[mark] = true
			positions[con.Key] = append(positions[con.Key], Position{
				ProfileID:  c.ProfileID,
				Value:      con.Value,
				Hard:       con.Hard,
				Confidence: c.Confidence,
			})
		}
	}
	for _, c := range contribs {
		keys := make([]string, 0, len(c.Payload))
		for k := range c.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			mark := c.ProfileID + "\x00" + k
			if taken[mark] {
				continue
			}
			taken[mark] = true
			positions[k] = append(positions[k], Position{
				ProfileID:  c.ProfileID,
				Value:      c.Payload[k],
				Confidence: c.Confidence,
			})
		}
	}

	for k := range positions {
		sort.Slice(positions[k], func(i, j int) bool {
			return positions[k][i].ProfileID < positions[k][j].ProfileID
		})
	}
	return positions
}

// agreement reports the common value when every stance on a key agrees.
func agreement(stances []Position) (string, bool) {
	v := stances[0].Value
	for _, p := range stances[1:] {
		if p.Value != v {
			return "", false
		}
	}
	return v, true
}

// resolve walks the ladder over the conflicting stances.
func (f *Fuser) resolve(key string, stances []Position) Conflict {
	conflict := Conflict{Key: key, Positions: stances}

	// Evidence: rank by historical efficacy and see whether the leader
	// clears the gap over the runner-up.
	ranked := make([]Position, len(stances))
	copy(ranked, stances)
	sort.SliceStable(ranked, func(i, j int) bool {
		return f.efficacy(ranked[i].ProfileID) > f.efficacy(ranked[j].ProfileID)
	})
	topEff := f.efficacy(ranked[0].ProfileID)
	nextEff := f.efficacy(ranked[1].ProfileID)
	if topEff-nextEff >= f.cfg.EvidenceGap {
		conflict.Resolution = ResolutionEvidence
		conflict.Winner = ranked[0].ProfileID
		conflict.Rationale = fmt.Sprintf("evidence: %.2f vs %.2f", topEff, nextEff)
		return conflict
	}

	// Authority: weight pull decides when evidence is tied.
	sort.SliceStable(ranked, func(i, j int) bool {
		return f.authority(ranked[i].ProfileID) > f.authority(ranked[j].ProfileID)
	})
	topAuth := f.authority(ranked[0].ProfileID)
	nextAuth := f.authority(ranked[1].ProfileID)
	if topAuth > nextAuth {
		conflict.Resolution = ResolutionAuthority
		conflict.Winner = ranked[0].ProfileID
		conflict.Rationale = fmt.Sprintf("authority: %.2f vs %.2f", topAuth, nextAuth)
		return conflict
	}

	// Compromise only fuses soft positions; one hard stance forecloses it.
	anyHard := false
	for _, p := range stances {
		if p.Hard {
			anyHard = true
			break
		}
	}
	if !anyHard {
		conflict.Resolution = ResolutionCompromise
		conflict.Rationale = "compromise: soft positions merged under qualified keys"
		return conflict
	}

	conflict.Resolution = ResolutionUnresolved
	conflict.Rationale = "unresolved: hard positions with equal evidence and authority"
	return conflict
}
