// Package matching scores registered profiles against an extracted
// intent and selects the working set that will collaborate on the
// request. Scoring is deterministic: identical registry, intent, and
// memory state produce identical scores and order.
package matching

import (
	"fmt"
	"sort"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/memory"
	"roundtable/internal/taxonomy"
	"roundtable/internal/types"
)

// ComponentScores breaks the total down by signal, each in [0,1].
type ComponentScores struct {
	KeywordOverlap     float64 `json:"keyword_overlap"`
	StackMatch         float64 `json:"stack_match"`
	TaskTypeFit        float64 `json:"task_type_fit"`
	HistoricalEfficacy float64 `json:"historical_efficacy"`
}

// Score is one profile's fit for an intent.
type Score struct {
	ProfileID  string          `json:"profile_id"`
	Total      float64         `json:"total"`
	Components ComponentScores `json:"components"`
	Authority  float64         `json:"authority"`
	Reasons    []string        `json:"reasons,omitempty"`
}

// Taxonomy classifies tag pairs for stack alignment.
type Taxonomy interface {
	Relation(a, b string) taxonomy.Relation
}

// Efficacy reads historical efficacy values from memory.
type Efficacy interface {
	GetFloat(scope memory.Scope, key string) (float64, bool)
}

// Matcher scores profiles using the configured weights.
type Matcher struct {
	cfg  config.MatchingConfig
	taxo Taxonomy
	mem  Efficacy
}

// NewMatcher builds a matcher. A nil taxonomy reduces stack alignment
// to exact tag equality; a nil efficacy reader pins the efficacy
// component to the configured default.
func NewMatcher(cfg config.MatchingConfig, taxo Taxonomy, mem Efficacy) *Matcher {
	return &Matcher{cfg: cfg, taxo: taxo, mem: mem}
}

// taskAdjacency pairs task types that overlap enough for partial fit.
var taskAdjacency = map[string]string{
	types.TaskDevelop: types.TaskReview,
	types.TaskReview:  types.TaskDevelop,
	types.TaskDebug:   types.TaskTest,
	types.TaskTest:    types.TaskDebug,
	types.TaskDesign:  types.TaskDevelop,
}

// ScoreProfile computes the weighted fit of one profile for an intent.
func (m *Matcher) ScoreProfile(p types.Profile, it types.Intent) Score {
	kw, kwReason := keywordOverlap(it.Keywords, p.Keywords)
	stack, stackReason := m.stackMatch(it.DomainTags, p.Tags)
	fit, fitReason := taskTypeFit(it.TaskType, p)
	eff, effReason := m.efficacy(p.ID, it.TaskType)

	total := m.cfg.KeywordWeight*kw + m.cfg.StackWeight*stack +
		m.cfg.TaskTypeWeight*fit + m.cfg.EfficacyWeight*eff

	return Score{
		ProfileID: p.ID,
		Total:     total,
		Components: ComponentScores{
			KeywordOverlap:     kw,
			StackMatch:         stack,
			TaskTypeFit:        fit,
			HistoricalEfficacy: eff,
		},
		Authority: p.Authority,
		Reasons:   []string{kwReason, stackReason, fitReason, effReason},
	}
}

// ScoreAll scores every candidate and returns them in selection order:
// total descending, ties by authority descending, then id ascending.
func (m *Matcher) ScoreAll(profiles []types.Profile, it types.Intent) []Score {
	scores := make([]Score, 0, len(profiles))
	for _, p := range profiles {
		s := m.ScoreProfile(p, it)
		logging.MatchingDebug("scored %s: %.3f (kw %.2f stack %.2f fit %.2f eff %.2f)",
			s.ProfileID, s.Total, s.Components.KeywordOverlap, s.Components.StackMatch,
			s.Components.TaskTypeFit, s.Components.HistoricalEfficacy)
		scores = append(scores, s)
	}
	sortScores(scores)
	return scores
}

func sortScores(scores []Score) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		if scores[i].Authority != scores[j].Authority {
			return scores[i].Authority > scores[j].Authority
		}
		return scores[i].ProfileID < scores[j].ProfileID
	})
}

// keywordOverlap is |intent ∩ profile| / max(1, |intent keywords|).
func keywordOverlap(intentKws, profileKws []string) (float64, string) {
	if len(intentKws) == 0 {
		return 0, "keywords: none in intent"
	}
	set := make(map[string]bool, len(profileKws))
	for _, kw := range profileKws {
		set[taxonomy.Canon(kw)] = true
	}
	hits := 0
	for _, kw := range intentKws {
		if set[taxonomy.Canon(kw)] {
			hits++
		}
	}
	return float64(hits) / float64(len(intentKws)),
		fmt.Sprintf("keywords: %d/%d", hits, len(intentKws))
}

// stackMatch is the mean over intent tags of the best per-tag alignment
// against the profile's tags.
func (m *Matcher) stackMatch(intentTags, profileTags []string) (float64, string) {
	if len(intentTags) == 0 {
		return 0, "stack: no intent tags"
	}
	if len(profileTags) == 0 {
		return 0, "stack: profile has no tags"
	}

	sum := 0.0
	for _, it := range intentTags {
		best := 0.0
		for _, pt := range profileTags {
			if v := m.relationScore(it, pt); v > best {
				best = v
			}
			if best == 1.0 {
				break
			}
		}
		sum += best
	}
	mean := sum / float64(len(intentTags))
	return mean, fmt.Sprintf("stack: %.2f over %d tags", mean, len(intentTags))
}

func (m *Matcher) relationScore(a, b string) float64 {
	if m.taxo == nil {
		if taxonomy.Canon(a) == taxonomy.Canon(b) && a != "" {
			return 1.0
		}
		return 0
	}
	switch m.taxo.Relation(a, b) {
	case taxonomy.RelationExact:
		return 1.0
	case taxonomy.RelationParentChild:
		return 0.75
	case taxonomy.RelationSibling:
		return 0.5
	}
	return 0
}

// taskTypeFit: direct service 1.0; serves other, declares nothing, or
// adjacent type 0.5; otherwise 0.
func taskTypeFit(taskType string, p types.Profile) (float64, string) {
	if len(p.TaskTypes) == 0 {
		return 0.5, "task: profile is task-agnostic"
	}
	for _, tt := range p.TaskTypes {
		if tt == taskType {
			return 1.0, "task: direct " + taskType
		}
	}
	for _, tt := range p.TaskTypes {
		if tt == types.TaskOther {
			return 0.5, "task: profile serves other"
		}
		if adj, ok := taskAdjacency[taskType]; ok && tt == adj {
			return 0.5, fmt.Sprintf("task: %s adjacent to %s", tt, taskType)
		}
	}
	return 0, "task: no fit for " + taskType
}

// efficacy reads the EMA under efficacy:<profileID>:<taskType>, mid
// scope first then long, defaulting when absent.
func (m *Matcher) efficacy(profileID, taskType string) (float64, string) {
	if m.mem == nil {
		return m.cfg.DefaultEfficacy, "efficacy: default (no memory)"
	}
	key := EfficacyKey(profileID, taskType)
	if v, ok := m.mem.GetFloat(memory.ScopeMid, key); ok {
		return clamp01(v), fmt.Sprintf("efficacy: %.2f (mid)", v)
	}
	if v, ok := m.mem.GetFloat(memory.ScopeLong, key); ok {
		return clamp01(v), fmt.Sprintf("efficacy: %.2f (long)", v)
	}
	return m.cfg.DefaultEfficacy, "efficacy: default"
}

// EfficacyKey is the memory key convention shared with the feedback loop.
func EfficacyKey(profileID, taskType string) string {
	return "efficacy:" + profileID + ":" + taskType
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
