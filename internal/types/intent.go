package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// STRUCTURED INTENT
// =============================================================================

// Task types recognized by intent extraction and profile declarations.
const (
	TaskDevelop = "develop"
	TaskDebug   = "debug"
	TaskTest    = "test"
	TaskDeploy  = "deploy"
	TaskReview  = "review"
	TaskDesign  = "design"
	TaskOther   = "other"
)

// KnownTaskTypes lists every recognized task type in declaration order.
var KnownTaskTypes = []string{
	TaskDevelop, TaskDebug, TaskTest, TaskDeploy, TaskReview, TaskDesign, TaskOther,
}

// KnownTaskType reports whether s is a recognized task type.
func KnownTaskType(s string) bool {
	for _, t := range KnownTaskTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Intent is the four-layer structured reading of a request: what kind of
// work it is, which domains it touches, the significant vocabulary, and
// the coarse goals behind it.
type Intent struct {
	TaskType         string   `json:"task_type"`
	DomainTags       []string `json:"domain_tags,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	DeepGoals        []string `json:"deep_goals,omitempty"`
	ExplicitProfiles []string `json:"explicit_profiles,omitempty"`
}

func (i Intent) String() string {
	return fmt.Sprintf("Intent(%s tags=[%s] kw=%d goals=[%s])",
		i.TaskType, strings.Join(i.DomainTags, ","), len(i.Keywords), strings.Join(i.DeepGoals, ","))
}

// Signals are the optional structured hints accompanying a request.
// Tags are trusted as-is (after canonicalization); paths contribute
// extension hints; profile IDs bypass scoring entirely.
type Signals struct {
	Paths    []string `json:"paths,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Profiles []string `json:"profiles,omitempty"`
}

// Empty reports whether the signals carry no information.
func (s Signals) Empty() bool {
	return len(s.Paths) == 0 && len(s.Tags) == 0 && len(s.Profiles) == 0
}
