package types

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CAPABILITY PROFILES
// =============================================================================

// Profile describes one registered capability: the metadata the matcher
// scores against plus the evaluation hook the orchestrator invokes.
// The knowledge behind a profile is opaque to the engine; only the
// declared tags, keywords and task types participate in routing.
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags,omitempty"`       // canonical domain tags
	Keywords  []string `json:"keywords,omitempty"`   // matching vocabulary
	TaskTypes []string `json:"task_types,omitempty"` // task types served
	Authority float64  `json:"authority,omitempty"`  // tie-break weight in [0,1], higher wins

	// DependsOn orders this profile after others inside a working set.
	// A hard dependency that fails or times out skips the dependent;
	// a soft one is passed through as an error-valued input.
	DependsOn []Dependency `json:"depends_on,omitempty"`

	// Evaluate produces this profile's contribution. Descriptor-defined
	// profiles get a static evaluator bound at load time; embedding
	// applications register richer ones directly.
	Evaluate EvaluateFunc `json:"-"`
}

// Dependency is one edge of the collaboration ordering graph.
type Dependency struct {
	ProfileID string `json:"profile_id" yaml:"profile_id"`
	Hard      bool   `json:"hard,omitempty" yaml:"hard,omitempty"`
}

// EvaluateFunc is the uniform evaluation interface every profile variant
// implements. Blocking work must honor ctx; the orchestrator cancels it
// on timeout.
type EvaluateFunc func(ctx context.Context, task EvalTask) (Contribution, error)

// EvalTask carries what a profile sees during a session: the structured
// intent, the raw request, and contributions from dependencies that have
// already run (keyed by profile ID).
type EvalTask struct {
	SessionID string
	Request   string
	Intent    Intent
	Inputs    map[string]Contribution
}

// DependencyIDs returns the declared dependency profile IDs in order.
func (p Profile) DependencyIDs() []string {
	if len(p.DependsOn) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.DependsOn))
	for _, d := range p.DependsOn {
		ids = append(ids, d.ProfileID)
	}
	return ids
}

// HardDependency reports whether the given profile ID is a hard dependency.
func (p Profile) HardDependency(id string) bool {
	for _, d := range p.DependsOn {
		if d.ProfileID == id {
			return d.Hard
		}
	}
	return false
}

// ServesTaskType reports whether the profile declares the given task type.
func (p Profile) ServesTaskType(taskType string) bool {
	for _, t := range p.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

func (p Profile) String() string {
	return fmt.Sprintf("Profile(%s tags=%s authority=%.2f)", p.ID, strings.Join(p.Tags, ","), p.Authority)
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

// Contribution is one profile's output inside a collaboration session.
// Payload keys are decision points; constraints declare positions the
// fusion stage must reconcile across contributors.
type Contribution struct {
	ID          string            `json:"id"`
	ProfileID   string            `json:"profile_id"`
	Payload     map[string]string `json:"payload,omitempty"`
	Constraints []Constraint      `json:"constraints,omitempty"`
	Confidence  float64           `json:"confidence"`
	Skipped     bool              `json:"skipped,omitempty"` // hard dependency failed
	Err         error             `json:"-"`
	Elapsed     time.Duration     `json:"elapsed_ns,omitempty"`
}

// OK reports whether the contribution carries usable output.
func (c Contribution) OK() bool {
	return c.Err == nil && !c.Skipped
}

// Constraint is a keyed position a contribution takes. Hard constraints
// cannot be compromised away during fusion.
type Constraint struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Hard  bool   `json:"hard,omitempty"`
}
