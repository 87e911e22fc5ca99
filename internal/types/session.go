package types

import "fmt"

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// SessionState tracks a collaboration session through its lifecycle.
type SessionState int

const (
	// SessionForming - participants selected, ordering not yet resolved
	SessionForming SessionState = iota
	// SessionWorking - evaluations in flight
	SessionWorking
	// SessionMerging - contributions collected, fusion running
	SessionMerging
	// SessionCompleted - fused result produced
	SessionCompleted
	// SessionFailed - unrecoverable error, no usable result
	SessionFailed
	// SessionAborted - caller abort, completed contributions discarded
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionForming:
		return "forming"
	case SessionWorking:
		return "working"
	case SessionMerging:
		return "merging"
	case SessionCompleted:
		return "completed"
	case SessionFailed:
		return "failed"
	case SessionAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are legal.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionAborted
}

// ExecutionMode is how a session schedules its participants.
type ExecutionMode int

const (
	// ModeParallel - no intra-set dependencies, one wave
	ModeParallel ExecutionMode = iota
	// ModeSerial - the set forms a single chain
	ModeSerial
	// ModeHybrid - dependency waves, parallel within each
	ModeHybrid
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeParallel:
		return "parallel"
	case ModeSerial:
		return "serial"
	case ModeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// EvalPriority orders evaluation dispatch when the queue is contended.
type EvalPriority int

const (
	PriorityCritical EvalPriority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p EvalPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}
