package config

import (
	"fmt"
	"time"
)

// OrchestratorConfig configures collaboration sessions and the shared
// evaluation queue behind them.
type OrchestratorConfig struct {
	// EvalTimeout bounds a single profile evaluation ("5s" default).
	// A profile exceeding it is cancelled and recorded as timed out;
	// the session continues degraded.
	EvalTimeout string `yaml:"eval_timeout"`

	// Workers is the number of evaluation workers shared by all sessions.
	Workers int `yaml:"workers"`

	// QueueSize bounds pending evaluations per priority level.
	QueueSize int `yaml:"queue_size"`

	// SubmitTimeout bounds how long a session waits to enqueue one
	// evaluation when the queue is saturated.
	SubmitTimeout string `yaml:"submit_timeout"`

	// SessionHistory is how many completed sessions stay inspectable
	// (and accept feedback) before being evicted.
	SessionHistory int `yaml:"session_history"`
}

// DefaultOrchestratorConfig returns sensible defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		EvalTimeout:    "5s",
		Workers:        4,
		QueueSize:      64,
		SubmitTimeout:  "10s",
		SessionHistory: 64,
	}
}

// EvalTimeoutDuration parses EvalTimeout, defaulting to 5s.
func (o OrchestratorConfig) EvalTimeoutDuration() time.Duration {
	return parseDuration(o.EvalTimeout, 5*time.Second)
}

// SubmitTimeoutDuration parses SubmitTimeout, defaulting to 10s.
func (o OrchestratorConfig) SubmitTimeoutDuration() time.Duration {
	return parseDuration(o.SubmitTimeout, 10*time.Second)
}

// Validate rejects impossible orchestration limits.
func (o OrchestratorConfig) Validate() error {
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", o.Workers)
	}
	if o.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", o.QueueSize)
	}
	if o.SessionHistory < 1 {
		return fmt.Errorf("session history must be at least 1, got %d", o.SessionHistory)
	}
	return nil
}
