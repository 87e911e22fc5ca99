package config

import "fmt"

// FusionConfig configures conflict resolution during knowledge fusion.
type FusionConfig struct {
	// EvidenceGap is the minimum historical-efficacy lead for the
	// evidence rung of the resolution ladder to pick a winner.
	EvidenceGap float64 `yaml:"evidence_gap"`

	// Strict makes any unresolved conflict fail the route instead of
	// surfacing both positions in the response.
	Strict bool `yaml:"strict"`
}

// DefaultFusionConfig returns the standard resolution settings.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		EvidenceGap: 0.1,
	}
}

// FeedbackConfig configures the adaptive feedback loop.
type FeedbackConfig struct {
	// Alpha is the EMA smoothing factor for efficacy updates:
	// new = alpha*outcome + (1-alpha)*old.
	Alpha float64 `yaml:"alpha"`

	// QueueSize bounds pending outcome reports awaiting application.
	QueueSize int `yaml:"queue_size"`
}

// DefaultFeedbackConfig returns the standard feedback settings.
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		Alpha:     0.2,
		QueueSize: 128,
	}
}

// Validate rejects out-of-range feedback settings.
func (f FeedbackConfig) Validate() error {
	if f.Alpha <= 0 || f.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0,1), got %.3f", f.Alpha)
	}
	if f.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", f.QueueSize)
	}
	return nil
}
