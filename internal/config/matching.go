package config

import "fmt"

// MatchingConfig configures the matching and ranking engine.
//
// The four component weights must sum to 1.0. Selection keeps profiles
// whose weighted total clears Threshold, capped at MaxWorkingSet. When
// nothing clears, selection retries once with Threshold-EscalationDrop.
type MatchingConfig struct {
	// Component weights
	KeywordWeight  float64 `yaml:"keyword_weight"`
	StackWeight    float64 `yaml:"stack_weight"`
	TaskTypeWeight float64 `yaml:"task_type_weight"`
	EfficacyWeight float64 `yaml:"efficacy_weight"`

	// Selection
	Threshold      float64 `yaml:"threshold"`
	EscalationDrop float64 `yaml:"escalation_drop"`
	AmbiguityBand  float64 `yaml:"ambiguity_band"`
	MaxWorkingSet  int     `yaml:"max_working_set"`

	// DefaultEfficacy seeds profiles with no recorded history.
	DefaultEfficacy float64 `yaml:"default_efficacy"`
}

// DefaultMatchingConfig returns the standard weights and selection bounds.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		KeywordWeight:   0.35,
		StackWeight:     0.30,
		TaskTypeWeight:  0.20,
		EfficacyWeight:  0.15,
		Threshold:       0.6,
		EscalationDrop:  0.1,
		AmbiguityBand:   0.05,
		MaxWorkingSet:   5,
		DefaultEfficacy: 0.5,
	}
}

// Validate rejects out-of-range weights and selection bounds.
func (m MatchingConfig) Validate() error {
	sum := m.KeywordWeight + m.StackWeight + m.TaskTypeWeight + m.EfficacyWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("component weights must sum to 1.0, got %.3f", sum)
	}
	for _, w := range []float64{m.KeywordWeight, m.StackWeight, m.TaskTypeWeight, m.EfficacyWeight} {
		if w < 0 || w > 1 {
			return fmt.Errorf("component weight out of range [0,1]: %.3f", w)
		}
	}
	if m.Threshold <= 0 || m.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0,1], got %.3f", m.Threshold)
	}
	if m.EscalationDrop < 0 || m.EscalationDrop >= m.Threshold {
		return fmt.Errorf("escalation drop must be in [0,threshold), got %.3f", m.EscalationDrop)
	}
	if m.AmbiguityBand < 0 || m.AmbiguityBand > 0.5 {
		return fmt.Errorf("ambiguity band must be in [0,0.5], got %.3f", m.AmbiguityBand)
	}
	// The ambiguity band can retain a near-tied runner-up, so the cap
	// must leave room for at least two profiles.
	if m.MaxWorkingSet < 2 {
		return fmt.Errorf("max working set must be at least 2, got %d", m.MaxWorkingSet)
	}
	if m.DefaultEfficacy < 0 || m.DefaultEfficacy > 1 {
		return fmt.Errorf("default efficacy must be in [0,1], got %.3f", m.DefaultEfficacy)
	}
	return nil
}
