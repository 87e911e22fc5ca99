// Package config holds all roundtable configuration: matching weights,
// orchestration limits, memory lifecycles, and the ambient logging setup.
// Configuration loads from YAML with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all roundtable configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Profile registry
	Registry RegistryConfig `yaml:"registry"`

	// Tag ontology kernel
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`

	// Context memory store
	Memory MemoryConfig `yaml:"memory"`

	// Matching and ranking
	Matching MatchingConfig `yaml:"matching"`

	// Collaboration orchestration
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Knowledge fusion
	Fusion FusionConfig `yaml:"fusion"`

	// Adaptive feedback
	Feedback FeedbackConfig `yaml:"feedback"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RegistryConfig configures the capability registry.
type RegistryConfig struct {
	// DescriptorDir is scanned for profile descriptor YAML files at startup.
	DescriptorDir string `yaml:"descriptor_dir"`

	// WatchDescriptors enables hot-reload of the descriptor directory.
	WatchDescriptors bool `yaml:"watch_descriptors"`

	// DefaultProfiles are always considered during matching even when no
	// signal points at them (the generalist fallback set).
	DefaultProfiles []string `yaml:"default_profiles"`
}

// TaxonomyConfig configures the tag ontology kernel.
type TaxonomyConfig struct {
	// RulesPath points at an optional Mangle source file appended to the
	// built-in ontology before analysis.
	RulesPath string `yaml:"rules_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Debug  bool   `yaml:"debug"`  // enable category file logging
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "roundtable",
		Version: "0.3.0",

		Registry: RegistryConfig{
			DescriptorDir:    "profiles",
			WatchDescriptors: false,
		},

		Taxonomy: TaxonomyConfig{},

		Memory:       DefaultMemoryConfig(),
		Matching:     DefaultMatchingConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Fusion:       DefaultFusionConfig(),
		Feedback:     DefaultFeedbackConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ROUNDTABLE_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if dir := os.Getenv("ROUNDTABLE_PROFILE_DIR"); dir != "" {
		c.Registry.DescriptorDir = dir
	}
	if rules := os.Getenv("ROUNDTABLE_TAXONOMY"); rules != "" {
		c.Taxonomy.RulesPath = rules
	}
	if level := os.Getenv("ROUNDTABLE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if os.Getenv("ROUNDTABLE_DEBUG") == "1" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate checks the whole configuration for out-of-range values.
func (c *Config) Validate() error {
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching config: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator config: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	if err := c.Feedback.Validate(); err != nil {
		return fmt.Errorf("feedback config: %w", err)
	}
	return nil
}

// parseDuration parses a config duration string, falling back to def on
// empty or malformed input.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
