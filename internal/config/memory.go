package config

import (
	"fmt"
	"time"
)

// MemoryConfig configures the three-scope context memory store.
type MemoryConfig struct {
	// ShortTTL bounds short-scope records ("30m" default). Short scope
	// is also cleared whenever a session ends.
	ShortTTL string `yaml:"short_ttl"`

	// MidTTL bounds mid-scope records ("24h" default).
	MidTTL string `yaml:"mid_ttl"`

	// MidWindowSessions is the rolling session window for mid scope:
	// records older than this many sessions are swept.
	MidWindowSessions int `yaml:"mid_window_sessions"`

	// DatabasePath enables the durable long-scope SQLite adapter when
	// non-empty. Empty keeps long scope in RAM.
	DatabasePath string `yaml:"database_path"`
}

// DefaultMemoryConfig returns the standard memory lifecycles.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ShortTTL:          "30m",
		MidTTL:            "24h",
		MidWindowSessions: 20,
	}
}

// ShortTTLDuration parses ShortTTL, defaulting to 30 minutes.
func (m MemoryConfig) ShortTTLDuration() time.Duration {
	return parseDuration(m.ShortTTL, 30*time.Minute)
}

// MidTTLDuration parses MidTTL, defaulting to 24 hours.
func (m MemoryConfig) MidTTLDuration() time.Duration {
	return parseDuration(m.MidTTL, 24*time.Hour)
}

// Validate rejects impossible memory lifecycles.
func (m MemoryConfig) Validate() error {
	if m.MidWindowSessions < 1 {
		return fmt.Errorf("mid window must be at least 1 session, got %d", m.MidWindowSessions)
	}
	return nil
}
