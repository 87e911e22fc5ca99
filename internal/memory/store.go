// Package memory provides the three-scope context store backing routing
// decisions: short (current session), mid (rolling window of recent
// sessions), and long (durable preferences and efficacy history).
package memory

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"roundtable/internal/config"
	"roundtable/internal/logging"
)

// Scope identifies a memory lifecycle tier.
type Scope string

const (
	ScopeShort Scope = "short"
	ScopeMid   Scope = "mid"
	ScopeLong  Scope = "long"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeShort, ScopeMid, ScopeLong:
		return true
	}
	return false
}

// Record is a single memory entry. ExpiresAt zero means no expiry.
type Record struct {
	Key        string
	Value      string
	Scope      Scope
	CreatedAt  time.Time
	ExpiresAt  time.Time
	SessionSeq uint64
}

// expired reports whether the record is past its TTL at the given time.
func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store is the in-memory scope store. Long scope delegates to a SQLite
// adapter when one is configured; otherwise all three scopes live in RAM.
type Store struct {
	mu       sync.RWMutex
	cfg      config.MemoryConfig
	records  map[Scope]map[string]Record
	longTerm *LongTermStore
	seq      uint64

	now func() time.Time
}

// New creates a store from config. A non-empty DatabasePath opens the
// long-term SQLite adapter; failure to open is returned, not masked.
func New(cfg config.MemoryConfig) (*Store, error) {
	s := &Store{
		cfg: cfg,
		records: map[Scope]map[string]Record{
			ScopeShort: make(map[string]Record),
			ScopeMid:   make(map[string]Record),
			ScopeLong:  make(map[string]Record),
		},
		now: time.Now,
	}
	if cfg.DatabasePath != "" {
		lt, err := NewLongTermStore(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("memory: open long-term store: %w", err)
		}
		s.longTerm = lt
		logging.Memory("long-term store attached at %s", cfg.DatabasePath)
	}
	return s, nil
}

// Close releases the long-term adapter if one is attached.
func (s *Store) Close() error {
	if s.longTerm == nil {
		return nil
	}
	return s.longTerm.Close()
}

// Put stores a value under scope/key. Short and mid records are stamped
// with their configured TTL; long records never expire.
func (s *Store) Put(scope Scope, key, value string) error {
	if !scope.Valid() {
		return fmt.Errorf("memory: unknown scope %q", scope)
	}
	if key == "" {
		return fmt.Errorf("memory: empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := Record{
		Key:        key,
		Value:      value,
		Scope:      scope,
		CreatedAt:  now,
		SessionSeq: s.seq,
	}
	switch scope {
	case ScopeShort:
		rec.ExpiresAt = now.Add(s.cfg.ShortTTLDuration())
	case ScopeMid:
		rec.ExpiresAt = now.Add(s.cfg.MidTTLDuration())
	}

	if scope == ScopeLong && s.longTerm != nil {
		if err := s.longTerm.Put(rec); err != nil {
			return err
		}
	} else {
		s.records[scope][key] = rec
	}

	logging.MemoryDebug("put %s/%s (seq %d)", scope, key, s.seq)
	return nil
}

// Get returns the value under scope/key. Expired records are invisible
// even if sweep has not run yet.
func (s *Store) Get(scope Scope, key string) (string, bool) {
	if !scope.Valid() || key == "" {
		return "", false
	}

	if scope == ScopeLong && s.longTerm != nil {
		rec, ok, err := s.longTerm.Get(key)
		if err != nil {
			logging.Get(logging.CategoryMemory).Error("long-term get %s: %v", key, err)
			return "", false
		}
		if !ok {
			return "", false
		}
		return rec.Value, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[scope][key]
	if !ok || rec.expired(s.now()) {
		return "", false
	}
	return rec.Value, true
}

// PutFloat stores a float value using a fixed text encoding.
func (s *Store) PutFloat(scope Scope, key string, v float64) error {
	return s.Put(scope, key, strconv.FormatFloat(v, 'f', -1, 64))
}

// GetFloat reads a float stored by PutFloat. Unparseable values are
// treated as absent.
func (s *Store) GetFloat(scope Scope, key string) (float64, bool) {
	raw, ok := s.Get(scope, key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("unparseable float under %s/%s: %q", scope, key, raw)
		return 0, false
	}
	return v, true
}

// Sweep removes expired short/mid records and mid records that have
// fallen out of the rolling session window. Returns the count removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for key, rec := range s.records[ScopeShort] {
		if rec.expired(now) {
			delete(s.records[ScopeShort], key)
			removed++
		}
	}

	window := uint64(s.cfg.MidWindowSessions)
	for key, rec := range s.records[ScopeMid] {
		stale := rec.expired(now)
		if !stale && window > 0 && s.seq >= rec.SessionSeq && s.seq-rec.SessionSeq >= window {
			stale = true
		}
		if stale {
			delete(s.records[ScopeMid], key)
			removed++
		}
	}

	if removed > 0 {
		logging.Memory("sweep removed %d records (seq %d)", removed, s.seq)
	}
	return removed
}

// EndSession advances the session sequence and clears short scope.
// Mid and long scope are untouched.
func (s *Store) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	cleared := len(s.records[ScopeShort])
	s.records[ScopeShort] = make(map[string]Record)
	logging.MemoryDebug("session ended: seq now %d, %d short records cleared", s.seq, cleared)
}

// SessionSeq returns the current session sequence number.
func (s *Store) SessionSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Len returns the number of live (non-expired) records in a scope.
func (s *Store) Len(scope Scope) int {
	if scope == ScopeLong && s.longTerm != nil {
		n, err := s.longTerm.Count()
		if err != nil {
			return 0
		}
		return n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, rec := range s.records[scope] {
		if !rec.expired(now) {
			n++
		}
	}
	return n
}

// Records returns copies of the live records in a scope, ordered by key.
func (s *Store) Records(scope Scope) []Record {
	if !scope.Valid() {
		return nil
	}

	if scope == ScopeLong && s.longTerm != nil {
		recs, err := s.longTerm.All()
		if err != nil {
			logging.Get(logging.CategoryMemory).Error("long-term scan: %v", err)
			return nil
		}
		return recs
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]Record, 0, len(s.records[scope]))
	for _, rec := range s.records[scope] {
		if !rec.expired(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
