package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"roundtable/internal/logging"
)

// LongTermStore persists long-scope records in SQLite so preferences and
// efficacy history survive restarts.
type LongTermStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLongTermStore opens (or creates) the SQLite database at the given path.
func NewLongTermStore(path string) (*LongTermStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &LongTermStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.MemoryDebug("long-term schema ready at %s", path)
	return store, nil
}

// initialize creates the required table.
func (s *LongTermStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_records (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		session_seq INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, key)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_records(scope);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create memory_records table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LongTermStore) Close() error {
	return s.db.Close()
}

// Put upserts a long-scope record on (scope, key).
func (s *LongTermStore) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires int64
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO memory_records (scope, key, value, created_at, expires_at, session_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			session_seq = excluded.session_seq`,
		string(ScopeLong), rec.Key, rec.Value, rec.CreatedAt.UnixMilli(), expires, rec.SessionSeq)
	if err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.Key, err)
	}
	return nil
}

// Get reads a long-scope record by key.
func (s *LongTermStore) Get(key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT key, value, created_at, expires_at, session_seq
		FROM memory_records WHERE scope = ? AND key = ?`,
		string(ScopeLong), key)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return rec, true, nil
}

// All returns every long-scope record ordered by key.
func (s *LongTermStore) All() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT key, value, created_at, expires_at, session_seq
		FROM memory_records WHERE scope = ? ORDER BY key`,
		string(ScopeLong))
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of long-scope records.
func (s *LongTermStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_records WHERE scope = ?`,
		string(ScopeLong)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		createdMs int64
		expiresMs int64
	)
	if err := row.Scan(&rec.Key, &rec.Value, &createdMs, &expiresMs, &rec.SessionSeq); err != nil {
		return Record{}, err
	}
	rec.Scope = ScopeLong
	rec.CreatedAt = time.UnixMilli(createdMs)
	if expiresMs != 0 {
		rec.ExpiresAt = time.UnixMilli(expiresMs)
	}
	return rec, nil
}
