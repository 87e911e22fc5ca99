package memory

import (
	"path/filepath"
	"testing"
	"time"

	"roundtable/internal/config"
)

func TestLongTermRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.db")
	lt, err := NewLongTermStore(path)
	if err != nil {
		t.Fatalf("NewLongTermStore failed: %v", err)
	}
	defer lt.Close()

	rec := Record{
		Key:        "efficacy:go-backend:develop",
		Value:      "0.7",
		Scope:      ScopeLong,
		CreatedAt:  time.Now(),
		SessionSeq: 3,
	}
	if err := lt.Put(rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := lt.Get(rec.Key)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want found", ok, err)
	}
	if got.Value != "0.7" || got.SessionSeq != 3 {
		t.Errorf("Get = %+v", got)
	}

	// Upsert replaces the value for the same key.
	rec.Value = "0.74"
	if err := lt.Put(rec); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _, _ = lt.Get(rec.Key)
	if got.Value != "0.74" {
		t.Errorf("upsert left value %q", got.Value)
	}

	n, err := lt.Count()
	if err != nil || n != 1 {
		t.Errorf("Count = (%d, %v), want (1, nil)", n, err)
	}

	if _, ok, err := lt.Get("missing"); ok || err != nil {
		t.Errorf("Get(missing) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestLongTermAllSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.db")
	lt, err := NewLongTermStore(path)
	if err != nil {
		t.Fatalf("NewLongTermStore failed: %v", err)
	}
	defer lt.Close()

	for _, k := range []string{"zeta", "alpha"} {
		if err := lt.Put(Record{Key: k, Value: "v", Scope: ScopeLong, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	recs, err := lt.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "alpha" || recs[1].Key != "zeta" {
		t.Errorf("All = %+v, want [alpha zeta]", recs)
	}
}

func TestLongScopeSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.db")

	cfg := config.DefaultMemoryConfig()
	cfg.DatabasePath = path

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := first.Put(ScopeLong, "preference:style", "tabs"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Session boundaries never touch long scope.
	first.EndSession()
	if _, ok := first.Get(ScopeLong, "preference:style"); !ok {
		t.Fatal("long record lost after EndSession")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, ok := second.Get(ScopeLong, "preference:style")
	if !ok || got != "tabs" {
		t.Errorf("after restart Get = (%q, %v), want (tabs, true)", got, ok)
	}
	if n := second.Len(ScopeLong); n != 1 {
		t.Errorf("Len(long) = %d, want 1", n)
	}
}
