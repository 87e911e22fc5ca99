package intent

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"roundtable/internal/types"
)

// stubVocab is a fixed keyword-to-tag vocabulary for tests.
type stubVocab map[string][]string

func (v stubVocab) TagsForKeyword(word string) []string { return v[word] }

func TestExtractEmptyRequest(t *testing.T) {
	e := New(nil)

	cases := []struct {
		name string
		text string
		sig  types.Signals
	}{
		{name: "empty text", text: ""},
		{name: "whitespace only", text: "   \t\n "},
		{name: "punctuation only", text: "?? !!"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Extract(tc.text, tc.sig)
			if !errors.Is(err, ErrEmptyRequest) {
				t.Errorf("Extract error = %v, want ErrEmptyRequest", err)
			}
		})
	}
}

func TestExtractSignalsOnly(t *testing.T) {
	e := New(nil)

	got, err := e.Extract("   ", types.Signals{Tags: []string{"Go", "sql"}})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.TaskType != types.TaskOther {
		t.Errorf("TaskType = %s, want other", got.TaskType)
	}
	if len(got.Keywords) != 0 {
		t.Errorf("Keywords = %v, want none", got.Keywords)
	}
	// Signal tags are canonicalized and sorted.
	if diff := cmp.Diff([]string{"go", "sql"}, got.DomainTags); diff != "" {
		t.Errorf("DomainTags mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyTaskType(t *testing.T) {
	e := New(nil)

	cases := []struct {
		text string
		want string
	}{
		{"fix the login crash", types.TaskDebug},
		{"the login handler panics on nil user", types.TaskDebug},
		{"write tests for the parser", types.TaskTest},
		{"deploy the billing service to staging", types.TaskDeploy},
		{"review the deployment scripts", types.TaskReview},
		{"design a schema for invoices", types.TaskDesign},
		{"implement pagination for the list endpoint", types.TaskDevelop},
		{"refactor the session manager", types.TaskDevelop},
		{"what does this function return", types.TaskOther},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.text, func(t *testing.T) {
			got, err := e.Extract(tc.text, types.Signals{})
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if got.TaskType != tc.want {
				t.Errorf("TaskType = %s, want %s", got.TaskType, tc.want)
			}
		})
	}
}

func TestKeywordLayer(t *testing.T) {
	e := New(nil)

	got, err := e.Extract("Fix the flaky test in the parser, the parser is slow", types.Signals{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Stopwords dropped, first-seen order, duplicates collapsed.
	want := []string{"fix", "flaky", "test", "parser", "slow"}
	if diff := cmp.Diff(want, got.Keywords); diff != "" {
		t.Errorf("Keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestDomainTagsFromPaths(t *testing.T) {
	e := New(nil)

	cases := []struct {
		name  string
		paths []string
		want  []string
	}{
		{
			name:  "go source",
			paths: []string{"internal/server/handler.go"},
			want:  []string{"go"},
		},
		{
			name:  "test file",
			paths: []string{"internal/server/handler_test.go"},
			want:  []string{"go", "testing"},
		},
		{
			name:  "frontend and sql",
			paths: []string{"web/src/App.tsx", "migrations/001_init.sql"},
			want:  []string{"frontend", "sql"},
		},
		{
			name:  "dockerfile",
			paths: []string{"build/Dockerfile"},
			want:  []string{"deployment"},
		},
		{
			name:  "compose file",
			paths: []string{"docker-compose.yaml"},
			want:  []string{"deployment"},
		},
		{
			name:  "unknown extension",
			paths: []string{"README.md"},
			want:  nil,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Extract("look at this", types.Signals{Paths: tc.paths})
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got.DomainTags); diff != "" {
				t.Errorf("DomainTags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDomainTagsFromVocabulary(t *testing.T) {
	vocab := stubVocab{
		"goroutine": {"go", "concurrency"},
		"postgres":  {"postgres"},
	}
	e := New(vocab)

	got, err := e.Extract("fix the goroutine leak hitting postgres", types.Signals{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := []string{"concurrency", "go", "postgres"}
	if diff := cmp.Diff(want, got.DomainTags); diff != "" {
		t.Errorf("DomainTags mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepGoals(t *testing.T) {
	e := New(nil)

	cases := []struct {
		text string
		want []string
	}{
		{"optimize the slow query path", []string{"performance"}},
		{"fix the flaky race in the worker", []string{"correctness"}},
		{"patch the auth injection vulnerability", []string{"security"}},
		{"refactor for readability before the release", []string{"maintainability", "delivery"}},
		{"add a new endpoint", nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.text, func(t *testing.T) {
			got, err := e.Extract(tc.text, types.Signals{})
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got.DeepGoals); diff != "" {
				t.Errorf("DeepGoals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExplicitProfilesPassThrough(t *testing.T) {
	e := New(nil)

	sig := types.Signals{Profiles: []string{" go-backend ", "dba", "go-backend", ""}}
	got, err := e.Extract("tune the database", sig)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := []string{"go-backend", "dba"}
	if diff := cmp.Diff(want, got.ExplicitProfiles); diff != "" {
		t.Errorf("ExplicitProfiles mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractDeterministic(t *testing.T) {
	vocab := stubVocab{"goroutine": {"go", "concurrency"}}
	e := New(vocab)

	text := "fix the slow goroutine leak in worker.go before the release"
	sig := types.Signals{
		Paths:    []string{"internal/worker/worker.go"},
		Tags:     []string{"backend"},
		Profiles: []string{"go-backend"},
	}

	first, err := e.Extract(text, sig)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Extract(text, sig)
		if err != nil {
			t.Fatalf("Extract failed on run %d: %v", i, err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("Extract not deterministic on run %d (-first +again):\n%s", i, diff)
		}
	}
}
