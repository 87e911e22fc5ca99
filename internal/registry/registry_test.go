package registry

import (
	"context"
	"errors"
	"testing"

	"roundtable/internal/types"
)

func stubProfile(id string, tags ...string) types.Profile {
	return types.Profile{
		ID:       id,
		Name:     "Profile " + id,
		Tags:     tags,
		Keywords: []string{id},
		Evaluate: func(ctx context.Context, task types.EvalTask) (types.Contribution, error) {
			return types.Contribution{ProfileID: id, Confidence: 0.5}, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := New()
	p := stubProfile("go-backend", "Go", "grpc", "go")

	if err := reg.Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Get("go-backend")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Profile go-backend" {
		t.Errorf("Name = %q, want %q", got.Name, "Profile go-backend")
	}
	// Tags are canonical and deduped: "Go" and "go" collapse.
	if len(got.Tags) != 2 {
		t.Fatalf("Tags = %v, want 2 canonical entries", got.Tags)
	}
	if got.Tags[0] != "go" || got.Tags[1] != "grpc" {
		t.Errorf("Tags = %v, want [go grpc]", got.Tags)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	reg := New()
	if err := reg.Register(stubProfile("a", "go")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, _ := reg.Get("a")
	first.Tags[0] = "mutated"

	second, _ := reg.Get("a")
	if second.Tags[0] != "go" {
		t.Errorf("stored profile was mutated through a returned copy: %v", second.Tags)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := New()
	if err := reg.Register(stubProfile("a", "go")); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(stubProfile("a", "rust"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate Register error = %v, want ErrDuplicateID", err)
	}

	// Original must be untouched.
	got, _ := reg.Get("a")
	if got.Tags[0] != "go" {
		t.Errorf("duplicate Register mutated existing profile: %v", got.Tags)
	}
}

func TestRegisterValidation(t *testing.T) {
	evaluate := func(ctx context.Context, task types.EvalTask) (types.Contribution, error) {
		return types.Contribution{}, nil
	}

	cases := []struct {
		name    string
		profile types.Profile
	}{
		{
			name:    "empty id",
			profile: types.Profile{Name: "x", Tags: []string{"go"}, Evaluate: evaluate},
		},
		{
			name:    "empty name",
			profile: types.Profile{ID: "x", Tags: []string{"go"}, Evaluate: evaluate},
		},
		{
			name:    "no tags or keywords",
			profile: types.Profile{ID: "x", Name: "x", Evaluate: evaluate},
		},
		{
			name: "unknown task type",
			profile: types.Profile{
				ID: "x", Name: "x", Tags: []string{"go"},
				TaskTypes: []string{"juggle"},
				Evaluate:  evaluate,
			},
		},
		{
			name: "self dependency",
			profile: types.Profile{
				ID: "x", Name: "x", Tags: []string{"go"},
				DependsOn: []types.Dependency{{ProfileID: "x"}},
				Evaluate:  evaluate,
			},
		},
		{
			name: "empty dependency id",
			profile: types.Profile{
				ID: "x", Name: "x", Tags: []string{"go"},
				DependsOn: []types.Dependency{{}},
				Evaluate:  evaluate,
			},
		},
		{
			name:    "nil evaluator",
			profile: types.Profile{ID: "x", Name: "x", Tags: []string{"go"}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			reg := New()
			err := reg.Register(tc.profile)
			if !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("Register error = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestReplace(t *testing.T) {
	reg := New()

	err := reg.Replace(stubProfile("ghost", "go"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Replace of missing profile error = %v, want ErrNotFound", err)
	}

	if err := reg.Register(stubProfile("a", "go")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	updated := stubProfile("a", "rust")
	if err := reg.Replace(updated); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, _ := reg.Get("a")
	if got.Tags[0] != "rust" {
		t.Errorf("Replace did not swap profile, tags = %v", got.Tags)
	}
}

func TestRemove(t *testing.T) {
	reg := New()
	if err := reg.Register(stubProfile("a", "go")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := reg.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if reg.Has("a") {
		t.Error("profile still present after Remove")
	}
	if err := reg.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}
}

func TestListByTag(t *testing.T) {
	reg := New()
	for _, p := range []types.Profile{
		stubProfile("zeta", "go", "grpc"),
		stubProfile("alpha", "go"),
		stubProfile("other", "rust"),
	} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register %s failed: %v", p.ID, err)
		}
	}

	got := reg.ListByTag("GO")
	if len(got) != 2 {
		t.Fatalf("ListByTag returned %d profiles, want 2", len(got))
	}
	if got[0].ID != "alpha" || got[1].ID != "zeta" {
		t.Errorf("ListByTag order = [%s %s], want [alpha zeta]", got[0].ID, got[1].ID)
	}

	if empty := reg.ListByTag("cobol"); len(empty) != 0 {
		t.Errorf("ListByTag(cobol) = %d profiles, want 0", len(empty))
	}
}

func TestAllSorted(t *testing.T) {
	reg := New()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := reg.Register(stubProfile(id, "go")); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	all := reg.All()
	if len(all) != 3 || reg.Len() != 3 {
		t.Fatalf("All returned %d profiles, Len = %d, want 3", len(all), reg.Len())
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if all[i].ID != want {
			t.Errorf("All[%d] = %s, want %s", i, all[i].ID, want)
		}
	}
}

func TestTagFacts(t *testing.T) {
	reg := New()
	if err := reg.Register(stubProfile("a", "go", "grpc")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	facts := reg.TagFacts()
	tags, ok := facts["a"]
	if !ok || len(tags) != 2 {
		t.Fatalf("TagFacts[a] = %v, want two tags", tags)
	}

	// Mutating the export must not reach the registry.
	tags[0] = "mutated"
	got, _ := reg.Get("a")
	if got.Tags[0] != "go" {
		t.Errorf("TagFacts export aliases registry state: %v", got.Tags)
	}
}
