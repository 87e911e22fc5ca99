package fusion

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"roundtable/internal/config"
	"roundtable/internal/types"
)

func contribution(profileID string, payload map[string]string, constraints ...types.Constraint) types.Contribution {
	return types.Contribution{
		ID:          "c-" + profileID,
		ProfileID:   profileID,
		Payload:     payload,
		Constraints: constraints,
		Confidence:  0.8,
	}
}

func fuserWith(t *testing.T, efficacies map[string]float64, authorities map[string]float64) *Fuser {
	t.Helper()
	cfg := config.DefaultFusionConfig()
	return NewFuser(cfg,
		func(id string) float64 { return authorities[id] },
		func(id string) float64 {
			if e, ok := efficacies[id]; ok {
				return e
			}
			return 0.5
		})
}

func TestFuseUnionWithoutConflicts(t *testing.T) {
	f := fuserWith(t, nil, nil)
	contribs := []types.Contribution{
		contribution("dba", map[string]string{"storage": "postgres"}),
		contribution("api", map[string]string{"transport": "grpc", "codec": "proto"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	want := map[string]string{"storage": "postgres", "transport": "grpc", "codec": "proto"}
	if diff := cmp.Diff(want, res.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("unexpected conflicts: %+v", res.Conflicts)
	}
	if diff := cmp.Diff([]string{"api", "dba"}, res.Contributors); diff != "" {
		t.Errorf("contributors mismatch (-want +got):\n%s", diff)
	}
}

func TestFuseAgreementIsNotAConflict(t *testing.T) {
	f := fuserWith(t, nil, nil)
	contribs := []types.Contribution{
		contribution("a", map[string]string{"language": "go"}),
		contribution("b", map[string]string{"language": "go"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Payload["language"] != "go" {
		t.Errorf("payload[language] = %q, want go", res.Payload["language"])
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("agreement produced conflicts: %+v", res.Conflicts)
	}
}

func TestEvidenceRungWins(t *testing.T) {
	f := fuserWith(t, map[string]float64{"veteran": 0.9, "newcomer": 0.7}, nil)
	contribs := []types.Contribution{
		contribution("veteran", map[string]string{"storage": "postgres"}),
		contribution("newcomer", map[string]string{"storage": "mongodb"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Payload["storage"] != "postgres" {
		t.Errorf("payload[storage] = %q, want postgres", res.Payload["storage"])
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Resolution != ResolutionEvidence {
		t.Errorf("resolution = %s, want evidence", c.Resolution)
	}
	if c.Winner != "veteran" {
		t.Errorf("winner = %q, want veteran", c.Winner)
	}
	if c.Rationale != "evidence: 0.90 vs 0.70" {
		t.Errorf("rationale = %q", c.Rationale)
	}
}

func TestEvidenceGapTooSmallFallsToAuthority(t *testing.T) {
	// 0.05 apart: inside the 0.1 evidence gap, so authority decides.
	f := fuserWith(t,
		map[string]float64{"lead": 0.75, "dev": 0.70},
		map[string]float64{"lead": 0.9, "dev": 0.3})
	contribs := []types.Contribution{
		contribution("dev", map[string]string{"approach": "rewrite"}),
		contribution("lead", map[string]string{"approach": "refactor"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Payload["approach"] != "refactor" {
		t.Errorf("payload[approach] = %q, want refactor", res.Payload["approach"])
	}
	c := res.Conflicts[0]
	if c.Resolution != ResolutionAuthority {
		t.Errorf("resolution = %s, want authority", c.Resolution)
	}
	if c.Winner != "lead" {
		t.Errorf("winner = %q, want lead", c.Winner)
	}
	if c.Rationale != "authority: 0.90 vs 0.30" {
		t.Errorf("rationale = %q", c.Rationale)
	}
}

func TestCompromiseKeepsBothSoftPositions(t *testing.T) {
	f := fuserWith(t, nil, nil) // equal efficacy, equal authority
	contribs := []types.Contribution{
		contribution("a", map[string]string{"style": "table-driven"}),
		contribution("b", map[string]string{"style": "property-based"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if _, ok := res.Payload["style"]; ok {
		t.Error("compromised key must not keep a bare entry")
	}
	if res.Payload["style.a"] != "table-driven" || res.Payload["style.b"] != "property-based" {
		t.Errorf("qualified keys missing: %v", res.Payload)
	}
	c := res.Conflicts[0]
	if c.Resolution != ResolutionCompromise {
		t.Errorf("resolution = %s, want compromise", c.Resolution)
	}
	if c.Winner != "" {
		t.Errorf("compromise has winner %q", c.Winner)
	}
	if len(res.Notes) == 0 || !strings.Contains(res.Notes[0], "compromise") {
		t.Errorf("notes = %v, want a compromise note", res.Notes)
	}
}

func TestHardConflictUnresolved(t *testing.T) {
	// Equal efficacy, equal authority, both hard: the ladder exhausts
	// and both positions are surfaced while the payload carries neither.
	f := fuserWith(t, nil, nil)
	contribs := []types.Contribution{
		contribution("security", nil, types.Constraint{Key: "auth", Value: "mtls", Hard: true}),
		contribution("platform", nil, types.Constraint{Key: "auth", Value: "oauth", Hard: true}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if _, ok := res.Payload["auth"]; ok {
		t.Error("unresolved key leaked into the payload")
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Resolution != ResolutionUnresolved {
		t.Errorf("resolution = %s, want unresolved", c.Resolution)
	}
	if c.Winner != "" {
		t.Errorf("unresolved conflict has winner %q", c.Winner)
	}
	wantPositions := []Position{
		{ProfileID: "platform", Value: "oauth", Hard: true, Confidence: 0.8},
		{ProfileID: "security", Value: "mtls", Hard: true, Confidence: 0.8},
	}
	if diff := cmp.Diff(wantPositions, c.Positions); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
	if res.Unresolved() != 1 {
		t.Errorf("Unresolved() = %d, want 1", res.Unresolved())
	}
}

func TestStrictModeSurfacesUnresolvedAsError(t *testing.T) {
	cfg := config.DefaultFusionConfig()
	cfg.Strict = true
	f := NewFuser(cfg, nil, nil)
	contribs := []types.Contribution{
		contribution("a", nil, types.Constraint{Key: "auth", Value: "mtls", Hard: true}),
		contribution("b", nil, types.Constraint{Key: "auth", Value: "oauth", Hard: true}),
	}

	res, err := f.Fuse("s1", contribs)
	if !errors.Is(err, ErrUnresolvedConflict) {
		t.Fatalf("err = %v, want ErrUnresolvedConflict", err)
	}
	if len(res.Conflicts) != 1 {
		t.Errorf("strict mode must still report the conflict, got %+v", res.Conflicts)
	}
}

func TestOneHardPositionBlocksCompromise(t *testing.T) {
	f := fuserWith(t, nil, nil)
	contribs := []types.Contribution{
		contribution("a", nil, types.Constraint{Key: "deploy", Value: "canary", Hard: true}),
		contribution("b", map[string]string{"deploy": "bigbang"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Conflicts[0].Resolution != ResolutionUnresolved {
		t.Errorf("resolution = %s, want unresolved (one side is hard)", res.Conflicts[0].Resolution)
	}
}

func TestConstraintOverridesOwnPayloadEntry(t *testing.T) {
	f := fuserWith(t, map[string]float64{"a": 0.9, "b": 0.5}, nil)
	contribs := []types.Contribution{
		{
			ID:          "c-a",
			ProfileID:   "a",
			Payload:     map[string]string{"cache": "none"},
			Constraints: []types.Constraint{{Key: "cache", Value: "redis", Hard: true}},
			Confidence:  0.8,
		},
		contribution("b", map[string]string{"cache": "memcached"}),
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	// a's stance is its constraint value, which wins on evidence.
	if res.Payload["cache"] != "redis" {
		t.Errorf("payload[cache] = %q, want redis", res.Payload["cache"])
	}
	for _, p := range res.Conflicts[0].Positions {
		if p.ProfileID == "a" && p.Value != "redis" {
			t.Errorf("profile a position = %q, want its constraint value", p.Value)
		}
	}
}

func TestUnusableContributionsIgnored(t *testing.T) {
	f := fuserWith(t, nil, nil)
	contribs := []types.Contribution{
		contribution("good", map[string]string{"k": "v"}),
		{ProfileID: "failed", Payload: map[string]string{"k": "poison"}, Err: errors.New("timed out")},
		{ProfileID: "skipped", Payload: map[string]string{"other": "poison"}, Skipped: true},
	}

	res, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Payload["k"] != "v" {
		t.Errorf("payload[k] = %q, want v", res.Payload["k"])
	}
	if _, ok := res.Payload["other"]; ok {
		t.Error("skipped contribution leaked into the payload")
	}
	if diff := cmp.Diff([]string{"good"}, res.Contributors); diff != "" {
		t.Errorf("contributors mismatch (-want +got):\n%s", diff)
	}
}

func TestFuseNothingUsable(t *testing.T) {
	f := fuserWith(t, nil, nil)
	_, err := f.Fuse("s1", []types.Contribution{
		{ProfileID: "a", Err: errors.New("boom")},
	})
	if err == nil {
		t.Fatal("Fuse accepted a set with no usable contributions")
	}
}

func TestFuseDeterministic(t *testing.T) {
	f := fuserWith(t, nil, map[string]float64{"x": 0.8})
	contribs := []types.Contribution{
		contribution("z", map[string]string{"alpha": "1", "beta": "2"}),
		contribution("x", map[string]string{"alpha": "9", "gamma": "3"}),
	}

	first, err := f.Fuse("s1", contribs)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := f.Fuse("s1", contribs)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("fusion is not deterministic (-first +again):\n%s", diff)
		}
	}
}
