// Package taxonomy wraps a Mangle Datalog program deriving the tag
// ontology used by matching (stack alignment) and intent extraction
// (keyword vocabulary). The program is evaluated to fixpoint once per
// rebuild; all lookups afterwards are map reads, so routing stays
// deterministic and cheap.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"roundtable/internal/logging"
)

// Relation classifies how two tags relate in the ontology.
type Relation int

const (
	// RelationNone - no ontology connection
	RelationNone Relation = iota
	// RelationSibling - distinct tags sharing a direct parent
	RelationSibling
	// RelationParentChild - direct edge, either direction
	RelationParentChild
	// RelationExact - same tag
	RelationExact
)

func (r Relation) String() string {
	switch r {
	case RelationExact:
		return "exact"
	case RelationParentChild:
		return "parent_child"
	case RelationSibling:
		return "sibling"
	case RelationNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Kernel evaluates the ontology program and serves relation lookups.
type Kernel struct {
	mu        sync.RWMutex
	userRules string

	// profileTags are asserted as profile_tag facts on rebuild.
	profileTags map[string][]string

	store       factstore.FactStore
	programInfo *analysis.ProgramInfo

	// Lookup snapshots refreshed after each evaluation.
	parents    map[string]map[string]bool // child -> direct parents
	ancestors  map[string]map[string]bool // tag -> all ancestors
	vocabulary map[string][]string        // keyword -> tags
	domains    map[string][]string        // domain tag -> profile ids
	known      map[string]bool            // every tag in the ontology
}

// New builds a kernel from the built-in ontology plus the optional rules
// file. A missing rules path is an error only when explicitly configured.
func New(rulesPath string) (*Kernel, error) {
	userRules := ""
	if rulesPath != "" {
		data, err := os.ReadFile(rulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read taxonomy rules: %w", err)
		}
		userRules = string(data)
	}
	return NewWithSource(userRules)
}

// NewWithSource builds a kernel from the built-in ontology plus extra
// Mangle source appended verbatim.
func NewWithSource(extra string) (*Kernel, error) {
	k := &Kernel{
		userRules:   extra,
		profileTags: make(map[string][]string),
	}
	if err := k.rebuild(); err != nil {
		return nil, err
	}
	return k, nil
}

// rebuild assembles the program, evaluates it to fixpoint, and refreshes
// the lookup snapshots.
func (k *Kernel) rebuild() error {
	timer := logging.StartTimer(logging.CategoryTaxonomy, "ontology rebuild")
	defer timer.Stop()

	var sb strings.Builder
	sb.WriteString(defaultOntology)
	if k.userRules != "" {
		sb.WriteString("\n")
		sb.WriteString(k.userRules)
	}
	if len(k.profileTags) > 0 {
		sb.WriteString("\n")
		// Deterministic fact order keeps rebuild diffs readable in logs.
		ids := make([]string, 0, len(k.profileTags))
		for id := range k.profileTags {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, tag := range k.profileTags[id] {
				fmt.Fprintf(&sb, "profile_tag(%q, %q).\n", id, tag)
			}
		}
		sb.WriteString(profileRules)
	}

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("failed to parse ontology: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("failed to analyze ontology: %w", err)
	}
	k.programInfo = programInfo

	k.store = factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalStratifiedProgramWithStats(programInfo, nil, nil, k.store); err != nil {
		return fmt.Errorf("failed to evaluate ontology: %w", err)
	}

	k.refreshSnapshots()
	logging.Taxonomy("ontology evaluated: %d tags, %d vocabulary entries, %d profiles",
		len(k.known), len(k.vocabulary), len(k.profileTags))
	return nil
}

// refreshSnapshots queries the derived facts into plain maps.
func (k *Kernel) refreshSnapshots() {
	parents := make(map[string]map[string]bool)
	ancestors := make(map[string]map[string]bool)
	vocabulary := make(map[string][]string)
	domains := make(map[string][]string)
	known := make(map[string]bool)

	k.query("tag_parent", func(args []string) {
		if len(args) != 2 {
			return
		}
		child, parent := args[0], args[1]
		if parents[child] == nil {
			parents[child] = make(map[string]bool)
		}
		parents[child][parent] = true
		known[child] = true
		known[parent] = true
	})

	k.query("tag_ancestor", func(args []string) {
		if len(args) != 2 {
			return
		}
		tag, anc := args[0], args[1]
		if ancestors[tag] == nil {
			ancestors[tag] = make(map[string]bool)
		}
		ancestors[tag][anc] = true
	})

	k.query("keyword_tag", func(args []string) {
		if len(args) != 2 {
			return
		}
		vocabulary[args[0]] = append(vocabulary[args[0]], args[1])
	})

	k.query("profile_domain", func(args []string) {
		if len(args) != 2 {
			return
		}
		domains[args[1]] = append(domains[args[1]], args[0])
	})

	for word := range vocabulary {
		tags := dedupeSorted(vocabulary[word])
		vocabulary[word] = tags
	}
	for tag := range domains {
		domains[tag] = dedupeSorted(domains[tag])
	}

	k.parents = parents
	k.ancestors = ancestors
	k.vocabulary = vocabulary
	k.domains = domains
	k.known = known
}

// query iterates all facts of a predicate, passing string args to fn.
func (k *Kernel) query(predicate string, fn func(args []string)) {
	if k.programInfo == nil {
		return
	}
	for pred := range k.programInfo.Decls {
		if pred.Symbol != predicate {
			continue
		}
		k.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			args := make([]string, len(a.Args))
			for i, term := range a.Args {
				args[i] = baseTermToString(term)
			}
			fn(args)
			return nil
		})
		break
	}
}

// baseTermToString extracts the Go string from a Mangle constant.
func baseTermToString(term ast.BaseTerm) string {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType, ast.StringType:
			return t.Symbol
		default:
			return t.String()
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}

// Canon returns the canonical form of a tag or keyword.
func Canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Relation classifies how tags a and b relate. Exact match holds for any
// equal non-empty tags, known to the ontology or not.
func (k *Kernel) Relation(a, b string) Relation {
	a, b = Canon(a), Canon(b)
	if a == "" || b == "" {
		return RelationNone
	}
	if a == b {
		return RelationExact
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.parents[a][b] || k.parents[b][a] {
		return RelationParentChild
	}
	for p := range k.parents[a] {
		if k.parents[b][p] {
			return RelationSibling
		}
	}
	return RelationNone
}

// TagsForKeyword returns the ontology tags a request keyword maps to.
func (k *Kernel) TagsForKeyword(word string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	tags, ok := k.vocabulary[Canon(word)]
	if !ok {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// Ancestors returns every ancestor of a tag, sorted.
func (k *Kernel) Ancestors(tag string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	set := k.ancestors[Canon(tag)]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// KnownTag reports whether the tag appears anywhere in the ontology.
func (k *Kernel) KnownTag(tag string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.known[Canon(tag)]
}

// LoadProfileTags replaces the profile_tag facts and re-evaluates, so
// ProfilesForDomain reflects the current registry contents.
func (k *Kernel) LoadProfileTags(tags map[string][]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.profileTags = make(map[string][]string, len(tags))
	for id, ts := range tags {
		canon := make([]string, 0, len(ts))
		for _, t := range ts {
			if c := Canon(t); c != "" {
				canon = append(canon, c)
			}
		}
		k.profileTags[id] = canon
	}
	return k.rebuild()
}

// ProfilesForDomain returns profile ids whose tags fall under the given
// domain tag, directly or through ancestry. Sorted for determinism.
func (k *Kernel) ProfilesForDomain(tag string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := k.domains[Canon(tag)]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
