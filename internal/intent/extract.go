// Package intent extracts a four-layer structured intent from free-form
// request text plus optional caller signals: surface keywords, a task
// type, canonical domain tags, and coarse deep goals. Extraction is
// rule-based and deterministic.
package intent

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"roundtable/internal/logging"
	"roundtable/internal/taxonomy"
	"roundtable/internal/types"
)

// ErrEmptyRequest is returned when neither text nor signals carry
// anything to route on.
var ErrEmptyRequest = errors.New("empty routing request")

// Vocabulary maps significant keywords to canonical domain tags. The
// taxonomy kernel satisfies this; a nil vocabulary disables the
// keyword-to-tag layer.
type Vocabulary interface {
	TagsForKeyword(word string) []string
}

// Extractor turns request text and signals into a structured intent.
type Extractor struct {
	vocab Vocabulary
}

// New creates an extractor backed by the given vocabulary.
func New(vocab Vocabulary) *Extractor {
	return &Extractor{vocab: vocab}
}

// verbRule maps trigger verbs to a task type. Rules are checked in
// order; the first hit wins.
type verbRule struct {
	taskType string
	words    map[string]bool
}

var verbRules = []verbRule{
	{types.TaskDebug, wordSet("fix", "repair", "debug", "crash", "crashes", "panic", "panics", "broken", "fails", "failing", "error")},
	{types.TaskTest, wordSet("test", "tests", "verify", "cover", "coverage", "assert")},
	{types.TaskDeploy, wordSet("deploy", "release", "ship", "rollout", "publish")},
	{types.TaskReview, wordSet("review", "audit", "inspect", "critique")},
	{types.TaskDesign, wordSet("design", "architect", "plan", "sketch", "model")},
	{types.TaskDevelop, wordSet("build", "implement", "add", "create", "write", "refactor", "extend", "migrate")},
}

// goalRule maps trigger words to a deep goal category. Checked in order
// so the emitted goal list is deterministic.
type goalRule struct {
	goal  string
	words map[string]bool
}

var goalRules = []goalRule{
	{"performance", wordSet("latency", "slow", "throughput", "optimize", "faster", "memory", "cpu")},
	{"correctness", wordSet("bug", "incorrect", "wrong", "flaky", "race", "broken", "crash", "panic")},
	{"security", wordSet("vulnerability", "auth", "injection", "leak", "cve", "exploit", "secrets")},
	{"maintainability", wordSet("cleanup", "refactor", "debt", "readability", "simplify", "untangle")},
	{"delivery", wordSet("deadline", "release", "ship", "launch", "milestone")},
}

// pathHints maps file extensions to domain tags.
var pathHints = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".py":    "python",
	".java":  "java",
	".ts":    "frontend",
	".tsx":   "frontend",
	".js":    "frontend",
	".jsx":   "frontend",
	".vue":   "frontend",
	".css":   "frontend",
	".sql":   "sql",
	".tf":    "terraform",
	".proto": "grpc",
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Extract builds the structured intent for a request. Text with no
// tokens and empty signals is a routing error; tokenless text with
// signals still extracts (the signals carry information) under task
// type other.
func (e *Extractor) Extract(text string, sig types.Signals) (types.Intent, error) {
	tokens := tokenize(strings.TrimSpace(text))
	if len(tokens) == 0 && sig.Empty() {
		return types.Intent{}, ErrEmptyRequest
	}

	kws := keywords(tokens)

	out := types.Intent{
		TaskType:         classifyTaskType(kws),
		Keywords:         kws,
		DomainTags:       e.domainTags(kws, sig),
		DeepGoals:        deepGoals(kws),
		ExplicitProfiles: explicitProfiles(sig),
	}

	logging.IntentDebug("extracted task=%s tags=%v keywords=%d goals=%v explicit=%d",
		out.TaskType, out.DomainTags, len(out.Keywords), out.DeepGoals, len(out.ExplicitProfiles))
	return out, nil
}

// classifyTaskType runs the verb rule table: leading tokens first (the
// imperative verb usually opens the request), then any-token fallback.
func classifyTaskType(kws []string) string {
	lead := kws
	if len(lead) > 2 {
		lead = lead[:2]
	}
	for _, rule := range verbRules {
		for _, tok := range lead {
			if rule.words[tok] {
				return rule.taskType
			}
		}
	}
	for _, rule := range verbRules {
		for _, tok := range kws {
			if rule.words[tok] {
				return rule.taskType
			}
		}
	}
	return types.TaskOther
}

// domainTags unions signal tags, path hints, and vocabulary hits into a
// deduped, sorted tag list.
func (e *Extractor) domainTags(kws []string, sig types.Signals) []string {
	seen := make(map[string]bool)
	add := func(tag string) {
		c := taxonomy.Canon(tag)
		if c != "" {
			seen[c] = true
		}
	}

	for _, tag := range sig.Tags {
		add(tag)
	}
	for _, path := range sig.Paths {
		for _, tag := range tagsForPath(path) {
			add(tag)
		}
	}
	if e.vocab != nil {
		for _, kw := range kws {
			for _, tag := range e.vocab.TagsForKeyword(kw) {
				add(tag)
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// tagsForPath derives domain tags from a file path: test suffixes,
// well-known base names, then the extension table.
func tagsForPath(path string) []string {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(path)))
	if base == "" || base == "." {
		return nil
	}

	var tags []string
	if strings.HasSuffix(base, "_test.go") {
		tags = append(tags, "testing", "go")
		return tags
	}
	if base == "dockerfile" || strings.HasPrefix(base, "docker-compose") {
		return []string{"deployment"}
	}
	if ext := filepath.Ext(base); ext != "" {
		if tag, ok := pathHints[ext]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// deepGoals applies the goal template rules in fixed order.
func deepGoals(kws []string) []string {
	var out []string
	for _, rule := range goalRules {
		for _, tok := range kws {
			if rule.words[tok] {
				out = append(out, rule.goal)
				break
			}
		}
	}
	return out
}

// explicitProfiles passes signal profile ids through, trimmed and
// deduped in caller order.
func explicitProfiles(sig types.Signals) []string {
	var out []string
	seen := make(map[string]bool, len(sig.Profiles))
	for _, id := range sig.Profiles {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
