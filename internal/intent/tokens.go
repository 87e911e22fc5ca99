package intent

import (
	"strings"
	"unicode"
)

// stopwords are dropped from the keyword layer. Request filler only;
// anything that could name a technology or action stays.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "when": true, "while": true,
	"at": true, "by": true, "for": true, "with": true, "about": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "to": true, "from": true,
	"up": true, "down": true, "in": true, "out": true, "on": true,
	"off": true, "over": true, "under": true, "again": true, "once": true,
	"here": true, "there": true, "all": true, "any": true, "both": true,
	"each": true, "few": true, "more": true, "most": true, "some": true,
	"such": true, "no": true, "nor": true, "not": true, "only": true,
	"own": true, "same": true, "so": true, "than": true, "too": true,
	"very": true, "can": true, "will": true, "just": true, "should": true,
	"now": true, "i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "it": true, "its": true, "they": true,
	"them": true, "their": true, "what": true, "which": true, "who": true,
	"this": true, "that": true, "these": true, "those": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "would": true, "could": true, "of": true,
	"as": true, "until": true, "please": true, "want": true, "need": true,
	"needs": true, "like": true, "help": true, "us": true,
	"other": true, "something": true, "really": true,
}

// tokenize lowercases text and splits on non-alphanumeric boundaries.
// Keeps original order; no filtering beyond the split.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywords filters tokens down to the significant keyword layer:
// stopwords and tokens shorter than two runes are dropped, first-seen
// order is kept, duplicates collapse.
func keywords(tokens []string) []string {
	var out []string
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) < 2 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
