package index

import (
	"strings"
	"unicode"

	"github.com/starford/vaultkeeper/internal/slug"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "about": {}, "all": {}, "between": {}, "both": {},
	"can": {}, "compare": {}, "did": {}, "do": {}, "does": {}, "find": {}, "for": {}, "from": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "know": {}, "list": {}, "many": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "summarize": {}, "tell": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"whom": {}, "why": {}, "with": {}, "you": {},
}

// Terms splits a free-text query into folded, deduplicated search terms
// with stopwords removed.
func Terms(query string) []string {
	fields := strings.FieldsFunc(slug.Fold(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
