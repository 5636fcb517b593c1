// Package textsim holds the token-set helpers shared by ensemble aggregation,
// clustering and convergence detection.
package textsim

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "with": {}, "into": {}, "not": {}, "no": {}, "but": {}, "their": {},
}

// Tokens lowercases s and splits it on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range Tokens(s) {
		out[tok] = struct{}{}
	}
	return out
}

// SetOf builds a set from already-normalized members.
func SetOf(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		out[it] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b|. An empty union scores 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextSimilarity is the Jaccard similarity of the token sets of two texts.
func TextSimilarity(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// ContentTokens returns normalized, de-duplicated, sorted tokens with
// stopwords removed and a trailing plural "s" trimmed from longer words.
func ContentTokens(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokens(s) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
			tok = strings.TrimSuffix(tok, "s")
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Canonical is the identity key of a free-text description: two descriptions
// denote the same thing when their canonical keys are equal.
func Canonical(s string) string {
	return strings.Join(ContentTokens(s), " ")
}
