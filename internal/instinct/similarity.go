package instinct

import (
	"strings"
	"unicode"
)

// Similarity scores how alike two texts are, in [0,1]. Merge and
// contradiction detection are defined against an injected Similarity so
// tests can substitute deterministic stubs.
type Similarity func(a, b string) float64

// TokenJaccard is the default similarity: Jaccard overlap of lowercased
// word token sets. Purely structural; identical texts score 1.0 and
// disjoint texts score 0.0.
func TokenJaccard(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 && len(bs) == 0 {
		return 1.0
	}
	if len(as) == 0 || len(bs) == 0 {
		return 0.0
	}
	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = struct{}{}
	}
	return set
}

// Polarity keyword pairs for the negation check. Each row is a
// (positive, negative) pair; an action containing one side while the
// other action contains the opposite side signals mutual exclusion.
var polarityPairs = [][2]string{
	{"always", "never"},
	{"use", "avoid"},
	{"do", "don't"},
	{"should", "shouldn't"},
	{"prefer", "reject"},
	{"enable", "disable"},
	{"allow", "forbid"},
	{"include", "exclude"},
	{"add", "remove"},
}

// Opposed reports whether two action texts prescribe mutually exclusive
// behavior, using a shallow opposite-polarity keyword and leading-negation
// check. It deliberately avoids semantic interpretation: two actions are
// opposed only when they overlap textually but differ in polarity.
func Opposed(a, b string) bool {
	at := tokenSet(a)
	bt := tokenSet(b)

	polarityHit := false
	for _, pair := range polarityPairs {
		if hasToken(at, pair[0]) && hasToken(bt, pair[1]) {
			polarityHit = true
			break
		}
		if hasToken(at, pair[1]) && hasToken(bt, pair[0]) {
			polarityHit = true
			break
		}
	}
	if !polarityHit {
		polarityHit = leadingNegation(a) != leadingNegation(b)
	}
	if !polarityHit {
		return false
	}

	// Require the non-polarity tokens to overlap so unrelated actions in
	// the same domain are not flagged.
	return strippedOverlap(at, bt) >= 0.3
}

func hasToken(set map[string]struct{}, tok string) bool {
	_, ok := set[tok]
	return ok
}

var negationPrefixes = []string{"never", "don't", "dont", "avoid", "no", "not", "stop"}

func leadingNegation(s string) bool {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return false
	}
	for _, p := range negationPrefixes {
		if fields[0] == p {
			return true
		}
	}
	return false
}

// strippedOverlap computes Jaccard overlap after removing polarity and
// negation tokens from both sets.
func strippedOverlap(a, b map[string]struct{}) float64 {
	strip := func(set map[string]struct{}) map[string]struct{} {
		out := make(map[string]struct{}, len(set))
		for tok := range set {
			out[tok] = struct{}{}
		}
		for _, pair := range polarityPairs {
			delete(out, pair[0])
			delete(out, pair[1])
		}
		for _, p := range negationPrefixes {
			delete(out, p)
		}
		return out
	}
	as := strip(a)
	bs := strip(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0.0
	}
	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}
