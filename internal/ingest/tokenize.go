package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TokenSet is a normalized bag of comparable title tokens.
type TokenSet map[string]struct{}

// Word runs across all scripts; titles arrive in whatever language the
// configured locale serves.
var wordRE = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize lower-cases the text, extracts word-character runs and drops
// tokens of length <= 2 runes. Empty or absent input yields an empty set.
func Tokenize(text string) TokenSet {
	set := TokenSet{}
	if text == "" {
		return set
	}
	for _, tok := range wordRE.FindAllString(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(tok) <= 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard scores pairwise similarity between two token sets as
// |intersection| / |union|, with 0.0 when the union is empty.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}
