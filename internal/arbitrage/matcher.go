package arbitrage

import (
	"strings"
	"unicode"
)

// MarketMatcher scores how likely two market questions describe the same
// underlying event, in [0, 1].
type MarketMatcher interface {
	Similarity(a, b string) float64
}

// TokenSetMatcher scores questions by Jaccard similarity over their token
// sets. Tokens are lowercased, stripped of punctuation, and filtered
// through a small stopword list so phrasing differences like "Will X win?"
// vs "X wins the election" still overlap.
type TokenSetMatcher struct {
	stopwords map[string]struct{}
}

var _ MarketMatcher = (*TokenSetMatcher)(nil)

var defaultStopwords = []string{
	"a", "an", "and", "at", "be", "by", "does", "for", "in",
	"is", "of", "on", "or", "the", "to", "will",
}

// NewTokenSetMatcher creates a matcher with the default stopword list.
func NewTokenSetMatcher() *TokenSetMatcher {
	sw := make(map[string]struct{}, len(defaultStopwords))
	for _, w := range defaultStopwords {
		sw[w] = struct{}{}
	}
	return &TokenSetMatcher{stopwords: sw}
}

// Similarity implements MarketMatcher.
func (m *TokenSetMatcher) Similarity(a, b string) float64 {
	sa := m.tokens(a)
	sb := m.tokens(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	intersection := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

func (m *TokenSetMatcher) tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := m.stopwords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
