// Package phonetic decides whether two normalized words sound alike, using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// Two words are equivalent when:
//
//  1. They are identical, or
//  2. Both are at least MinLength runes long, their Double Metaphone codes
//     overlap (primary or secondary), and their Jaro-Winkler similarity
//     reaches the configured threshold.
//
// Short words are never matched phonetically: "to", "two" and "too" share a
// code but swapping them would let filler words match anything.
package phonetic

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.75
	defaultMinLength = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score required for two
// phonetically matching words to be treated as equal. Default: 0.75.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// WithMinLength sets the minimum rune length both words must have before
// phonetic matching is attempted. Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = max(n, 1)
	}
}

// Codes is the pair of Double Metaphone codes for a word. Both are empty for
// words shorter than the matcher's minimum length.
type Codes struct {
	Primary   string
	Secondary string
}

// Empty reports whether c carries no code.
func (c Codes) Empty() bool { return c.Primary == "" && c.Secondary == "" }

// Overlaps reports whether c and o share at least one non-empty code.
func (c Codes) Overlaps(o Codes) bool {
	if c.Empty() || o.Empty() {
		return false
	}
	for _, a := range [2]string{c.Primary, c.Secondary} {
		if a == "" {
			continue
		}
		if a == o.Primary || a == o.Secondary {
			return true
		}
	}
	return false
}

// Matcher compares words phonetically. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	threshold float64
	minLength int
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: defaultThreshold,
		minLength: defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Codes returns the Double Metaphone codes of word, or empty codes when word
// is too short to be matched phonetically. word should already be normalized.
func (m *Matcher) Codes(word string) Codes {
	if utf8.RuneCountInString(word) < m.minLength {
		return Codes{}
	}
	p, s := matchr.DoubleMetaphone(word)
	if s == p {
		s = ""
	}
	return Codes{Primary: p, Secondary: s}
}

// Similarity returns the Jaro-Winkler similarity of a and b in [0, 1].
func (m *Matcher) Similarity(a, b string) float64 {
	return matchr.JaroWinkler(a, b, false)
}

// Equivalent reports whether a and b should count as the same spoken word.
func (m *Matcher) Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	return m.EquivalentCodes(a, m.Codes(a), b, m.Codes(b))
}

// EquivalentCodes is [Matcher.Equivalent] with precomputed codes, for callers
// that compare the same word many times.
func (m *Matcher) EquivalentCodes(a string, ac Codes, b string, bc Codes) bool {
	if a == b {
		return true
	}
	if !ac.Overlaps(bc) {
		return false
	}
	return m.Similarity(a, b) >= m.threshold
}
