package tokens

import (
	"strings"
	"unicode"
)

// Normalize returns the matching form of a single word: lowercase, with
// punctuation and symbols removed. Apostrophes inside a word are kept
// ("don't"), as are decimal points and thousands separators between digits,
// the latter being dropped ("1,000" becomes "1000", "1.5" stays "1.5").
//
// Word separators inside s (whitespace, hyphens, slashes) are removed as
// well; use [Words] to split text into words first.
func Normalize(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case isApostrophe(r):
			if i > 0 && i < len(rs)-1 && unicode.IsLetter(rs[i-1]) && unicode.IsLetter(rs[i+1]) {
				b.WriteByte('\'')
			}
		case r == '.':
			if i > 0 && i < len(rs)-1 && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]) {
				b.WriteByte('.')
			}
		}
	}
	return b.String()
}

// Words splits text on whitespace and word-joining punctuation (hyphens,
// dashes, slashes) and returns the normalized, non-empty words in order.
func Words(text string) []string {
	fields := strings.FieldsFunc(text, isSeparator)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '-', '/', '‐', '‑', '‒', '–', '—', '―', '…':
		return true
	}
	return false
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == 'ʼ'
}
