package segmenter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLabelLength is the rune length at or above which the heuristic
// never treats a line as a speaker label.
const DefaultMaxLabelLength = 60

// maxLabelWords bounds the number of words in a heuristic label.
const maxLabelWords = 10

// LineContext describes the neighbourhood of a line being classified.
type LineContext struct {
	// Index is the 0-based line number in the transcript.
	Index int

	// Prev is the directly preceding line, trimmed. It is empty when the
	// line is the first one or follows a blank line.
	Prev string

	// PrevIsLabel reports whether Prev was classified as a speaker label.
	PrevIsLabel bool

	// Next is the next non-blank line, trimmed, or "" when none follows.
	Next string

	// HasNext reports whether any non-blank line follows.
	HasNext bool
}

// Classifier decides whether a transcript line is a speaker label.
// Implementations receive the trimmed, non-blank line.
type Classifier interface {
	IsSpeakerLabel(line string, ctx LineContext) bool
}

// ClassifierFunc adapts a function to the [Classifier] interface.
type ClassifierFunc func(line string, ctx LineContext) bool

// IsSpeakerLabel calls f(line, ctx).
func (f ClassifierFunc) IsSpeakerLabel(line string, ctx LineContext) bool { return f(line, ctx) }

// Compile-time interface assertions.
var (
	_ Classifier = Heuristic{}
	_ Classifier = (*AllowList)(nil)
	_ Classifier = Any(nil)
	_ Classifier = ClassifierFunc(nil)
)

// Heuristic recognises labels by shape. A line is a label when it:
//
//   - is shorter than MaxLength runes and at most ten words,
//   - starts with an uppercase letter,
//   - contains no sentence punctuation (a trailing colon is allowed),
//   - is followed by some non-blank line, and
//   - does not continue an unfinished sentence on the line directly above.
//
// A label directly above never counts as an unfinished sentence, so in
// "Operator\nJane Doe - CFO\nHello." both lines are labels and the empty
// Operator turn is dropped by [Split].
//
// Short declarative lines ("Good morning") separated by blank lines are
// misread as labels; use [AllowList] or [Any] for such transcripts.
type Heuristic struct {
	// MaxLength defaults to DefaultMaxLabelLength when <= 0.
	MaxLength int
}

// IsSpeakerLabel implements [Classifier].
func (h Heuristic) IsSpeakerLabel(line string, ctx LineContext) bool {
	limit := h.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLabelLength
	}
	name := cleanLabel(line)
	if name == "" || utf8.RuneCountInString(name) >= limit {
		return false
	}
	if !ctx.HasNext {
		return false
	}
	if ctx.Prev != "" && !ctx.PrevIsLabel && !endsSentence(ctx.Prev) {
		return false
	}
	if len(strings.Fields(name)) > maxLabelWords {
		return false
	}
	if strings.ContainsAny(name, ".?!;…\"“”") {
		return false
	}
	if strings.HasSuffix(name, ",") {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}

// AllowList recognises known speakers. A line matches when, ignoring case and
// a trailing colon, it equals a listed name, starts with a listed name
// followed by a dash or comma ("Tim Cook - CEO"), or matches one of the
// patterns.
type AllowList struct {
	names    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewAllowList builds an [AllowList]. Patterns use RE2 syntax and are matched
// against the whole label text.
func NewAllowList(names []string, patterns ...string) (*AllowList, error) {
	a := &AllowList{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			a.names[n] = struct{}{}
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("segmenter: compile pattern %q: %w", p, err)
		}
		a.patterns = append(a.patterns, re)
	}
	return a, nil
}

var labelSeparators = []string{" - ", " – ", " — ", ", "}

// IsSpeakerLabel implements [Classifier].
func (a *AllowList) IsSpeakerLabel(line string, _ LineContext) bool {
	name := cleanLabel(line)
	if name == "" {
		return false
	}
	key := strings.ToLower(name)
	if _, ok := a.names[key]; ok {
		return true
	}
	for _, sep := range labelSeparators {
		if before, _, ok := strings.Cut(key, sep); ok {
			if _, known := a.names[strings.TrimSpace(before)]; known {
				return true
			}
		}
	}
	for _, re := range a.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Any combines classifiers; a line is a label when any of them says so.
// Classifiers are consulted in order and the first positive answer wins.
type Any []Classifier

// IsSpeakerLabel implements [Classifier].
func (a Any) IsSpeakerLabel(line string, ctx LineContext) bool {
	for _, c := range a {
		if c.IsSpeakerLabel(line, ctx) {
			return true
		}
	}
	return false
}

// cleanLabel trims whitespace and a trailing colon.
func cleanLabel(line string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ":"))
}

// endsSentence reports whether s ends with terminal punctuation, ignoring
// closing quotes and brackets. A trailing colon counts: it ends a label.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, "\"'”’)]» \t")
	if s == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', '…', ':':
		return true
	}
	return false
}
