// Package segmenter splits a plain, speaker-labelled transcript into ordered
// speaker turns.
//
// The expected layout puts each speaker label on its own line, followed by
// one or more lines of speech:
//
//	Operator
//
//	Good day, and welcome to the third quarter earnings call.
//
//	Tim Cook - CEO
//
//	Thank you. Good afternoon, everyone.
//
// Which lines are labels is decided by a [Classifier]; the default is
// [Heuristic].
package segmenter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/transcriptalign/pkg/types"
)

// UnknownSpeaker labels text that appears before the first speaker label.
const UnknownSpeaker = "Unknown"

// ErrEmptyTranscript is returned when the transcript has no content.
var ErrEmptyTranscript = errors.New("segmenter: empty transcript")

// Option is a functional option for [Split].
type Option func(*config)

type config struct {
	classifier     Classifier
	maxLabelLength int
}

// WithClassifier replaces the label classifier.
func WithClassifier(c Classifier) Option {
	return func(cfg *config) {
		cfg.classifier = c
	}
}

// WithMaxLabelLength sets the default [Heuristic]'s length limit. It has no
// effect when a classifier is supplied with [WithClassifier].
func WithMaxLabelLength(n int) Option {
	return func(cfg *config) {
		cfg.maxLabelLength = n
	}
}

// Split parses text into speaker turns in speaking order. Body lines of a
// turn are joined with single spaces. Turns without any body text are
// omitted, and text before the first label becomes an [UnknownSpeaker] turn.
//
// It fails with [ErrEmptyTranscript] when text is blank or contains only
// labels.
func Split(text string, opts ...Option) ([]types.TranscriptSegment, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.classifier == nil {
		cfg.classifier = Heuristic{MaxLength: cfg.maxLabelLength}
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTranscript
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	// next[i] is the index of the first non-blank line after i, or -1.
	next := make([]int, len(lines))
	following := -1
	for i := len(lines) - 1; i >= 0; i-- {
		next[i] = following
		if lines[i] != "" {
			following = i
		}
	}

	var (
		out     []types.TranscriptSegment
		speaker = UnknownSpeaker
		body    []string
		label   = -1 // index of the last label line
	)
	flush := func() {
		if len(body) == 0 {
			return
		}
		out = append(out, types.TranscriptSegment{
			Speaker: speaker,
			Text:    strings.Join(body, " "),
			Index:   len(out),
		})
		body = body[:0]
	}

	for i, line := range lines {
		if line == "" {
			continue
		}
		ctx := LineContext{Index: i}
		if i > 0 {
			ctx.Prev = lines[i-1]
			ctx.PrevIsLabel = label == i-1
		}
		if n := next[i]; n >= 0 {
			ctx.Next = lines[n]
			ctx.HasNext = true
		}

		if cfg.classifier.IsSpeakerLabel(line, ctx) {
			flush()
			speaker = cleanLabel(line)
			label = i
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no spoken text after speaker labels", ErrEmptyTranscript)
	}
	return out, nil
}
