// Package tokens turns the word-level output of a speech-to-text engine into
// the normalized, time-ordered token stream the aligner searches.
//
// [Build] is a pure transform over []stt.WordDetail. [ParseWords] reads the
// JSON that common engines emit (Deepgram, Whisper, OpenAI, Google, or a flat
// word list) for callers that stored raw engine output instead of calling a
// transcriber.
//
// Ordering rules:
//   - Tokens keep the engine's order.
//   - A word whose start lies slightly before its predecessor's (within the
//     jitter tolerance) is clamped forward and a warning is logged. Larger
//     backward jumps fail with [ErrMalformedTokenStream].
//   - End is clamped to be >= Start, and a token's End is clamped to the next
//     token's Start, so that Start and End are both non-decreasing.
//   - A word starting inside the span given to the parts of a split word is
//     moved to the start of the last part.
package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// DefaultJitterTolerance is the largest backward start jump, in seconds, that
// is repaired instead of rejected.
const DefaultJitterTolerance = 0.5

// ErrMalformedTokenStream is returned when the engine output is missing
// required fields or its timestamps run backwards beyond the jitter tolerance.
var ErrMalformedTokenStream = errors.New("tokens: malformed token stream")

// Option is a functional option for [Build].
type Option func(*config)

type config struct {
	jitter float64
	logger *slog.Logger
}

// WithJitterTolerance sets the backward start jump, in seconds, that is
// clamped rather than rejected. Negative values are treated as zero.
func WithJitterTolerance(seconds float64) Option {
	return func(c *config) {
		c.jitter = max(seconds, 0)
	}
}

// WithLogger sets the logger used for repair warnings. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Build converts engine words into tokens. Words that normalize to nothing
// (pure punctuation, filler symbols) are dropped. Words containing separators
// ("year-over-year") are split, and the word's time span is shared evenly
// between the parts.
func Build(words []stt.WordDetail, opts ...Option) ([]types.Token, error) {
	cfg := config{jitter: DefaultJitterTolerance}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	out := make([]types.Token, 0, len(words))
	lastStart := math.Inf(-1)
	repaired := 0

	for i, w := range words {
		start := w.Start.Seconds()
		end := w.End.Seconds()
		if start < 0 || math.IsNaN(start) || math.IsNaN(end) {
			return nil, fmt.Errorf("%w: word %d (%q) has invalid start %v", ErrMalformedTokenStream, i, w.Word, w.Start)
		}

		parts := Words(w.Word)
		if len(parts) == 0 {
			continue
		}

		if start < lastStart {
			jump := lastStart - start
			if jump > cfg.jitter {
				return nil, fmt.Errorf("%w: word %d (%q) starts %.3fs before its predecessor", ErrMalformedTokenStream, i, w.Word, jump)
			}
			repaired++
			cfg.logger.Warn("tokens: clamped out-of-order word",
				"index", i,
				"word", w.Word,
				"start", start,
				"clamped_to", lastStart,
			)
			start = lastStart
		}
		if end < start {
			end = start
		}

		raw := strings.TrimSpace(w.Word)
		step := (end - start) / float64(len(parts))
		for j, p := range parts {
			ts := start + step*float64(j)
			te := ts + step
			if j == len(parts)-1 {
				te = end
			}
			if n := len(out); n > 0 {
				// A word may start inside the span shared out to the parts
				// of a split predecessor.
				ts = max(ts, out[n-1].Start)
				if out[n-1].End > ts {
					out[n-1].End = ts
				}
			}
			te = max(te, ts)
			out = append(out, types.Token{
				Word:       p,
				Raw:        raw,
				Start:      ts,
				End:        te,
				Confidence: clampUnit(w.Confidence),
			})
		}
		lastStart = start
	}

	if repaired > 0 {
		cfg.logger.Debug("tokens: repaired token stream", "repaired", repaired, "tokens", len(out))
	}
	return out, nil
}

// FromTranscript is shorthand for Build(tr.Words, opts...). A nil transcript
// yields no tokens.
func FromTranscript(tr *stt.Transcript, opts ...Option) ([]types.Token, error) {
	if tr == nil {
		return nil, nil
	}
	return Build(tr.Words, opts...)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
