// Package align locates each speaker turn of a clean transcript inside the
// word-level token stream of a speech-to-text run of the same audio.
//
// The [Aligner] walks the segments in order with a monotonic cursor into the
// token stream. For every segment it scores the contiguous token windows
// that start within a bounded horizon after the cursor and whose length is
// close to the segment's word count, using the longest-common-subsequence
// ratio 2*LCS/(k+L). Words are equal when their normalized forms match or,
// with phonetic matching enabled, when they sound alike (see package
// [phonetic]).
//
// The best window decides the segment's status:
//
//   - score >= match threshold: matched, cursor moves past the window
//   - score >= weak threshold: low_confidence, cursor moves past the window
//   - otherwise: unmatched, no timestamps, cursor skips k tokens
//
// A segment that mismatches is never an error; the result always has one
// entry per input segment.
package align

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/transcriptalign/pkg/align/phonetic"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// Aligner maps transcript segments onto a token stream. It holds no state
// between calls and is safe for concurrent use.
type Aligner struct {
	cfg     Config
	logger  *slog.Logger
	matcher *phonetic.Matcher
}

// New returns an Aligner with [DefaultConfig] adjusted by opts.
func New(opts ...Option) *Aligner {
	a := &Aligner{cfg: DefaultConfig()}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.matcher = phonetic.New()
	return a
}

// Config returns the aligner's tuning.
func (a *Aligner) Config() Config { return a.cfg }

// Align returns one [types.AlignedSegment] per segment, in input order.
//
// It fails with [ErrAlignmentInput] when toks or segs is empty and with the
// context's error when ctx is cancelled. Segments are processed sequentially;
// window scoring within a segment runs on up to Config.Parallelism
// goroutines.
func (a *Aligner) Align(ctx context.Context, toks []types.Token, segs []types.TranscriptSegment) ([]types.AlignedSegment, error) {
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: token stream is empty", ErrAlignmentInput)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no transcript segments", ErrAlignmentInput)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var m *phonetic.Matcher
	if a.cfg.Phonetic {
		m = a.matcher
	}
	v, stream := newVocab(toks, m)
	workers := a.cfg.workers()

	out := make([]types.AlignedSegment, len(segs))
	cursor := 0
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("align: %w", err)
		}

		words := tokens.Words(seg.Text)
		k := len(words)
		sp, ok := a.cfg.space(k, cursor, len(stream))
		if !ok {
			out[i] = types.Unmatched(seg)
			a.logger.Debug("align: segment skipped",
				"index", seg.Index,
				"words", k,
				"cursor", cursor,
			)
			continue
		}

		sc := &scorer{stream: stream, terms: v.lookupAll(words), sp: sp}
		best, err := sc.search(ctx, workers)
		if err != nil {
			return nil, fmt.Errorf("align: segment %d: %w", seg.Index, err)
		}

		score := best.score(k)
		switch {
		case score >= a.cfg.MatchThreshold:
			out[i] = a.place(seg, toks, best, score, types.StatusMatched)
			cursor = best.start + best.length
		case score >= a.cfg.WeakThreshold:
			out[i] = a.place(seg, toks, best, score, types.StatusLowConfidence)
			cursor = best.start + best.length
		default:
			out[i] = types.Unmatched(seg)
			cursor = min(cursor+k, len(stream))
		}

		a.logger.Debug("align: segment scored",
			"index", seg.Index,
			"speaker", seg.Speaker,
			"words", k,
			"score", score,
			"status", out[i].Status,
			"window_start", best.start,
			"window_len", best.length,
			"cursor", cursor,
		)
	}
	return out, nil
}

func (a *Aligner) place(seg types.TranscriptSegment, toks []types.Token, c candidate, score float64, status types.MatchStatus) types.AlignedSegment {
	end := c.start + c.length - 1
	start, stop := toks[c.start].Start, toks[end].End
	return types.AlignedSegment{
		TranscriptSegment: seg,
		Start:             &start,
		End:               &stop,
		Score:             score,
		Status:            status,
		TokenStart:        c.start,
		TokenEnd:          end,
	}
}
