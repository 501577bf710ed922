package align

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

// sequentialWork is the DP cell count below which window scoring stays on
// the calling goroutine.
const sequentialWork = 1 << 15

// candidate is one scored window: tokens[start : start+length] with lcs
// words in common with the segment.
type candidate struct {
	start  int
	length int
	lcs    int
}

// score returns 2*lcs/(k+length), the LCS ratio of a k-word segment against
// the window.
func (c candidate) score(k int) float64 {
	if k+c.length == 0 {
		return 0
	}
	return 2 * float64(c.lcs) / float64(k+c.length)
}

// beats reports whether c ranks above o for a k-word segment: higher score,
// then earlier start, then length closer to k, then shorter. Scores are
// compared by cross-multiplication so ties are exact.
func (c candidate) beats(o candidate, k int) bool {
	l := c.lcs * (k + o.length)
	r := o.lcs * (k + c.length)
	if l != r {
		return l > r
	}
	if c.start != o.start {
		return c.start < o.start
	}
	dc, do := abs(c.length-k), abs(o.length-k)
	if dc != do {
		return dc < do
	}
	return c.length < o.length
}

// searchSpace describes the windows tried for one segment.
type searchSpace struct {
	first, last int // inclusive window start range
	minLen      int
	maxLen      int
}

// space computes the window starts and lengths for a k-word segment with the
// cursor at c over n tokens. It reports false when no window fits.
func (cfg Config) space(k, c, n int) (searchSpace, bool) {
	if c >= n || k == 0 {
		return searchSpace{}, false
	}
	horizon := cfg.SearchHorizon
	if horizon == 0 {
		horizon = max(3*k, minDynamicHorizon)
		if cfg.MaxHorizon > 0 {
			horizon = min(horizon, cfg.MaxHorizon)
		}
	}
	lo := max(1, int(math.Round(float64(k)*(1-cfg.WindowSlack))))
	hi := max(lo, int(math.Round(float64(k)*(1+cfg.WindowSlack))))
	return searchSpace{
		first:  c,
		last:   min(c+horizon, n-1),
		minLen: lo,
		maxLen: hi,
	}, true
}

// scorer runs the LCS dynamic programme for one segment.
type scorer struct {
	stream []int32
	terms  []term
	sp     searchSpace
}

// best returns the top-ranked window over all starts in [from, to].
func (s *scorer) best(ctx context.Context, from, to int) (candidate, error) {
	k := len(s.terms)
	prev := make([]int32, s.sp.maxLen+1)
	cur := make([]int32, s.sp.maxLen+1)

	var top candidate
	found := false
	for start := from; start <= to; start++ {
		if (start-from)&63 == 63 {
			if err := ctx.Err(); err != nil {
				return candidate{}, err
			}
		}
		hi := min(s.sp.maxLen, len(s.stream)-start)
		lo := min(s.sp.minLen, hi)
		window := s.stream[start : start+hi]

		clear(prev[:hi+1])
		for _, t := range s.terms {
			cur[0] = 0
			for j, tok := range window {
				switch {
				case t.matches(tok):
					cur[j+1] = prev[j] + 1
				case prev[j+1] >= cur[j]:
					cur[j+1] = prev[j+1]
				default:
					cur[j+1] = cur[j]
				}
			}
			prev, cur = cur, prev
		}

		// prev[L] is now the LCS of the whole segment with window[:L].
		for l := lo; l <= hi; l++ {
			c := candidate{start: start, length: l, lcs: int(prev[l])}
			if !found || c.beats(top, k) {
				top = c
				found = true
			}
		}
	}
	return top, nil
}

// search scores every window in sp and returns the best one. Start positions
// are split into contiguous chunks scored concurrently; the reduction uses
// the total order of [candidate.beats] so the result does not depend on
// scheduling.
func (s *scorer) search(ctx context.Context, workers int) (candidate, error) {
	starts := s.sp.last - s.sp.first + 1
	work := starts * len(s.terms) * s.sp.maxLen
	if workers <= 1 || starts < 2 || work < sequentialWork {
		return s.best(ctx, s.sp.first, s.sp.last)
	}

	chunks := min(workers, starts)
	size := (starts + chunks - 1) / chunks
	results := make([]candidate, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range chunks {
		from := s.sp.first + i*size
		to := min(from+size-1, s.sp.last)
		if from > to {
			results[i] = candidate{start: -1}
			continue
		}
		g.Go(func() error {
			c, err := s.best(gctx, from, to)
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return candidate{}, err
	}

	k := len(s.terms)
	top := candidate{start: -1}
	for _, c := range results {
		if c.start < 0 {
			continue
		}
		if top.start < 0 || c.beats(top, k) {
			top = c
		}
	}
	return top, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
