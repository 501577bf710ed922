package align_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// stream builds tokens for space-separated words, each lasting step seconds.
func stream(text string, step float64) []types.Token {
	words := strings.Fields(text)
	out := make([]types.Token, len(words))
	for i, w := range words {
		out[i] = types.Token{
			Word:       w,
			Raw:        w,
			Start:      float64(i) * step,
			End:        float64(i+1) * step,
			Confidence: 1,
		}
	}
	return out
}

func segments(texts ...string) []types.TranscriptSegment {
	out := make([]types.TranscriptSegment, len(texts))
	for i, t := range texts {
		out[i] = types.TranscriptSegment{Speaker: fmt.Sprintf("S%d", i), Text: t, Index: i}
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAlign_PerfectMatch(t *testing.T) {
	t.Parallel()

	toks := []types.Token{
		{Word: "we", Start: 0.0, End: 0.2, Confidence: 1},
		{Word: "delivered", Start: 0.2, End: 0.6, Confidence: 1},
		{Word: "record", Start: 0.6, End: 0.9, Confidence: 1},
		{Word: "revenue", Start: 0.9, End: 1.3, Confidence: 1},
	}
	segs := []types.TranscriptSegment{{Speaker: "CEO", Text: "We delivered record revenue."}}

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	s := got[0]
	if s.Status != types.StatusMatched {
		t.Fatalf("status = %q, want matched", s.Status)
	}
	if s.Start == nil || s.End == nil || !approx(*s.Start, 0.0) || !approx(*s.End, 1.3) {
		t.Errorf("times = %v..%v, want 0.0..1.3", s.Start, s.End)
	}
	if s.Score < 0.8 {
		t.Errorf("score = %v, want >= 0.8", s.Score)
	}
	if s.TokenStart != 0 || s.TokenEnd != 3 {
		t.Errorf("token range = %d..%d, want 0..3", s.TokenStart, s.TokenEnd)
	}
}

func TestAlign_ParaphraseTolerance(t *testing.T) {
	t.Parallel()

	toks := stream("we delivered record revenue", 0.3)
	segs := segments("we delivered record revenue this quarter")

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].Status == types.StatusUnmatched || got[0].Score < 0.5 {
		t.Errorf("paraphrase = %q (score %v), want matched or low_confidence", got[0].Status, got[0].Score)
	}
}

func TestAlign_NoMatchSkipsForward(t *testing.T) {
	t.Parallel()

	toks := stream("alpha bravo charlie delta echo foxtrot golf hotel india juliet", 0.5)
	segs := segments(
		"zulu yankee xray",    // nothing like it in the audio
		"alpha bravo charlie", // only at tokens 0..2, which the skip moved past
		"golf hotel india juliet",
	)

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].Status != types.StatusUnmatched || got[0].Start != nil || got[0].End != nil {
		t.Errorf("unrelated segment = %+v, want unmatched without times", got[0])
	}
	if got[0].Score != 0 || got[0].TokenStart != -1 {
		t.Errorf("unmatched segment should carry zero score and no token range: %+v", got[0])
	}
	if got[1].Status != types.StatusUnmatched {
		t.Errorf("segment behind the cursor = %q, want unmatched", got[1].Status)
	}
	if got[2].Status != types.StatusMatched || got[2].TokenStart != 6 {
		t.Errorf("last segment = %q at %d, want matched at 6", got[2].Status, got[2].TokenStart)
	}
}

func TestAlign_MultiSegmentOrdering(t *testing.T) {
	t.Parallel()

	toks := stream("good morning and welcome to the call revenue grew ten percent thank you operator", 0.4)
	segs := segments(
		"Good morning, and welcome to the call.",
		"Revenue grew ten percent.",
		"Thank you, operator.",
	)

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	for i, s := range got {
		if s.Status != types.StatusMatched {
			t.Fatalf("segment %d status = %q, want matched", i, s.Status)
		}
		if *s.Start >= *s.End {
			t.Errorf("segment %d has empty range %v..%v", i, *s.Start, *s.End)
		}
		if i > 0 && *got[i-1].End > *s.Start+1e-9 {
			t.Errorf("segment %d starts at %v before previous end %v", i, *s.Start, *got[i-1].End)
		}
	}
	if got[1].TokenStart != 7 || got[2].TokenStart != 11 {
		t.Errorf("token starts = %d, %d, want 7, 11", got[1].TokenStart, got[2].TokenStart)
	}
}

func TestAlign_RecurringPhraseMatchesLaterOccurrence(t *testing.T) {
	t.Parallel()

	toks := stream("thank you for the question revenue grew thank you for the question margins expanded", 0.3)
	segs := segments(
		"Thank you for the question. Revenue grew.",
		"Thank you for the question. Margins expanded.",
	)

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].TokenStart != 0 || got[1].TokenStart != 7 {
		t.Errorf("token starts = %d, %d, want 0, 7", got[0].TokenStart, got[1].TokenStart)
	}
}

func TestAlign_PhoneticEquivalence(t *testing.T) {
	t.Parallel()

	toks := stream("their revenue grew", 0.3)
	segs := segments("There revenue grew")

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].TokenStart != 0 || got[0].Score != 1 {
		t.Errorf("phonetic: start %d score %v, want 0 and 1", got[0].TokenStart, got[0].Score)
	}

	got, err = align.New(align.WithPhoneticMatching(false)).Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].TokenStart != 1 {
		t.Errorf("exact only: start %d, want 1 (skipping the mismatched word)", got[0].TokenStart)
	}
}

func TestAlign_EmptySegmentTextKeepsCursor(t *testing.T) {
	t.Parallel()

	toks := stream("hello there everyone", 0.3)
	segs := segments("...", "Hello there, everyone!")

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].Status != types.StatusUnmatched {
		t.Errorf("punctuation-only segment = %q, want unmatched", got[0].Status)
	}
	if got[1].Status != types.StatusMatched || got[1].TokenStart != 0 {
		t.Errorf("following segment = %q at %d, want matched at 0", got[1].Status, got[1].TokenStart)
	}
}

func TestAlign_ExhaustedStream(t *testing.T) {
	t.Parallel()

	toks := stream("short answer", 0.3)
	segs := segments("Short answer.", "A much longer follow-up that never made it into the audio.")

	got, err := align.New().Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0].Status != types.StatusMatched {
		t.Errorf("first = %q, want matched", got[0].Status)
	}
	if got[1].Status != types.StatusUnmatched {
		t.Errorf("second = %q, want unmatched", got[1].Status)
	}
}

func TestAlign_InputErrors(t *testing.T) {
	t.Parallel()

	a := align.New()
	ctx := context.Background()

	if _, err := a.Align(ctx, nil, segments("hello")); !errors.Is(err, align.ErrAlignmentInput) {
		t.Errorf("empty tokens: got %v, want ErrAlignmentInput", err)
	}
	if _, err := a.Align(ctx, stream("hello", 1), nil); !errors.Is(err, align.ErrAlignmentInput) {
		t.Errorf("empty segments: got %v, want ErrAlignmentInput", err)
	}
}

func TestAlign_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := align.New(align.WithWeakThreshold(0.9)).Align(context.Background(), stream("a", 1), segments("a"))
	if err == nil {
		t.Fatal("expected config error when weak threshold exceeds match threshold")
	}
	if errors.Is(err, align.ErrAlignmentInput) {
		t.Errorf("config error should not be ErrAlignmentInput: %v", err)
	}
}

func TestAlign_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := align.New().Align(ctx, stream("hello", 1), segments("hello"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*align.Config)
		wantErr bool
	}{
		{"default", func(*align.Config) {}, false},
		{"match above one", func(c *align.Config) { c.MatchThreshold = 1.5 }, true},
		{"weak negative", func(c *align.Config) { c.WeakThreshold = -0.1 }, true},
		{"weak above match", func(c *align.Config) { c.WeakThreshold = 0.9 }, true},
		{"slack one", func(c *align.Config) { c.WindowSlack = 1 }, true},
		{"negative horizon", func(c *align.Config) { c.SearchHorizon = -1 }, true},
		{"negative max horizon", func(c *align.Config) { c.MaxHorizon = -1 }, true},
		{"fixed horizon", func(c *align.Config) { c.SearchHorizon = 10 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := align.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// synthetic builds an earnings-call sized fixture of n segments of k unique
// words each. The token stream drops every 7th word and inserts a filler
// every 11th, as an engine would. When heavyEvery > 0, every heavyEvery-th
// segment has a third of its words replaced in the transcript text.
func synthetic(n, k, heavyEvery int) ([]types.Token, []types.TranscriptSegment) {
	var toks []types.Token
	segs := make([]types.TranscriptSegment, n)
	clock := 0.0
	emit := func(w string) {
		toks = append(toks, types.Token{Word: w, Raw: w, Start: clock, End: clock + 0.3, Confidence: 0.9})
		clock += 0.3
	}
	for i := range n {
		text := make([]string, k)
		for j := range k {
			w := fmt.Sprintf("w%d", (i*k+j)*7919%100003)
			text[j] = w
			if j%7 != 3 {
				emit(w)
			}
			if j%11 == 5 {
				emit("uh")
			}
			if heavyEvery > 0 && i%heavyEvery == heavyEvery-1 && j%3 == 0 {
				text[j] = fmt.Sprintf("x%d", i*k+j)
			}
		}
		segs[i] = types.TranscriptSegment{Speaker: fmt.Sprintf("Speaker %d", i%4), Text: strings.Join(text, " "), Index: i}
	}
	return toks, segs
}

func TestAlign_SyntheticCall(t *testing.T) {
	t.Parallel()

	toks, segs := synthetic(30, 40, 0)
	got, err := align.New(align.WithPhoneticMatching(false)).Align(context.Background(), toks, segs)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(got) != len(segs) {
		t.Fatalf("got %d segments, want %d", len(got), len(segs))
	}

	var prevEnd float64
	for i, s := range got {
		if s.Speaker != segs[i].Speaker || s.Text != segs[i].Text || s.Index != segs[i].Index {
			t.Fatalf("segment %d content changed: %+v", i, s.TranscriptSegment)
		}
		if s.Status != types.StatusMatched {
			t.Errorf("segment %d = %q (score %.3f), want matched", i, s.Status, s.Score)
			continue
		}
		if *s.Start+1e-9 < prevEnd {
			t.Errorf("segment %d starts at %v before previous end %v", i, *s.Start, prevEnd)
		}
		prevEnd = *s.End
	}
	if rate := types.MatchRate(got); rate != 1 {
		t.Errorf("match rate = %v, want 1", rate)
	}
}

func TestAlign_Deterministic(t *testing.T) {
	t.Parallel()

	toks, segs := synthetic(20, 40, 3)
	ctx := context.Background()

	serial, err := align.New(align.WithParallelism(1), align.WithPhoneticMatching(false)).Align(ctx, toks, segs)
	if err != nil {
		t.Fatalf("Align serial: %v", err)
	}
	for range 3 {
		parallel, err := align.New(align.WithParallelism(8), align.WithPhoneticMatching(false)).Align(ctx, toks, segs)
		if err != nil {
			t.Fatalf("Align parallel: %v", err)
		}
		if !reflect.DeepEqual(serial, parallel) {
			t.Fatal("parallel alignment differs from serial alignment")
		}
	}
}

// A lower weak threshold never demotes a segment that is scored from the
// same cursor. On a stream without look-alike windows the cursor stays on
// the true path, so the match rate is monotonic too.
func TestAlign_WeakThresholdMonotonic(t *testing.T) {
	t.Parallel()

	toks, segs := synthetic(24, 40, 3)
	ctx := context.Background()

	prevRate, prevTimed := -1.0, -1
	sawLow := false
	for _, weak := range []float64{0.8, 0.6, 0.5, 0.4, 0.2, 0} {
		got, err := align.New(align.WithWeakThreshold(weak), align.WithPhoneticMatching(false)).Align(ctx, toks, segs)
		if err != nil {
			t.Fatalf("Align(weak=%v): %v", weak, err)
		}
		rate := types.MatchRate(got)
		timed := 0
		for _, s := range got {
			if s.HasTimestamps() {
				timed++
			}
			if s.Status == types.StatusLowConfidence {
				sawLow = true
			}
		}
		if rate < prevRate {
			t.Errorf("weak=%v: match rate dropped from %v to %v", weak, prevRate, rate)
		}
		if timed < prevTimed {
			t.Errorf("weak=%v: timestamped segments dropped from %d to %d", weak, prevTimed, timed)
		}
		prevRate, prevTimed = rate, timed
	}
	if !sawLow {
		t.Error("expected the perturbed segments to surface as low_confidence")
	}
}

// Lowering the weak threshold can lower the match rate. A segment accepted
// as low_confidence moves the cursor past its window, and when that window
// is a far look-alike the next segment's true position is behind the cursor.
func TestAlign_WeakThresholdCursorSkip(t *testing.T) {
	t.Parallel()

	// "p q r s" is not spoken. Its best window is "qq p q" at token 39,
	// score 4/7. "m n o t u v" is spoken at tokens 2-7.
	toks := stream("zz yy m n o t u v "+strings.Repeat("qq ", 32)+"p q kk jj hh", 0.1)
	segs := segments("p q r s", "m n o t u v")
	ctx := context.Background()

	tests := []struct {
		weak       float64
		wantStatus [2]types.MatchStatus
		wantRate   float64
	}{
		// Segment 0 is unmatched and skips 4 tokens. "o t u v" at token 4
		// still scores 0.8.
		{0.6, [2]types.MatchStatus{types.StatusUnmatched, types.StatusMatched}, 0.5},
		// Segment 0 is accepted and the cursor jumps to token 42.
		{0.5, [2]types.MatchStatus{types.StatusLowConfidence, types.StatusUnmatched}, 0},
	}
	for _, tt := range tests {
		got, err := align.New(align.WithWeakThreshold(tt.weak), align.WithPhoneticMatching(false)).Align(ctx, toks, segs)
		if err != nil {
			t.Fatalf("Align(weak=%v): %v", tt.weak, err)
		}
		for i, want := range tt.wantStatus {
			if got[i].Status != want {
				t.Errorf("weak=%v: segment %d = %q (score %.3f), want %q", tt.weak, i, got[i].Status, got[i].Score, want)
			}
		}
		if rate := types.MatchRate(got); !approx(rate, tt.wantRate) {
			t.Errorf("weak=%v: match rate = %v, want %v", tt.weak, rate, tt.wantRate)
		}
	}
}
