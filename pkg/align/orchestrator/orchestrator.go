// Package orchestrator is the entry point of the alignment engine. It
// transcribes the audio, splits the clean transcript into speaker turns,
// aligns the two and returns a formatted [types.AlignmentResult].
//
// Transcription is the only I/O. When it fails, [Orchestrator.Run] still
// returns a degraded result carrying the untimed transcript, together with
// an error wrapping [ErrTranscriptionUnavailable]; alignment is an
// enhancement and callers may serve the degraded result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/format"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

const tracerName = "github.com/MrWong99/transcriptalign/pkg/align/orchestrator"

// ErrTranscriptionUnavailable is returned when the transcriber fails or
// times out.
var ErrTranscriptionUnavailable = errors.New("orchestrator: transcription unavailable")

// Recorder receives per-run measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordTranscription is called after every transcriber call.
	RecordTranscription(ctx context.Context, provider string, d time.Duration, err error)

	// RecordAlignment is called for every result, degraded or not.
	RecordAlignment(ctx context.Context, r *types.AlignmentResult)
}

// Orchestrator coordinates one alignment run per call. It is safe for
// concurrent use.
type Orchestrator struct {
	transcriber stt.Transcriber

	alignCfg     align.Config
	tokenOpts    []tokens.Option
	segOpts      []segmenter.Option
	timeout      time.Duration
	alertBelow   float64
	language     string
	keywordBoost float64
	recorder     Recorder
	logger       *slog.Logger
	newID        func() string
	now          func() time.Time
	tracer       trace.Tracer
}

// New returns an Orchestrator using t for transcription. t may be nil when
// only [Orchestrator.AlignWords] is used.
func New(t stt.Transcriber, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcriber:  t,
		alignCfg:     align.DefaultConfig(),
		timeout:      DefaultTranscriptionTimeout,
		alertBelow:   DefaultAlertBelow,
		keywordBoost: DefaultKeywordBoost,
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.tracer = otel.Tracer(tracerName)
	return o
}

// Run transcribes audio, aligns transcript against it and returns the
// result. Per-call align options are applied on top of the configured
// tuning.
//
// Errors:
//   - segmenter.ErrEmptyTranscript: transcript is blank; no result.
//   - ErrTranscriptionUnavailable: the transcriber failed; the returned
//     result is degraded (all segments unmatched) and non-nil.
//   - align.ErrInvalidConfig: opts resolve to invalid tuning; the audio is
//     not transcribed and there is no result.
//   - tokens.ErrMalformedTokenStream, align.ErrAlignmentInput: the engine
//     output could not be aligned; no result.
//   - the context's error when ctx is cancelled; no result.
func (o *Orchestrator) Run(ctx context.Context, audio stt.AudioSource, transcript string, opts ...align.Option) (*types.AlignmentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("audio.source", audio.String()),
	))
	defer span.End()

	segs, err := segmenter.Split(transcript, o.segOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "segment transcript")
		return nil, fmt.Errorf("orchestrator: segment transcript: %w", err)
	}
	span.SetAttributes(attribute.Int("transcript.segments", len(segs)))

	aligner, err := o.aligner(opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "align options")
		return nil, err
	}

	tr, provider, err := o.transcribe(ctx, audio, segs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("orchestrator: %w", ctxErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription unavailable")
		res := o.degraded(ctx, provider, segs)
		return res, fmt.Errorf("%w: %s: %w", ErrTranscriptionUnavailable, provider, err)
	}

	toks, err := tokens.FromTranscript(tr, o.tokenOptions()...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build tokens")
		return nil, fmt.Errorf("orchestrator: build tokens: %w", err)
	}

	res, err := o.align(ctx, aligner, provider, toks, segs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "align")
		return nil, err
	}
	span.SetAttributes(attribute.Float64("alignment.match_rate", res.MatchRate))
	return res, nil
}

// AlignWords aligns transcript against words that were transcribed earlier,
// for example engine JSON read with [tokens.ParseWords]. source tags the
// result's provenance.
func (o *Orchestrator) AlignWords(ctx context.Context, source string, words []stt.WordDetail, transcript string, opts ...align.Option) (*types.AlignmentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.AlignWords", trace.WithAttributes(
		attribute.Int("words", len(words)),
	))
	defer span.End()

	segs, err := segmenter.Split(transcript, o.segOpts...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: segment transcript: %w", err)
	}
	aligner, err := o.aligner(opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	toks, err := tokens.Build(words, o.tokenOptions()...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestrator: build tokens: %w", err)
	}
	res, err := o.align(ctx, aligner, source, toks, segs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio stt.AudioSource, segs []types.TranscriptSegment) (*stt.Transcript, string, error) {
	if o.transcriber == nil {
		return nil, "none", errors.New("no transcriber configured")
	}
	provider := stt.NameOf(o.transcriber)
	if err := audio.Validate(); err != nil {
		return nil, provider, err
	}

	tctx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	tctx, span := o.tracer.Start(tctx, "orchestrator.transcribe", trace.WithAttributes(
		attribute.String("provider", provider),
	))
	defer span.End()

	start := o.now()
	tr, err := o.transcriber.Transcribe(tctx, audio, stt.Options{
		Language: o.language,
		Keywords: speakerKeywords(segs, o.keywordBoost),
	})
	elapsed := o.now().Sub(start)
	if o.recorder != nil {
		o.recorder.RecordTranscription(ctx, provider, elapsed, err)
	}
	if err == nil && tr == nil {
		err = errors.New("transcriber returned no transcript")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("orchestrator: transcription failed",
			"provider", provider,
			"audio", audio.String(),
			"elapsed", elapsed,
			"err", err,
		)
		return nil, provider, err
	}
	if tr.Provider != "" {
		provider = tr.Provider
	}
	o.logger.Debug("orchestrator: transcription complete",
		"provider", provider,
		"words", len(tr.Words),
		"elapsed", elapsed,
	)
	return tr, provider, nil
}

// aligner applies per-call opts on top of the configured tuning and checks
// the result, so a bad override fails before any provider is called.
func (o *Orchestrator) aligner(opts []align.Option) (*align.Aligner, error) {
	aopts := make([]align.Option, 0, len(opts)+2)
	aopts = append(aopts, align.WithConfig(o.alignCfg), align.WithLogger(o.logger))
	aopts = append(aopts, opts...)
	a := align.New(aopts...)
	if err := a.Config().Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w: %w", align.ErrInvalidConfig, err)
	}
	return a, nil
}

func (o *Orchestrator) align(ctx context.Context, a *align.Aligner, source string, toks []types.Token, segs []types.TranscriptSegment) (*types.AlignmentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.align", trace.WithAttributes(
		attribute.Int("tokens", len(toks)),
		attribute.Int("segments", len(segs)),
	))
	defer span.End()

	start := o.now()
	aligned, err := a.Align(ctx, toks, segs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "align")
		return nil, fmt.Errorf("orchestrator: align: %w", err)
	}

	stats := types.CountStatuses(aligned)
	stats.Tokens = len(toks)
	stats.Duration = o.now().Sub(start)

	res := &types.AlignmentResult{
		ID:        o.newID(),
		Source:    source,
		Segments:  aligned,
		MatchRate: types.MatchRate(aligned),
		Formatted: format.ForPrompt(aligned),
		Stats:     stats,
		CreatedAt: o.now().UTC(),
	}
	o.report(ctx, res)
	return res, nil
}

// degraded builds the fallback result: every segment unmatched, no times.
func (o *Orchestrator) degraded(ctx context.Context, source string, segs []types.TranscriptSegment) *types.AlignmentResult {
	out := make([]types.AlignedSegment, len(segs))
	for i, s := range segs {
		out[i] = types.Unmatched(s)
	}
	res := &types.AlignmentResult{
		ID:        o.newID(),
		Source:    source,
		Segments:  out,
		MatchRate: 0,
		Formatted: format.ForPrompt(out),
		Degraded:  true,
		Stats:     types.CountStatuses(out),
		CreatedAt: o.now().UTC(),
	}
	o.report(ctx, res)
	return res
}

func (o *Orchestrator) report(ctx context.Context, res *types.AlignmentResult) {
	attrs := []any{
		"id", res.ID,
		"source", res.Source,
		"match_rate", res.MatchRate,
		"matched", res.Stats.Matched,
		"low_confidence", res.Stats.LowConfidence,
		"unmatched", res.Stats.Unmatched,
		"tokens", res.Stats.Tokens,
		"duration", res.Stats.Duration,
		"degraded", res.Degraded,
	}
	switch {
	case res.Degraded:
		o.logger.Warn("orchestrator: returning untimed transcript", attrs...)
	case res.MatchRate < o.alertBelow:
		o.logger.Warn("orchestrator: low alignment match rate, check audio and transcript pairing", attrs...)
	default:
		o.logger.Info("orchestrator: alignment complete", attrs...)
	}
	if o.recorder != nil {
		o.recorder.RecordAlignment(ctx, res)
	}
}

func (o *Orchestrator) tokenOptions() []tokens.Option {
	opts := make([]tokens.Option, 0, len(o.tokenOpts)+1)
	opts = append(opts, tokens.WithLogger(o.logger))
	return append(opts, o.tokenOpts...)
}

// speakerKeywords turns speaker names into engine keyword hints. Only the
// name part of "Name - Title" labels is used, split into capitalised words
// of at least three letters.
func speakerKeywords(segs []types.TranscriptSegment, boost float64) []stt.KeywordBoost {
	if boost == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []stt.KeywordBoost
	for _, s := range segs {
		if s.Speaker == segmenter.UnknownSpeaker {
			continue
		}
		name, _, _ := strings.Cut(s.Speaker, " - ")
		for _, w := range strings.Fields(name) {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
			first, _ := utf8.DecodeRuneInString(w)
			if utf8.RuneCountInString(w) < 3 || !unicode.IsUpper(first) {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, stt.KeywordBoost{Keyword: w, Boost: boost})
			if len(out) == maxKeywords {
				return out
			}
		}
	}
	return out
}
