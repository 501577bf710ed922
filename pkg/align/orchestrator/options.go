package orchestrator

import (
	"log/slog"
	"time"

	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
)

// Defaults.
const (
	DefaultTranscriptionTimeout = 5 * time.Minute
	DefaultAlertBelow           = 0.5
	DefaultKeywordBoost         = 2.0

	// maxKeywords caps the number of speaker-name boosts sent to the engine.
	maxKeywords = 50
)

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithAlignConfig sets the aligner tuning. Default: [align.DefaultConfig].
func WithAlignConfig(cfg align.Config) Option {
	return func(o *Orchestrator) {
		o.alignCfg = cfg
	}
}

// WithTokenOptions sets options passed to [tokens.Build].
func WithTokenOptions(opts ...tokens.Option) Option {
	return func(o *Orchestrator) {
		o.tokenOpts = opts
	}
}

// WithSegmenterOptions sets options passed to [segmenter.Split].
func WithSegmenterOptions(opts ...segmenter.Option) Option {
	return func(o *Orchestrator) {
		o.segOpts = opts
	}
}

// WithTranscriptionTimeout bounds the transcriber call. Default: 5 minutes.
// Zero or negative disables the bound.
func WithTranscriptionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithAlertBelow sets the match rate below which a warning is logged.
// Default: 0.5.
func WithAlertBelow(rate float64) Option {
	return func(o *Orchestrator) {
		o.alertBelow = rate
	}
}

// WithLanguage sets the BCP-47 language hint sent to the transcriber.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		o.language = lang
	}
}

// WithKeywordBoost sets the boost applied to speaker names sent as keywords.
// Zero disables keyword hints. Default: 2.
func WithKeywordBoost(boost float64) Option {
	return func(o *Orchestrator) {
		o.keywordBoost = boost
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithIDFunc overrides how result IDs are generated. Default: random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithClock overrides the time source used for CreatedAt and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}
