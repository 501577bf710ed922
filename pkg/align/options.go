package align

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// Default tuning values.
const (
	DefaultMatchThreshold = 0.8
	DefaultWeakThreshold  = 0.5
	DefaultWindowSlack    = 0.3
	DefaultMaxHorizon     = 500

	// minDynamicHorizon is the smallest look-ahead used when the horizon is
	// derived from the segment length.
	minDynamicHorizon = 50
)

// Config holds the aligner's tuning parameters. The zero value is not
// useful; start from [DefaultConfig].
type Config struct {
	// MatchThreshold is the minimum score for a "matched" segment.
	MatchThreshold float64

	// WeakThreshold is the minimum score for a "low_confidence" segment.
	WeakThreshold float64

	// WindowSlack bounds candidate window lengths to
	// [round(k*(1-slack)), round(k*(1+slack))] for a segment of k words.
	WindowSlack float64

	// SearchHorizon is the number of token positions after the cursor that
	// are tried as window starts. Zero derives it per segment as
	// max(3*k, 50).
	SearchHorizon int

	// MaxHorizon caps the derived horizon. Zero disables the cap.
	MaxHorizon int

	// Parallelism limits concurrent window scoring. Values < 1 mean
	// GOMAXPROCS.
	Parallelism int

	// Phonetic enables sound-alike word equivalence.
	Phonetic bool
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		MatchThreshold: DefaultMatchThreshold,
		WeakThreshold:  DefaultWeakThreshold,
		WindowSlack:    DefaultWindowSlack,
		MaxHorizon:     DefaultMaxHorizon,
		Phonetic:       true,
	}
}

// Validate reports every invalid field, joined.
func (c Config) Validate() error {
	var errs []error
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold %v out of range [0, 1]", c.MatchThreshold))
	}
	if c.WeakThreshold < 0 || c.WeakThreshold > 1 {
		errs = append(errs, fmt.Errorf("weak threshold %v out of range [0, 1]", c.WeakThreshold))
	}
	if c.WeakThreshold > c.MatchThreshold {
		errs = append(errs, fmt.Errorf("weak threshold %v exceeds match threshold %v", c.WeakThreshold, c.MatchThreshold))
	}
	if c.WindowSlack < 0 || c.WindowSlack >= 1 {
		errs = append(errs, fmt.Errorf("window slack %v out of range [0, 1)", c.WindowSlack))
	}
	if c.SearchHorizon < 0 {
		errs = append(errs, fmt.Errorf("search horizon %d must not be negative", c.SearchHorizon))
	}
	if c.MaxHorizon < 0 {
		errs = append(errs, fmt.Errorf("max horizon %d must not be negative", c.MaxHorizon))
	}
	return errors.Join(errs...)
}

func (c Config) workers() int {
	if c.Parallelism < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Parallelism
}

// Option is a functional option for configuring an [Aligner].
type Option func(*Aligner)

// WithConfig replaces the whole tuning. Later options still apply on top.
func WithConfig(cfg Config) Option {
	return func(a *Aligner) {
		a.cfg = cfg
	}
}

// WithMatchThreshold sets the minimum score for "matched". Default: 0.8.
func WithMatchThreshold(v float64) Option {
	return func(a *Aligner) {
		a.cfg.MatchThreshold = v
	}
}

// WithWeakThreshold sets the minimum score for "low_confidence".
// Default: 0.5.
func WithWeakThreshold(v float64) Option {
	return func(a *Aligner) {
		a.cfg.WeakThreshold = v
	}
}

// WithWindowSlack sets the relative window length tolerance. Default: 0.3.
func WithWindowSlack(v float64) Option {
	return func(a *Aligner) {
		a.cfg.WindowSlack = v
	}
}

// WithSearchHorizon fixes the look-ahead in tokens. Zero (the default)
// derives it from the segment length.
func WithSearchHorizon(n int) Option {
	return func(a *Aligner) {
		a.cfg.SearchHorizon = n
	}
}

// WithMaxHorizon caps the derived look-ahead. Default: 500.
func WithMaxHorizon(n int) Option {
	return func(a *Aligner) {
		a.cfg.MaxHorizon = n
	}
}

// WithParallelism limits how many goroutines score windows for one segment.
func WithParallelism(n int) Option {
	return func(a *Aligner) {
		a.cfg.Parallelism = n
	}
}

// WithPhoneticMatching toggles sound-alike word equivalence. Default: on.
func WithPhoneticMatching(enabled bool) Option {
	return func(a *Aligner) {
		a.cfg.Phonetic = enabled
	}
}

// WithLogger sets the logger for per-segment debug output. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Aligner) {
		a.logger = l
	}
}
