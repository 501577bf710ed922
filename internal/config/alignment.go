package config

import (
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
)

// AlignConfig resolves the aligner tuning, substituting defaults for zero
// values.
func (a AlignmentConfig) AlignConfig() align.Config {
	cfg := align.DefaultConfig()
	if a.MatchThreshold != 0 {
		cfg.MatchThreshold = a.MatchThreshold
	}
	if a.WeakThreshold != 0 {
		cfg.WeakThreshold = a.WeakThreshold
	}
	if a.WindowSlack != 0 {
		cfg.WindowSlack = a.WindowSlack
	}
	if a.MaxHorizon != 0 {
		cfg.MaxHorizon = a.MaxHorizon
	}
	cfg.SearchHorizon = a.SearchHorizon
	cfg.Parallelism = a.Parallelism
	cfg.Phonetic = !a.DisablePhonetic
	return cfg
}

// TokenOptions returns the token builder options.
func (a AlignmentConfig) TokenOptions() []tokens.Option {
	if a.JitterTolerance == 0 {
		return nil
	}
	return []tokens.Option{tokens.WithJitterTolerance(a.JitterTolerance)}
}

// SegmenterOptions returns the segmenter options. With an allow-list or
// patterns configured, known speakers are recognised first and the length
// heuristic remains as a fallback.
func (a AlignmentConfig) SegmenterOptions() ([]segmenter.Option, error) {
	heuristic := segmenter.Heuristic{MaxLength: a.MaxLabelLength}
	if len(a.SpeakerAllowList) == 0 && len(a.SpeakerPatterns) == 0 {
		return []segmenter.Option{segmenter.WithClassifier(heuristic)}, nil
	}
	known, err := segmenter.NewAllowList(a.SpeakerAllowList, a.SpeakerPatterns...)
	if err != nil {
		return nil, err
	}
	return []segmenter.Option{segmenter.WithClassifier(segmenter.Any{known, heuristic})}, nil
}
