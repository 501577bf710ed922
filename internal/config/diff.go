package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Alignment tuning and log level are applied live; everything listed in
// RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AlignmentChanged bool
	AlignmentChanges []string // yaml keys of changed alignment fields

	// RestartRequired names the top-level sections whose changes are
	// ignored until the process restarts.
	RestartRequired []string
}

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AlignmentChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AlignmentChanges = diffAlignment(old.Alignment, new.Alignment)
	d.AlignmentChanged = len(d.AlignmentChanges) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Events.Enabled != new.Events.Enabled ||
		old.Events.Topic != new.Events.Topic ||
		!slices.Equal(old.Events.Brokers, new.Events.Brokers) {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	return d
}

func diffAlignment(old, new AlignmentConfig) []string {
	var changed []string
	add := func(key string, differs bool) {
		if differs {
			changed = append(changed, key)
		}
	}
	add("match_threshold", old.MatchThreshold != new.MatchThreshold)
	add("weak_threshold", old.WeakThreshold != new.WeakThreshold)
	add("window_slack", old.WindowSlack != new.WindowSlack)
	add("search_horizon", old.SearchHorizon != new.SearchHorizon)
	add("max_horizon", old.MaxHorizon != new.MaxHorizon)
	add("parallelism", old.Parallelism != new.Parallelism)
	add("disable_phonetic", old.DisablePhonetic != new.DisablePhonetic)
	add("jitter_tolerance", old.JitterTolerance != new.JitterTolerance)
	add("max_label_length", old.MaxLabelLength != new.MaxLabelLength)
	add("speaker_allowlist", !slices.Equal(old.SpeakerAllowList, new.SpeakerAllowList))
	add("speaker_patterns", !slices.Equal(old.SpeakerPatterns, new.SpeakerPatterns))
	add("transcription_timeout", old.TranscriptionTimeout != new.TranscriptionTimeout)
	add("alert_below", old.AlertBelow != new.AlertBelow)
	add("language", old.Language != new.Language)
	add("keyword_boost", old.KeywordBoost != new.KeywordBoost)
	return changed
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProviders(a, b ProvidersConfig) bool {
	return slices.EqualFunc(
		append([]ProviderEntry{a.STT}, a.STTFallbacks...),
		append([]ProviderEntry{b.STT}, b.STTFallbacks...),
		equalEntry,
	)
}

func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
