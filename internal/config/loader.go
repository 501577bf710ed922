package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader].
const (
	DefaultListenAddr  = ":8080"
	DefaultTable       = "alignments"
	DefaultEventsTopic = "alignment.completed"
	DefaultMCPPath     = "/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native", "openai", "google"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields that have a fixed default. Alignment
// tuning is left at zero; [AlignmentConfig.AlignConfig] resolves it.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = DefaultTable
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = DefaultEventsTopic
	}
	if cfg.MCP.Transport == "" {
		cfg.MCP.Transport = MCPTransportStdio
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks is set but providers.stt is not configured"))
		} else {
			slog.Warn("no STT provider configured; only pre-transcribed word lists can be aligned")
		}
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Alignment
	a := cfg.Alignment
	if err := a.AlignConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("alignment: %w", err))
	}
	if a.JitterTolerance < 0 {
		errs = append(errs, fmt.Errorf("alignment.jitter_tolerance %.2f must not be negative", a.JitterTolerance))
	}
	if a.MaxLabelLength < 0 {
		errs = append(errs, fmt.Errorf("alignment.max_label_length %d must not be negative", a.MaxLabelLength))
	}
	if a.TranscriptionTimeout < 0 {
		errs = append(errs, fmt.Errorf("alignment.transcription_timeout %s must not be negative", a.TranscriptionTimeout))
	}
	if a.AlertBelow < 0 || a.AlertBelow > 1 {
		errs = append(errs, fmt.Errorf("alignment.alert_below %.2f is out of range [0, 1]", a.AlertBelow))
	}
	for i, p := range a.SpeakerPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("alignment.speaker_patterns[%d]: %w", i, err))
		}
	}

	// Storage
	switch cfg.Storage.Backend {
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
		}
	case StorageSupabase:
		if cfg.Storage.SupabaseURL == "" || cfg.Storage.SupabaseKey == "" {
			errs = append(errs, errors.New("storage.supabase_url and storage.supabase_key are required when backend is supabase"))
		}
	case StorageMemory, "":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, postgres, supabase", cfg.Storage.Backend))
	}

	// Cache
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}
	if cfg.Cache.RedisAddr == "" && cfg.Cache.TTL > 0 {
		slog.Warn("cache.ttl is set but cache.redis_addr is empty; transcription caching is disabled")
	}

	// Events
	if cfg.Events.Enabled && len(cfg.Events.Brokers) == 0 {
		errs = append(errs, errors.New("events.brokers is required when events are enabled"))
	}

	// MCP
	if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, streamable-http", cfg.MCP.Transport))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
