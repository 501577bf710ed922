// Package app wires all transcriptalign subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, Reload applies
// a changed configuration, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscriber,
// WithStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/transcriptalign/internal/api"
	"github.com/MrWong99/transcriptalign/internal/cache"
	"github.com/MrWong99/transcriptalign/internal/config"
	"github.com/MrWong99/transcriptalign/internal/events"
	"github.com/MrWong99/transcriptalign/internal/health"
	"github.com/MrWong99/transcriptalign/internal/mcpserver"
	"github.com/MrWong99/transcriptalign/internal/observe"
	"github.com/MrWong99/transcriptalign/internal/resilience"
	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/internal/store/memstore"
	"github.com/MrWong99/transcriptalign/internal/store/postgres"
	"github.com/MrWong99/transcriptalign/internal/store/supabase"
	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// Version is reported by the MCP server and startup logs.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	transcriber stt.Transcriber
	fallback    *resilience.TranscriberFallback
	cache       *cache.Transcriber
	store       store.Store
	events      *events.Publisher
	metrics     *observe.Metrics
	aligner     *swapAligner
	api         *api.Server
	mcp         *mcpserver.Server
	health      *health.Handler

	logger         *slog.Logger
	level          *slog.LevelVar
	metricsHandler http.Handler

	mu sync.Mutex // guards cfg during Reload

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcriber instead of creating providers from
// the registry. Fallbacks and the cache are not applied to it.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithStore injects a result store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets Reload change the log level of the handler built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetricsHandler sets the handler served at /metrics.
// Default: promhttp.Handler() over the default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the
// transcription provider constructors; it may be nil when WithTranscriber
// is used.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Transcription ─────────────────────────────────────────────────
	if err := a.initTranscriber(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}

	// ── 2. Result store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Events ────────────────────────────────────────────────────────
	a.events = events.New(events.Config{
		Enabled: cfg.Events.Enabled,
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
	}, events.WithLogger(a.logger))
	a.closers = append(a.closers, a.events.Close)

	// ── 4. Orchestrator ──────────────────────────────────────────────────
	orch, err := a.buildOrchestrator(cfg.Alignment)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.aligner = newSwapAligner(orch)

	// ── 5. API + MCP ─────────────────────────────────────────────────────
	a.api = api.New(a.aligner, a.store,
		api.WithPublisher(a.events),
		api.WithMetrics(a.metrics),
		api.WithLogger(a.logger),
	)
	if cfg.MCP.Enabled {
		a.mcp = mcpserver.New(a.aligner, a.store, Version,
			mcpserver.WithMetrics(a.metrics),
			mcpserver.WithLogger(a.logger),
		)
	}

	// ── 6. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	return a, nil
}

func (a *App) initTranscriber(ctx context.Context) error {
	if a.transcriber != nil {
		return nil
	}
	entry := a.cfg.Providers.STT
	if entry.Name == "" {
		a.logger.Warn("no transcription provider configured; only word-timing input can be aligned")
		return nil
	}
	if a.reg == nil {
		return errors.New("no provider registry")
	}

	primary, err := a.createSTT(entry)
	if err != nil {
		return err
	}
	var t stt.Transcriber = primary

	if len(a.cfg.Providers.STTFallbacks) > 0 {
		a.fallback = resilience.NewTranscriberFallback(primary, resilience.FallbackConfig{
			Logger: a.logger,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, _, to resilience.State) {
					a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		for _, fb := range a.cfg.Providers.STTFallbacks {
			p, err := a.createSTT(fb)
			if err != nil {
				return err
			}
			a.fallback.AddFallback(p)
		}
		t = a.fallback
		a.logger.Info("transcription failover enabled", "order", a.fallback.Name())
	}

	if c := a.cfg.Cache; c.RedisAddr != "" {
		rdb, err := cache.Dial(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return err
		}
		a.cache = cache.New(t, rdb, cache.WithTTL(c.TTL), cache.WithLogger(a.logger))
		a.closers = append(a.closers, a.cache.Close)
		t = a.cache
		a.logger.Info("transcription cache enabled", "addr", c.RedisAddr)
	}

	a.transcriber = t
	return nil
}

// createSTT builds one provider and registers its Close, if any.
func (a *App) createSTT(entry config.ProviderEntry) (stt.Transcriber, error) {
	p, err := a.reg.CreateSTT(entry)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.logger.Info("provider created", "kind", "stt", "name", entry.Name)
	return p, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		sc := a.cfg.Storage
		switch sc.Backend {
		case config.StoragePostgres:
			s, err := postgres.New(ctx, sc.PostgresDSN, sc.Table)
			if err != nil {
				return err
			}
			a.store = s
		case config.StorageSupabase:
			s, err := supabase.New(sc.SupabaseURL, sc.SupabaseKey, sc.Table)
			if err != nil {
				return err
			}
			a.store = s
		default:
			a.store = memstore.New()
		}
		a.logger.Info("result store ready", "backend", sc.Backend)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) buildOrchestrator(ac config.AlignmentConfig) (*orchestrator.Orchestrator, error) {
	return NewOrchestrator(a.transcriber, ac,
		orchestrator.WithRecorder(a.metrics),
		orchestrator.WithLogger(a.logger),
	)
}

// NewOrchestrator builds an orchestrator tuned by ac. Zero fields in ac keep
// the engine defaults. extra options are applied last.
func NewOrchestrator(t stt.Transcriber, ac config.AlignmentConfig, extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	segOpts, err := ac.SegmenterOptions()
	if err != nil {
		return nil, err
	}
	opts := []orchestrator.Option{
		orchestrator.WithAlignConfig(ac.AlignConfig()),
		orchestrator.WithTokenOptions(ac.TokenOptions()...),
		orchestrator.WithSegmenterOptions(segOpts...),
		orchestrator.WithLanguage(ac.Language),
	}
	if ac.TranscriptionTimeout > 0 {
		opts = append(opts, orchestrator.WithTranscriptionTimeout(ac.TranscriptionTimeout))
	}
	if ac.AlertBelow > 0 {
		opts = append(opts, orchestrator.WithAlertBelow(ac.AlertBelow))
	}
	if ac.KeywordBoost > 0 {
		opts = append(opts, orchestrator.WithKeywordBoost(ac.KeywordBoost))
	}
	return orchestrator.New(t, append(opts, extra...)...), nil
}

// checkers returns the readiness checks. Only the store is required; the
// others degrade readiness without failing it.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{health.Ping("store", a.store)}
	if a.fallback != nil {
		checks = append(checks, health.Available("transcriber", a.fallback.Available))
	}
	if a.cache != nil {
		checks = append(checks, health.OptionalPing("cache", a.cache))
	}
	if a.events.Enabled() {
		checks = append(checks, health.OptionalPing("events", a.events))
	}
	return checks
}

// ─── Serving ─────────────────────────────────────────────────────────────────

// Handler returns the full HTTP surface: API routes, health probes, the
// Prometheus scrape endpoint and, with the streamable-http transport, MCP.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.api.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	if a.mcp != nil && a.cfg.MCP.Transport == config.MCPTransportStreamableHTTP {
		mux.Handle(a.cfg.MCP.Path, a.mcp.HTTPHandler())
	}
	return api.RequestID(observe.Middleware(a.metrics)(mux))
}

// MCP returns the MCP server, or nil when MCP is disabled.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests for up to 30 seconds.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the parts of next that can change at runtime: the log
// level and the alignment tuning. Changes to other sections are logged and
// need a restart.
func (a *App) Reload(next *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	diff := config.Diff(a.cfg, next)
	if diff.Empty() {
		return nil
	}
	if diff.AlignmentChanged {
		orch, err := a.buildOrchestrator(next.Alignment)
		if err != nil {
			return fmt.Errorf("app: reload alignment: %w", err)
		}
		a.aligner.swap(orch)
		a.logger.Info("alignment settings reloaded", "changed", diff.AlignmentChanges)
	}
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(diff.NewLogLevel))
		a.logger.Info("log level changed", "level", diff.NewLogLevel)
	}
	if len(diff.RestartRequired) > 0 {
		a.logger.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}

	// Keep the running values for restart-only sections so that a later
	// reload still reports them.
	merged := *a.cfg
	merged.Alignment = next.Alignment
	merged.Server.LogLevel = next.Server.LogLevel
	a.cfg = &merged
	return nil
}

// SlogLevel converts a config log level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
