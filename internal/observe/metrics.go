// Package observe provides application-wide observability primitives for
// transcriptalign: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/transcriptalign"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
//
// Metrics implements [orchestrator.Recorder].
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks speech-to-text latency. Attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscriptionDuration metric.Float64Histogram

	// AlignmentDuration tracks the time spent aligning, excluding transcription.
	AlignmentDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Quality ---

	// MatchRate records the overall match rate of each run.
	MatchRate metric.Float64Histogram

	// Segments counts aligned segments. Attribute:
	//   attribute.String("status", "matched"|"low_confidence"|"unmatched")
	Segments metric.Int64Counter

	// --- Counters ---

	// Alignments counts finished runs. Attribute:
	//   attribute.Bool("degraded", ...)
	Alignments metric.Int64Counter

	// ProviderRequests counts transcription calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts transcription errors. Attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts transcriber circuit breaker state changes.
	// Attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveAlignments tracks the number of in-flight alignment requests.
	ActiveAlignments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var _ orchestrator.Recorder = (*Metrics)(nil)

// latencyBuckets are histogram bucket boundaries in seconds. Transcription
// of a long recording runs for minutes, alignment for milliseconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300,
}

var rateBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("transcriptalign.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignmentDuration, err = m.Float64Histogram("transcriptalign.alignment.duration",
		metric.WithDescription("Time spent aligning transcript segments to the token stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("transcriptalign.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchRate, err = m.Float64Histogram("transcriptalign.alignment.match_rate",
		metric.WithDescription("Fraction of matched segments per alignment run."),
		metric.WithExplicitBucketBoundaries(rateBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("transcriptalign.alignment.segments",
		metric.WithDescription("Total aligned segments by match status."),
	); err != nil {
		return nil, err
	}
	if met.Alignments, err = m.Int64Counter("transcriptalign.alignments",
		metric.WithDescription("Total alignment runs by degraded flag."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("transcriptalign.provider.requests",
		metric.WithDescription("Total transcription requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("transcriptalign.provider.errors",
		metric.WithDescription("Total transcription errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("transcriptalign.provider.breaker_transitions",
		metric.WithDescription("Transcriber circuit breaker transitions by provider and new state."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("transcriptalign.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAlignments, err = m.Int64UpDownCounter("transcriptalign.active_alignments",
		metric.WithDescription("Number of in-flight alignment requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("transcriptalign.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription implements [orchestrator.Recorder]. It records latency
// and a request count, plus an error count when err is non-nil.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider)
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.TranscriptionDuration.Record(ctx, d.Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
}

// RecordAlignment implements [orchestrator.Recorder].
func (m *Metrics) RecordAlignment(ctx context.Context, res *types.AlignmentResult) {
	if res == nil {
		return
	}
	m.Alignments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("degraded", res.Degraded)))
	m.MatchRate.Record(ctx, res.MatchRate)
	if !res.Degraded {
		m.AlignmentDuration.Record(ctx, res.Stats.Duration.Seconds())
	}
	for status, n := range map[types.MatchStatus]int{
		types.StatusMatched:       res.Stats.Matched,
		types.StatusLowConfidence: res.Stats.LowConfidence,
		types.StatusUnmatched:     res.Stats.Unmatched,
	} {
		if n > 0 {
			m.Segments.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", string(status))))
		}
	}
}

// RecordToolCall is a convenience method that records a tool call counter
// increment and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordBreakerTransition counts a circuit breaker moving to state for the
// named transcription provider.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}
