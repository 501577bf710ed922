package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wires Middleware in front of a ServeMux with the alignment
// routes and returns the handler together with its telemetry sinks. It swaps
// the global tracer provider, so callers must not run in parallel.
type instrumented struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newInstrumented(t *testing.T) *instrumented {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/alignments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Seen-Trace", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/alignments", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	return &instrumented{handler: Middleware(m)(mux), reader: reader, spans: exp}
}

func (in *instrumented) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)
	return rec
}

func (in *instrumented) durations(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := in.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "transcriptalign.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	return met.Data.(metricdata.Histogram[float64])
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

// ─── spans ───────────────────────────────────────────────────────────────────

func TestMiddleware_SpanPerRequest(t *testing.T) {
	tests := []struct {
		method, path string
		wantName     string
		wantStatus   int
		wantError    bool
	}{
		{"GET", "/v1/alignments/abc", "HTTP GET /v1/alignments/{id}", http.StatusOK, false},
		{"GET", "/v1/alignments/missing", "HTTP GET /v1/alignments/{id}", http.StatusNotFound, false},
		{"POST", "/v1/alignments", "HTTP POST /v1/alignments", http.StatusBadGateway, true},
		{"GET", "/nowhere", "HTTP GET", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			in := newInstrumented(t)
			rec := in.do(tt.method, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := in.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantName)
			}
			if v, ok := spanAttr(s, "http.response.status_code"); !ok || v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("status_code attribute = %v (present %v)", v.AsInt64(), ok)
			}
			if got := s.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error status = %v, want %v", got, tt.wantError)
			}
		})
	}
}

// ─── trace context ───────────────────────────────────────────────────────────

func TestMiddleware_CorrelationID(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	t.Run("generated", func(t *testing.T) {
		in := newInstrumented(t)
		rec := in.do("GET", "/v1/alignments/abc", nil)
		cid := rec.Header().Get("X-Correlation-ID")
		if len(cid) != 32 {
			t.Fatalf("X-Correlation-ID = %q, want a 32 hex digit trace ID", cid)
		}
		if seen := rec.Header().Get("X-Seen-Trace"); seen != cid {
			t.Errorf("handler saw %q, header carries %q", seen, cid)
		}
		if rec.Header().Get("traceparent") == "" {
			t.Error("trace context not injected into the response")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		in := newInstrumented(t)
		rec := in.do("GET", "/v1/alignments/abc", http.Header{
			"Traceparent": {"00-" + incoming + "-00f067aa0ba902b7-01"},
		})
		if got := rec.Header().Get("X-Correlation-ID"); got != incoming {
			t.Errorf("X-Correlation-ID = %q, want %q", got, incoming)
		}
		if got := rec.Header().Get("X-Seen-Trace"); got != incoming {
			t.Errorf("handler trace ID = %q, want %q", got, incoming)
		}
	})
}

// ─── metrics ─────────────────────────────────────────────────────────────────

func TestMiddleware_DurationKeyedByRoute(t *testing.T) {
	in := newInstrumented(t)
	for _, id := range []string{"a", "b", "c"} {
		in.do("GET", "/v1/alignments/"+id, nil)
	}
	in.do("GET", "/unrouted", nil)

	byPath := map[string]uint64{}
	for _, dp := range in.durations(t).DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != "GET" {
			t.Errorf("method attribute = %q", method.AsString())
		}
		byPath[path.AsString()] += dp.Count
	}
	if byPath["/v1/alignments/{id}"] != 3 {
		t.Errorf("route samples = %d, want 3 (all: %v)", byPath["/v1/alignments/{id}"], byPath)
	}
	if byPath["/unrouted"] != 1 {
		t.Errorf("unrouted samples = %d, want 1 (all: %v)", byPath["/unrouted"], byPath)
	}
}

// ─── logging ─────────────────────────────────────────────────────────────────

func TestMiddleware_CompletionLog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	in := newInstrumented(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in.handler.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), "req-42")))
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/alignments", nil))

	out := buf.String()
	for _, want := range []string{"request completed", "level=WARN", "request_id=req-42", "route=/v1/alignments", "status=502"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
