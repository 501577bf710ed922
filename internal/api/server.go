// Package api serves the alignment engine over HTTP.
//
// Routes:
//
//	POST   /v1/alignments             run an alignment (audio or engine words)
//	GET    /v1/alignments             list stored results, newest first
//	GET    /v1/alignments/{id}        the result's JSON document
//	GET    /v1/alignments/{id}/prompt the prompt-ready timestamped text
//	DELETE /v1/alignments/{id}        remove a stored result
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/transcriptalign/internal/observe"
	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// DefaultMaxBodyBytes bounds POST bodies. Inline audio is base64-encoded
// inside the JSON body, so this also bounds inline audio size.
const DefaultMaxBodyBytes = 64 << 20

// Aligner runs alignments. *orchestrator.Orchestrator implements it.
type Aligner interface {
	Run(ctx context.Context, audio stt.AudioSource, transcript string, opts ...align.Option) (*types.AlignmentResult, error)
	AlignWords(ctx context.Context, source string, words []stt.WordDetail, transcript string, opts ...align.Option) (*types.AlignmentResult, error)
}

// Publisher is notified of every stored result.
type Publisher interface {
	Publish(ctx context.Context, res *types.AlignmentResult) error
}

// Server holds the API's collaborators. It is safe for concurrent use.
type Server struct {
	aligner   Aligner
	store     store.Store
	publisher Publisher
	metrics   *observe.Metrics
	logger    *slog.Logger
	maxBody   int64
}

// Option configures a [Server].
type Option func(*Server)

// WithPublisher sets the completion event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithMetrics sets the metrics used for the in-flight gauge and the HTTP
// middleware. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMaxBodyBytes bounds POST bodies. Default: [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New returns a Server. st receives every produced result.
func New(a Aligner, st store.Store, opts ...Option) *Server {
	s := &Server{
		aligner: a,
		store:   st,
		logger:  slog.Default(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/alignments", s.handleCreate)
	mux.HandleFunc("GET /v1/alignments", s.handleList)
	mux.HandleFunc("GET /v1/alignments/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/alignments/{id}/prompt", s.handlePrompt)
	mux.HandleFunc("DELETE /v1/alignments/{id}", s.handleDelete)
}

// Handler returns the API routes wrapped in the request-ID and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return RequestID(observe.Middleware(s.metrics)(mux))
}

// RequestID sets an X-Request-ID response header and stores the ID in the
// request context for [observe.ContextLogger]. The request's own header is
// reused when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(observe.WithRequestID(r.Context(), id)))
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
