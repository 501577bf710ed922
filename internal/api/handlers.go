package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/transcriptalign/internal/observe"
	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/format"
	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// CreateRequest is the body of POST /v1/alignments. Exactly one of
// AudioURL, AudioData or Words must be set.
type CreateRequest struct {
	// AudioURL is fetched by the transcription provider.
	AudioURL string `json:"audio_url,omitempty"`

	// AudioData is inline audio, base64 in JSON.
	AudioData []byte `json:"audio_data,omitempty"`

	// MIMEType describes AudioData or overrides the URL's inferred type.
	MIMEType string `json:"mime_type,omitempty"`

	// Words is engine JSON with word timings, in any layout
	// tokens.ParseWords accepts. Transcription is skipped.
	Words json.RawMessage `json:"words,omitempty"`

	// Source tags results built from Words. Default "words".
	Source string `json:"source,omitempty"`

	// Transcript is the clean, speaker-labeled transcript.
	Transcript string `json:"transcript"`

	// TranscriptFormat is "text" (default) or "html".
	TranscriptFormat string `json:"transcript_format,omitempty"`

	// MatchThreshold and WeakThreshold override the server's tuning for
	// this run.
	MatchThreshold *float64 `json:"match_threshold,omitempty"`
	WeakThreshold  *float64 `json:"weak_threshold,omitempty"`
}

// StatsView counts segments by status.
type StatsView struct {
	Matched       int   `json:"matched"`
	LowConfidence int   `json:"low_confidence"`
	Unmatched     int   `json:"unmatched"`
	Tokens        int   `json:"tokens"`
	DurationMS    int64 `json:"duration_ms"`
}

// AlignmentView is the API form of a result: the JSON document plus
// run metadata.
type AlignmentView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Degraded  bool      `json:"degraded"`
	Warning   string    `json:"warning,omitempty"`
	Stats     StatsView `json:"stats"`
	format.DocumentJSON
	Formatted string `json:"formatted"`
}

// NewView builds the API form of res.
func NewView(res *types.AlignmentResult) AlignmentView {
	return AlignmentView{
		ID:        res.ID,
		CreatedAt: res.CreatedAt,
		Degraded:  res.Degraded,
		Stats: StatsView{
			Matched:       res.Stats.Matched,
			LowConfidence: res.Stats.LowConfidence,
			Unmatched:     res.Stats.Unmatched,
			Tokens:        res.Stats.Tokens,
			DurationMS:    res.Stats.Duration.Milliseconds(),
		},
		DocumentJSON: format.Document(res),
		Formatted:    res.Formatted,
	}
}

// ListResponse is the body of GET /v1/alignments.
type ListResponse struct {
	Alignments []store.Summary `json:"alignments"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := observe.StartSpan(r.Context(), "api.CreateAlignment")
	defer span.End()
	logger := observe.ContextLogger(ctx, s.logger)

	var req CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	transcript, err := req.transcript()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := req.alignOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.ActiveAlignments.Add(ctx, 1)
	defer s.metrics.ActiveAlignments.Add(ctx, -1)

	var res *types.AlignmentResult
	switch {
	case len(req.Words) > 0:
		if req.AudioURL != "" || len(req.AudioData) > 0 {
			writeError(w, http.StatusBadRequest, "set either words or audio, not both")
			return
		}
		words, perr := tokens.ParseWords(req.Words)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		source := req.Source
		if source == "" {
			source = "words"
		}
		res, err = s.aligner.AlignWords(ctx, source, words, transcript, opts...)
	default:
		audio := stt.AudioSource{URL: req.AudioURL, Data: req.AudioData, MIMEType: req.MIMEType}
		if verr := audio.Validate(); verr != nil {
			writeError(w, http.StatusBadRequest, "set exactly one of audio_url, audio_data or words")
			return
		}
		res, err = s.aligner.Run(ctx, audio, transcript, opts...)
	}

	var warning string
	switch {
	case err == nil:
	case res != nil && errors.Is(err, orchestrator.ErrTranscriptionUnavailable):
		warning = err.Error()
	default:
		status, msg := alignErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("api: alignment failed", "err", err)
		}
		writeError(w, status, msg)
		return
	}

	if err := s.store.Save(ctx, res); err != nil {
		logger.Error("api: store result", "id", res.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store result")
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, res); err != nil {
			logger.Warn("api: publish completion event", "id", res.ID, "err", err)
		}
	}

	view := NewView(res)
	view.Warning = warning
	w.Header().Set("Location", "/v1/alignments/"+res.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sums, err := s.store.List(r.Context(), limit)
	if err != nil {
		observe.ContextLogger(r.Context(), s.logger).Error("api: list results", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if sums == nil {
		sums = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Alignments: sums})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewView(res))
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	res, ok := s.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Formatted))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.Delete(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "alignment not found")
	default:
		observe.ContextLogger(r.Context(), s.logger).Error("api: delete result", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete result")
	}
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (*types.AlignmentResult, bool) {
	id := r.PathValue("id")
	res, err := s.store.Get(r.Context(), id)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "alignment not found")
	default:
		observe.ContextLogger(r.Context(), s.logger).Error("api: load result", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
	}
	return nil, false
}

func (req CreateRequest) transcript() (string, error) {
	switch strings.ToLower(req.TranscriptFormat) {
	case "", "text":
		return req.Transcript, nil
	case "html":
		text, err := segmenter.FromHTML(strings.NewReader(req.Transcript))
		if err != nil {
			return "", fmt.Errorf("transcript: %w", err)
		}
		return text, nil
	}
	return "", fmt.Errorf("transcript_format %q must be text or html", req.TranscriptFormat)
}

func (req CreateRequest) alignOptions() ([]align.Option, error) {
	var opts []align.Option
	if v := req.MatchThreshold; v != nil {
		if *v < 0 || *v > 1 {
			return nil, errors.New("match_threshold must be within [0, 1]")
		}
		opts = append(opts, align.WithMatchThreshold(*v))
	}
	if v := req.WeakThreshold; v != nil {
		if *v < 0 || *v > 1 {
			return nil, errors.New("weak_threshold must be within [0, 1]")
		}
		opts = append(opts, align.WithWeakThreshold(*v))
	}
	if req.MatchThreshold != nil && req.WeakThreshold != nil && *req.WeakThreshold > *req.MatchThreshold {
		return nil, errors.New("weak_threshold must not exceed match_threshold")
	}
	return opts, nil
}

// alignErrorStatus maps an orchestrator error to an HTTP status and a
// client-safe message.
func alignErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, segmenter.ErrEmptyTranscript):
		return http.StatusBadRequest, "transcript is empty"
	case errors.Is(err, stt.ErrInvalidSource), errors.Is(err, align.ErrInvalidConfig):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, tokens.ErrMalformedTokenStream), errors.Is(err, align.ErrAlignmentInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "alignment timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	case errors.Is(err, orchestrator.ErrTranscriptionUnavailable):
		return http.StatusBadGateway, "transcription unavailable"
	}
	return http.StatusInternalServerError, "alignment failed"
}
