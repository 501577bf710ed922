// Package mcpserver exposes the alignment engine as Model Context Protocol
// tools, so an assistant can align a transcript and pull the timestamped
// text into its context.
//
// Tools:
//   - align_transcript: align a transcript against audio or engine words and
//     store the result.
//   - format_transcript: return a stored result's prompt-ready text.
//   - list_alignments: list stored results, newest first.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/transcriptalign/internal/observe"
	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// Tool names.
const (
	ToolAlign  = "align_transcript"
	ToolFormat = "format_transcript"
	ToolList   = "list_alignments"
)

// Aligner runs alignments. *orchestrator.Orchestrator implements it.
type Aligner interface {
	Run(ctx context.Context, audio stt.AudioSource, transcript string, opts ...align.Option) (*types.AlignmentResult, error)
	AlignWords(ctx context.Context, source string, words []stt.WordDetail, transcript string, opts ...align.Option) (*types.AlignmentResult, error)
}

// AlignInput is the align_transcript argument object.
type AlignInput struct {
	AudioURL         string `json:"audio_url,omitempty" jsonschema:"URL of the recording; set this or words"`
	Words            string `json:"words,omitempty" jsonschema:"speech-to-text engine JSON with word timings; set this or audio_url"`
	Source           string `json:"source,omitempty" jsonschema:"provenance tag for results built from words"`
	Transcript       string `json:"transcript" jsonschema:"clean transcript with speaker labels"`
	TranscriptFormat string `json:"transcript_format,omitempty" jsonschema:"text (default) or html"`
}

// AlignOutput is the align_transcript result.
type AlignOutput struct {
	ID               string  `json:"id"`
	Source           string  `json:"source"`
	OverallMatchRate float64 `json:"overall_match_rate"`
	Degraded         bool    `json:"degraded"`
	Matched          int     `json:"matched"`
	LowConfidence    int     `json:"low_confidence"`
	Unmatched        int     `json:"unmatched"`
	Formatted        string  `json:"formatted"`
}

// FormatInput is the format_transcript argument object.
type FormatInput struct {
	ID string `json:"id" jsonschema:"alignment ID returned by align_transcript"`
}

// FormatOutput is the format_transcript result.
type FormatOutput struct {
	ID        string `json:"id"`
	Formatted string `json:"formatted"`
}

// ListInput is the list_alignments argument object.
type ListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of results, default 50"`
}

// ListItem is one list_alignments entry.
type ListItem struct {
	ID               string  `json:"id"`
	Source           string  `json:"source"`
	OverallMatchRate float64 `json:"overall_match_rate"`
	Degraded         bool    `json:"degraded"`
	Segments         int     `json:"segments"`
	CreatedAt        string  `json:"created_at" jsonschema:"RFC 3339 timestamp"`
}

// ListOutput is the list_alignments result.
type ListOutput struct {
	Alignments []ListItem `json:"alignments"`
}

// Server wraps an [mcp.Server] with the alignment tools registered.
type Server struct {
	mcp     *mcp.Server
	aligner Aligner
	store   store.Store
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the tool call metrics. Defaults to [observe.DefaultMetrics].
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

// New creates the MCP server. version is reported to clients.
func New(a Aligner, st store.Store, version string, opts ...Option) *Server {
	s := &Server{
		aligner: a,
		store:   st,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "transcriptalign", Version: version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolAlign,
		Description: "Align a speaker-labeled transcript to a recording and return the transcript with [MM:SS] timestamps. The result is stored; its id can be passed to format_transcript later.",
	}, instrument(s, ToolAlign, s.alignTranscript))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolFormat,
		Description: "Return the timestamped, prompt-ready text of a stored alignment.",
	}, instrument(s, ToolFormat, s.formatTranscript))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolList,
		Description: "List stored alignments, newest first.",
	}, instrument(s, ToolList, s.listAlignments))

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// RunStdio serves on stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// HTTPHandler returns a streamable HTTP handler serving this server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// instrument records duration and status of every call.
func instrument[In, Out any](s *Server, tool string, fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		status := "ok"
		if err != nil {
			status = "error"
			s.logger.Warn("mcpserver: tool failed", "tool", tool, "err", err)
		}
		s.metrics.RecordToolCall(ctx, tool, status, time.Since(start))
		return nil, out, err
	}
}

func (s *Server) alignTranscript(ctx context.Context, in AlignInput) (AlignOutput, error) {
	text := in.Transcript
	switch strings.ToLower(in.TranscriptFormat) {
	case "", "text":
	case "html":
		var err error
		if text, err = segmenter.FromHTML(strings.NewReader(in.Transcript)); err != nil {
			return AlignOutput{}, err
		}
	default:
		return AlignOutput{}, fmt.Errorf("transcript_format %q must be text or html", in.TranscriptFormat)
	}

	s.metrics.ActiveAlignments.Add(ctx, 1)
	defer s.metrics.ActiveAlignments.Add(ctx, -1)

	var (
		res *types.AlignmentResult
		err error
	)
	switch {
	case in.Words != "" && in.AudioURL != "":
		return AlignOutput{}, errors.New("set either audio_url or words, not both")
	case in.Words != "":
		words, perr := tokens.ParseWords(json.RawMessage(in.Words))
		if perr != nil {
			return AlignOutput{}, perr
		}
		source := in.Source
		if source == "" {
			source = "words"
		}
		res, err = s.aligner.AlignWords(ctx, source, words, text)
	case in.AudioURL != "":
		res, err = s.aligner.Run(ctx, stt.AudioSource{URL: in.AudioURL}, text)
	default:
		return AlignOutput{}, errors.New("audio_url or words is required")
	}
	if err != nil && (res == nil || !errors.Is(err, orchestrator.ErrTranscriptionUnavailable)) {
		return AlignOutput{}, err
	}

	if serr := s.store.Save(ctx, res); serr != nil {
		return AlignOutput{}, serr
	}
	return AlignOutput{
		ID:               res.ID,
		Source:           res.Source,
		OverallMatchRate: res.MatchRate,
		Degraded:         res.Degraded,
		Matched:          res.Stats.Matched,
		LowConfidence:    res.Stats.LowConfidence,
		Unmatched:        res.Stats.Unmatched,
		Formatted:        res.Formatted,
	}, nil
}

func (s *Server) formatTranscript(ctx context.Context, in FormatInput) (FormatOutput, error) {
	if in.ID == "" {
		return FormatOutput{}, errors.New("id is required")
	}
	res, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return FormatOutput{}, err
	}
	return FormatOutput{ID: res.ID, Formatted: res.Formatted}, nil
}

func (s *Server) listAlignments(ctx context.Context, in ListInput) (ListOutput, error) {
	sums, err := s.store.List(ctx, in.Limit)
	if err != nil {
		return ListOutput{}, err
	}
	out := ListOutput{Alignments: make([]ListItem, len(sums))}
	for i, sum := range sums {
		out.Alignments[i] = ListItem{
			ID:               sum.ID,
			Source:           sum.Source,
			OverallMatchRate: sum.MatchRate,
			Degraded:         sum.Degraded,
			Segments:         sum.Segments,
			CreatedAt:        sum.CreatedAt.Format(time.RFC3339),
		}
	}
	return out, nil
}
