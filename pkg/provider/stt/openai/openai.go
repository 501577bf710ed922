// Package openai provides a transcriber backed by the OpenAI audio
// transcription API. It requests verbose JSON with word-level timestamp
// granularity, which only whisper-1 supports at the time of writing.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// maxUploadBytes is the API's file size limit.
const maxUploadBytes = 25 << 20

// Ensure Provider implements the stt.Transcriber interface.
var (
	_ stt.Transcriber = (*Provider)(nil)
	_ stt.Named       = (*Provider)(nil)
)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client     oai.Client
	httpClient *http.Client
	model      string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets the SDK retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{timeout: 10 * time.Minute, maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{Timeout: cfg.timeout}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		httpClient: httpClient,
		model:      model,
	}, nil
}

// Name implements stt.Named.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Transcriber. URL sources are downloaded first;
// the API only accepts uploads.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	filename := uploadName(audio)
	audio, err := stt.Fetch(ctx, p.httpClient, audio)
	if err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	data, err := audio.Bytes()
	if err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("openai stt: audio is %d bytes, limit is %d", len(data), maxUploadBytes)
	}

	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(data), filename, audio.ContentType()),
		Model:                  p.model,
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if opts.Language != "" {
		params.Language = oai.String(baseLanguage(opts.Language))
	}
	if prompt := keywordPrompt(opts.Keywords); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return parseVerbose(resp.RawJSON())
}

// parseVerbose reads the verbose_json body. The SDK's typed response does not
// expose words, so the raw JSON is read directly.
func parseVerbose(raw string) (*stt.Transcript, error) {
	if !gjson.Valid(raw) {
		return nil, errors.New("openai stt: invalid JSON response")
	}
	res := gjson.Parse(raw)
	tr := &stt.Transcript{
		Text:     strings.TrimSpace(res.Get("text").String()),
		Language: res.Get("language").String(),
		Duration: seconds(res.Get("duration").Float()),
		Provider: "openai",
	}
	res.Get("words").ForEach(func(_, w gjson.Result) bool {
		word := strings.TrimSpace(w.Get("word").String())
		if word == "" {
			return true
		}
		tr.Words = append(tr.Words, stt.WordDetail{
			Word:       word,
			Start:      seconds(w.Get("start").Float()),
			End:        seconds(w.Get("end").Float()),
			Confidence: 1,
		})
		return true
	})
	return tr, nil
}

// uploadName picks a filename whose extension lets the API detect the format.
func uploadName(a stt.AudioSource) string {
	for _, p := range []string{a.Path, a.URL} {
		if p == "" {
			continue
		}
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		if base := path.Base(p); path.Ext(base) != "" {
			return base
		}
	}
	switch a.ContentType() {
	case "audio/mpeg":
		return "audio.mp3"
	case "audio/flac":
		return "audio.flac"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4":
		return "audio.m4a"
	case "audio/webm":
		return "audio.webm"
	}
	return "audio.wav"
}

// baseLanguage reduces a BCP-47 tag to the ISO-639-1 code the API expects.
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}

func keywordPrompt(kws []stt.KeywordBoost) string {
	parts := make([]string, 0, len(kws))
	for _, kw := range kws {
		if kw.Keyword != "" {
			parts = append(parts, kw.Keyword)
		}
	}
	return strings.Join(parts, ", ")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
