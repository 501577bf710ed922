// Package deepgram provides a Deepgram-backed transcriber. Recordings are sent
// to the pre-recorded REST endpoint by default; WithStreaming switches byte
// sources to the live WebSocket API, which is useful for very long files that
// exceed the REST upload limits. It implements the stt.Transcriber interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// streamChunkSize is the size of each binary frame sent over the live API.
	streamChunkSize = 32 << 10
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL. Intended for tests and proxies.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for REST requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithStreaming sends Data and Path sources over the live WebSocket API
// instead of uploading them in one request.
func WithStreaming(enabled bool) Option {
	return func(p *Provider) {
		p.streaming = enabled
	}
}

// Provider implements stt.Transcriber backed by the Deepgram API.
type Provider struct {
	apiKey    string
	model     string
	language  string
	baseURL   string
	client    *http.Client
	streaming bool
}

var (
	_ stt.Transcriber = (*Provider)(nil)
	_ stt.Named       = (*Provider)(nil)
)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Named.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe implements stt.Transcriber. URL sources are passed to Deepgram by
// reference; Data and Path sources are uploaded or streamed.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if audio.URL != "" {
		body, err := json.Marshal(map[string]string{"url": audio.URL})
		if err != nil {
			return nil, fmt.Errorf("deepgram: encode request: %w", err)
		}
		return p.prerecorded(ctx, bytes.NewReader(body), "application/json", opts)
	}

	data, err := audio.Bytes()
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if p.streaming {
		return p.stream(ctx, data, opts)
	}
	return p.prerecorded(ctx, bytes.NewReader(data), audio.ContentType(), opts)
}

// buildURL constructs the endpoint URL for the given request options. When
// live is true the scheme is switched to ws/wss.
func (p *Provider) buildURL(live bool, opts stt.Options) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	if live {
		if u.Scheme == "http" {
			u.Scheme = "ws"
		} else {
			u.Scheme = "wss"
		}
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	for _, kw := range opts.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Cupertino:2")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- pre-recorded REST ----

// prerecordedResponse is the JSON body returned by POST /v1/listen.
type prerecordedResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string        `json:"detected_language"`
			Alternatives     []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word           string  `json:"word"`
		PunctuatedWord string  `json:"punctuated_word"`
		Start          float64 `json:"start"`
		End            float64 `json:"end"`
		Confidence     float64 `json:"confidence"`
	} `json:"words"`
}

func (p *Provider) prerecorded(ctx context.Context, body io.Reader, contentType string, opts stt.Options) (*stt.Transcript, error) {
	endpoint, err := p.buildURL(false, opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	return parsePrerecorded(raw)
}

func parsePrerecorded(raw []byte) (*stt.Transcript, error) {
	var resp prerecordedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}
	tr := &stt.Transcript{
		Provider: "deepgram",
		Duration: seconds(resp.Metadata.Duration),
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return tr, nil
	}
	ch := resp.Results.Channels[0]
	tr.Language = ch.DetectedLanguage
	tr.Text = ch.Alternatives[0].Transcript
	tr.Words = convertWords(ch.Alternatives[0])
	return tr, nil
}

// ---- live WebSocket ----

// liveResponse is the JSON structure returned by Deepgram for a live Results event.
type liveResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Start    float64 `json:"start"`
	Channel  struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

// stream sends data over the live API and collects the final results until
// Deepgram closes the connection after CloseStream.
func (p *Provider) stream(ctx context.Context, data []byte, opts stt.Options) (*stt.Transcript, error) {
	wsURL, err := p.buildURL(true, opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeAudio(ctx, conn, data)
	}()

	tr := &stt.Transcript{Provider: "deepgram"}
	var text []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		res, ok := parseLiveResponse(msg)
		if !ok {
			if isMetadata(msg) {
				// Metadata is the last message before the server closes.
				break
			}
			continue
		}
		if !res.IsFinal || len(res.Channel.Alternatives) == 0 {
			continue
		}
		alt := res.Channel.Alternatives[0]
		if alt.Transcript != "" {
			text = append(text, alt.Transcript)
		}
		tr.Words = append(tr.Words, convertWords(alt)...)
		if end := seconds(res.Start + res.Duration); end > tr.Duration {
			tr.Duration = end
		}
	}
	if err := <-writeErr; err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	tr.Text = strings.Join(text, " ")
	return tr, nil
}

func writeAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	for off := 0; off < len(data); off += streamChunkSize {
		end := min(off+streamChunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	// Ask Deepgram to flush pending audio and close the stream.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// parseLiveResponse parses a raw Deepgram WebSocket message.
// Returns (response, true) for Results messages, or (zero, false) if the
// message should be ignored.
func parseLiveResponse(data []byte) (liveResponse, bool) {
	var resp liveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return liveResponse{}, false
	}
	if resp.Type != "Results" {
		return liveResponse{}, false
	}
	return resp, true
}

func isMetadata(data []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &head) == nil && head.Type == "Metadata"
}

// ---- helpers ----

func convertWords(alt alternative) []stt.WordDetail {
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		words = append(words, stt.WordDetail{
			Word:       word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return words
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
