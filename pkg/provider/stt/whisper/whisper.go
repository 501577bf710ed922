// Package whisper provides a local whisper.cpp-backed transcriber.
//
// Provider talks to a running whisper-server binary (which exposes a REST API
// at POST /inference) and requests verbose JSON output so that every segment
// carries word-level timings. NativeProvider (native.go) runs the model
// in-process through the cgo bindings instead.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := p.Transcribe(ctx, stt.AudioSource{Path: "call.wav"}, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Compile-time assertion that Provider implements stt.Transcriber.
var (
	_ stt.Transcriber = (*Provider)(nil)
	_ stt.Named       = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the sample rate assumed for raw PCM sources
// (MIME type audio/l16 or audio/pcm), which are wrapped in a WAV header before
// upload. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithHTTPClient replaces the HTTP client. Long recordings can take minutes
// to transcribe, so the default client has a generous timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Named.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements stt.Transcriber. URL sources are downloaded first
// because whisper-server only accepts uploads.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	audio, err := stt.Fetch(ctx, p.httpClient, audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	data, err := audio.Bytes()
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if isRawPCM(audio.ContentType()) {
		data = encodeWAV(data, p.sampleRate, 1)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	return p.infer(ctx, data, lang, initialPrompt(opts.Keywords))
}

// infer POSTs the audio to the whisper.cpp /inference endpoint as
// multipart/form-data and parses the verbose JSON response.
func (p *Provider) infer(ctx context.Context, audio []byte, language, prompt string) (*stt.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        language,
		"model":           p.model,
		"prompt":          prompt,
	}
	for _, k := range []string{"response_format", "language", "model", "prompt"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	return parseVerboseJSON(data)
}

// verboseResponse mirrors the subset of whisper-server's verbose_json output
// that carries timings.
type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

func parseVerboseJSON(data []byte) (*stt.Transcript, error) {
	var res verboseResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	tr := &stt.Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: res.Language,
		Duration: seconds(res.Duration),
		Provider: "whisper",
	}
	for _, seg := range res.Segments {
		if len(seg.Words) == 0 {
			// Older servers omit per-word output; spread the segment
			// evenly over its words instead.
			tr.Words = append(tr.Words, interpolateWords(seg.Text, seg.Start, seg.End)...)
			continue
		}
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			tr.Words = append(tr.Words, stt.WordDetail{
				Word:       word,
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				Confidence: w.Probability,
			})
		}
	}
	return tr, nil
}

// interpolateWords splits text on whitespace and assigns each word a share of
// [start, end] proportional to its length in runes.
func interpolateWords(text string, start, end float64) []stt.WordDetail {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	total := 0
	for _, f := range fields {
		total += utf8.RuneCountInString(f)
	}
	span := end - start
	if span < 0 {
		span = 0
	}
	out := make([]stt.WordDetail, 0, len(fields))
	cursor := start
	for _, f := range fields {
		d := span * float64(utf8.RuneCountInString(f)) / float64(total)
		out = append(out, stt.WordDetail{
			Word:  f,
			Start: seconds(cursor),
			End:   seconds(cursor + d),
		})
		cursor += d
	}
	return out
}

// initialPrompt turns keyword boosts into a prompt string. whisper.cpp has no
// keyword API; biasing the decoder through the initial prompt is the closest
// equivalent.
func initialPrompt(kws []stt.KeywordBoost) string {
	if len(kws) == 0 {
		return ""
	}
	parts := make([]string, 0, len(kws))
	for _, kw := range kws {
		if kw.Keyword != "" {
			parts = append(parts, kw.Keyword)
		}
	}
	return strings.Join(parts, ", ")
}

// ---- helpers ----------------------------------------------------------------

func isRawPCM(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "audio/l16") || strings.HasPrefix(ct, "audio/pcm")
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct inclusion
// in a multipart form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
