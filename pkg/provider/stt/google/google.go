// Package google provides a transcriber backed by Google Cloud
// Speech-to-Text. Recordings are submitted with LongRunningRecognize and word
// time offsets enabled. gs:// URLs are passed by reference; everything else is
// sent inline.
package google

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

const (
	defaultLanguage = "en-US"
	defaultRetries  = 4

	// maxInlineBytes is the API limit for inline audio content.
	maxInlineBytes = 10 << 20
)

var (
	_ stt.Transcriber = (*Provider)(nil)
	_ stt.Named       = (*Provider)(nil)
)

// recognizeFunc submits a long-running request and waits for its result.
type recognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)

// Provider implements stt.Transcriber using Google Cloud Speech-to-Text.
type Provider struct {
	client     *speech.Client
	recognize  recognizeFunc
	language   string
	model      string
	maxRetries int
	backoff    time.Duration
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel selects a recognition model, e.g. "latest_long" or "phone_call".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithMaxRetries sets how often transient gRPC failures are retried.
func WithMaxRetries(n int) Option {
	return func(p *Provider) { p.maxRetries = n }
}

// New creates a Provider with a Speech client built from clientOpts, e.g.
// option.WithCredentialsFile. With no options Application Default
// Credentials are used. The caller must call Close.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Provider, error) {
	c, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	p := newProvider(func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := c.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	}, opts...)
	p.client = c
	return p, nil
}

func newProvider(fn recognizeFunc, opts ...Option) *Provider {
	p := &Provider{
		recognize:  fn,
		language:   defaultLanguage,
		maxRetries: defaultRetries,
		backoff:    750 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements stt.Named.
func (p *Provider) Name() string { return "google" }

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("google stt: %w", err)
	}

	var ra *speechpb.RecognitionAudio
	if strings.HasPrefix(audio.URL, "gs://") {
		ra = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audio.URL}}
	} else {
		fetched, err := stt.Fetch(ctx, nil, audio)
		if err != nil {
			return nil, fmt.Errorf("google stt: %w", err)
		}
		data, err := fetched.Bytes()
		if err != nil {
			return nil, fmt.Errorf("google stt: %w", err)
		}
		if len(data) > maxInlineBytes {
			return nil, fmt.Errorf("google stt: inline audio is %d bytes, limit is %d; upload to gs:// instead", len(data), maxInlineBytes)
		}
		audio.MIMEType = fetched.ContentType()
		ra = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: data}}
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: p.buildConfig(audio, opts),
		Audio:  ra,
	}
	resp, err := p.retry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google stt: long running recognize: %w", err)
	}
	return parseResponse(resp, req.Config.LanguageCode), nil
}

func (p *Provider) buildConfig(audio stt.AudioSource, opts stt.Options) *speechpb.RecognitionConfig {
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               lang,
		Model:                      p.model,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		Encoding:                   inferEncoding(audio.ContentType(), audio.URL),
	}
	if len(opts.Keywords) > 0 {
		phrases := make([]string, 0, len(opts.Keywords))
		var boost float32
		for _, kw := range opts.Keywords {
			phrases = append(phrases, kw.Keyword)
			boost = max(boost, float32(kw.Boost))
		}
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: phrases, Boost: boost}}
	}
	return rc
}

func inferEncoding(mimeType, uri string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(uri))

	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm") || ext == ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func parseResponse(resp *speechpb.LongRunningRecognizeResponse, language string) *stt.Transcript {
	tr := &stt.Transcript{Provider: "google", Language: language}
	if resp == nil {
		return tr
	}
	if resp.TotalBilledTime != nil {
		tr.Duration = resp.TotalBilledTime.AsDuration()
	}

	var text []string
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			text = append(text, t)
		}
		if r.LanguageCode != "" {
			tr.Language = r.LanguageCode
		}
		for _, w := range alt.Words {
			if w == nil || w.Word == "" {
				continue
			}
			tr.Words = append(tr.Words, stt.WordDetail{
				Word:       w.Word,
				Start:      durOf(w.StartTime),
				End:        durOf(w.EndTime),
				Confidence: float64(w.Confidence),
			})
		}
	}
	tr.Text = strings.Join(text, " ")
	return tr
}

func durOf(d *durationpb.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.AsDuration()
}

// retry retries transient gRPC failures with exponential backoff.
func (p *Provider) retry(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := p.backoff
	var last error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err
		if !retryable(err) || attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 10*time.Second)
	}
	return nil, last
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	}
	return false
}
