// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var (
	_ stt.Transcriber = (*NativeProvider)(nil)
	_ stt.Named       = (*NativeProvider)(nil)
)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all requests. Input must be 16-bit PCM WAV; other
// sample rates are resampled to 16 kHz.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp uses per
// request. Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Named.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. Each call creates its own
// whisper.cpp context from the shared model, so concurrent calls do not
// interfere. whisper.cpp does not observe ctx once inference has started;
// cancellation is checked before and after.
func (p *NativeProvider) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	if err := audio.Validate(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	audio, err := stt.Fetch(ctx, nil, audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	data, err := audio.Bytes()
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var samples []float32
	if isRawPCM(audio.ContentType()) {
		samples = pcmToFloat32(data)
	} else {
		pcm, rate, channels, err := decodeWAV(data)
		if err != nil {
			return nil, err
		}
		samples = resample(pcmToFloat32Mono(pcm, channels), rate, defaultSampleRate)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	return p.infer(ctx, samples, lang, initialPrompt(opts.Keywords))
}

// infer runs whisper.cpp on 16 kHz mono samples. Segments are limited to a
// single word with token timestamps enabled, which yields one timed word per
// segment.
func (p *NativeProvider) infer(ctx context.Context, samples []float32, language, prompt string) (*stt.Transcript, error) {
	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	wctx.SetMaxSegmentLength(1)
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	tr := &stt.Transcript{
		Language: language,
		Duration: seconds(float64(len(samples)) / defaultSampleRate),
		Provider: "whisper-native",
	}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		tr.Words = append(tr.Words, stt.WordDetail{
			Word:       text,
			Start:      segment.Start,
			End:        segment.End,
			Confidence: segmentConfidence(segment.Tokens),
		})
	}
	tr.Text = strings.Join(parts, " ")
	return tr, nil
}

// segmentConfidence averages the probability of the segment's text tokens.
// Special tokens such as [_BEG_] are skipped.
func segmentConfidence(tokens []whisperlib.Token) float64 {
	var sum float64
	var n int
	for _, t := range tokens {
		if strings.HasPrefix(t.Text, "[_") || strings.HasPrefix(t.Text, "<|") {
			continue
		}
		sum += float64(t.P)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
