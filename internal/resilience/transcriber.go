package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across several transcription backends. Each backend has its own circuit
// breaker. The returned transcript's Provider names the backend that served
// it.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var (
	_ stt.Transcriber = (*TranscriberFallback)(nil)
	_ stt.Named       = (*TranscriberFallback)(nil)
)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend. Invalid audio sources are never retried against a
// fallback, and neither caller cancellations nor invalid sources count
// against a breaker.
func NewTranscriberFallback(primary stt.Transcriber, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = isPermanentTranscriptionError
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return DefaultIsFailure(err) && !isPermanentTranscriptionError(err)
		}
	}
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, stt.NameOf(primary), cfg),
	}
}

// AddFallback registers an additional backend. Its name comes from
// [stt.NameOf].
func (f *TranscriberFallback) AddFallback(t stt.Transcriber) {
	f.group.AddFallback(stt.NameOf(t), t)
}

// Transcribe runs the first healthy backend and fails over on error.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	tr, name, err := ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (*stt.Transcript, error) {
		return t.Transcribe(ctx, audio, opts)
	})
	if err != nil {
		return nil, err
	}
	if tr != nil && tr.Provider == "" {
		tr.Provider = name
	}
	return tr, nil
}

// Name lists the backends in failover order, e.g. "deepgram>openai".
func (f *TranscriberFallback) Name() string {
	return strings.Join(f.group.Names(), ">")
}

// Available reports whether any backend's breaker is not open.
func (f *TranscriberFallback) Available() bool {
	return f.group.Available()
}

// States returns each backend's breaker state keyed by name.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

func isPermanentTranscriptionError(err error) bool {
	return errors.Is(err, stt.ErrInvalidSource)
}
