// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to feed a canned Transcript (or error) to the code under
// test and to verify which audio sources and options it requested.
//
// Example:
//
//	tr := &mock.Transcriber{Result: &stt.Transcript{Words: words}}
//	got, _ := tr.Transcribe(ctx, stt.AudioSource{URL: "https://x/a.mp3"}, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	Audio stt.AudioSource
	Opts  stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Result is returned by Transcribe when Err is nil.
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Block, when true, makes Transcribe wait for ctx to be done and return
	// ctx.Err(). Useful for timeout tests.
	Block bool

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (m *Transcriber) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Audio: audio, Opts: opts})
	block, res, err := m.Block, m.Result, m.Err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Name returns ProviderName or "mock".
func (m *Transcriber) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
