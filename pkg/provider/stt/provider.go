// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber wraps a batch transcription service (e.g., Deepgram, Google
// Speech-to-Text, OpenAI, or a local Whisper server) and turns a complete
// recording into a word-timestamped Transcript. Word timings are the only
// part of the result the alignment engine consumes.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// MaxFetchBytes caps the size of audio downloaded by Fetch.
const MaxFetchBytes = 512 << 20

// Fetch downloads a URL source using client (http.DefaultClient when nil) and
// returns a copy of a with Data populated and URL cleared. Data and Path
// sources are returned unchanged.
func Fetch(ctx context.Context, client *http.Client, a AudioSource) (AudioSource, error) {
	if a.URL == "" {
		return a, nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return a, fmt.Errorf("stt: fetch audio: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return a, fmt.Errorf("stt: fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a, fmt.Errorf("stt: fetch audio: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return a, fmt.Errorf("stt: fetch audio: %w", err)
	}
	if len(data) > MaxFetchBytes {
		return a, fmt.Errorf("stt: fetch audio: body exceeds %d bytes", MaxFetchBytes)
	}
	out := AudioSource{Data: data, MIMEType: a.MIMEType}
	if out.MIMEType == "" {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			out.MIMEType = ct
		} else {
			out.MIMEType = a.ContentType()
		}
	}
	return out, nil
}
