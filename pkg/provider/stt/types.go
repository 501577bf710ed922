package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Transcript is a complete word-timestamped transcription of one audio source.
type Transcript struct {
	// Text is the full transcribed text as reported by the provider.
	Text string

	// Language is the detected or requested language, when known.
	Language string

	// Duration is the length of the audio, when the provider reports it.
	Duration time.Duration

	// Words holds per-word timing in audio order. Alignment needs these;
	// a Transcript without words cannot be aligned.
	Words []WordDetail

	// Provider names the backend that produced the transcript.
	Provider string
}

// WordDetail holds per-word metadata from STT providers.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Speaker names and company terms from the clean transcript make good boosts.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Cupertino").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// AudioSource identifies the audio to transcribe. Exactly one of URL, Path or
// Data must be set.
type AudioSource struct {
	// URL is a remotely reachable audio file. Providers that accept URLs fetch
	// it themselves; others download it first.
	URL string

	// Path is a local file path.
	Path string

	// Data is in-memory audio content.
	Data []byte

	// MIMEType describes the encoding, e.g. "audio/wav" or "audio/mpeg".
	// Inferred from the file extension when empty.
	MIMEType string
}

// ErrInvalidSource is returned when an AudioSource does not set exactly one input.
var ErrInvalidSource = errors.New("stt: audio source must set exactly one of URL, Path or Data")

// Validate checks that exactly one input is set.
func (a AudioSource) Validate() error {
	n := 0
	if a.URL != "" {
		n++
	}
	if a.Path != "" {
		n++
	}
	if len(a.Data) > 0 {
		n++
	}
	if n != 1 {
		return ErrInvalidSource
	}
	return nil
}

// Key returns a stable identifier for the audio, suitable as a cache key.
// URLs and paths are hashed by name; in-memory data by content.
func (a AudioSource) Key() string {
	h := sha256.New()
	switch {
	case a.URL != "":
		h.Write([]byte("url:" + a.URL))
	case a.Path != "":
		h.Write([]byte("path:" + a.Path))
	default:
		h.Write([]byte("data:"))
		h.Write(a.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String returns a short human-readable description for logs.
func (a AudioSource) String() string {
	switch {
	case a.URL != "":
		return a.URL
	case a.Path != "":
		return a.Path
	default:
		return fmt.Sprintf("<%d bytes>", len(a.Data))
	}
}

// ContentType returns MIMEType or a guess from the URL or Path extension.
func (a AudioSource) ContentType() string {
	if a.MIMEType != "" {
		return a.MIMEType
	}
	name := a.Path
	if name == "" {
		name = a.URL
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	}
	return "application/octet-stream"
}

// Bytes returns the audio content for Data and Path sources. URL sources
// return ErrURLSource; use [Fetch] for those.
func (a AudioSource) Bytes() ([]byte, error) {
	switch {
	case len(a.Data) > 0:
		return a.Data, nil
	case a.Path != "":
		b, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("stt: read audio: %w", err)
		}
		return b, nil
	case a.URL != "":
		return nil, ErrURLSource
	}
	return nil, ErrInvalidSource
}

// ErrURLSource is returned by AudioSource.Bytes for URL sources.
var ErrURLSource = errors.New("stt: audio source is a URL")

// Options carries per-request recognition hints.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// Keywords are vocabulary hints. Providers that do not support boosting
	// ignore them.
	Keywords []KeywordBoost
}

// Transcriber is implemented by every transcription backend. It is the
// single collaborator contract the alignment engine depends on.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	// Transcribe converts the audio into a word-timestamped Transcript. It
	// blocks until the provider has finished or ctx is done.
	Transcribe(ctx context.Context, audio AudioSource, opts Options) (*Transcript, error)
}

// Named is optionally implemented by transcribers to report a provider name
// for logs and metrics.
type Named interface {
	Name() string
}

// NameOf returns t.Name() when t implements Named, or "unknown".
func NameOf(t Transcriber) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
