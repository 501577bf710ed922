package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

const verboseBody = `{
	"task": "transcribe",
	"language": "english",
	"duration": 4.2,
	"text": "Welcome to the call.",
	"words": [
		{"word": "Welcome", "start": 0.0, "end": 0.5},
		{"word": "to", "start": 0.5, "end": 0.6},
		{"word": "the", "start": 0.6, "end": 0.7},
		{"word": "call", "start": 0.7, "end": 1.1}
	]
}`

// TestNew_EmptyAPIKey verifies constructor validation.
func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_DefaultModel verifies that an empty model string defaults to whisper-1.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.model)
	}
}

// TestTranscribe_SendsVerboseWordRequest verifies the request shape and the
// parsing of word timings.
func TestTranscribe_SendsVerboseWordRequest(t *testing.T) {
	t.Parallel()

	type seen struct {
		path, format, model, language, prompt, filename string
		granularities                                   []string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s := seen{
			path:     r.URL.Path,
			format:   r.FormValue("response_format"),
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
		}
		// Array encoding differs between SDK versions; accept any key form.
		for k, v := range r.MultipartForm.Value {
			if strings.HasPrefix(k, "timestamp_granularities") {
				s.granularities = append(s.granularities, v...)
			}
		}
		if _, hdr, err := r.FormFile("file"); err == nil {
			s.filename = hdr.Filename
		}
		got <- s
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, verboseBody)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.AudioSource{Data: []byte("fake mp3"), MIMEType: "audio/mpeg"}, stt.Options{
		Language: "en-US",
		Keywords: []stt.KeywordBoost{{Keyword: "Tim Cook", Boost: 2}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	s := <-got
	if s.path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", s.path)
	}
	if s.format != "verbose_json" {
		t.Errorf("response_format = %q", s.format)
	}
	if s.model != "whisper-1" {
		t.Errorf("model = %q", s.model)
	}
	if s.language != "en" {
		t.Errorf("language = %q, want en", s.language)
	}
	if s.prompt != "Tim Cook" {
		t.Errorf("prompt = %q", s.prompt)
	}
	if s.filename != "audio.mp3" {
		t.Errorf("filename = %q", s.filename)
	}
	if len(s.granularities) != 1 || s.granularities[0] != "word" {
		t.Errorf("timestamp_granularities = %v", s.granularities)
	}

	if tr.Text != "Welcome to the call." {
		t.Errorf("Text = %q", tr.Text)
	}
	if len(tr.Words) != 4 {
		t.Fatalf("expected 4 words, got %d", len(tr.Words))
	}
	if tr.Words[3].Word != "call" || tr.Words[3].End != 1100*time.Millisecond {
		t.Errorf("last word = %+v", tr.Words[3])
	}
}

// TestParseVerbose_Invalid verifies malformed bodies are rejected.
func TestParseVerbose_Invalid(t *testing.T) {
	if _, err := parseVerbose("{nope"); err == nil {
		t.Fatal("expected error")
	}
}

// TestUploadName verifies filename selection.
func TestUploadName(t *testing.T) {
	cases := []struct {
		src  stt.AudioSource
		want string
	}{
		{stt.AudioSource{Path: "/tmp/q3-call.flac"}, "q3-call.flac"},
		{stt.AudioSource{URL: "https://cdn.example.com/a/b/earnings.mp3?sig=abc"}, "earnings.mp3"},
		{stt.AudioSource{Data: []byte{1}, MIMEType: "audio/ogg"}, "audio.ogg"},
		{stt.AudioSource{Data: []byte{1}}, "audio.wav"},
	}
	for _, c := range cases {
		if got := uploadName(c.src); got != c.want {
			t.Errorf("uploadName(%v) = %q, want %q", c.src, got, c.want)
		}
	}
}

// TestBaseLanguage verifies BCP-47 reduction.
func TestBaseLanguage(t *testing.T) {
	for in, want := range map[string]string{"en-US": "en", "de_DE": "de", "FR": "fr"} {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
