package whisper_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

const verboseBody = `{
	"task": "transcribe",
	"language": "english",
	"duration": 3.0,
	"text": " Thank you, operator. Good afternoon.",
	"segments": [
		{"id": 0, "text": " Thank you, operator.", "start": 0.0, "end": 1.5,
		 "words": [
			{"word": " Thank", "start": 0.0, "end": 0.3, "probability": 0.9},
			{"word": " you,", "start": 0.3, "end": 0.6, "probability": 0.95},
			{"word": " operator.", "start": 0.7, "end": 1.5, "probability": 0.8}
		 ]},
		{"id": 1, "text": " Good afternoon.", "start": 2.0, "end": 3.0}
	]
}`

type capturedRequest struct {
	fields   map[string]string
	fileSize int
	fileHead string
}

// newMockServer creates a test server that responds to POST /inference with
// body. Every matched request is recorded into the returned channel.
func newMockServer(t *testing.T, body string, calls *atomic.Int32) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	reqs := make(chan capturedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := capturedRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			c.fileSize = len(b)
			if len(b) >= 4 {
				c.fileHead = string(b[:4])
			}
		}
		reqs <- c
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(8000),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "whisper" {
		t.Errorf("Name() = %q", p.Name())
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ParsesWordsAndInterpolatesMissing(t *testing.T) {
	t.Parallel()

	srv, reqs := newMockServer(t, verboseBody, nil)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), stt.AudioSource{Data: []byte("RIFF....WAVEdata"), MIMEType: "audio/wav"}, stt.Options{
		Keywords: []stt.KeywordBoost{{Keyword: "Kevan"}, {Keyword: "Parekh"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	req := <-reqs
	if req.fields["response_format"] != "verbose_json" {
		t.Errorf("response_format = %q", req.fields["response_format"])
	}
	if req.fields["language"] != "en" {
		t.Errorf("language = %q", req.fields["language"])
	}
	if req.fields["prompt"] != "Kevan, Parekh" {
		t.Errorf("prompt = %q", req.fields["prompt"])
	}

	if tr.Text != "Thank you, operator. Good afternoon." {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Duration != 3*time.Second {
		t.Errorf("Duration = %v", tr.Duration)
	}
	if len(tr.Words) != 5 {
		t.Fatalf("expected 5 words, got %d: %+v", len(tr.Words), tr.Words)
	}
	if tr.Words[0].Word != "Thank" || tr.Words[2].Word != "operator." {
		t.Errorf("unexpected words: %+v", tr.Words[:3])
	}
	// "Good" and "afternoon." share [2.0, 3.0] in proportion 4:10.
	good, after := tr.Words[3], tr.Words[4]
	if good.Word != "Good" || after.Word != "afternoon." {
		t.Fatalf("unexpected interpolated words: %+v %+v", good, after)
	}
	if good.Start != 2*time.Second {
		t.Errorf("Good start = %v", good.Start)
	}
	if after.End < 2999*time.Millisecond || after.End > 3001*time.Millisecond {
		t.Errorf("afternoon end = %v", after.End)
	}
	if !(good.End <= after.Start) {
		t.Errorf("interpolated words overlap: %v > %v", good.End, after.Start)
	}
}

func TestTranscribe_RawPCMIsWrappedInWAV(t *testing.T) {
	t.Parallel()

	srv, reqs := newMockServer(t, `{"text":"","segments":[]}`, nil)
	p, _ := whisper.New(srv.URL)

	pcm := make([]byte, 3200)
	if _, err := p.Transcribe(context.Background(), stt.AudioSource{Data: pcm, MIMEType: "audio/L16"}, stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	req := <-reqs
	if req.fileHead != "RIFF" {
		t.Errorf("expected WAV upload, got header %q", req.fileHead)
	}
	if req.fileSize != len(pcm)+44 {
		t.Errorf("upload size = %d, want %d", req.fileSize, len(pcm)+44)
	}
}

func TestTranscribe_URLSourceIsDownloaded(t *testing.T) {
	t.Parallel()

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFxxxxWAVE"))
	}))
	defer audio.Close()

	var calls atomic.Int32
	srv, reqs := newMockServer(t, verboseBody, &calls)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.AudioSource{URL: audio.URL + "/call.wav"}, stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 inference call, got %d", calls.Load())
	}
	if req := <-reqs; req.fileSize != len("RIFFxxxxWAVE") {
		t.Errorf("upload size = %d", req.fileSize)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.AudioSource{Data: []byte{1, 2}}, stt.Options{})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected HTTP 500 error, got %v", err)
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv, _ := newMockServer(t, `{not json`, nil)
	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.AudioSource{Data: []byte{1, 2}}, stt.Options{})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newMockServer(t, verboseBody, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.AudioSource{Data: []byte{1, 2}}, stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestTranscribe_InvalidSource(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://localhost:1")
	_, err := p.Transcribe(context.Background(), stt.AudioSource{URL: "a", Path: "b"}, stt.Options{})
	if err == nil {
		t.Fatal("expected error for ambiguous source")
	}
}
