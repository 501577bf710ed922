package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/transcriptalign/internal/config"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"language":  "de",
		"threads":   4,
		"retries":   2.0,
		"streaming": true,
		"wrong":     12,
	}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "wrong"); got != "" {
		t.Errorf("optString on int = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optInt(opts, "threads"); got != 4 {
		t.Errorf("optInt = %d", got)
	}
	if got := optInt(opts, "retries"); got != 2 {
		t.Errorf("optInt float = %d", got)
	}
	if !optBool(opts, "streaming") || optBool(opts, "language") {
		t.Error("optBool mismatch")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	got := strings.Join(reg.STTNames(), ",")
	if got != "deepgram,google,openai,whisper,whisper-native" {
		t.Errorf("registered = %s", got)
	}
}

func TestNewLogger_Format(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	newLogger(&buf, config.LogFormatJSON, lv).Info("hello")
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}

	buf.Reset()
	lv.Set(slog.LevelWarn)
	l := newLogger(&buf, config.LogFormatText, lv)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("unexpected text log: %q", buf.String())
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.STT = config.ProviderEntry{Name: "deepgram", Model: "nova-3"}

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()
	for _, want := range []string{"deepgram / nova-3", "memory", "(disabled)", ":8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

// ─── align command ───────────────────────────────────────────────────────────

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestRunAlign_Words(t *testing.T) {
	dir := t.TempDir()
	words := writeFile(t, dir, "words.json", `{"words":[
		{"word":"Good","start":4.0,"end":4.3},
		{"word":"morning","start":4.3,"end":4.7},
		{"word":"everyone","start":4.7,"end":5.2},
		{"word":"Thanks","start":6.0,"end":6.4},
		{"word":"operator","start":6.4,"end":7.0}
	]}`)
	transcript := writeFile(t, dir, "call.txt", "Operator\n\nGood morning everyone.\n\nJane Doe - CEO\n\nThanks operator.\n")

	var out bytes.Buffer
	code := runAlign([]string{"-config", filepath.Join(dir, "missing.yaml"), "-words", words, "-transcript", transcript}, &out)
	if code != 0 {
		t.Fatalf("exit code = %d, output: %s", code, out.String())
	}
	want := "[00:04] Operator: Good morning everyone.\n[00:06] Jane Doe - CEO: Thanks operator."
	if !strings.Contains(out.String(), want) {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestRunAlign_JSONFromHTML(t *testing.T) {
	dir := t.TempDir()
	words := writeFile(t, dir, "words.json", `[{"word":"hello","start":1,"end":1.5},{"word":"there","start":1.5,"end":2}]`)
	transcript := writeFile(t, dir, "call.html", "<p><strong>Operator</strong></p><p>Hello there.</p>")

	var out bytes.Buffer
	code := runAlign([]string{"-config", filepath.Join(dir, "missing.yaml"), "-words", words, "-transcript", transcript, "-json"}, &out)
	if code != 0 {
		t.Fatalf("exit code = %d, output: %s", code, out.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
}

func TestRunAlign_Usage(t *testing.T) {
	tests := [][]string{
		{},
		{"-transcript", "x.txt"},
		{"-transcript", "x.txt", "-audio", "a.mp3", "-words", "w.json"},
	}
	for _, args := range tests {
		if code := runAlign(args, &bytes.Buffer{}); code != 2 {
			t.Errorf("runAlign(%v) = %d, want 2", args, code)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if code := run([]string{"bogus"}); code != 2 {
		t.Errorf("run(bogus) = %d, want 2", code)
	}
}

func TestAudioSource(t *testing.T) {
	t.Parallel()

	if src := audioSource("https://example.com/q3.mp3"); src.URL == "" || src.Path != "" {
		t.Errorf("URL argument = %+v", src)
	}
	if src := audioSource("calls/q3.wav"); src.Path != "calls/q3.wav" || src.URL != "" {
		t.Errorf("path argument = %+v", src)
	}
}
