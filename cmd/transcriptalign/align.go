package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MrWong99/transcriptalign/internal/app"
	"github.com/MrWong99/transcriptalign/internal/config"
	"github.com/MrWong99/transcriptalign/pkg/align"
	"github.com/MrWong99/transcriptalign/pkg/align/format"
	"github.com/MrWong99/transcriptalign/pkg/align/orchestrator"
	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/align/tokens"
	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// runAlign aligns one transcript and writes the result to out. Audio is
// transcribed with the configured provider; -words skips transcription and
// reads engine JSON instead.
func runAlign(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("align", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	audioArg := fs.String("audio", "", "audio file path or URL to transcribe")
	wordsPath := fs.String("words", "", "engine word-timing JSON file; skips transcription")
	transcriptPath := fs.String("transcript", "", "transcript file, or - for stdin")
	html := fs.Bool("html", false, "treat the transcript as HTML (default: by .html/.htm extension)")
	asJSON := fs.Bool("json", false, "print the result document as JSON instead of text")
	matchThreshold := fs.Float64("match-threshold", 0, "override the matched score threshold")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *transcriptPath == "" || (*audioArg == "") == (*wordsPath == "") {
		fmt.Fprintln(os.Stderr, "transcriptalign align: need -transcript and exactly one of -audio or -words")
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcriptalign: %v\n", err)
		return 1
	}
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	transcript, err := readTranscript(*transcriptPath, *html)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcriptalign: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var alignOpts []align.Option
	if *matchThreshold > 0 {
		alignOpts = append(alignOpts, align.WithMatchThreshold(*matchThreshold))
	}

	var res *types.AlignmentResult
	if *wordsPath != "" {
		res, err = alignWords(ctx, cfg, logger, *wordsPath, transcript, alignOpts)
	} else {
		res, err = alignAudio(ctx, cfg, logger, *audioArg, transcript, alignOpts)
	}
	if res == nil {
		fmt.Fprintf(os.Stderr, "transcriptalign: %v\n", err)
		return 1
	}
	if err != nil {
		slog.Warn("alignment degraded", "err", err)
	}

	if *asJSON {
		data, err := format.MarshalResult(res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "transcriptalign: %v\n", err)
			return 1
		}
		_, _ = out.Write(append(data, '\n'))
	} else {
		fmt.Fprintln(out, res.Formatted)
	}
	slog.Info("alignment complete",
		"source", res.Source,
		"matched", res.Stats.Matched,
		"low_confidence", res.Stats.LowConfidence,
		"unmatched", res.Stats.Unmatched,
		"match_rate", res.MatchRate,
	)
	if res.Degraded {
		return 3
	}
	return 0
}

func alignWords(ctx context.Context, cfg *config.Config, logger *slog.Logger, path, transcript string, opts []align.Option) (*types.AlignmentResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	words, err := tokens.ParseWords(data)
	if err != nil {
		return nil, err
	}
	o, err := app.NewOrchestrator(nil, cfg.Alignment, orchestrator.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return o.AlignWords(ctx, filepath.Base(path), words, transcript, opts...)
}

func alignAudio(ctx context.Context, cfg *config.Config, logger *slog.Logger, audioArg, transcript string, opts []align.Option) (*types.AlignmentResult, error) {
	if cfg.Providers.STT.Name == "" {
		return nil, errors.New("no transcription provider configured; use -words or set providers.stt")
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	t, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	if c, ok := t.(io.Closer); ok {
		defer c.Close()
	}

	audio := audioSource(audioArg)
	if audio.Path != "" {
		if _, err := os.Stat(audio.Path); err != nil {
			return nil, err
		}
	}
	o, err := app.NewOrchestrator(t, cfg.Alignment, orchestrator.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, audio, transcript, opts...)
}

// audioSource treats arguments with a scheme as URLs and anything else as a
// local file path.
func audioSource(arg string) stt.AudioSource {
	if strings.Contains(arg, "://") {
		return stt.AudioSource{URL: arg}
	}
	return stt.AudioSource{Path: arg}
}

func readTranscript(path string, html bool) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
		ext := strings.ToLower(filepath.Ext(path))
		html = html || ext == ".html" || ext == ".htm"
	}
	if html {
		return segmenter.FromHTML(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
