// Package cache memoizes transcriptions in Redis so that re-aligning the same
// recording with an edited transcript skips the speech-to-text call.
//
// Entries are keyed by the audio's [stt.AudioSource.Key] and the language
// hint. Keyword boosts are not part of the key: they are derived from the
// transcript and only nudge recognition. Redis failures never fail a
// transcription; they are logged and the request goes to the wrapped
// transcriber.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// DefaultTTL is how long a cached transcript lives.
const DefaultTTL = 24 * time.Hour

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "transcriptalign:stt:"

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Named       = (*Transcriber)(nil)
)

// Client is the subset of the go-redis API the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

var _ Client = (*goredis.Client)(nil)

// Transcriber wraps another [stt.Transcriber] with a Redis cache.
type Transcriber struct {
	next   stt.Transcriber
	rdb    Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithTTL sets the entry lifetime. Non-positive values select [DefaultTTL].
func WithTTL(d time.Duration) Option {
	return func(t *Transcriber) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(t *Transcriber) {
		t.prefix = p
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) {
		t.logger = l
	}
}

// New wraps next with a cache backed by rdb.
func New(next stt.Transcriber, rdb Client, opts ...Option) *Transcriber {
	t := &Transcriber{
		next:   next,
		rdb:    rdb,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial connects to Redis at addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Name implements [stt.Named] and reports the wrapped transcriber's name.
func (t *Transcriber) Name() string { return stt.NameOf(t.next) }

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.AudioSource, opts stt.Options) (*stt.Transcript, error) {
	key := t.key(audio, opts)

	raw, err := t.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var tr stt.Transcript
		jerr := json.Unmarshal(raw, &tr)
		if jerr == nil {
			t.logger.Debug("cache: transcript hit", "source", audio.String(), "words", len(tr.Words))
			return &tr, nil
		}
		t.logger.Warn("cache: discarding undecodable entry", "key", key, "err", jerr)
	case errors.Is(err, goredis.Nil):
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		t.logger.Warn("cache: redis get failed", "err", err)
	}

	tr, err := t.next.Transcribe(ctx, audio, opts)
	if err != nil {
		return nil, err
	}
	if len(tr.Words) == 0 {
		return tr, nil
	}

	payload, err := json.Marshal(tr)
	if err != nil {
		t.logger.Warn("cache: encode transcript", "err", err)
		return tr, nil
	}
	if err := t.rdb.Set(ctx, key, payload, t.ttl).Err(); err != nil {
		t.logger.Warn("cache: redis set failed", "err", err)
	}
	return tr, nil
}

// Ping checks the Redis connection.
func (t *Transcriber) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (t *Transcriber) Close() error {
	return t.rdb.Close()
}

func (t *Transcriber) key(audio stt.AudioSource, opts stt.Options) string {
	h := sha256.Sum256([]byte(audio.Key() + "|" + opts.Language))
	return t.prefix + hex.EncodeToString(h[:16])
}
