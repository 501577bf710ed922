// Package events publishes an "alignment completed" event to Kafka after
// each run, so downstream consumers (search indexing, notification jobs) can
// pick up new results without polling the API.
//
// When Kafka is disabled the publisher runs in log-only mode: events are
// encoded and logged at debug level, and Publish always succeeds.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/transcriptalign/pkg/align/format"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// TypeAlignmentCompleted is the event type header value.
const TypeAlignmentCompleted = "alignment.completed"

// Event is the message payload.
type Event struct {
	Type          string              `json:"type"`
	ID            string              `json:"id"`
	Degraded      bool                `json:"degraded"`
	Matched       int                 `json:"matched"`
	LowConfidence int                 `json:"low_confidence"`
	Unmatched     int                 `json:"unmatched"`
	CreatedAt     time.Time           `json:"created_at"`
	Document      format.DocumentJSON `json:"document"`
}

// NewEvent builds the event for res.
func NewEvent(res *types.AlignmentResult) Event {
	return Event{
		Type:          TypeAlignmentCompleted,
		ID:            res.ID,
		Degraded:      res.Degraded,
		Matched:       res.Stats.Matched,
		LowConfidence: res.Stats.LowConfidence,
		Unmatched:     res.Stats.Unmatched,
		CreatedAt:     res.CreatedAt.UTC(),
		Document:      format.Document(res),
	}
}

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// messageWriter is the part of [kafka.Writer] the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic.
type Publisher struct {
	writer  messageWriter
	brokers []string
	topic   string
	logger  *slog.Logger
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// withWriter replaces the Kafka writer. Used by tests.
func withWriter(w messageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// New creates a publisher. A disabled config or one without brokers yields
// a log-only publisher.
func New(cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		logger:  slog.Default(),
	}
	if p.topic == "" {
		p.topic = TypeAlignmentCompleted
	}

	if cfg.Enabled && len(cfg.Brokers) > 0 {
		dialer := &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        p.topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		}
	}
	for _, o := range opts {
		o(p)
	}

	if p.writer == nil {
		p.logger.Info("events: kafka disabled, using log-only mode")
	} else {
		p.logger.Info("events: kafka publisher initialized", "brokers", p.brokers, "topic", p.topic)
	}
	return p
}

// Enabled reports whether events go to Kafka.
func (p *Publisher) Enabled() bool { return p.writer != nil }

// Publish sends the completion event for res, keyed by its ID.
func (p *Publisher) Publish(ctx context.Context, res *types.AlignmentResult) error {
	if res == nil {
		return errors.New("events: nil result")
	}
	payload, err := json.Marshal(NewEvent(res))
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", res.ID, err)
	}

	p.logger.Debug("events: publishing",
		"topic", p.topic,
		"id", res.ID,
		"bytes", len(payload),
	)
	if p.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(res.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(TypeAlignmentCompleted)},
			{Key: "contentType", Value: []byte("application/json")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("events: kafka write failed", "topic", p.topic, "id", res.ID, "err", err)
		return fmt.Errorf("events: publish %s: %w", res.ID, err)
	}
	return nil
}

// Ping dials the first reachable broker. Log-only publishers always succeed.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}
	var errs []error
	for _, b := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("events: no broker reachable: %w", errors.Join(errs...))
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
