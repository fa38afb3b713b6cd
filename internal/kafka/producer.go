package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("kafka: producer is closed")

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Stats counts what a producer has done since it was created.
type Stats struct {
	Published int64
	Bytes     int64
	Retries   int64
	Failed    int64
	LastError string
}

// Producer publishes triage events. It retries transient broker errors
// itself; the underlying writer makes a single attempt per call.
type Producer struct {
	w      MessageWriter
	cfg    *Config
	logger *slog.Logger
	closed atomic.Bool

	published atomic.Int64
	bytes     atomic.Int64
	retries   atomic.Int64
	failed    atomic.Int64
	lastErr   atomic.Pointer[string]
}

// NewProducer validates cfg and connects a kafka-go writer for the topic.
func NewProducer(cfg *Config, logger *slog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := cfg.dialer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  1,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codecs[cfg.Compression],
		Transport: &kafka.Transport{
			Dial: d.DialFunc,
			TLS:  d.TLS,
			SASL: d.SASLMechanism,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Warn("kafka writer", "detail", fmt.Sprintf(msg, args...))
		}),
	}

	logger.Info("event producer ready",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"security", cfg.SecurityProtocol,
	)
	return NewProducerWithWriter(w, cfg, logger), nil
}

// NewProducerWithWriter wraps an existing writer. cfg supplies the retry
// policy and must not be nil.
func NewProducerWithWriter(w MessageWriter, cfg *Config, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{w: w, cfg: cfg, logger: logger}
}

// Publish sends ev keyed by its target, or by its type when it has none, so
// events about one alert or user stay ordered on a single partition.
func (p *Producer) Publish(ctx context.Context, ev Event) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	msg, err := ev.message()
	if err != nil {
		return err
	}
	return p.write(ctx, msg)
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	backoff := p.cfg.RetryBackoff
	attempts := max(p.cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			p.retries.Add(1)
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			backoff *= 2
		}

		if err = p.w.WriteMessages(ctx, msg); err == nil {
			p.published.Add(1)
			p.bytes.Add(int64(len(msg.Key) + len(msg.Value)))
			return nil
		}

		p.logger.Warn("event publish failed", "type", headerValue(msg, headerEventType), "attempt", attempt, "error", err)
		if fatal(err) || ctx.Err() != nil {
			break
		}
	}

	p.failed.Add(1)
	s := err.Error()
	p.lastErr.Store(&s)
	return fmt.Errorf("kafka: publish %s: %w", headerValue(msg, headerEventType), err)
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() Stats {
	s := Stats{
		Published: p.published.Load(),
		Bytes:     p.bytes.Load(),
		Retries:   p.retries.Load(),
		Failed:    p.failed.Load(),
	}
	if e := p.lastErr.Load(); e != nil {
		s.LastError = *e
	}
	return s
}

// Close flushes whatever the writer is holding. Later calls do nothing.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}

// fatal reports errors that another attempt cannot fix.
func fatal(err error) bool {
	for _, e := range []error{
		kafka.MessageSizeTooLarge,
		kafka.InvalidTopic,
		kafka.TopicAuthorizationFailed,
		kafka.ClusterAuthorizationFailed,
		kafka.SASLAuthenticationFailed,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

const (
	headerEventType   = "event-type"
	headerEventID     = "event-id"
	headerContentType = "content-type"
)

func (e Event) message() (kafka.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode %s event: %w", e.Type, err)
	}
	key := e.Target
	if key == "" {
		key = string(e.Type)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(e.Type)},
			{Key: headerEventID, Value: []byte(e.ID)},
			{Key: headerContentType, Value: []byte("application/json")},
		},
	}, nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
