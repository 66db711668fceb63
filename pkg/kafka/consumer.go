// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Mining jobs arrive through a Consumer and completion
// events leave through a Producer; both carry JSON payloads.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error asks for redelivery.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetter wraps a message that kept failing. It is published to the
// dead-letter topic keyed like the original.
type DeadLetter struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload"`
	FailedAt  time.Time `json:"failed_at"`
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. A failing message is redelivered in process with backoff;
// once its attempts run out it is dead-lettered (when a dead-letter
// publisher is set) and committed so the partition keeps moving.
type Consumer struct {
	reader     Reader
	topic      string
	handler    MessageHandler
	redelivery resilience.RetryConfig
	deadLetter Publisher
	logger     *slog.Logger
	closeOnce  sync.Once
	closeErr   error
}

// Option customises a Consumer.
type Option func(*Consumer)

// WithDeadLetter publishes exhausted messages through p.
func WithDeadLetter(p Publisher) Option {
	return func(c *Consumer) { c.deadLetter = p }
}

// WithMaxDeliveries bounds how often a message is handed to the handler.
func WithMaxDeliveries(n int) Option {
	return func(c *Consumer) { c.redelivery.MaxAttempts = n }
}

// WithRedeliveryDelay sets the backoff before the first redelivery.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(c *Consumer) { c.redelivery.InitialDelay = d }
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...Option) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1e3,
		MaxBytes: 10e6,
		// A new consumer group must not skip jobs queued before it joined.
		StartOffset: kafka.FirstOffset,
	})
	opts = append([]Option{WithMaxDeliveries(cfg.MaxDeliveries)}, opts...)
	return newConsumer(r, topic, handler, opts...)
}

func newConsumer(r Reader, topic string, handler MessageHandler, opts ...Option) *Consumer {
	c := &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		redelivery: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled or the reader is closed. A message
// interrupted by cancellation is left uncommitted and is delivered again to
// the next member of the group.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "max_deliveries", c.redelivery.MaxAttempts)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("consumer stopping", "reason", err)
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if !c.process(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process reports whether msg is done with and may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	err := resilience.Retry(ctx, "handle "+c.topic, c.redelivery, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	c.logger.Error("message failed on every delivery",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
	if c.deadLetter == nil {
		return true
	}
	dl := DeadLetter{
		Topic:     c.topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Error:     err.Error(),
		Payload:   msg.Value,
		FailedAt:  time.Now().UTC(),
	}
	if err := c.deadLetter.Publish(ctx, Event{Key: string(msg.Key), Value: dl}); err != nil {
		c.logger.Error("failed to dead-letter message", "offset", msg.Offset, "error", err)
		return false
	}
	return true
}

// Close closes the underlying reader. It is safe to call more than once.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
