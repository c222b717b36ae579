// Package kafka consumes action events from a Kafka topic into the service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	service "github.com/okian/dwell/internal/app"
	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/pkg/logger"
	"github.com/okian/dwell/pkg/metrics"
)

const (
	defaultPollTimeout  = 5 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	maxMessageBytes     = 10e6
)

// Message results reported to metrics.
const (
	resultAccepted     = "accepted"
	resultDuplicate    = "duplicate"
	resultDecodeError  = "decode_error"
	resultRejected     = "rejected"
	resultBackpressure = "backpressure"
	resultFetchError   = "fetch_error"
	resultCommitError  = "commit_error"
)

// Sink accepts decoded envelopes.
type Sink interface {
	Enqueue(ctx context.Context, env model.Envelope) (model.Receipt, error)
}

// reader is the subset of *kafkago.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config holds the consumer group settings.
type Config struct {
	Brokers      []string
	Topic        string
	GroupID      string
	PollTimeout  time.Duration
	RetryBackoff time.Duration
}

// Consumer reads envelopes from a topic and enqueues them in order, committing
// each offset once the service has accepted (or permanently rejected) it.
type Consumer struct {
	cfg    Config
	reader reader
	sink   Sink
	logger logger.Logger
}

// NewConsumer builds a consumer-group reader for cfg.
func NewConsumer(cfg Config, sink Sink, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, ErrNoTopic
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, ErrNoGroup
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    maxMessageBytes,
	})
	return newConsumer(r, cfg, sink, opts...), nil
}

func newConsumer(r reader, cfg Config, sink Sink, opts ...Option) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	c := &Consumer{cfg: cfg, reader: r, sink: sink}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("kafka")
	}
	return c
}

// Run consumes until ctx is canceled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "kafka consumer started",
		logger.String("topic", c.cfg.Topic),
		logger.String("group", c.cfg.GroupID),
		logger.Strings("brokers", c.cfg.Brokers),
	)
	defer c.logger.Info(context.WithoutCancel(ctx), "kafka consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return nil
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafkago.ErrGroupClosed):
				return nil
			}
			metrics.RecordKafkaMessage(resultFetchError)
			metrics.RecordErrorByComponent("kafka", resultFetchError)
			c.logger.Error(ctx, "kafka fetch failed", logger.Error(err))
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		if !c.deliver(ctx, msg) {
			return nil
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				metrics.RecordKafkaMessage(resultCommitError)
				c.logger.Error(ctx, "kafka commit failed", logger.Error(err), logger.Int64("offset", msg.Offset))
			}
		}
		commitCancel()
	}
}

// deliver hands msg to the sink, retrying while the service pushes back. It
// returns false only when ctx ends before the message could be delivered.
func (c *Consumer) deliver(ctx context.Context, msg kafkago.Message) bool { //nolint:gocritic // hugeParam: kafka-go passes messages by value
	env, err := Decode(msg)
	if err != nil {
		metrics.RecordKafkaMessage(resultDecodeError)
		c.logger.Warn(ctx, "kafka message skipped",
			logger.Error(err),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
		)
		return true
	}

	for {
		receipt, err := c.sink.Enqueue(ctx, env)
		switch {
		case err == nil && receipt.Duplicate:
			metrics.RecordKafkaMessage(resultDuplicate)
			return true
		case err == nil:
			metrics.RecordKafkaMessage(resultAccepted)
			return true
		case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrNotStarted):
			metrics.RecordKafkaMessage(resultBackpressure)
			if !c.wait(ctx) {
				return false
			}
		default:
			metrics.RecordKafkaMessage(resultRejected)
			c.logger.Warn(ctx, "kafka message rejected",
				logger.Error(err),
				logger.String("id", env.ID),
				logger.Int64("offset", msg.Offset),
			)
			return true
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Decode parses a message value as an envelope. Envelopes without an ID are
// identified by their topic position so redeliveries are deduplicated.
func Decode(msg kafkago.Message) (model.Envelope, error) { //nolint:gocritic // hugeParam: kafka-go passes messages by value
	var env model.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := env.Validate(); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.ID == "" {
		env.ID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return env, nil
}
