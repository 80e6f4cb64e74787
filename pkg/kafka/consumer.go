package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/sourcegraph/conc"

	applogger "SignalGate/pkg/logger"
)

// Message is what handlers see of a consumed record.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// MessageHandler handles messages from the consumer's topic.
type MessageHandler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic with a consumer group and fans messages out to a
// fixed worker pool. A message is committed after its handler returns,
// whether or not the handler succeeded: handlers are expected to persist
// their own failures.
type Consumer struct {
	cfg     *ConsumerConfig
	reader  messageReader
	handler MessageHandler
	log     *applogger.Logger
	msgs    chan kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(handler MessageHandler, l *applogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "signalgate",
		WorkerCount: 1,
		BufferSize:  16,
		RetryMax:    3,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("brokers and topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(cfg, reader, handler, l), nil
}

func newConsumer(cfg *ConsumerConfig, r messageReader, h MessageHandler, l *applogger.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		reader:  r,
		handler: h,
		log:     l.With(applogger.String("topic", cfg.Topic)),
		msgs:    make(chan kafka.Message, cfg.BufferSize),
	}
}

// Run blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Go(func() { c.worker(ctx) })
	}

	err := c.fetchLoop(ctx)
	close(c.msgs)
	wg.Wait()

	if cerr := c.reader.Close(); cerr != nil {
		c.log.Warn("kafka reader close", applogger.Error(cerr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) fetchLoop(ctx context.Context) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		select {
		case c.msgs <- km:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) worker(ctx context.Context) {
	for km := range c.msgs {
		msg := toMessage(km)
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, c.handler.Handle(ctx, msg)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.cfg.RetryMax))
		if err != nil {
			c.log.Error("kafka handler failed", applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset), applogger.Error(err))
		}
		if ctx.Err() != nil {
			// not committed, so the group redelivers it after restart
			return
		}
		if err := c.reader.CommitMessages(ctx, km); err != nil {
			c.log.Error("kafka commit failed", applogger.Int64("offset", km.Offset), applogger.Error(err))
		}
	}
}

func toMessage(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     km.Topic,
		Key:       km.Key,
		Value:     km.Value,
		Headers:   headers,
		Partition: km.Partition,
		Offset:    km.Offset,
	}
}
