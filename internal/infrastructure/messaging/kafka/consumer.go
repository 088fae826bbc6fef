package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// ErrAlreadyRunning is returned by Start on a running consumer.
var ErrAlreadyRunning = errors.New(errors.CodeConflict, "consumer already running")

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler processes one message value. A handler error is logged and
// the message is still committed; a poison sample must not stall the topic.
type MessageHandler func(ctx context.Context, value []byte) error

// ConsumerMetrics counts consumer activity.
type ConsumerMetrics struct {
	Consumed  atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
}

// Consumer reads a single topic with a consumer group and hands each message
// to a handler. The engine uses it to fine-tune the heatmap model from
// observed samples.
type Consumer struct {
	reader  ReaderInterface
	handler MessageHandler
	logger  logging.Logger
	backoff time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics ConsumerMetrics
}

// NewConsumer builds a group reader for cfg.SamplesTopic.
func NewConsumer(cfg config.KafkaConfig, handler MessageHandler, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidParam("kafka brokers required")
	}
	if cfg.SamplesTopic == "" || cfg.GroupID == "" {
		return nil, errors.InvalidParam("kafka samples topic and group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.SamplesTopic,
		MinBytes:       1,
		MaxBytes:       10 * 1024 * 1024,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return NewConsumerWithReader(r, handler, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, handler MessageHandler, logger logging.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.InvalidParam("message handler must not be nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  logger.Named("kafka-consumer"),
		backoff: time.Second,
	}, nil
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch message failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.metrics.Consumed.Add(1)

		if err := c.handler(ctx, m.Value); err != nil {
			c.metrics.Failed.Add(1)
			c.logger.Warn("message handler failed",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset),
				logging.Err(err))
		} else {
			c.metrics.Processed.Add(1)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", logging.Int64("offset", m.Offset), logging.Err(err))
		}
	}
}

// Metrics returns the consumed, processed and failed counts.
func (c *Consumer) Metrics() (consumed, processed, failed int64) {
	return c.metrics.Consumed.Load(), c.metrics.Processed.Load(), c.metrics.Failed.Load()
}

// Close stops the loop and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return c.reader.Close()
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("kafka consumer closed", logging.Int64("consumed", c.metrics.Consumed.Load()))
	return c.reader.Close()
}
