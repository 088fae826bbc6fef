package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

const defaultSinkBuffer = 1024

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SinkMetrics counts sink activity.
type SinkMetrics struct {
	Sent    atomic.Int64
	Failed  atomic.Int64
	Dropped atomic.Int64
}

// EventSink forwards engine events to a Kafka topic. Listen never blocks the
// publisher: events are queued and written by a background goroutine, and
// dropped when the queue is full.
type EventSink struct {
	writer       WriterInterface
	topic        string
	logger       logging.Logger
	writeTimeout time.Duration

	queue   chan events.Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	metrics SinkMetrics
}

// NewEventSink builds a kafka.Writer from cfg and starts the sink.
func NewEventSink(cfg config.KafkaConfig, logger logging.Logger) (*EventSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidParam("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.InvalidParam("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		Compression:  compression(cfg.Compression),
		WriteTimeout: 10 * time.Second,
	}
	return NewEventSinkWithWriter(w, cfg.Topic, logger, defaultSinkBuffer), nil
}

// NewEventSinkWithWriter starts a sink over an existing writer.
func NewEventSinkWithWriter(w WriterInterface, topic string, logger logging.Logger, buffer int) *EventSink {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &EventSink{
		writer:       w,
		topic:        topic,
		logger:       logger.Named("kafka-sink"),
		writeTimeout: 10 * time.Second,
		queue:        make(chan events.Event, buffer),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func requiredAcks(n int) kafka.RequiredAcks {
	switch n {
	case 0:
		return kafka.RequireNone
	case -1:
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

func compression(codec string) kafka.Compression {
	switch codec {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Listen enqueues ev for delivery. It is an events.Listener.
func (s *EventSink) Listen(ev events.Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		s.metrics.Dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.metrics.Dropped.Add(1)
		s.logger.Warn("event sink queue full, dropping event", logging.String("event", string(ev.Name)))
	}
}

func (s *EventSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		msg, err := toMessage(ev)
		if err != nil {
			s.metrics.Failed.Add(1)
			s.logger.Error("encode event failed", logging.String("event", string(ev.Name)), logging.Err(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err = s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.metrics.Failed.Add(1)
			s.logger.Warn("publish event failed",
				logging.String("topic", s.topic),
				logging.String("event", string(ev.Name)),
				logging.Err(err))
			continue
		}
		s.metrics.Sent.Add(1)
	}
}

func toMessage(ev events.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Name),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID)},
			{Key: "event-name", Value: []byte(ev.Name)},
		},
	}, nil
}

// Metrics returns the sent, failed and dropped counts.
func (s *EventSink) Metrics() (sent, failed, dropped int64) {
	return s.metrics.Sent.Load(), s.metrics.Failed.Load(), s.metrics.Dropped.Load()
}

// Close drains queued events, waits for delivery to finish or ctx to
// expire, and closes the writer.
func (s *EventSink) Close(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("event sink close timed out", logging.Int("pending", len(s.queue)))
	}
	sent, failed, dropped := s.Metrics()
	s.logger.Info("event sink closed",
		logging.Int64("sent", sent), logging.Int64("failed", failed), logging.Int64("dropped", dropped))
	return s.writer.Close()
}
