// Package events implements the engine's in-process publish/subscribe bus.
// Listeners are invoked synchronously in registration order; a panicking
// listener is logged and skipped so it can neither break the publisher nor
// starve the listeners registered after it.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
)

// Name identifies an engine event.
type Name string

const (
	Initialized                Name = "initialized"
	HeatmapGenerationStarted   Name = "heatmap_generation_started"
	HeatmapProgress            Name = "heatmap_progress"
	HeatmapGenerationCompleted Name = "heatmap_generation_completed"
	AnalysisStarted            Name = "analysis_started"
	AnalysisCompleted          Name = "analysis_completed"
	TrainingStarted            Name = "training_started"
	TrainingProgress           Name = "training_progress"
	TrainingCompleted          Name = "training_completed"
	ModelUpdated               Name = "model_updated"
	ImageAnalysisStarted       Name = "image_analysis_started"
	ImageAnalysisCompleted     Name = "image_analysis_completed"
	BulkAnalysisStarted        Name = "bulk_analysis_started"
	BulkProgress               Name = "bulk_progress"
	BulkAnalysisCompleted      Name = "bulk_analysis_completed"
	Error                      Name = "error"
)

// Event is one published notification.
type Event struct {
	ID        string    `json:"id"`
	Name      Name      `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Listener receives events.
type Listener func(Event)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(name Name, payload any) Event
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id uint64
}

type entry struct {
	id       uint64
	listener Listener
}

// Bus is a synchronous observer registry. It is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	entries []entry
	nextID  uint64

	logger logging.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for listener failures.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger: logging.NewNopLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers l and returns its subscription.
func (b *Bus) Subscribe(l Listener) *Subscription {
	if l == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.entries = append(b.entries, entry{id: b.nextID, listener: l})
	return &Subscription{id: b.nextID}
}

// Unsubscribe removes the listener behind s. It reports whether the
// subscription was active.
func (b *Bus) Unsubscribe(s *Subscription) bool {
	if s == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.id == s.id {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers an event to every current listener and returns it.
func (b *Bus) Publish(name Name, payload any) Event {
	ev := Event{ID: b.newID(), Name: name, Timestamp: b.now(), Payload: payload}

	b.mu.RLock()
	listeners := make([]entry, len(b.entries))
	copy(listeners, b.entries)
	b.mu.RUnlock()

	for _, e := range listeners {
		b.deliver(e, ev)
	}
	return ev
}

func (b *Bus) deliver(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				logging.String("event", string(ev.Name)),
				logging.Int64("subscription", int64(e.id)),
				logging.String("panic", fmt.Sprint(r)))
		}
	}()
	e.listener(ev)
}

// ListenerCount returns the number of active listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear removes all listeners and returns how many were removed.
func (b *Bus) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	b.entries = nil
	return n
}

var _ Publisher = (*Bus)(nil)
