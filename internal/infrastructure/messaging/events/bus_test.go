package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(func(Event) { order = append(order, i) })
	}

	b.Publish(Initialized, nil)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestBus_PanickingListenerIsIsolated(t *testing.T) {
	b := NewBus()
	var got []Name
	b.Subscribe(func(e Event) { got = append(got, e.Name) })
	b.Subscribe(func(Event) { panic("listener failure") })
	b.Subscribe(func(e Event) { got = append(got, e.Name) })

	assert.NotPanics(t, func() { b.Publish(HeatmapProgress, ProgressPayload{Progress: 50}) })
	assert.Equal(t, []Name{HeatmapProgress, HeatmapProgress}, got)
}

func TestBus_EventCarriesIDTimestampAndPayload(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBus(WithClock(func() time.Time { return fixed }))

	var received Event
	b.Subscribe(func(e Event) { received = e })
	ev := b.Publish(ModelUpdated, ModelUpdatedPayload{Model: "heatmap", DataPoints: 3})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, ev, received)
	assert.Equal(t, fixed, received.Timestamp)
	payload, ok := received.Payload.(ModelUpdatedPayload)
	require.True(t, ok)
	assert.Equal(t, 3, payload.DataPoints)

	other := b.Publish(ModelUpdated, nil)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0
	sub := b.Subscribe(func(Event) { calls++ })

	assert.True(t, b.Unsubscribe(sub))
	assert.False(t, b.Unsubscribe(sub))
	assert.False(t, b.Unsubscribe(nil))
	b.Publish(Error, nil)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.ListenerCount())
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	b := NewBus()
	var second int
	var sub *Subscription
	b.Subscribe(func(Event) { b.Unsubscribe(sub) })
	sub = b.Subscribe(func(Event) { second++ })

	b.Publish(Initialized, nil)
	assert.Equal(t, 1, second)
	b.Publish(Initialized, nil)
	assert.Equal(t, 1, second)
}

func TestBus_Clear(t *testing.T) {
	b := NewBus()
	b.Subscribe(func(Event) {})
	b.Subscribe(func(Event) {})
	assert.Nil(t, b.Subscribe(nil))

	assert.Equal(t, 2, b.Clear())
	assert.Equal(t, 0, b.ListenerCount())
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	count := 0
	b.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(BulkProgress, BulkPayload{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}
