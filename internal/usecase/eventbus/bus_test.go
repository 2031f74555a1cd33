package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"switchboard/internal/domain"
)

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now(), SessionID: "s1"}
}

func TestPublishSubscribe(t *testing.T) {
	bus := New(nil)

	var fallbacks, handoffs atomic.Int32
	bus.Subscribe(domain.EventRoutingFallback, func(_ context.Context, e domain.Event) {
		assert.Equal(t, "s1", e.SessionID)
		fallbacks.Add(1)
	})
	bus.Subscribe(domain.EventAgentHandoff, func(context.Context, domain.Event) { handoffs.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventRoutingFallback))
	bus.Close()

	assert.Equal(t, int32(1), fallbacks.Load())
	assert.Equal(t, int32(0), handoffs.Load())
}

func TestSubscribeAll(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventRoutingFallback))
	bus.Publish(context.Background(), newEvent(domain.EventTraceEnded))
	bus.Close()

	assert.Equal(t, int32(2), got.Load())
	published, _ := bus.Stats()
	assert.Equal(t, uint64(2), published)
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventTraceEnded, func(context.Context, domain.Event) { got.Add(1) })
	unsub()
	unsub()

	bus.Publish(context.Background(), newEvent(domain.EventTraceEnded))
	bus.Close()
	assert.Equal(t, int32(0), got.Load())
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventRoutingDecided))
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, int32(50), got.Load())
}

func TestPanicRecovery(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentHandoff, func(context.Context, domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventAgentHandoff, func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventAgentHandoff))
	bus.Close()

	assert.Equal(t, int32(1), got.Load())
	_, panics := bus.Stats()
	assert.Equal(t, uint64(1), panics)
}

func TestHandlersOutliveCanceledContext(t *testing.T) {
	bus := New(nil)

	var ctxErr atomic.Value
	bus.SubscribeAll(func(ctx context.Context, _ domain.Event) { ctxErr.Store(ctx.Err() == nil) })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, newEvent(domain.EventTraceEnded))
	cancel()
	bus.Close()

	assert.Equal(t, true, ctxErr.Load())
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) {
		time.Sleep(20 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRoutingFallback))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())

	bus.Publish(context.Background(), newEvent(domain.EventRoutingFallback))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}
