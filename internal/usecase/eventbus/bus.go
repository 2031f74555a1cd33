// Package eventbus fans routing, handoff and trace events out to in-process
// subscribers.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// anyType keys subscribers registered through SubscribeAll.
const anyType domain.EventType = "*"

type subscriber struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run in their own
// goroutines; a panicking handler is recovered and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscriber
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool

	published atomic.Uint64
	panics    atomic.Uint64
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscriber),
		logger: logger.OrDiscard(log),
	}
}

// Publish delivers event to subscribers of its type and to catch-all
// subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	targets := slices.Concat(b.subs[event.Type], b.subs[anyType])
	b.mu.RUnlock()

	for _, s := range targets {
		b.dispatch(ctx, event, s.handler)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, h domain.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.panics.Add(1)
				b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
			}
		}()
		h(context.WithoutCancel(ctx), event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[key] = slices.DeleteFunc(b.subs[key], func(s subscriber) bool { return s.id == id })
		})
	}
}

// Stats reports how many events were published and how many handler
// invocations panicked.
func (b *Bus) Stats() (published, panics uint64) {
	return b.published.Load(), b.panics.Load()
}

// Close stops accepting events and waits for running handlers. It is
// idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
