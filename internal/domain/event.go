package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published on the bus.
type EventType string

const (
	EventRoutingDecided  EventType = "routing.decided"
	EventRoutingFallback EventType = "routing.fallback"
	EventAgentHandoff    EventType = "agent.handoff"
	EventTraceEnded      EventType = "trace.ended"
	EventRegistryLoaded  EventType = "registry.loaded"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// EventStore keeps the audit log of published events.
type EventStore interface {
	InsertEvent(ctx context.Context, e Event) error
	EventsForSession(ctx context.Context, sessionID string) ([]Event, error)
}

// NewEvent marshals payload into an Event. A payload that cannot be
// marshaled yields an event without payload.
func NewEvent(t EventType, sessionID string, payload any) Event {
	e := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}
