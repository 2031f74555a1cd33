package domain

import (
	"context"
	"time"
)

// HandoffRequest asks to transfer conversational control between agents.
type HandoffRequest struct {
	SessionID           string    `json:"session_id"`
	FromAgent           string    `json:"from_agent"`
	ToAgent             string    `json:"to_agent"`
	Reason              string    `json:"reason"`
	ConversationHistory []Message `json:"conversation_history"`
	HarnessTraceID      string    `json:"harness_trace_id,omitempty"`
	UserIntent          string    `json:"user_intent"`
}

// HandoffEvent is the append-only audit record of a handoff.
type HandoffEvent struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	FromAgent           string    `json:"from_agent"`
	ToAgent             string    `json:"to_agent"`
	Reason              string    `json:"reason"`
	ConversationHistory []Message `json:"conversation_history"`
	HarnessTraceID      string    `json:"harness_trace_id,omitempty"`
	UserIntent          string    `json:"user_intent"`
	CreatedAt           time.Time `json:"created_at"`
}

// HandoffResult is returned by a successful handoff.
type HandoffResult struct {
	Event    HandoffEvent   `json:"event"`
	Response *AgentResponse `json:"response,omitempty"`
}

// HandoffFilter narrows a handoff count. Empty fields match everything.
type HandoffFilter struct {
	FromAgent string
	ToAgent   string
}

// HandoffStore persists handoff events. Inserts are append-only.
type HandoffStore interface {
	InsertHandoff(ctx context.Context, e *HandoffEvent) error
	HandoffHistory(ctx context.Context, sessionID string) ([]HandoffEvent, error)
	LastHandoff(ctx context.Context, sessionID string) (*HandoffEvent, error)
	CountHandoffs(ctx context.Context, sessionID string, filter HandoffFilter) (int, error)
}
