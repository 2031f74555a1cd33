package domain

import (
	"context"
	"time"
)

// TraceEventType is the closed set of event kinds recorded in a trace.
type TraceEventType string

const (
	TraceSessionStart           TraceEventType = "SESSION_START"
	TraceSessionEnd             TraceEventType = "SESSION_END"
	TraceModeTransition         TraceEventType = "MODE_TRANSITION"
	TraceAgentRouting           TraceEventType = "AGENT_ROUTING"
	TraceAgentHandoff           TraceEventType = "AGENT_HANDOFF"
	TraceToolInvocation         TraceEventType = "TOOL_INVOCATION"
	TracePerspectiveIntegration TraceEventType = "PERSPECTIVE_INTEGRATION"
	TraceCostTracked            TraceEventType = "COST_TRACKED"
	TraceError                  TraceEventType = "ERROR"
	TraceUserInput              TraceEventType = "USER_INPUT"
	TraceAgentResponse          TraceEventType = "AGENT_RESPONSE"
)

// Valid reports whether t is a known event type.
func (t TraceEventType) Valid() bool {
	switch t {
	case TraceSessionStart, TraceSessionEnd, TraceModeTransition, TraceAgentRouting,
		TraceAgentHandoff, TraceToolInvocation, TracePerspectiveIntegration,
		TraceCostTracked, TraceError, TraceUserInput, TraceAgentResponse:
		return true
	}
	return false
}

// Recognized metadata keys.
const (
	MetaDurationMs   = "duration_ms"
	MetaTokenCount   = "token_count"
	MetaCostUSD      = "cost_usd"
	MetaConfidence   = "confidence"
	MetaErrorMessage = "error_message"
	MetaAgentID      = "agent_id"
	MetaMode         = "mode"
)

// TraceEvent is a span or point event. Children form a tree.
type TraceEvent struct {
	SpanID    string         `json:"span_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	EventType TraceEventType `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Children  []TraceEvent   `json:"children,omitempty"`
}

// TraceSummary holds metrics aggregated while the trace is open.
type TraceSummary struct {
	TotalEvents     int      `json:"total_events"`
	TotalDurationMs float64  `json:"total_duration_ms"`
	TotalTokens     int      `json:"total_tokens"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	AgentsUsed      []string `json:"agents_used"`
	ModesUsed       []string `json:"modes_used"`
	Errors          int      `json:"errors"`
}

// Trace is the nested record of one session or request.
type Trace struct {
	TraceID   string       `json:"trace_id"`
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Events    []TraceEvent `json:"events"`
	Summary   TraceSummary `json:"summary"`
}

// TraceStore persists ended traces.
type TraceStore interface {
	InsertTrace(ctx context.Context, t *Trace) error
	GetTrace(ctx context.Context, traceID string) (*Trace, error)
	TracesForSession(ctx context.Context, sessionID string) ([]*Trace, error)
	TracesForUser(ctx context.Context, userID string, limit int) ([]*Trace, error)
	DeleteTracesEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
