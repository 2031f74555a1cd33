package domain

import "time"

// DefaultConfidenceThreshold is the minimum score a provider decision must
// reach to be used unmodified.
const DefaultConfidenceThreshold = 0.6

// RoutingContext is the input to a routing decision.
type RoutingContext struct {
	Query               string   `json:"query"`
	ConversationContext []string `json:"conversation_context,omitempty"`
	SessionID           string   `json:"session_id"`
	// AvailableAgents may be empty; the fallback orchestrator then
	// bootstraps it from the registry.
	AvailableAgents []Agent `json:"available_agents,omitempty"`
	// Timeout bounds the provider call. Zero uses the engine default.
	Timeout time.Duration `json:"-"`
}

// RoutingDecision is produced fresh for every call and never persisted here.
type RoutingDecision struct {
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name,omitempty"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Fallback       bool           `json:"fallback"`
	FallbackReason FallbackReason `json:"fallback_reason,omitempty"`
	Usage          *Usage         `json:"usage,omitempty"`
}

// FallbackReason explains why a decision was substituted.
type FallbackReason string

const (
	ReasonLowConfidence    FallbackReason = "LOW_CONFIDENCE"
	ReasonTimeout          FallbackReason = "TIMEOUT"
	ReasonAPIError         FallbackReason = "API_ERROR"
	ReasonRateLimit        FallbackReason = "RATE_LIMIT"
	ReasonAgentUnavailable FallbackReason = "AGENT_UNAVAILABLE"
	ReasonRegistryError    FallbackReason = "REGISTRY_ERROR"
	ReasonUnknownError     FallbackReason = "UNKNOWN_ERROR"
	ReasonEmptyQuery       FallbackReason = "EMPTY_QUERY"
	ReasonNoAPIKey         FallbackReason = "NO_API_KEY"
)

// Valid reports whether r is one of the closed set of reasons.
func (r FallbackReason) Valid() bool {
	switch r {
	case ReasonLowConfidence, ReasonTimeout, ReasonAPIError, ReasonRateLimit,
		ReasonAgentUnavailable, ReasonRegistryError, ReasonUnknownError,
		ReasonEmptyQuery, ReasonNoAPIKey:
		return true
	}
	return false
}

// FallbackRecord is the observability record written for every fallback.
type FallbackRecord struct {
	Reason             FallbackReason `json:"reason"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	AgentID            string         `json:"agent_id"`
	AgentName          string         `json:"agent_name,omitempty"`
	OriginalConfidence *float64       `json:"original_confidence,omitempty"`
	SessionID          string         `json:"session_id"`
	Query              string         `json:"query"`
	Timestamp          time.Time      `json:"timestamp"`
}
