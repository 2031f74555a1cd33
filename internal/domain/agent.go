package domain

import "context"

// Agent describes a named handler for a category of user intent.
type Agent struct {
	ID           string   `json:"id"             yaml:"id"`
	Name         string   `json:"name"           yaml:"name"`
	Description  string   `json:"description"    yaml:"description"`
	WhenToUse    []string `json:"when_to_use"     yaml:"when_to_use"`
	WhenNotToUse []string `json:"when_not_to_use" yaml:"when_not_to_use"`
	Default      bool     `json:"default"        yaml:"default"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
}

// AgentRegistry is the read-only, cached agent catalog.
type AgentRegistry interface {
	// Load validates and caches the catalog on first use.
	Load(ctx context.Context) ([]Agent, error)
	GetByID(id string) (Agent, error)
	GetDefault() (Agent, error)
	IsValid(id string) bool
}

// HandoffContext is the reduced context a target agent receives on handoff.
type HandoffContext struct {
	ConversationHistory []Message `json:"conversation_history"`
	HarnessTraceID      string    `json:"harness_trace_id,omitempty"`
	UserIntent          string    `json:"user_intent"`
	SessionID           string    `json:"session_id"`
}

// AgentResponse is whatever the target agent returns. The core does not
// interpret it beyond logging completion.
type AgentResponse struct {
	AgentID string         `json:"agent_id"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// AgentHandler is an external agent that can take over a conversation.
type AgentHandler interface {
	Handle(ctx context.Context, hc HandoffContext) (*AgentResponse, error)
}

// AgentHandlerFunc adapts a function to AgentHandler.
type AgentHandlerFunc func(ctx context.Context, hc HandoffContext) (*AgentResponse, error)

func (f AgentHandlerFunc) Handle(ctx context.Context, hc HandoffContext) (*AgentResponse, error) {
	return f(ctx, hc)
}
