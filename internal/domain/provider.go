package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "anthropic").
	Name() string
}

// CredentialedProvider is implemented by providers that can tell whether
// they hold a usable credential without making a call.
type CredentialedProvider interface {
	LLMProvider
	HasCredential() bool
}

// HasUsableCredential reports whether p can be called. Providers that do not
// implement CredentialedProvider are assumed usable.
func HasUsableCredential(p LLMProvider) bool {
	if p == nil {
		return false
	}
	if cp, ok := p.(CredentialedProvider); ok {
		return cp.HasCredential()
	}
	return true
}

// ModelSelector picks the model used on behalf of a named agent.
type ModelSelector interface {
	ModelForAgent(name string) string
}
