package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// FailoverProvider substitutes a single secondary provider when the primary
// fails. There is no loop over further providers and no backoff.
type FailoverProvider struct {
	primary   domain.LLMProvider
	secondary domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary, secondary domain.LLMProvider, log *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		secondary: secondary,
		logger:    logger.OrDiscard(log),
	}
}

// Chat tries the primary provider, then the secondary once. When both fail
// the returned error wraps both causes so callers can still classify them.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, primaryErr := f.primary.Chat(ctx, req)
	if primaryErr == nil {
		return resp, nil
	}
	if f.secondary == nil || !domain.HasUsableCredential(f.secondary) || ctx.Err() != nil {
		return nil, primaryErr
	}

	f.logger.Warn("primary LLM failed, trying secondary",
		"primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", primaryErr)

	resp, err := f.secondary.Chat(ctx, req)
	if err == nil {
		f.logger.Info("failover succeeded", "provider", f.secondary.Name())
		return resp, nil
	}
	f.logger.Warn("secondary LLM failed", "provider", f.secondary.Name(), "error", err)

	return nil, fmt.Errorf("all providers failed: %w", errors.Join(
		fmt.Errorf("%s: %w", f.primary.Name(), primaryErr),
		fmt.Errorf("%s: %w", f.secondary.Name(), err),
	))
}

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}

// HasCredential reports whether either side can be called.
func (f *FailoverProvider) HasCredential() bool {
	return domain.HasUsableCredential(f.primary) || domain.HasUsableCredential(f.secondary)
}

var _ domain.CredentialedProvider = (*FailoverProvider)(nil)
