package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// RateLimitedProvider enforces a local token bucket before every call. An
// exhausted bucket fails immediately with domain.ErrRateLimit instead of
// queueing, so a saturated router degrades to its fallback path.
type RateLimitedProvider struct {
	inner   domain.LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner with a limiter built from cfg.
func NewRateLimitedProvider(inner domain.LLMProvider, cfg config.RateLimitConfig) *RateLimitedProvider {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if !p.limiter.Allow() {
		return nil, fmt.Errorf("provider %q: %w: local limit %.2f req/s", p.inner.Name(), domain.ErrRateLimit, float64(p.limiter.Limit()))
	}
	return p.inner.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// HasCredential implements domain.CredentialedProvider.
func (p *RateLimitedProvider) HasCredential() bool { return domain.HasUsableCredential(p.inner) }

var _ domain.CredentialedProvider = (*RateLimitedProvider)(nil)
