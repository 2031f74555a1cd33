package main

import (
	"fmt"
	"log/slog"

	"switchboard/internal/adapter/llm"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// LLMComponents holds the provider used for routing and the model selector.
type LLMComponents struct {
	Registry *llm.Registry
	Router   domain.LLMProvider // nil when no provider is configured
	Models   *llm.ModelRouter
}

// initLLM builds every configured provider, wraps each with the local rate
// limiter and circuit breaker, and resolves the routing provider with its
// optional single failover.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry := llm.NewRegistry()

	rl := cfg.LLM.RateLimit
	cb := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if cb.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cb, log)
		}
		if rl.Enabled {
			provider = llm.NewRateLimitedProvider(provider, rl)
		}
		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cb.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}
	if rl.Enabled {
		log.Info("llm rate limit enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	comp := &LLMComponents{Registry: registry}

	name := cfg.Routing.Provider
	if name == "" {
		name = cfg.LLM.DefaultProvider
	}
	var fallbackModel string
	for _, pc := range cfg.LLM.Providers {
		if pc.Name == name {
			fallbackModel = pc.Model
		}
	}
	comp.Models = llm.NewModelRouter(cfg.LLM.ModelRouting, fallbackModel)

	if len(cfg.LLM.Providers) == 0 {
		log.Warn("no llm providers configured; routing uses keyword matching")
		return comp, nil
	}

	primary, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("routing provider: %w", err)
	}
	comp.Router = primary

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		fbName := cfg.LLM.Failover.Fallbacks[0]
		secondary, err := registry.Get(fbName)
		if err != nil {
			return nil, fmt.Errorf("failover provider %s: %w", fbName, err)
		}
		comp.Router = llm.NewFailoverProvider(primary, secondary, log)
		log.Info("provider failover enabled", "primary", name, "secondary", fbName)
	}
	return comp, nil
}

func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "anthropic":
		return llm.NewAnthropicProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}
