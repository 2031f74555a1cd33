// Package routing picks the agent that should handle a user query.
//
// Engine makes one classification attempt and reports errors. Orchestrator
// wraps it so callers always receive a decision.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/usecase/multiagent"
	"switchboard/internal/usecase/tracing"
)

// Defaults for EngineConfig fields left at zero.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxTokens       = 300
	DefaultContextMessages = 5
	keywordConfidence      = 0.5
)

// EngineConfig tunes the classifier call.
type EngineConfig struct {
	// ConfidenceThreshold defaults to domain.DefaultConfidenceThreshold when
	// nil. Zero accepts every provider decision.
	ConfidenceThreshold *float64
	Timeout             time.Duration
	MaxTokens           int
	ContextMessages     int
	// RouterAgentName is passed to the ModelSelector to pick the model.
	RouterAgentName string
}

// EngineConfigFrom maps the routing config section onto EngineConfig.
func EngineConfigFrom(cfg config.RoutingConfig) EngineConfig {
	threshold := cfg.ConfidenceThreshold
	return EngineConfig{
		ConfidenceThreshold: &threshold,
		Timeout:             cfg.Timeout,
		MaxTokens:           cfg.MaxTokens,
		ContextMessages:     cfg.ContextMessages,
		RouterAgentName:     cfg.RouterAgentName,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	if t := c.ConfidenceThreshold; t == nil || math.IsNaN(*t) || *t < 0 {
		def := domain.DefaultConfidenceThreshold
		c.ConfidenceThreshold = &def
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ContextMessages < 0 {
		c.ContextMessages = 0
	} else if c.ContextMessages == 0 {
		c.ContextMessages = DefaultContextMessages
	}
	return c
}

// Engine classifies a query with an LLM, falling back to keyword matching
// when the provider has no credential.
type Engine struct {
	provider  domain.LLMProvider
	models    domain.ModelSelector
	registry  domain.AgentRegistry
	keywords  *multiagent.KeywordRouter
	cfg       EngineConfig
	threshold float64
	logger    *slog.Logger
}

// NewEngine creates a routing engine. provider, models and registry may be
// nil; registry supplies the default agent when none is offered.
func NewEngine(provider domain.LLMProvider, models domain.ModelSelector, registry domain.AgentRegistry, keywords *multiagent.KeywordRouter, cfg EngineConfig, log *slog.Logger) *Engine {
	log = logger.OrDiscard(log)
	if keywords == nil {
		keywords = multiagent.NewKeywordRouter(multiagent.KeywordConfig{}, log)
	}
	cfg = cfg.withDefaults()
	return &Engine{
		provider:  provider,
		models:    models,
		registry:  registry,
		keywords:  keywords,
		cfg:       cfg,
		threshold: *cfg.ConfidenceThreshold,
		logger:    log,
	}
}

// Threshold returns the effective confidence threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Decide makes one routing attempt. Provider, schema and timeout errors are
// returned to the caller unchanged in kind.
func (e *Engine) Decide(ctx context.Context, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	if len(rc.AvailableAgents) == 0 {
		return domain.RoutingDecision{}, domain.NewSubSystemError("routing", "Engine.Decide", domain.ErrInvalidInput, "no available agents")
	}

	tc := tracing.FromContext(ctx)
	start := time.Now()
	spanID := tc.OpenSpan(domain.TraceAgentRouting, map[string]any{
		"query":          rc.Query,
		"context_length": len(rc.ConversationContext),
		"agent_ids":      agentIDs(rc.AvailableAgents),
	}, nil)

	d, err := e.decide(ctx, tc, rc)

	durationMs := float64(time.Since(start).Microseconds()) / 1000
	if spanID != "" {
		var outputs, meta map[string]any
		if err != nil {
			outputs = map[string]any{"error": err.Error()}
			meta = map[string]any{
				domain.MetaDurationMs:   durationMs,
				domain.MetaErrorMessage: err.Error(),
			}
		} else {
			outputs = map[string]any{
				"agent_id":   d.AgentID,
				"confidence": d.Confidence,
				"fallback":   d.Fallback,
			}
			meta = map[string]any{
				domain.MetaDurationMs: durationMs,
				domain.MetaAgentID:    d.AgentID,
				domain.MetaConfidence: d.Confidence,
			}
			if d.Usage != nil {
				meta[domain.MetaTokenCount] = d.Usage.TotalTokens
			}
		}
		if cerr := tc.CloseSpan(spanID, outputs, meta); cerr != nil {
			e.logger.Warn("close routing span", "error", cerr)
		}
	}

	if err != nil {
		e.logger.Debug("routing attempt failed", "session_id", rc.SessionID, "error", err)
		return domain.RoutingDecision{}, err
	}
	e.logger.Debug("routing decided",
		"session_id", rc.SessionID,
		"agent_id", d.AgentID,
		"confidence", d.Confidence,
		"fallback", d.Fallback,
		"reason", d.FallbackReason,
		"duration_ms", durationMs,
	)
	return d, nil
}

func (e *Engine) decide(ctx context.Context, tc *tracing.Context, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	def := resolveDefault(rc.AvailableAgents, e.registry, "")

	if strings.TrimSpace(rc.Query) == "" {
		return domain.RoutingDecision{
			AgentID:        def.ID,
			AgentName:      def.Name,
			Confidence:     1.0,
			Reasoning:      "Empty query; routed to the default agent.",
			Fallback:       true,
			FallbackReason: domain.ReasonEmptyQuery,
		}, nil
	}

	if !domain.HasUsableCredential(e.provider) {
		return e.keywordDecision(rc, def), nil
	}

	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	callCtx, cancel := context.WithTimeout(tc.SpanContext(ctx), timeout)
	defer cancel()

	var model string
	if e.models != nil {
		model = e.models.ModelForAgent(e.cfg.RouterAgentName)
	}
	resp, err := e.provider.Chat(callCtx, domain.ChatRequest{
		Model:          model,
		Messages:       buildMessages(rc, e.cfg.ContextMessages),
		MaxTokens:      e.cfg.MaxTokens,
		ResponseFormat: domain.ResponseFormatJSON,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return domain.RoutingDecision{}, err
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return domain.RoutingDecision{}, domain.NewSubSystemError("routing", "Engine.Decide", domain.ErrTimeout,
				fmt.Sprintf("classifier did not answer within %s", timeout))
		}
		return domain.RoutingDecision{}, err
	}

	raw, err := parseDecision(resp.Message.Content)
	if err != nil {
		return domain.RoutingDecision{}, err
	}

	agent, ok := findAgent(rc.AvailableAgents, raw.AgentID)
	if !ok {
		return domain.RoutingDecision{}, domain.NewSubSystemError("routing", "Engine.Decide",
			fmt.Errorf("%w: %w", domain.ErrRouting, domain.ErrNotFound),
			fmt.Sprintf("classifier chose unknown agent %q", raw.AgentID))
	}

	usage := resp.Usage
	d := domain.RoutingDecision{
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
		Usage:      &usage,
	}

	if d.Confidence < e.threshold {
		d.Reasoning = fmt.Sprintf("Low confidence (%.2f < %.2f) for %s; routed to the default agent. %s",
			raw.Confidence, e.threshold, agent.ID, raw.Reasoning)
		d.AgentID = def.ID
		d.AgentName = def.Name
		d.Fallback = true
		d.FallbackReason = domain.ReasonLowConfidence
	}
	return d, nil
}

func (e *Engine) keywordDecision(rc domain.RoutingContext, def domain.Agent) domain.RoutingDecision {
	m := e.keywords.Route(rc.Query, rc.AvailableAgents, def)
	reasoning := "No LLM credential available and no keyword matched; routed to the default agent."
	if m.Keyword != "" {
		reasoning = fmt.Sprintf("No LLM credential available; keyword %q matched %s.", m.Keyword, m.Agent.ID)
	}
	return domain.RoutingDecision{
		AgentID:        m.Agent.ID,
		AgentName:      m.Agent.Name,
		Confidence:     keywordConfidence,
		Reasoning:      reasoning,
		Fallback:       true,
		FallbackReason: domain.ReasonNoAPIKey,
	}
}

// Route is Decide with an error boundary: any failure other than an empty
// agent list becomes a zero-confidence decision for the default agent.
func (e *Engine) Route(ctx context.Context, rc domain.RoutingContext) (d domain.RoutingDecision, err error) {
	if len(rc.AvailableAgents) == 0 {
		return e.Decide(ctx, rc)
	}

	defer func() {
		if r := recover(); r != nil {
			d, err = e.boundary(ctx, rc, fmt.Errorf("panic during routing: %v", r)), nil
		}
	}()

	d, err = e.Decide(ctx, rc)
	if err != nil {
		return e.boundary(ctx, rc, err), nil
	}
	return d, nil
}

func (e *Engine) boundary(ctx context.Context, rc domain.RoutingContext, err error) domain.RoutingDecision {
	tracing.FromContext(ctx).Log(domain.TraceError,
		map[string]any{"operation": "routing", "query": rc.Query},
		nil,
		map[string]any{domain.MetaErrorMessage: err.Error()},
	)
	e.logger.Error("routing failed, using default agent", "session_id", rc.SessionID, "error", err)

	def := resolveDefault(rc.AvailableAgents, e.registry, "")
	return domain.RoutingDecision{
		AgentID:        def.ID,
		AgentName:      def.Name,
		Confidence:     0,
		Reasoning:      "Routing failed: " + err.Error(),
		Fallback:       true,
		FallbackReason: domain.ReasonUnknownError,
	}
}

func findAgent(agents []domain.Agent, id string) (domain.Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Agent{}, false
}

func agentIDs(agents []domain.Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}
