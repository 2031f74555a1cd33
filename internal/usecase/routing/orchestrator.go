package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
	"switchboard/internal/usecase/tracing"
)

// Decider makes a single routing attempt. *Engine implements it.
type Decider interface {
	Decide(ctx context.Context, rc domain.RoutingContext) (domain.RoutingDecision, error)
}

// DefaultLastResortAgent is used when neither the request nor the registry
// can name a default agent.
const DefaultLastResortAgent = "router"

// Orchestrator always produces a decision: registry bootstrap, engine
// failures, invalid picks and panics all resolve to the default agent.
type Orchestrator struct {
	engine     Decider
	registry   domain.AgentRegistry
	recorder   *FallbackRecorder
	lastResort string
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator. recorder may be nil.
func NewOrchestrator(engine Decider, registry domain.AgentRegistry, recorder *FallbackRecorder, lastResort string, log *slog.Logger) *Orchestrator {
	if lastResort == "" {
		lastResort = DefaultLastResortAgent
	}
	return &Orchestrator{
		engine:     engine,
		registry:   registry,
		recorder:   recorder,
		lastResort: lastResort,
		logger:     logger.OrDiscard(log),
	}
}

// Route returns a decision for rc. It never returns an error and never
// panics; the returned confidence is always within [0, 1].
func (o *Orchestrator) Route(ctx context.Context, rc domain.RoutingContext) (d domain.RoutingDecision) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during routing: %v", r)
			o.logger.Error("routing panic recovered", "session_id", rc.SessionID, "panic", r)
			d = o.fallback(ctx, rc, domain.ReasonUnknownError, msg, nil)
		}
		d.Confidence = clamp(d.Confidence)
	}()

	if len(rc.AvailableAgents) == 0 {
		agents, err := o.loadAgents(ctx)
		if err != nil {
			return o.fallback(ctx, rc, domain.ReasonRegistryError, "agent registry unavailable: "+err.Error(), nil)
		}
		rc.AvailableAgents = agents
	}

	d, err := o.engine.Decide(ctx, rc)
	if err != nil {
		reason, msg := Classify(err)
		tracing.FromContext(ctx).Log(domain.TraceError,
			map[string]any{"operation": "routing", "query": rc.Query},
			nil,
			map[string]any{domain.MetaErrorMessage: err.Error(), "fallback_reason": string(reason)},
		)
		return o.fallback(ctx, rc, reason, msg, nil)
	}

	if !o.available(rc, d) {
		original := d.Confidence
		return o.fallback(ctx, rc, domain.ReasonAgentUnavailable,
			fmt.Sprintf("agent %q is not available", d.AgentID), &original)
	}

	if d.Fallback {
		rec := domain.FallbackRecord{
			Reason:    d.FallbackReason,
			AgentID:   d.AgentID,
			AgentName: d.AgentName,
			SessionID: rc.SessionID,
			Query:     rc.Query,
		}
		if d.FallbackReason == domain.ReasonLowConfidence {
			c := d.Confidence
			rec.OriginalConfidence = &c
		}
		o.recorder.Record(ctx, rec)
		return d
	}

	o.recorder.Decided(ctx, rc.SessionID, d)
	return d
}

func (o *Orchestrator) loadAgents(ctx context.Context) ([]domain.Agent, error) {
	if o.registry == nil {
		return nil, fmt.Errorf("%w: no registry configured", domain.ErrRegistry)
	}
	agents, err := o.registry.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: registry is empty", domain.ErrRegistry)
	}
	return agents, nil
}

// available reports whether the decided agent is registered and offered in
// rc. A fallback to the resolved default agent only has to be registered.
func (o *Orchestrator) available(rc domain.RoutingContext, d domain.RoutingDecision) bool {
	if o.registry != nil && !o.registry.IsValid(d.AgentID) {
		return false
	}
	if _, ok := findAgent(rc.AvailableAgents, d.AgentID); ok {
		return true
	}
	return d.Fallback && d.AgentID != "" && d.AgentID == o.defaultAgent(rc).ID
}

// fallback builds and records a zero-confidence decision for the default
// agent.
func (o *Orchestrator) fallback(ctx context.Context, rc domain.RoutingContext, reason domain.FallbackReason, msg string, original *float64) domain.RoutingDecision {
	agent := o.defaultAgent(rc)
	d := domain.RoutingDecision{
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		Confidence:     0,
		Reasoning:      fmt.Sprintf("Fallback to default agent (%s): %s", reason, msg),
		Fallback:       true,
		FallbackReason: reason,
	}
	o.recorder.Record(ctx, domain.FallbackRecord{
		Reason:             reason,
		ErrorMessage:       msg,
		AgentID:            d.AgentID,
		AgentName:          d.AgentName,
		OriginalConfidence: original,
		SessionID:          rc.SessionID,
		Query:              rc.Query,
	})
	return d
}

// defaultAgent resolves the default agent for rc, falling back to the
// last-resort id.
func (o *Orchestrator) defaultAgent(rc domain.RoutingContext) (agent domain.Agent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("default agent lookup panicked", "panic", r)
			agent = domain.Agent{ID: o.lastResort}
		}
	}()
	return resolveDefault(rc.AvailableAgents, o.registry, o.lastResort)
}

// resolveDefault picks, in order: the default among the offered agents, the
// registry default, the first offered agent, lastResort.
func resolveDefault(offered []domain.Agent, registry domain.AgentRegistry, lastResort string) domain.Agent {
	for _, a := range offered {
		if a.Default {
			return a
		}
	}
	if a, ok := registryDefault(registry); ok {
		return a
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return domain.Agent{ID: lastResort}
}

// registryDefault treats a failing or panicking registry as having no default.
func registryDefault(registry domain.AgentRegistry) (agent domain.Agent, ok bool) {
	if registry == nil {
		return domain.Agent{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			agent, ok = domain.Agent{}, false
		}
	}()
	a, err := registry.GetDefault()
	if err != nil || a.ID == "" {
		return domain.Agent{}, false
	}
	return a, true
}

func clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
