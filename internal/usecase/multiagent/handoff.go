package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
	"switchboard/internal/usecase/tracing"
)

// Handoff pipeline steps, reported in domain.HandoffError.Step.
const (
	StepValidate = "validate"
	StepPersist  = "persist"
	StepNotify   = "notify"
	StepInvoke   = "invoke"
)

// HandlerLookup resolves the handler that takes over for an agent.
type HandlerLookup interface {
	Handler(agentID string) (domain.AgentHandler, error)
}

// Handlers is a map-backed HandlerLookup.
type Handlers map[string]domain.AgentHandler

// Handler implements HandlerLookup.
func (h Handlers) Handler(agentID string) (domain.AgentHandler, error) {
	handler, ok := h[agentID]
	if !ok {
		return nil, domain.NewSubSystemError("agent", "Handlers.Handler", domain.ErrNotFound, "no handler for "+agentID)
	}
	return handler, nil
}

// HandoffPipeline transfers a conversation between agents: validate, persist,
// notify, invoke. The first failing step aborts the rest; earlier steps are
// not rolled back.
type HandoffPipeline struct {
	registry domain.AgentRegistry
	store    domain.HandoffStore
	handlers HandlerLookup
	bus      domain.EventBus
	logger   *slog.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewHandoffPipeline creates a pipeline. A nil handlers lookup records
// handoffs without invoking the target; bus may be nil.
func NewHandoffPipeline(registry domain.AgentRegistry, store domain.HandoffStore, handlers HandlerLookup, bus domain.EventBus, log *slog.Logger) *HandoffPipeline {
	now := time.Now
	return &HandoffPipeline{
		registry: registry,
		store:    store,
		handlers: handlers,
		bus:      bus,
		logger:   logger.OrDiscard(log),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(now().UnixNano())), 0),
		now:      now,
	}
}

// Handoff validates req, appends a HandoffEvent, emits the trace and bus
// events, then hands control to the target agent.
func (p *HandoffPipeline) Handoff(ctx context.Context, req domain.HandoffRequest) (*domain.HandoffResult, error) {
	tc := tracing.FromContext(ctx)

	if err := p.validate(req); err != nil {
		return nil, p.fail(tc, req, StepValidate, err)
	}

	event := domain.HandoffEvent{
		ID:                  p.newID(),
		SessionID:           req.SessionID,
		FromAgent:           req.FromAgent,
		ToAgent:             req.ToAgent,
		Reason:              req.Reason,
		ConversationHistory: req.ConversationHistory,
		HarnessTraceID:      req.HarnessTraceID,
		UserIntent:          req.UserIntent,
		CreatedAt:           p.now().UTC(),
	}
	if err := p.store.InsertHandoff(ctx, &event); err != nil {
		return nil, p.fail(tc, req, StepPersist, err)
	}

	tc.Log(domain.TraceAgentHandoff,
		map[string]any{
			"from_agent": req.FromAgent,
			"to_agent":   req.ToAgent,
			"reason":     req.Reason,
		},
		map[string]any{"handoff_id": event.ID},
		map[string]any{
			"conversation_length": len(req.ConversationHistory),
			domain.MetaAgentID:    req.ToAgent,
		},
	)
	if p.bus != nil {
		p.bus.Publish(ctx, domain.NewEvent(domain.EventAgentHandoff, req.SessionID, event))
	}

	result := &domain.HandoffResult{Event: event}
	if p.handlers == nil {
		p.logger.Debug("handoff recorded without handler", "handoff_id", event.ID, "to", req.ToAgent)
		return result, nil
	}

	handler, err := p.handlers.Handler(req.ToAgent)
	if err != nil {
		return nil, p.fail(tc, req, StepInvoke, err)
	}
	resp, err := handler.Handle(ctx, domain.HandoffContext{
		ConversationHistory: req.ConversationHistory,
		HarnessTraceID:      req.HarnessTraceID,
		UserIntent:          req.UserIntent,
		SessionID:           req.SessionID,
	})
	if err != nil {
		return nil, p.fail(tc, req, StepInvoke, err)
	}
	result.Response = resp

	p.logger.Info("handoff completed",
		"handoff_id", event.ID,
		"session_id", req.SessionID,
		"from", req.FromAgent,
		"to", req.ToAgent,
	)
	return result, nil
}

// validate checks the request fields in a fixed order and reports the first
// offending one.
func (p *HandoffPipeline) validate(req domain.HandoffRequest) error {
	if blank(req.SessionID) {
		return domain.NewFieldError("session_id", "must not be empty")
	}

	if blank(req.FromAgent) {
		return domain.NewFieldError("from_agent", "must not be empty")
	}
	if !p.registry.IsValid(req.FromAgent) {
		return unknownAgent("from_agent", req.FromAgent)
	}

	if blank(req.ToAgent) {
		return domain.NewFieldError("to_agent", "must not be empty")
	}
	if !p.registry.IsValid(req.ToAgent) {
		return unknownAgent("to_agent", req.ToAgent)
	}
	if req.ToAgent == req.FromAgent {
		return fmt.Errorf("%w: %w", domain.NewFieldError("to_agent", "must differ from from_agent"), domain.ErrSameAgent)
	}

	if blank(req.Reason) {
		return domain.NewFieldError("reason", "must not be empty")
	}
	if req.ConversationHistory == nil {
		return domain.NewFieldError("conversation_history", "must be a list")
	}
	if blank(req.UserIntent) {
		return domain.NewFieldError("user_intent", "must not be empty")
	}
	return nil
}

func unknownAgent(field, id string) error {
	return fmt.Errorf("%w: %w", domain.NewFieldError(field, fmt.Sprintf("unknown agent %q", id)),
		domain.NewSubSystemError("agent", "Registry.IsValid", domain.ErrNotFound, id))
}

// fail records the failure and wraps it in a HandoffError.
func (p *HandoffPipeline) fail(tc *tracing.Context, req domain.HandoffRequest, step string, err error) error {
	herr := &domain.HandoffError{FromAgent: req.FromAgent, ToAgent: req.ToAgent, Step: step, Err: err}

	tc.Log(domain.TraceError,
		map[string]any{
			"operation":  "handoff",
			"step":       step,
			"from_agent": req.FromAgent,
			"to_agent":   req.ToAgent,
		},
		nil,
		map[string]any{domain.MetaErrorMessage: herr.Error()},
	)

	var fe *domain.FieldError
	if errors.As(err, &fe) {
		p.logger.Warn("handoff rejected", "session_id", req.SessionID, "field", fe.Field, "error", err)
	} else {
		p.logger.Error("handoff failed", "session_id", req.SessionID, "step", step, "error", err)
	}
	return herr
}

// History returns the session's handoffs, oldest first. Storage failures
// yield an empty list.
func (p *HandoffPipeline) History(ctx context.Context, sessionID string) []domain.HandoffEvent {
	events, err := p.store.HandoffHistory(ctx, sessionID)
	if err != nil {
		p.logger.Warn("handoff history unavailable", "session_id", sessionID, "error", err)
		return []domain.HandoffEvent{}
	}
	if events == nil {
		return []domain.HandoffEvent{}
	}
	return events
}

// Last returns the session's most recent handoff, or nil.
func (p *HandoffPipeline) Last(ctx context.Context, sessionID string) *domain.HandoffEvent {
	e, err := p.store.LastHandoff(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("last handoff unavailable", "session_id", sessionID, "error", err)
		}
		return nil
	}
	return e
}

// Count returns how many handoffs match filter in the session, or 0 when
// storage fails.
func (p *HandoffPipeline) Count(ctx context.Context, sessionID string, filter domain.HandoffFilter) int {
	n, err := p.store.CountHandoffs(ctx, sessionID, filter)
	if err != nil {
		p.logger.Warn("handoff count unavailable", "session_id", sessionID, "error", err)
		return 0
	}
	return n
}

func (p *HandoffPipeline) newID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(p.now()), p.entropy).String()
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
