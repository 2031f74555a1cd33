package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
	"switchboard/internal/usecase/tracing"
)

type fakeRegistry struct {
	agents []domain.Agent
	err    error
}

func (r *fakeRegistry) Load(context.Context) ([]domain.Agent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.agents, nil
}

func (r *fakeRegistry) GetByID(id string) (domain.Agent, error) {
	for _, a := range r.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}

func (r *fakeRegistry) GetDefault() (domain.Agent, error) {
	if r.err != nil {
		return domain.Agent{}, r.err
	}
	for _, a := range r.agents {
		if a.Default {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}

func (r *fakeRegistry) IsValid(id string) bool {
	_, err := r.GetByID(id)
	return err == nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type deciderFunc func(ctx context.Context, rc domain.RoutingContext) (domain.RoutingDecision, error)

func (f deciderFunc) Decide(ctx context.Context, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	return f(ctx, rc)
}

func newTestOrchestrator(engine Decider, reg domain.AgentRegistry) (*Orchestrator, *recordingBus) {
	bus := &recordingBus{}
	return NewOrchestrator(engine, reg, NewFallbackRecorder(bus, nil), "", nil), bus
}

func TestOrchestratorScenarioNoKey(t *testing.T) {
	reg := &fakeRegistry{agents: testAgents()}
	o, bus := newTestOrchestrator(newTestEngine(nil), reg)

	d := o.Route(context.Background(), domain.RoutingContext{
		Query:     "Find prompts similar to my budget planning",
		SessionID: "sess-a",
	})

	assert.Equal(t, "librarian", d.AgentID)
	assert.Equal(t, 0.5, d.Confidence)
	assert.True(t, d.Fallback)
	assert.Equal(t, domain.ReasonNoAPIKey, d.FallbackReason)
	assert.Len(t, bus.ofType(domain.EventRoutingFallback), 1)
}

func TestOrchestratorIsTotal(t *testing.T) {
	agents := testAgents()
	tests := []struct {
		name     string
		engine   Decider
		registry domain.AgentRegistry
		rc       domain.RoutingContext
		reason   domain.FallbackReason
		agent    string
	}{
		{
			name:   "empty query",
			engine: newTestEngine(replying(`{}`)),
			rc:     domain.RoutingContext{Query: "", AvailableAgents: agents},
			reason: domain.ReasonEmptyQuery,
			agent:  "router",
		},
		{
			name:   "whitespace query",
			engine: newTestEngine(replying(`{}`)),
			rc:     domain.RoutingContext{Query: " \t ", AvailableAgents: agents},
			reason: domain.ReasonEmptyQuery,
			agent:  "router",
		},
		{
			name:     "registry failure",
			engine:   newTestEngine(nil),
			registry: &fakeRegistry{err: fmt.Errorf("%w: catalog unreadable", domain.ErrRegistry)},
			rc:       domain.RoutingContext{Query: "q"},
			reason:   domain.ReasonRegistryError,
			agent:    DefaultLastResortAgent,
		},
		{
			name:   "no registry and no agents",
			engine: newTestEngine(nil),
			rc:     domain.RoutingContext{Query: "q"},
			reason: domain.ReasonRegistryError,
			agent:  DefaultLastResortAgent,
		},
		{
			name:   "timeout",
			engine: newTestEngine(&fakeProvider{key: true, err: fmt.Errorf("openai: %w", domain.ErrTimeout)}),
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonTimeout,
			agent:  "router",
		},
		{
			name:   "rate limit",
			engine: newTestEngine(&fakeProvider{key: true, err: fmt.Errorf("openai: %w", domain.ErrRateLimit)}),
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonRateLimit,
			agent:  "router",
		},
		{
			name:   "auth",
			engine: newTestEngine(&fakeProvider{key: true, err: fmt.Errorf("anthropic: %w", domain.ErrAuthInvalid)}),
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonAPIError,
			agent:  "router",
		},
		{
			name:   "schema violation",
			engine: newTestEngine(replying(`{"agent_id":"dojo"}`)),
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonAPIError,
			agent:  "router",
		},
		{
			name: "panicking engine",
			engine: deciderFunc(func(context.Context, domain.RoutingContext) (domain.RoutingDecision, error) {
				panic("boom")
			}),
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonUnknownError,
			agent:  "router",
		},
		{
			name:   "nil engine",
			engine: nil,
			rc:     domain.RoutingContext{Query: "q", AvailableAgents: agents},
			reason: domain.ReasonUnknownError,
			agent:  "router",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(tt.engine, tt.registry)

			var d domain.RoutingDecision
			require.NotPanics(t, func() { d = o.Route(context.Background(), tt.rc) })

			assert.Equal(t, tt.agent, d.AgentID)
			assert.True(t, d.Fallback)
			assert.Equal(t, tt.reason, d.FallbackReason)
			assert.GreaterOrEqual(t, d.Confidence, 0.0)
			assert.LessOrEqual(t, d.Confidence, 1.0)
			assert.NotEmpty(t, d.Reasoning)
		})
	}
}

func TestOrchestratorAuthMessage(t *testing.T) {
	o, _ := newTestOrchestrator(newTestEngine(&fakeProvider{key: true, err: domain.ErrAuthInvalid}), nil)
	d := o.Route(context.Background(), domain.RoutingContext{Query: "q", AvailableAgents: testAgents()})
	assert.Contains(t, d.Reasoning, "invalid or missing API key")
	assert.Equal(t, 0.0, d.Confidence)
}

func TestOrchestratorClampsConfidence(t *testing.T) {
	for _, tt := range []struct {
		in, want float64
	}{
		{7, 1},
		{-3, 0},
		{math.NaN(), 0},
		{0.75, 0.75},
	} {
		engine := deciderFunc(func(context.Context, domain.RoutingContext) (domain.RoutingDecision, error) {
			return domain.RoutingDecision{AgentID: "dojo", Confidence: tt.in}, nil
		})
		o, _ := newTestOrchestrator(engine, &fakeRegistry{agents: testAgents()})
		d := o.Route(context.Background(), domain.RoutingContext{Query: "q", AvailableAgents: testAgents()})
		assert.Equal(t, "dojo", d.AgentID)
		assert.Equal(t, tt.want, d.Confidence)
	}
}

func TestOrchestratorRevalidatesAgent(t *testing.T) {
	engine := deciderFunc(func(context.Context, domain.RoutingContext) (domain.RoutingDecision, error) {
		return domain.RoutingDecision{AgentID: "ghost", Confidence: 0.9}, nil
	})
	o, bus := newTestOrchestrator(engine, &fakeRegistry{agents: testAgents()})

	d := o.Route(context.Background(), domain.RoutingContext{Query: "q", SessionID: "s", AvailableAgents: testAgents()})
	assert.Equal(t, "router", d.AgentID)
	assert.Equal(t, domain.ReasonAgentUnavailable, d.FallbackReason)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Contains(t, d.Reasoning, "ghost")

	events := bus.ofType(domain.EventRoutingFallback)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"original_confidence":0.9`)
}

func TestOrchestratorRejectsAgentMissingFromRegistry(t *testing.T) {
	offered := append(testAgents(), domain.Agent{ID: "stale", Name: "Stale"})
	engine := deciderFunc(func(context.Context, domain.RoutingContext) (domain.RoutingDecision, error) {
		return domain.RoutingDecision{AgentID: "stale", Confidence: 0.9}, nil
	})
	o, _ := newTestOrchestrator(engine, &fakeRegistry{agents: testAgents()})

	d := o.Route(context.Background(), domain.RoutingContext{Query: "q", AvailableAgents: offered})
	assert.Equal(t, domain.ReasonAgentUnavailable, d.FallbackReason)
	assert.Equal(t, "router", d.AgentID)
}

func TestOrchestratorEmptyQueryUsesRegistryDefault(t *testing.T) {
	reg, offered := subsetCatalog()
	o, bus := newTestOrchestrator(newRegistryEngine(replying(`{"agent_id":"librarian","confidence":0.9,"reasoning":"x"}`), reg), reg)

	d := o.Route(context.Background(), domain.RoutingContext{Query: "   ", SessionID: "s", AvailableAgents: offered})
	assert.Equal(t, "dojo", d.AgentID)
	assert.True(t, d.Fallback)
	assert.Equal(t, domain.ReasonEmptyQuery, d.FallbackReason)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Contains(t, d.Reasoning, "Empty query")

	events := bus.ofType(domain.EventRoutingFallback)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"reason":"EMPTY_QUERY"`)
}

func TestOrchestratorLowConfidenceUsesRegistryDefault(t *testing.T) {
	reg, offered := subsetCatalog()
	o, _ := newTestOrchestrator(newRegistryEngine(replying(`{"agent_id":"debugger","confidence":0.2,"reasoning":"unsure"}`), reg), reg)

	d := o.Route(context.Background(), domain.RoutingContext{Query: "q", AvailableAgents: offered})
	assert.Equal(t, "dojo", d.AgentID)
	assert.Equal(t, domain.ReasonLowConfidence, d.FallbackReason)
	assert.Equal(t, 0.2, d.Confidence)
}

func TestOrchestratorRecordsEngineFallbacks(t *testing.T) {
	o, bus := newTestOrchestrator(
		newTestEngine(replying(`{"agent_id":"dojo","confidence":0.3,"reasoning":"unsure"}`)),
		&fakeRegistry{agents: testAgents()},
	)

	d := o.Route(context.Background(), domain.RoutingContext{Query: "q", SessionID: "s", AvailableAgents: testAgents()})
	assert.Equal(t, domain.ReasonLowConfidence, d.FallbackReason)
	assert.Equal(t, 0.3, d.Confidence)

	events := bus.ofType(domain.EventRoutingFallback)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"reason":"LOW_CONFIDENCE"`)
	assert.Equal(t, "s", events[0].SessionID)
}

func TestOrchestratorPublishesDecision(t *testing.T) {
	o, bus := newTestOrchestrator(
		newTestEngine(replying(`{"agent_id":"dojo","confidence":0.9,"reasoning":"debug"}`)),
		&fakeRegistry{agents: testAgents()},
	)

	d := o.Route(context.Background(), domain.RoutingContext{Query: "fix it", AvailableAgents: testAgents()})
	assert.False(t, d.Fallback)
	assert.Len(t, bus.ofType(domain.EventRoutingDecided), 1)
	assert.Empty(t, bus.ofType(domain.EventRoutingFallback))
}

func TestOrchestratorLogsErrorEvent(t *testing.T) {
	tc := tracing.New(nil, nil)
	tc.Start("s", "u")
	ctx := tracing.WithContext(context.Background(), tc)

	o, _ := newTestOrchestrator(newTestEngine(&fakeProvider{key: true, err: errors.New("boom")}), nil)
	d := o.Route(ctx, domain.RoutingContext{Query: "q", AvailableAgents: testAgents()})
	assert.Equal(t, domain.ReasonUnknownError, d.FallbackReason)

	tr, err := tc.End(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Summary.Errors)
}

func TestDefaultAgentResolution(t *testing.T) {
	noDefault := []domain.Agent{{ID: "a"}, {ID: "b"}}

	o, _ := newTestOrchestrator(nil, &fakeRegistry{agents: testAgents()})
	assert.Equal(t, "router", o.defaultAgent(domain.RoutingContext{AvailableAgents: noDefault}).ID, "registry default")

	o, _ = newTestOrchestrator(nil, &fakeRegistry{err: domain.ErrRegistry})
	assert.Equal(t, "a", o.defaultAgent(domain.RoutingContext{AvailableAgents: noDefault}).ID, "first available")

	o = NewOrchestrator(nil, nil, nil, "concierge", nil)
	assert.Equal(t, "concierge", o.defaultAgent(domain.RoutingContext{}).ID, "last resort")

	offered := []domain.Agent{{ID: "x"}, {ID: "y", Default: true}}
	assert.Equal(t, "y", o.defaultAgent(domain.RoutingContext{AvailableAgents: offered}).ID, "offered default")
}

func TestNilRecorderIsSafe(t *testing.T) {
	o := NewOrchestrator(newTestEngine(nil), nil, nil, "", nil)
	d := o.Route(context.Background(), domain.RoutingContext{Query: "find x", AvailableAgents: testAgents()})
	assert.Equal(t, "librarian", d.AgentID)
}
