// Package tracing records one request's work as a nested tree of events with
// a rolling summary, and persists the finished trace.
package tracing

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/tracer"
)

// node is one event in the arena. Parent and child links are arena indexes.
type node struct {
	event    domain.TraceEvent // Children is always nil here
	parent   int               // -1 for roots
	children []int
}

// frame is an open span on the stack.
type frame struct {
	idx    int
	opened time.Time
	otel   trace.Span
	otelCx context.Context
}

// Context owns a single in-flight trace. It is created per request and must
// not be shared between requests. All methods are safe on a nil receiver.
type Context struct {
	mu      sync.Mutex
	store   domain.TraceStore
	bus     domain.EventBus
	logger  *slog.Logger
	now     func() time.Time
	entropy *ulid.MonotonicEntropy

	active bool
	trace  domain.Trace // Events is rebuilt from the arena on demand
	nodes  []node
	index  map[string]int
	roots  []int
	stack  []frame
}

// Option configures a Context.
type Option func(*Context)

// WithEventBus publishes trace.ended events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(c *Context) { c.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// New creates an idle trace context. A nil store disables persistence.
func New(store domain.TraceStore, log *slog.Logger, opts ...Option) *Context {
	c := &Context{
		store:  store,
		logger: logger.OrDiscard(log),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entropy = ulid.Monotonic(rand.New(rand.NewSource(c.now().UnixNano())), 0)
	return c
}

func (c *Context) newID() string {
	t := c.now()
	return ulid.MustNew(ulid.Timestamp(t), c.entropy).String()
}

// Start installs a new active trace and returns a snapshot of it. An already
// active trace is discarded with a warning naming it.
func (c *Context) Start(sessionID, userID string) domain.Trace {
	if c == nil {
		return domain.Trace{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.logger.Warn("replacing active trace; its events are discarded",
			"orphaned_trace_id", c.trace.TraceID,
			"orphaned_events", len(c.nodes),
			"session_id", c.trace.SessionID,
		)
		c.endOpenOTelSpans()
	}

	c.trace = domain.Trace{
		TraceID:   c.newID(),
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: c.now().UTC(),
		Summary: domain.TraceSummary{
			AgentsUsed: []string{},
			ModesUsed:  []string{},
		},
	}
	c.nodes = nil
	c.index = make(map[string]int)
	c.roots = nil
	c.stack = nil
	c.active = true

	c.logger.Debug("trace started", "trace_id", c.trace.TraceID, "session_id", sessionID)
	return c.snapshot()
}

// Log records an event under the innermost open span, or as a root when no
// span is open. It returns the new span id, or "" when no trace is active or
// the event type is unknown.
func (c *Context) Log(eventType domain.TraceEventType, inputs, outputs, metadata map[string]any) string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.add(eventType, inputs, outputs, metadata)
	if !ok {
		return ""
	}
	c.addOTelEvent(c.nodes[idx].event)
	return c.nodes[idx].event.SpanID
}

// OpenSpan records an event like Log and makes it the innermost open span.
func (c *Context) OpenSpan(eventType domain.TraceEventType, inputs, metadata map[string]any) string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.add(eventType, inputs, nil, metadata)
	if !ok {
		return ""
	}

	parentCtx := context.Background()
	if n := len(c.stack); n > 0 {
		parentCtx = c.stack[n-1].otelCx
	}
	ev := c.nodes[idx].event
	otelCx, span := tracer.StartSpan(parentCtx, "trace."+strings.ToLower(string(eventType)),
		trace.WithAttributes(
			tracer.StringAttr("switchboard.trace_id", c.trace.TraceID),
			tracer.StringAttr("switchboard.span_id", ev.SpanID),
			tracer.StringAttr("switchboard.session_id", c.trace.SessionID),
		),
	)

	c.stack = append(c.stack, frame{idx: idx, opened: c.now(), otel: span, otelCx: otelCx})
	return ev.SpanID
}

// CloseSpan closes spanID and merges outputs and metadata into it. When
// spanID is not the innermost span, the spans opened after it are closed
// first with a warning each. A span that is unknown or already closed yields
// an error and leaves the trace untouched.
func (c *Context) CloseSpan(spanID string, outputs, metadata map[string]any) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return domain.NewSubSystemError("trace", "tracing.CloseSpan", domain.ErrNoActiveTrace, spanID)
	}
	idx, known := c.index[spanID]
	if !known {
		return domain.NewSubSystemError("trace", "tracing.CloseSpan", domain.ErrSpanNotFound, spanID)
	}

	pos := -1
	for i := len(c.stack) - 1; i >= 0; i-- {
		if c.stack[i].idx == idx {
			pos = i
			break
		}
	}
	if pos < 0 {
		return domain.NewSubSystemError("trace", "tracing.CloseSpan", domain.ErrSpanMismatch, spanID)
	}

	for len(c.stack)-1 > pos {
		top := c.stack[len(c.stack)-1]
		c.logger.Warn("span closed implicitly by an outer span",
			"trace_id", c.trace.TraceID,
			"span_id", c.nodes[top.idx].event.SpanID,
			"closed_by", spanID,
		)
		c.closeFrame(nil, nil)
	}
	c.closeFrame(outputs, metadata)
	return nil
}

// closeFrame pops the innermost span, merges the closing data and updates
// the summary with the caller's metadata. A duration measured here is kept
// on the event only, so nested spans are not counted twice. Callers hold c.mu.
func (c *Context) closeFrame(outputs, metadata map[string]any) {
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	ev := &c.nodes[top.idx].event
	delta := maps.Clone(metadata)
	if delta == nil {
		delta = map[string]any{}
	}
	if _, ok := delta[domain.MetaDurationMs]; !ok {
		if _, ok := ev.Metadata[domain.MetaDurationMs]; !ok {
			delta[domain.MetaDurationMs] = float64(c.now().Sub(top.opened).Microseconds()) / 1000
		}
	}

	if len(outputs) > 0 {
		if ev.Outputs == nil {
			ev.Outputs = make(map[string]any, len(outputs))
		}
		maps.Copy(ev.Outputs, outputs)
	}
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any, len(delta))
	}
	maps.Copy(ev.Metadata, delta)

	c.trace.Summary = applySummary(c.trace.Summary, ev.EventType, metadata, false)

	if msg, ok := delta[domain.MetaErrorMessage].(string); ok && msg != "" {
		tracer.RecordError(top.otel, errors.New(msg))
	} else {
		tracer.SetOK(top.otel)
	}
	top.otel.End()
}

// add appends an event to the arena. Callers hold c.mu.
func (c *Context) add(eventType domain.TraceEventType, inputs, outputs, metadata map[string]any) (int, bool) {
	if !c.active {
		return 0, false
	}
	if !eventType.Valid() {
		c.logger.Warn("ignoring trace event with unknown type", "event_type", string(eventType))
		return 0, false
	}

	parent := -1
	if n := len(c.stack); n > 0 {
		parent = c.stack[n-1].idx
	}

	ev := domain.TraceEvent{
		SpanID:    c.newID(),
		EventType: eventType,
		Timestamp: c.now().UTC(),
		Inputs:    maps.Clone(inputs),
		Outputs:   maps.Clone(outputs),
		Metadata:  maps.Clone(metadata),
	}
	idx := len(c.nodes)
	if parent >= 0 {
		ev.ParentID = c.nodes[parent].event.SpanID
		c.nodes[parent].children = append(c.nodes[parent].children, idx)
	} else {
		c.roots = append(c.roots, idx)
	}
	c.nodes = append(c.nodes, node{event: ev, parent: parent})
	c.index[ev.SpanID] = idx

	c.trace.Summary = applySummary(c.trace.Summary, eventType, metadata, true)
	return idx, true
}

// addOTelEvent mirrors a logged event onto the innermost open OTel span.
func (c *Context) addOTelEvent(ev domain.TraceEvent) {
	n := len(c.stack)
	if n == 0 {
		return
	}
	span := c.stack[n-1].otel
	span.AddEvent(string(ev.EventType), trace.WithAttributes(
		tracer.StringAttr("switchboard.span_id", ev.SpanID),
	))
	if ev.EventType == domain.TraceError {
		if msg, ok := ev.Metadata[domain.MetaErrorMessage].(string); ok {
			span.SetAttributes(tracer.StringAttr("switchboard.error", msg))
		}
	}
}

// End freezes the active trace, persists it and returns it. Spans still open
// are closed with a warning. Persistence failures are logged, not returned.
func (c *Context) End(ctx context.Context) (domain.Trace, error) {
	if c == nil {
		return domain.Trace{}, domain.NewSubSystemError("trace", "tracing.End", domain.ErrNoActiveTrace, "")
	}
	c.mu.Lock()

	if !c.active {
		c.mu.Unlock()
		return domain.Trace{}, domain.NewSubSystemError("trace", "tracing.End", domain.ErrNoActiveTrace, "")
	}

	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		c.logger.Warn("span left open at trace end",
			"trace_id", c.trace.TraceID,
			"span_id", c.nodes[top.idx].event.SpanID,
		)
		c.closeFrame(nil, nil)
	}

	ended := c.now().UTC()
	c.trace.EndedAt = &ended
	c.trace.Summary.TotalEvents = len(c.nodes)
	frozen := c.snapshot()

	c.active = false
	c.nodes = nil
	c.index = nil
	c.roots = nil
	c.trace = domain.Trace{}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.InsertTrace(ctx, &frozen); err != nil {
			c.logger.Error("trace persistence failed",
				"trace_id", frozen.TraceID,
				"session_id", frozen.SessionID,
				"events", frozen.Summary.TotalEvents,
				"error", err,
			)
		}
	}
	if c.bus != nil {
		c.bus.Publish(ctx, domain.NewEvent(domain.EventTraceEnded, frozen.SessionID, map[string]any{
			"trace_id": frozen.TraceID,
			"summary":  frozen.Summary,
		}))
	}

	c.logger.Debug("trace ended",
		"trace_id", frozen.TraceID,
		"events", frozen.Summary.TotalEvents,
		"errors", frozen.Summary.Errors,
	)
	return frozen, nil
}

// Active reports whether a trace is in flight.
func (c *Context) Active() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Current returns a copy of the in-flight trace.
func (c *Context) Current() (domain.Trace, bool) {
	if c == nil {
		return domain.Trace{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return domain.Trace{}, false
	}
	return c.snapshot(), true
}

// SpanContext returns parent carrying the innermost open OTel span so that
// downstream spans nest under it.
func (c *Context) SpanContext(parent context.Context) context.Context {
	if c == nil {
		return parent
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.stack); n > 0 {
		return trace.ContextWithSpan(parent, c.stack[n-1].otel)
	}
	return parent
}

// snapshot materializes the event tree from the arena. Children always have
// a higher index than their parent, so one reverse pass builds every subtree
// before it is attached. Callers hold c.mu.
func (c *Context) snapshot() domain.Trace {
	built := make([]domain.TraceEvent, len(c.nodes))
	for i := len(c.nodes) - 1; i >= 0; i-- {
		n := c.nodes[i]
		ev := n.event
		ev.Inputs = maps.Clone(ev.Inputs)
		ev.Outputs = maps.Clone(ev.Outputs)
		ev.Metadata = maps.Clone(ev.Metadata)
		if len(n.children) > 0 {
			ev.Children = make([]domain.TraceEvent, len(n.children))
			for j, child := range n.children {
				ev.Children[j] = built[child]
			}
		}
		built[i] = ev
	}

	t := c.trace
	t.Events = make([]domain.TraceEvent, len(c.roots))
	for i, r := range c.roots {
		t.Events[i] = built[r]
	}
	t.Summary.AgentsUsed = append([]string{}, t.Summary.AgentsUsed...)
	t.Summary.ModesUsed = append([]string{}, t.Summary.ModesUsed...)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		t.EndedAt = &ended
	}
	return t
}

// endOpenOTelSpans ends OTel spans of a trace being discarded. Callers hold c.mu.
func (c *Context) endOpenOTelSpans() {
	for i := len(c.stack) - 1; i >= 0; i-- {
		c.stack[i].otel.End()
	}
}
