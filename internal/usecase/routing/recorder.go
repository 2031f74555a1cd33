package routing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/tracer"
)

// FallbackRecorder writes one observability record per fallback decision to
// the log, the event bus and the fallback counter. Recording never fails the
// caller.
type FallbackRecorder struct {
	logger  *slog.Logger
	bus     domain.EventBus
	counter metric.Int64Counter
	now     func() time.Time
}

// NewFallbackRecorder creates a recorder. bus may be nil.
func NewFallbackRecorder(bus domain.EventBus, log *slog.Logger) *FallbackRecorder {
	log = logger.OrDiscard(log)
	counter, err := tracer.Meter("switchboard/routing").Int64Counter("switchboard.routing.fallbacks",
		metric.WithDescription("Routing decisions that fell back to a substitute agent"),
	)
	if err != nil {
		log.Warn("fallback counter unavailable", "error", err)
	}
	return &FallbackRecorder{logger: log, bus: bus, counter: counter, now: time.Now}
}

// Record emits rec. A zero Timestamp is set to now.
func (r *FallbackRecorder) Record(ctx context.Context, rec domain.FallbackRecord) {
	if r == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("fallback recorder panic", "panic", p)
		}
	}()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}

	attrs := []any{
		"reason", rec.Reason,
		"agent_id", rec.AgentID,
		"session_id", rec.SessionID,
		"query", rec.Query,
	}
	if rec.ErrorMessage != "" {
		attrs = append(attrs, "error", rec.ErrorMessage)
	}
	if rec.OriginalConfidence != nil {
		attrs = append(attrs, "original_confidence", *rec.OriginalConfidence)
	}
	r.logger.Warn("routing fallback", attrs...)

	if r.counter != nil {
		r.counter.Add(ctx, 1, metric.WithAttributes(tracer.StringAttr("reason", string(rec.Reason))))
	}
	if r.bus != nil {
		r.bus.Publish(ctx, domain.NewEvent(domain.EventRoutingFallback, rec.SessionID, rec))
	}
}

// Decided publishes a non-fallback decision.
func (r *FallbackRecorder) Decided(ctx context.Context, sessionID string, d domain.RoutingDecision) {
	if r == nil || r.bus == nil {
		return
	}
	r.bus.Publish(ctx, domain.NewEvent(domain.EventRoutingDecided, sessionID, d))
}
