package tracing

import (
	"context"
	"strings"

	"switchboard/internal/domain"
)

// DefaultUserLimit caps ForUser when the caller passes no limit.
const DefaultUserLimit = 50

// Reader is the query side over persisted traces.
type Reader struct {
	store domain.TraceStore
}

// NewReader creates a Reader.
func NewReader(store domain.TraceStore) *Reader {
	return &Reader{store: store}
}

// Get returns one trace.
func (r *Reader) Get(ctx context.Context, traceID string) (*domain.Trace, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, domain.NewFieldError("trace_id", "must not be empty")
	}
	return r.store.GetTrace(ctx, traceID)
}

// ForSession returns a session's traces, oldest first.
func (r *Reader) ForSession(ctx context.Context, sessionID string) ([]*domain.Trace, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewFieldError("session_id", "must not be empty")
	}
	return r.store.TracesForSession(ctx, sessionID)
}

// ForUser returns a user's most recent traces, newest first.
func (r *Reader) ForUser(ctx context.Context, userID string, limit int) ([]*domain.Trace, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewFieldError("user_id", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultUserLimit
	}
	return r.store.TracesForUser(ctx, userID, limit)
}
