package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"switchboard/internal/infra/logger"
)

// Reloader re-reads the agent catalog.
type Reloader interface {
	Reload(ctx context.Context) error
}

// TraceDeleter removes finished traces.
type TraceDeleter interface {
	DeleteTracesEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RegistryReload returns an action that reloads the agent catalog.
func RegistryReload(r Reloader) TaskFunc {
	return func(ctx context.Context) error {
		if err := r.Reload(ctx); err != nil {
			return fmt.Errorf("registry reload: %w", err)
		}
		return nil
	}
}

// TraceRetention returns an action that deletes traces which ended more
// than maxAge ago, or the task's own MaxAge when it sets one. now may be nil.
func TraceRetention(store TraceDeleter, maxAge time.Duration, now func() time.Time, log *slog.Logger) TaskFunc {
	log = logger.OrDiscard(log)
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		age := maxAge
		if d, ok := MaxAgeFrom(ctx); ok {
			age = d
		}
		if age <= 0 {
			return fmt.Errorf("trace retention: max age must be positive, got %s", age)
		}
		cutoff := now().UTC().Add(-age)
		n, err := store.DeleteTracesEndedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("trace retention: %w", err)
		}
		if n > 0 {
			log.Info("expired traces deleted", "count", n, "cutoff", cutoff)
		}
		return nil
	}
}
