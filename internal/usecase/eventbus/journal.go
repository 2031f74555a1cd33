package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// Journal writes every event published on a bus to an EventStore.
type Journal struct {
	store  domain.EventStore
	logger *slog.Logger

	stored atomic.Uint64
	failed atomic.Uint64
}

// NewJournal subscribes a journal to all events on bus. The returned
// function detaches it.
func NewJournal(bus domain.EventBus, store domain.EventStore, log *slog.Logger) (*Journal, func()) {
	j := &Journal{store: store, logger: logger.OrDiscard(log)}
	return j, bus.SubscribeAll(j.handle)
}

func (j *Journal) handle(ctx context.Context, e domain.Event) {
	if err := j.store.InsertEvent(ctx, e); err != nil {
		j.failed.Add(1)
		j.logger.Warn("event journal write failed", "event", string(e.Type), "session_id", e.SessionID, "error", err)
		return
	}
	j.stored.Add(1)
	j.logger.Debug("event journaled", "event", string(e.Type), "session_id", e.SessionID)
}

// Stats reports how many events were written and how many writes failed.
func (j *Journal) Stats() (stored, failed uint64) {
	return j.stored.Load(), j.failed.Load()
}
