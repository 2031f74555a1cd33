package storage

import (
	"context"
	"encoding/json"
	"time"

	"switchboard/internal/domain"
)

// InsertEvent appends a bus event to the audit log.
func (d *DB) InsertEvent(ctx context.Context, e domain.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO events (type, session_id, payload, created_at) VALUES (?, ?, ?, ?)",
		string(e.Type), e.SessionID, string(e.Payload), formatTime(ts),
	)
	if err != nil {
		return storageErr("InsertEvent", err)
	}
	return nil
}

// EventsForSession returns a session's events oldest first.
func (d *DB) EventsForSession(ctx context.Context, sessionID string) ([]domain.Event, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT type, session_id, payload, created_at FROM events WHERE session_id = ? ORDER BY created_at, id", sessionID)
	if err != nil {
		return nil, storageErr("EventsForSession", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var typ, payload, created string
		var e domain.Event
		if err := rows.Scan(&typ, &e.SessionID, &payload, &created); err != nil {
			return nil, storageErr("EventsForSession", err)
		}
		e.Type = domain.EventType(typ)
		e.Timestamp = parseTime(created)
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("EventsForSession", err)
	}
	return events, nil
}
