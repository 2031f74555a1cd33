package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"switchboard/internal/domain"
)

const traceColumns = "trace_id, session_id, user_id, started_at, ended_at, events, summary"

// InsertTrace stores a finished trace. Writing the same trace id again
// replaces the earlier row.
func (d *DB) InsertTrace(ctx context.Context, t *domain.Trace) error {
	events, err := json.Marshal(t.Events)
	if err != nil {
		return storageErr("InsertTrace", fmt.Errorf("marshal events: %w", err))
	}
	summary, err := json.Marshal(t.Summary)
	if err != nil {
		return storageErr("InsertTrace", fmt.Errorf("marshal summary: %w", err))
	}

	var endedAt sql.NullString
	if t.EndedAt != nil {
		endedAt = sql.NullString{String: formatTime(*t.EndedAt), Valid: true}
	}

	_, err = d.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO traces ("+traceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.TraceID, t.SessionID, t.UserID, formatTime(t.StartedAt), endedAt, string(events), string(summary),
	)
	if err != nil {
		return storageErr("InsertTrace", err)
	}
	return nil
}

// GetTrace returns a trace by id.
func (d *DB) GetTrace(ctx context.Context, traceID string) (*domain.Trace, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+traceColumns+" FROM traces WHERE trace_id = ?", traceID)
	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("trace", "storage.GetTrace", domain.ErrNotFound, traceID)
	}
	if err != nil {
		return nil, storageErr("GetTrace", err)
	}
	return t, nil
}

// TracesForSession returns every trace of a session, oldest first.
func (d *DB) TracesForSession(ctx context.Context, sessionID string) ([]*domain.Trace, error) {
	return d.queryTraces(ctx, "TracesForSession",
		"SELECT "+traceColumns+" FROM traces WHERE session_id = ? ORDER BY started_at, trace_id", sessionID)
}

// TracesForUser returns a user's most recent traces, newest first.
// A non-positive limit returns all of them.
func (d *DB) TracesForUser(ctx context.Context, userID string, limit int) ([]*domain.Trace, error) {
	if limit <= 0 {
		limit = -1
	}
	return d.queryTraces(ctx, "TracesForUser",
		"SELECT "+traceColumns+" FROM traces WHERE user_id = ? ORDER BY started_at DESC, trace_id DESC LIMIT ?", userID, limit)
}

// DeleteTracesEndedBefore removes finished traces whose end time precedes
// cutoff and returns how many were removed. Unfinished traces are kept.
func (d *DB) DeleteTracesEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM traces WHERE ended_at IS NOT NULL AND ended_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, storageErr("DeleteTracesEndedBefore", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *DB) queryTraces(ctx context.Context, op, query string, args ...any) ([]*domain.Trace, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var traces []*domain.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return traces, nil
}

func scanTrace(s scanner) (*domain.Trace, error) {
	var (
		t                  domain.Trace
		startedAt          string
		endedAt            sql.NullString
		eventsStr, sumJSON string
	)
	if err := s.Scan(&t.TraceID, &t.SessionID, &t.UserID, &startedAt, &endedAt, &eventsStr, &sumJSON); err != nil {
		return nil, err
	}
	t.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		ended := parseTime(endedAt.String)
		t.EndedAt = &ended
	}
	if err := json.Unmarshal([]byte(eventsStr), &t.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := json.Unmarshal([]byte(sumJSON), &t.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &t, nil
}
