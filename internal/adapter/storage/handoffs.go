package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"switchboard/internal/domain"
)

const handoffColumns = "id, session_id, from_agent, to_agent, reason, history, harness_trace_id, user_intent, created_at"

// InsertHandoff appends a handoff event. Events are never updated.
func (d *DB) InsertHandoff(ctx context.Context, e *domain.HandoffEvent) error {
	history, err := json.Marshal(e.ConversationHistory)
	if err != nil {
		return storageErr("InsertHandoff", fmt.Errorf("marshal history: %w", err))
	}
	_, err = d.db.ExecContext(ctx,
		"INSERT INTO handoffs ("+handoffColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.SessionID, e.FromAgent, e.ToAgent, e.Reason, string(history),
		e.HarnessTraceID, e.UserIntent, formatTime(e.CreatedAt),
	)
	if err != nil {
		return storageErr("InsertHandoff", err)
	}
	return nil
}

// HandoffHistory returns a session's handoffs in creation order.
func (d *DB) HandoffHistory(ctx context.Context, sessionID string) ([]domain.HandoffEvent, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+handoffColumns+" FROM handoffs WHERE session_id = ? ORDER BY created_at, id", sessionID)
	if err != nil {
		return nil, storageErr("HandoffHistory", err)
	}
	defer rows.Close()

	var events []domain.HandoffEvent
	for rows.Next() {
		e, err := scanHandoff(rows)
		if err != nil {
			return nil, storageErr("HandoffHistory", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("HandoffHistory", err)
	}
	return events, nil
}

// LastHandoff returns the most recent handoff of a session, or
// domain.ErrNotFound when the session has none.
func (d *DB) LastHandoff(ctx context.Context, sessionID string) (*domain.HandoffEvent, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+handoffColumns+" FROM handoffs WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", sessionID)
	e, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("handoff", "storage.LastHandoff", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, storageErr("LastHandoff", err)
	}
	return e, nil
}

// CountHandoffs counts a session's handoffs, optionally narrowed by source
// and target agent.
func (d *DB) CountHandoffs(ctx context.Context, sessionID string, f domain.HandoffFilter) (int, error) {
	query := "SELECT COUNT(*) FROM handoffs WHERE session_id = ?"
	args := []any{sessionID}
	if f.FromAgent != "" {
		query += " AND from_agent = ?"
		args = append(args, f.FromAgent)
	}
	if f.ToAgent != "" {
		query += " AND to_agent = ?"
		args = append(args, f.ToAgent)
	}

	var n int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr("CountHandoffs", err)
	}
	return n, nil
}

func scanHandoff(s scanner) (*domain.HandoffEvent, error) {
	var (
		e                  domain.HandoffEvent
		history, createdAt string
	)
	if err := s.Scan(&e.ID, &e.SessionID, &e.FromAgent, &e.ToAgent, &e.Reason, &history,
		&e.HarnessTraceID, &e.UserIntent, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &e.ConversationHistory); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}
