package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/oracle/internal/types"
	"github.com/oklog/ulid/v2"
)

// RecordEscalation appends an audit event. Events are never updated.
func (s *SQLiteStore) RecordEscalation(ctx context.Context, event types.EscalationEvent) (*types.EscalationEvent, error) {
	event.ID = ulid.Make().String()
	event.CreatedAt = s.now().UTC()

	query, args, err := builder.Insert("escalation_events").
		Columns("id", "user_id", "trigger_type", "reason", "action_taken", "message_snippet", "created_at").
		Values(event.ID, event.UserID, event.TriggerType, event.Reason, event.ActionTaken, event.MessageSnippet,
			event.CreatedAt.Format(timeLayout)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert escalation event: %w", err)
	}
	return &event, nil
}

// SaveProtocol stores a protocol for its user.
func (s *SQLiteStore) SaveProtocol(ctx context.Context, p types.Protocol) (*types.Protocol, error) {
	steps := p.Steps
	if steps == nil {
		steps = []types.ProtocolStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}

	p.ID = ulid.Make().String()
	p.Steps = steps
	created := s.now().UTC()
	p.CreatedAt = &created

	query, args, err := builder.Insert("protocols").
		Columns("id", "user_id", "title", "summary", "safety_notes", "steps", "created_at").
		Values(p.ID, p.UserID, p.Title, p.Summary, p.SafetyNotes, string(stepsJSON), created.Format(timeLayout)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert protocol: %w", err)
	}
	return &p, nil
}

// ListProtocols returns a user's saved protocols, newest first.
func (s *SQLiteStore) ListProtocols(ctx context.Context, userID string) ([]types.Protocol, error) {
	query, args, err := builder.
		Select("id", "user_id", "title", "summary", "safety_notes", "steps", "created_at").
		From("protocols").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "rowid DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query protocols: %w", err)
	}
	defer rows.Close()

	protocols := []types.Protocol{}
	for rows.Next() {
		var p types.Protocol
		var stepsJSON, createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Summary, &p.SafetyNotes, &stepsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
			return nil, fmt.Errorf("parse steps JSON: %w", err)
		}
		created := parseTime(createdAt)
		p.CreatedAt = &created
		protocols = append(protocols, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return protocols, nil
}

// ListEscalations returns a user's escalation events, oldest first.
func (s *SQLiteStore) ListEscalations(ctx context.Context, userID string) ([]types.EscalationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, trigger_type, reason, action_taken, message_snippet, created_at
		FROM escalation_events
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query escalation events: %w", err)
	}
	defer rows.Close()

	events := []types.EscalationEvent{}
	for rows.Next() {
		var e types.EscalationEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TriggerType, &e.Reason, &e.ActionTaken, &e.MessageSnippet, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}
