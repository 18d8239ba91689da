// ABOUTME: Analytics event storage for SQLite
// ABOUTME: Append-only rows tagged with user and experiment group
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harper/recall/internal/models"
)

// EventStore handles analytics persistence
type EventStore struct {
	db *DB
}

// NewEventStore creates a new EventStore
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// RecordEvent appends an analytics event
func (s *EventStore) RecordEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	var data sql.NullString
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var stat sql.NullInt64
	if event.Stat != nil {
		stat = sql.NullInt64{Int64: *event.Stat, Valid: true}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO analytics_events (user_id, test_group, event_name, data, stat, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.UserID, event.TestGroup, event.EventName, data, stat, toNanos(ts))
	return err
}

// ListEvents returns a user's events, oldest first
func (s *EventStore) ListEvents(ctx context.Context, userID string) ([]models.AnalyticsEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT test_group, event_name, data, stat, created_at
		FROM analytics_events
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.AnalyticsEvent
	for rows.Next() {
		var (
			e       models.AnalyticsEvent
			data    sql.NullString
			stat    sql.NullInt64
			created int64
		)
		if err := rows.Scan(&e.TestGroup, &e.EventName, &data, &stat, &created); err != nil {
			return nil, err
		}
		e.UserID = userID
		e.Timestamp = fromNanos(created)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				e.Data = nil
			}
		}
		if stat.Valid {
			v := stat.Int64
			e.Stat = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
