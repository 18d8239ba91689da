// ABOUTME: Postgres + pgvector adapter for the turn ledger and window index
// ABOUTME: Uses a pgx pool, HNSW cosine search and a generated tsvector column
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// schemaTemplate is formatted with the vector dimension
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS recall_users (
    user_id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recall_turns (
    user_id TEXT NOT NULL REFERENCES recall_users(user_id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    turn_index INTEGER NOT NULL CHECK (turn_index >= 0),
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, conversation_id, turn_index)
);

CREATE TABLE IF NOT EXISTS recall_windows (
    id BIGSERIAL PRIMARY KEY,
    window_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES recall_users(user_id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    start_index INTEGER NOT NULL,
    end_index INTEGER NOT NULL,
    turn_count INTEGER NOT NULL,
    text TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    embedding vector(%d),
    fts tsvector GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED,
    state TEXT NOT NULL DEFAULT 'draft' CHECK (state IN ('draft', 'pending', 'ready')),
    test_group INTEGER NOT NULL DEFAULT 0,
    first_turn_at TIMESTAMPTZ NOT NULL,
    last_turn_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    embed_attempts INTEGER NOT NULL DEFAULT 0,
    embed_error TEXT,
    CHECK (end_index >= start_index),
    CHECK (turn_count = end_index - start_index + 1),
    UNIQUE (user_id, conversation_id, start_index, end_index)
);

CREATE INDEX IF NOT EXISTS recall_windows_conv_idx ON recall_windows (user_id, conversation_id, last_turn_at DESC);
CREATE INDEX IF NOT EXISTS recall_windows_state_idx ON recall_windows (state, created_at);
CREATE INDEX IF NOT EXISTS recall_windows_hash_idx ON recall_windows (user_id, text_hash);
CREATE INDEX IF NOT EXISTS recall_windows_fts_idx ON recall_windows USING gin (fts);
CREATE INDEX IF NOT EXISTS recall_windows_embedding_idx ON recall_windows USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS recall_events (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    test_group INTEGER NOT NULL DEFAULT 0,
    event_name TEXT NOT NULL,
    data JSONB,
    stat BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS recall_events_user_idx ON recall_events (user_id, created_at);
`

// Store implements storage.Store on Postgres
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

var _ storage.Store = (*Store)(nil)

// Open connects to Postgres and ensures the schema exists
func Open(ctx context.Context, url string, dimension int) (*Store, error) {
	if dimension <= 0 {
		dimension = storage.ExpectedDimension
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	s := &Store{pool: pool, dimension: dimension}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, dimension)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.WithField("component", "postgres").Debugf("schema ready (dimension %d)", dimension)
	return s, nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports SQLSTATE 23505
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// EnsureUser creates the user row if it does not exist
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recall_users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// UserExists reports whether the user row exists
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM recall_users WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

// DeleteUser removes the user and its turns, windows and optionally events
func (s *Store) DeleteUser(ctx context.Context, userID string, keepEvents bool) (storage.DeleteStats, error) {
	var stats storage.DeleteStats

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM recall_users WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM recall_windows WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		stats.Windows = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM recall_turns WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		stats.Turns = tag.RowsAffected()

		if !keepEvents {
			tag, err = tx.Exec(ctx, `DELETE FROM recall_events WHERE user_id = $1`, userID)
			if err != nil {
				return err
			}
			stats.Events = tag.RowsAffected()
		}

		_, err = tx.Exec(ctx, `DELETE FROM recall_users WHERE user_id = $1`, userID)
		return err
	})
	if err != nil {
		return storage.DeleteStats{}, err
	}
	return stats, nil
}

// NextTurnIndex returns COALESCE(MAX(turn_index), -1) + 1
func (s *Store) NextTurnIndex(ctx context.Context, userID, conversationID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(turn_index), -1) + 1 FROM recall_turns
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read next turn index: %w", err)
	}
	return next, nil
}

// InsertTurn appends a turn; an occupied index yields ErrConflict
func (s *Store) InsertTurn(ctx context.Context, turn *models.Turn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recall_turns (user_id, conversation_id, turn_index, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, turn.UserID, turn.ConversationID, turn.TurnIndex, string(turn.Role), turn.Content, turn.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("turn %d of %s: %w", turn.TurnIndex, turn.ConversationID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// TurnRange returns turns with lo <= turn_index <= hi in index order
func (s *Store) TurnRange(ctx context.Context, userID, conversationID string, lo, hi int) ([]models.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT turn_index, role, content, created_at FROM recall_turns
		WHERE user_id = $1 AND conversation_id = $2 AND turn_index BETWEEN $3 AND $4
		ORDER BY turn_index
	`, userID, conversationID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var (
			t    models.Turn
			role string
		)
		if err := rows.Scan(&t.TurnIndex, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.UserID, t.ConversationID, t.Role = userID, conversationID, models.Role(role)
		t.CreatedAt = t.CreatedAt.UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListConversations summarises the conversations of a user, most recent first
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.conversation_id, COUNT(*), MAX(t.created_at),
			(SELECT COUNT(*) FROM recall_windows w WHERE w.user_id = t.user_id AND w.conversation_id = t.conversation_id)
		FROM recall_turns t
		WHERE t.user_id = $1
		GROUP BY t.user_id, t.conversation_id
		ORDER BY MAX(t.created_at) DESC, t.conversation_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var c models.ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.TurnCount, &c.LastAt, &c.WindowCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordEvent appends an analytics event
func (s *Store) RecordEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recall_events (user_id, test_group, event_name, data, stat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.UserID, event.TestGroup, event.EventName, event.Data, event.Stat, ts.UTC())
	return err
}

// scopeClause renders the scope as a WHERE fragment over alias w, numbering
// placeholders from next
func scopeClause(scope models.SearchScope, next int) (string, []interface{}) {
	clauses := []string{fmt.Sprintf("w.user_id = $%d", next)}
	args := []interface{}{scope.UserID}
	add := func(clause string, v interface{}) {
		next++
		clauses = append(clauses, fmt.Sprintf(clause, next))
		args = append(args, v)
	}
	if scope.ConversationID != "" {
		add("w.conversation_id = $%d", scope.ConversationID)
	}
	if scope.TestGroup != nil {
		add("w.test_group = $%d", *scope.TestGroup)
	}
	if !scope.Since.IsZero() {
		add("w.last_turn_at >= $%d", scope.Since.UTC())
	}
	if !scope.Until.IsZero() {
		add("w.first_turn_at <= $%d", scope.Until.UTC())
	}
	return strings.Join(clauses, " AND "), args
}
