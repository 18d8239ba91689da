// ABOUTME: Window persistence and retrieval legs for Postgres
// ABOUTME: Cosine distance via pgvector, ts_rank over websearch_to_tsquery('simple')
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/harper/recall/internal/models"
)

const windowColumns = `w.window_id, w.user_id, w.conversation_id, w.start_index, w.end_index,
	w.turn_count, w.text, w.text_hash, w.state, w.test_group, w.first_turn_at, w.last_turn_at,
	w.created_at, w.embed_attempts, w.embed_error`

func scanWindow(row pgx.Row, extra ...interface{}) (models.Window, error) {
	var (
		w        models.Window
		state    string
		embedErr *string
	)
	dest := []interface{}{
		&w.WindowID, &w.UserID, &w.ConversationID, &w.StartIndex, &w.EndIndex,
		&w.TurnCount, &w.Text, &w.TextHash, &state, &w.TestGroup, &w.FirstTurnAt, &w.LastTurnAt,
		&w.CreatedAt, &w.EmbedAttempts, &embedErr,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return w, err
	}
	w.State = models.WindowState(state)
	w.FirstTurnAt = w.FirstTurnAt.UTC()
	w.LastTurnAt = w.LastTurnAt.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	if embedErr != nil {
		w.EmbedError = *embedErr
	}
	return w, nil
}

// parseEmbedding decodes the text form of a vector column
func parseEmbedding(text *string) ([]float32, error) {
	if text == nil {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(*text); err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

func collect(rows pgx.Rows, withScore bool) ([]models.Candidate, error) {
	defer rows.Close()
	var out []models.Candidate
	for rows.Next() {
		var (
			c   models.Candidate
			err error
		)
		if withScore {
			c.Window, err = scanWindow(rows, &c.Score)
		} else {
			c.Window, err = scanWindow(rows)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func windows(cands []models.Candidate, err error) ([]models.Window, error) {
	if err != nil {
		return nil, err
	}
	out := make([]models.Window, len(cands))
	for i, c := range cands {
		out[i] = c.Window
	}
	return out, nil
}

// ConversationWindows returns every window of a conversation ordered by span
func (s *Store) ConversationWindows(ctx context.Context, userID, conversationID string) ([]models.Window, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+` FROM recall_windows w
		WHERE w.user_id = $1 AND w.conversation_id = $2
		ORDER BY w.start_index, w.end_index
	`, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return windows(collect(rows, false))
}

// SaveWindow updates a draft in place or inserts a new row
func (s *Store) SaveWindow(ctx context.Context, w *models.Window) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.State == models.WindowReady {
		return fmt.Errorf("%w: windows become ready only through SetWindowEmbedding", models.ErrInvalidArgument)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE recall_windows
		SET start_index = $2, end_index = $3, turn_count = $4, text = $5, text_hash = $6,
			state = $7, first_turn_at = $8, last_turn_at = $9
		WHERE window_id = $1 AND state = 'draft'
	`, w.WindowID, w.StartIndex, w.EndIndex, w.TurnCount, w.Text, w.TextHash, string(w.State),
		w.FirstTurnAt.UTC(), w.LastTurnAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("window span %s: %w", w.Span(), models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update window: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recall_windows (window_id, user_id, conversation_id, start_index, end_index, turn_count,
			text, text_hash, state, test_group, first_turn_at, last_turn_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, w.WindowID, w.UserID, w.ConversationID, w.StartIndex, w.EndIndex, w.TurnCount,
		w.Text, w.TextHash, string(w.State), w.TestGroup, w.FirstTurnAt.UTC(), w.LastTurnAt.UTC(), w.CreatedAt.UTC())
	if isUniqueViolation(err) {
		// Either the span is taken or the id exists in a sealed state
		return fmt.Errorf("window %s span %s: %w", w.WindowID, w.Span(), models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert window: %w", err)
	}
	return nil
}

// DeleteWindow removes a window by id
func (s *Store) DeleteWindow(ctx context.Context, windowID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM recall_windows WHERE window_id = $1`, windowID)
	return err
}

// GetWindow returns a window including its embedding
func (s *Store) GetWindow(ctx context.Context, windowID string) (*models.Window, error) {
	var emb *string
	row := s.pool.QueryRow(ctx, `SELECT `+windowColumns+`, w.embedding::text FROM recall_windows w WHERE w.window_id = $1`, windowID)
	w, err := scanWindow(row, &emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("window %s: %w", windowID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if w.Embedding, err = parseEmbedding(emb); err != nil {
		return nil, err
	}
	return &w, nil
}

// PendingWindows lists retryable pending windows, oldest first
func (s *Store) PendingWindows(ctx context.Context, maxAttempts, limit int) ([]models.Window, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+` FROM recall_windows w
		WHERE w.state = 'pending' AND w.embed_attempts < $1
		ORDER BY w.created_at, w.id
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return windows(collect(rows, false))
}

// IdleDrafts lists drafts whose last turn is older than before
func (s *Store) IdleDrafts(ctx context.Context, before time.Time, limit int) ([]models.Window, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+` FROM recall_windows w
		WHERE w.state = 'draft' AND w.last_turn_at < $1
		ORDER BY w.last_turn_at
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return windows(collect(rows, false))
}

// SetWindowEmbedding stores the vector when the window is pending with a matching hash
func (s *Store) SetWindowEmbedding(ctx context.Context, windowID, textHash string, vector []float32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recall_windows
		SET embedding = $3::vector, state = 'ready', embed_error = NULL
		WHERE window_id = $1 AND text_hash = $2 AND state = 'pending'
	`, windowID, textHash, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var state string
	err = s.pool.QueryRow(ctx, `SELECT state FROM recall_windows WHERE window_id = $1`, windowID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("window %s: %w", windowID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("window %s is %s or its text changed: %w", windowID, state, models.ErrConflict)
}

// RecordEmbedFailure stores the attempt count and last error of a pending window
func (s *Store) RecordEmbedFailure(ctx context.Context, windowID string, attempts int, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE recall_windows SET embed_attempts = $2, embed_error = $3
		WHERE window_id = $1 AND state = 'pending'
	`, windowID, attempts, message)
	return err
}

// ResetEmbedFailures clears attempt counters so failed windows are retried
func (s *Store) ResetEmbedFailures(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recall_windows SET embed_attempts = 0, embed_error = NULL
		WHERE user_id = $1 AND state = 'pending' AND embed_attempts > 0
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FindReadyByHash returns a ready window of the user with identical text, or nil
func (s *Store) FindReadyByHash(ctx context.Context, userID, textHash string) (*models.Window, error) {
	var emb *string
	row := s.pool.QueryRow(ctx, `
		SELECT `+windowColumns+`, w.embedding::text FROM recall_windows w
		WHERE w.user_id = $1 AND w.text_hash = $2 AND w.state = 'ready'
		ORDER BY w.created_at
		LIMIT 1
	`, userID, textHash)
	w, err := scanWindow(row, &emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if w.Embedding, err = parseEmbedding(emb); err != nil {
		return nil, err
	}
	return &w, nil
}

// VectorSearch ranks ready windows in scope by cosine similarity
func (s *Store) VectorSearch(ctx context.Context, scope models.SearchScope, query []float32, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope, 3)
	args = append([]interface{}{pgvector.NewVector(query), limit}, args...)
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+`, 1 - (w.embedding <=> $1::vector) AS score
		FROM recall_windows w
		WHERE `+where+` AND w.state = 'ready' AND w.embedding IS NOT NULL
		ORDER BY w.embedding <=> $1::vector
		LIMIT $2
	`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, true)
}

// LexicalSearch ranks windows in scope by ts_rank. Queries use websearch
// syntax, so bare terms are ANDed unlike the SQLite leg.
func (s *Store) LexicalSearch(ctx context.Context, scope models.SearchScope, text string, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope, 3)
	args = append([]interface{}{text, limit}, args...)
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+`, ts_rank(w.fts, q)::float8 AS score
		FROM recall_windows w, websearch_to_tsquery('simple', $1) q
		WHERE `+where+` AND w.fts @@ q
		ORDER BY score DESC
		LIMIT $2
	`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, true)
}

// RecentWindows returns windows in scope by last activity
func (s *Store) RecentWindows(ctx context.Context, scope models.SearchScope, limit int) ([]models.Candidate, error) {
	where, args := scopeClause(scope, 2)
	args = append([]interface{}{limit}, args...)
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+` FROM recall_windows w
		WHERE `+where+`
		ORDER BY w.last_turn_at DESC, w.window_id DESC
		LIMIT $1
	`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, false)
}
