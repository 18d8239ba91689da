// ABOUTME: Window storage operations for SQLite
// ABOUTME: Persists spans, rendered text and the draft -> pending -> ready lifecycle
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/harper/recall/internal/models"
)

// WindowStore handles window persistence
type WindowStore struct {
	db *DB
}

// NewWindowStore creates a new WindowStore
func NewWindowStore(db *DB) *WindowStore {
	return &WindowStore{db: db}
}

const windowColumns = `w.window_id, w.user_id, w.conversation_id, w.start_index, w.end_index,
	w.turn_count, w.text, w.text_hash, w.state, w.test_group, w.first_turn_at, w.last_turn_at,
	w.created_at, w.embed_attempts, w.embed_error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanWindow reads windowColumns, followed by any extra destinations
func scanWindow(r rowScanner, extra ...interface{}) (models.Window, error) {
	var (
		w                    models.Window
		state                string
		first, last, created int64
		embedErr             sql.NullString
	)
	dest := []interface{}{
		&w.WindowID, &w.UserID, &w.ConversationID, &w.StartIndex, &w.EndIndex,
		&w.TurnCount, &w.Text, &w.TextHash, &state, &w.TestGroup, &first, &last,
		&created, &w.EmbedAttempts, &embedErr,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return w, err
	}
	w.State = models.WindowState(state)
	w.FirstTurnAt = fromNanos(first)
	w.LastTurnAt = fromNanos(last)
	w.CreatedAt = fromNanos(created)
	if embedErr.Valid {
		w.EmbedError = embedErr.String
	}
	return w, nil
}

// ConversationWindows returns every window of a conversation ordered by span
func (s *WindowStore) ConversationWindows(ctx context.Context, userID, conversationID string) ([]models.Window, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`
		FROM windows w
		WHERE w.user_id = ? AND w.conversation_id = ?
		ORDER BY w.start_index ASC, w.end_index ASC
	`, userID, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveWindow updates a draft in place or inserts a new row
func (s *WindowStore) SaveWindow(ctx context.Context, w *models.Window) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.State == models.WindowReady {
		return fmt.Errorf("%w: windows become ready only through SetWindowEmbedding", models.ErrInvalidArgument)
	}

	res, err := s.db.Exec(ctx, `
		UPDATE windows
		SET start_index = ?, end_index = ?, turn_count = ?, text = ?, text_hash = ?,
			state = ?, first_turn_at = ?, last_turn_at = ?
		WHERE window_id = ? AND state = 'draft'
	`, w.StartIndex, w.EndIndex, w.TurnCount, w.Text, w.TextHash, string(w.State),
		toNanos(w.FirstTurnAt), toNanos(w.LastTurnAt), w.WindowID)
	if isUniqueViolation(err) {
		return fmt.Errorf("window span %s: %w", w.Span(), models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update window: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var existing string
	err = s.db.QueryRow(ctx, `SELECT state FROM windows WHERE window_id = ?`, w.WindowID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("window %s is %s: %w", w.WindowID, existing, models.ErrConflict)
	}
	if !isNoRows(err) {
		return err
	}

	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO windows (window_id, user_id, conversation_id, start_index, end_index, turn_count,
			text, text_hash, state, test_group, first_turn_at, last_turn_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.WindowID, w.UserID, w.ConversationID, w.StartIndex, w.EndIndex, w.TurnCount,
		w.Text, w.TextHash, string(w.State), w.TestGroup, toNanos(w.FirstTurnAt),
		toNanos(w.LastTurnAt), toNanos(w.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("window span %s: %w", w.Span(), models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert window: %w", err)
	}
	return nil
}

// DeleteWindow removes a window by id
func (s *WindowStore) DeleteWindow(ctx context.Context, windowID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM windows WHERE window_id = ?`, windowID)
	return err
}

// GetWindow returns a window including its embedding
func (s *WindowStore) GetWindow(ctx context.Context, windowID string) (*models.Window, error) {
	var blob []byte
	row := s.db.QueryRow(ctx, `SELECT `+windowColumns+`, w.embedding FROM windows w WHERE w.window_id = ?`, windowID)
	w, err := scanWindow(row, &blob)
	if isNoRows(err) {
		return nil, fmt.Errorf("window %s: %w", windowID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	w.Embedding = blobToVector(blob)
	return &w, nil
}

// PendingWindows lists retryable pending windows, oldest first
func (s *WindowStore) PendingWindows(ctx context.Context, maxAttempts, limit int) ([]models.Window, error) {
	return s.list(ctx, `
		SELECT `+windowColumns+`
		FROM windows w
		WHERE w.state = 'pending' AND w.embed_attempts < ?
		ORDER BY w.created_at ASC, w.id ASC
		LIMIT ?
	`, maxAttempts, limit)
}

// IdleDrafts lists drafts whose last turn is older than before
func (s *WindowStore) IdleDrafts(ctx context.Context, before time.Time, limit int) ([]models.Window, error) {
	return s.list(ctx, `
		SELECT `+windowColumns+`
		FROM windows w
		WHERE w.state = 'draft' AND w.last_turn_at < ?
		ORDER BY w.last_turn_at ASC
		LIMIT ?
	`, toNanos(before), limit)
}

func (s *WindowStore) list(ctx context.Context, query string, args ...interface{}) ([]models.Window, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetWindowEmbedding stores the vector when the window is pending with a matching hash
func (s *WindowStore) SetWindowEmbedding(ctx context.Context, windowID, textHash string, vector []float32) error {
	res, err := s.db.Exec(ctx, `
		UPDATE windows
		SET embedding = ?, state = 'ready', embed_error = NULL
		WHERE window_id = ? AND text_hash = ? AND state = 'pending'
	`, vectorToBlob(vector), windowID, textHash)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var state, hash string
	err = s.db.QueryRow(ctx, `SELECT state, text_hash FROM windows WHERE window_id = ?`, windowID).Scan(&state, &hash)
	if isNoRows(err) {
		return fmt.Errorf("window %s: %w", windowID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("window %s is %s with hash %.8s: %w", windowID, state, hash, models.ErrConflict)
}

// RecordEmbedFailure stores the attempt count and last error of a pending window
func (s *WindowStore) RecordEmbedFailure(ctx context.Context, windowID string, attempts int, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE windows SET embed_attempts = ?, embed_error = ?
		WHERE window_id = ? AND state = 'pending'
	`, attempts, message, windowID)
	return err
}

// ResetEmbedFailures clears attempt counters so failed windows are retried
func (s *WindowStore) ResetEmbedFailures(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE windows SET embed_attempts = 0, embed_error = NULL
		WHERE user_id = ? AND state = 'pending' AND embed_attempts > 0
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindReadyByHash returns a ready window of the user with identical text, or nil
func (s *WindowStore) FindReadyByHash(ctx context.Context, userID, textHash string) (*models.Window, error) {
	var blob []byte
	row := s.db.QueryRow(ctx, `
		SELECT `+windowColumns+`, w.embedding
		FROM windows w
		WHERE w.user_id = ? AND w.text_hash = ? AND w.state = 'ready'
		ORDER BY w.created_at ASC
		LIMIT 1
	`, userID, textHash)
	w, err := scanWindow(row, &blob)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.Embedding = blobToVector(blob)
	return &w, nil
}

// vectorToBlob encodes float32 values little-endian
func vectorToBlob(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// blobToVector decodes a little-endian float32 blob
func blobToVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
