// ABOUTME: Turn ledger storage operations for SQLite
// ABOUTME: Append-only inserts keyed by (user, conversation, turn_index)
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/recall/internal/models"
)

// TurnStore handles turn persistence
type TurnStore struct {
	db *DB
}

// NewTurnStore creates a new TurnStore
func NewTurnStore(db *DB) *TurnStore {
	return &TurnStore{db: db}
}

// NextTurnIndex returns COALESCE(MAX(turn_index), -1) + 1
func (s *TurnStore) NextTurnIndex(ctx context.Context, userID, conversationID string) (int, error) {
	var next int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(turn_index), -1) + 1
		FROM turns
		WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read next turn index: %w", err)
	}
	return next, nil
}

// InsertTurn appends a turn; an occupied index yields ErrConflict
func (s *TurnStore) InsertTurn(ctx context.Context, turn *models.Turn) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO turns (user_id, conversation_id, turn_index, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, turn.UserID, turn.ConversationID, turn.TurnIndex, string(turn.Role), turn.Content,
		toNanos(turn.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("turn %d of %s: %w", turn.TurnIndex, turn.ConversationID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// TurnRange returns turns with lo <= turn_index <= hi in index order
func (s *TurnStore) TurnRange(ctx context.Context, userID, conversationID string, lo, hi int) ([]models.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT turn_index, role, content, created_at
		FROM turns
		WHERE user_id = ? AND conversation_id = ? AND turn_index BETWEEN ? AND ?
		ORDER BY turn_index ASC
	`, userID, conversationID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var turns []models.Turn
	for rows.Next() {
		var (
			turn    models.Turn
			role    string
			created int64
		)
		if err := rows.Scan(&turn.TurnIndex, &role, &turn.Content, &created); err != nil {
			return nil, err
		}
		turn.UserID = userID
		turn.ConversationID = conversationID
		turn.Role = models.Role(role)
		turn.CreatedAt = fromNanos(created)
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// ListConversations summarises the conversations of a user, most recent first
func (s *TurnStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.conversation_id, COUNT(*), MAX(t.created_at),
			(SELECT COUNT(*) FROM windows w WHERE w.user_id = t.user_id AND w.conversation_id = t.conversation_id)
		FROM turns t
		WHERE t.user_id = ?
		GROUP BY t.conversation_id
		ORDER BY MAX(t.created_at) DESC, t.conversation_id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.ConversationSummary
	for rows.Next() {
		var (
			c    models.ConversationSummary
			last int64
		)
		if err := rows.Scan(&c.ConversationID, &c.TurnCount, &last, &c.WindowCount); err != nil {
			return nil, err
		}
		c.LastAt = fromNanos(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}
