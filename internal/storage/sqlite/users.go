// ABOUTME: User root rows and the user-scoped cascade delete
// ABOUTME: Deleting a user removes turns, windows and optionally analytics events
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// UserStore handles user persistence
type UserStore struct {
	db *DB
}

// NewUserStore creates a new UserStore
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// EnsureUser creates the user row if it does not exist
func (s *UserStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (user_id, created_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// UserExists reports whether the user row exists
func (s *UserStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM users WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteUser removes the user and everything that belongs to it in one transaction
func (s *UserStore) DeleteUser(ctx context.Context, userID string, keepEvents bool) (storage.DeleteStats, error) {
	var stats storage.DeleteStats

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE user_id = ?`, userID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}

		// Explicit deletes so the full-text triggers fire for every window
		res, err := tx.ExecContext(ctx, `DELETE FROM windows WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		stats.Windows, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		stats.Turns, _ = res.RowsAffected()

		if !keepEvents {
			res, err = tx.ExecContext(ctx, `DELETE FROM analytics_events WHERE user_id = ?`, userID)
			if err != nil {
				return err
			}
			stats.Events, _ = res.RowsAffected()
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
		return err
	})
	if err != nil {
		return storage.DeleteStats{}, err
	}
	return stats, nil
}
