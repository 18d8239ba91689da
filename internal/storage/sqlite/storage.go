// ABOUTME: Unified Storage layer that wraps all SQLite stores
// ABOUTME: Satisfies storage.Store for the engine and the CLI
package sqlite

import (
	"fmt"

	"github.com/harper/recall/internal/storage"
)

// Storage aggregates the per-entity stores over one database
type Storage struct {
	*UserStore
	*TurnStore
	*WindowStore
	*SearchStore
	*EventStore
	db *DB
}

var _ storage.Store = (*Storage)(nil)

// NewStorage opens storage at the default XDG path
func NewStorage() (*Storage, error) {
	return NewStorageWithPath(DefaultDBPath())
}

// NewStorageWithPath opens storage at a custom database path
func NewStorageWithPath(dbPath string) (*Storage, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newStorage(db), nil
}

// NewStorageInMemory creates an in-memory storage (for testing)
func NewStorageInMemory() (*Storage, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return newStorage(db), nil
}

func newStorage(db *DB) *Storage {
	return &Storage{
		UserStore:   NewUserStore(db),
		TurnStore:   NewTurnStore(db),
		WindowStore: NewWindowStore(db),
		SearchStore: NewSearchStore(db),
		EventStore:  NewEventStore(db),
		db:          db,
	}
}

// DB returns the underlying database
func (s *Storage) DB() *DB {
	return s.db
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}
