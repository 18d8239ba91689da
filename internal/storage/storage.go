// ABOUTME: Storage boundary for turns, windows, search legs and analytics events
// ABOUTME: Implemented by the sqlite and postgres adapters
package storage

import (
	"context"
	"time"

	"github.com/harper/recall/internal/models"
)

// ExpectedDimension is the vector dimension of text-embedding-3-small
const ExpectedDimension = 1536

// DeleteStats counts rows removed by a user cascade
type DeleteStats struct {
	Turns   int64 `json:"turns"`
	Windows int64 `json:"windows"`
	Events  int64 `json:"events"`
}

// UserStore manages the user root rows
type UserStore interface {
	EnsureUser(ctx context.Context, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	// DeleteUser removes the user with its turns and windows, and its
	// analytics events unless keepEvents is set. Unknown users yield ErrNotFound.
	DeleteUser(ctx context.Context, userID string, keepEvents bool) (DeleteStats, error)
}

// TurnStore is the append-only turn ledger
type TurnStore interface {
	// NextTurnIndex returns one past the highest stored index, or 0
	NextTurnIndex(ctx context.Context, userID, conversationID string) (int, error)
	// InsertTurn fails with ErrConflict when the index is already taken
	InsertTurn(ctx context.Context, turn *models.Turn) error
	// TurnRange returns turns with lo <= index <= hi in index order
	TurnRange(ctx context.Context, userID, conversationID string, lo, hi int) ([]models.Turn, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// WindowStore persists windows and their embedding lifecycle
type WindowStore interface {
	// ConversationWindows returns every window of a conversation ordered by span
	ConversationWindows(ctx context.Context, userID, conversationID string) ([]models.Window, error)
	// SaveWindow inserts a new window or updates an existing draft.
	// Span collisions and updates of non-draft rows yield ErrConflict.
	SaveWindow(ctx context.Context, w *models.Window) error
	DeleteWindow(ctx context.Context, windowID string) error
	// GetWindow yields ErrNotFound for unknown ids
	GetWindow(ctx context.Context, windowID string) (*models.Window, error)
	// PendingWindows lists pending windows with fewer than maxAttempts failures, oldest first
	PendingWindows(ctx context.Context, maxAttempts, limit int) ([]models.Window, error)
	// IdleDrafts lists drafts whose last turn is older than before
	IdleDrafts(ctx context.Context, before time.Time, limit int) ([]models.Window, error)
	// SetWindowEmbedding stores a vector and marks the window ready. It yields
	// ErrConflict when the window is not pending or its hash no longer matches.
	SetWindowEmbedding(ctx context.Context, windowID, textHash string, vector []float32) error
	RecordEmbedFailure(ctx context.Context, windowID string, attempts int, message string) error
	// ResetEmbedFailures clears attempt counters of a user's pending windows
	ResetEmbedFailures(ctx context.Context, userID string) (int64, error)
	// FindReadyByHash returns a ready window of the user with the given hash, or nil
	FindReadyByHash(ctx context.Context, userID, textHash string) (*models.Window, error)
}

// SearchStore answers the three retrieval legs
type SearchStore interface {
	VectorSearch(ctx context.Context, scope models.SearchScope, query []float32, limit int) ([]models.Candidate, error)
	LexicalSearch(ctx context.Context, scope models.SearchScope, text string, limit int) ([]models.Candidate, error)
	RecentWindows(ctx context.Context, scope models.SearchScope, limit int) ([]models.Candidate, error)
}

// EventStore appends analytics events
type EventStore interface {
	RecordEvent(ctx context.Context, event *models.AnalyticsEvent) error
}

// Store is the full storage boundary
type Store interface {
	UserStore
	TurnStore
	WindowStore
	SearchStore
	EventStore
	Close() error
}
