// ABOUTME: Shared fixtures for SQLite store tests
// ABOUTME: Builds in-memory storage and seeds turns and windows
package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harper/recall/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorageInMemory()
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTurn(t *testing.T, s *Storage, user, conv string, idx int, role models.Role, content string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureUser(ctx, user); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	err := s.InsertTurn(ctx, &models.Turn{
		UserID: user, ConversationID: conv, TurnIndex: idx, Role: role, Content: content, CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("InsertTurn() error = %v", err)
	}
}

func seedWindow(t *testing.T, s *Storage, user, conv string, start, end int, text string, state models.WindowState, last time.Time) *models.Window {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureUser(ctx, user); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	sum := sha256.Sum256([]byte(text))
	w := &models.Window{
		WindowID:       uuid.NewString(),
		UserID:         user,
		ConversationID: conv,
		StartIndex:     start,
		EndIndex:       end,
		TurnCount:      end - start + 1,
		Text:           text,
		TextHash:       hex.EncodeToString(sum[:]),
		State:          models.WindowPending,
		FirstTurnAt:    last.Add(-time.Minute),
		LastTurnAt:     last,
	}
	if state == models.WindowDraft {
		w.State = models.WindowDraft
	}
	if err := s.SaveWindow(ctx, w); err != nil {
		t.Fatalf("SaveWindow(%s) error = %v", fmt.Sprint(start, "-", end), err)
	}
	return w
}
