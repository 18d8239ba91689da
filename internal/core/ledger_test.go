// ABOUTME: Tests for the turn ledger
// ABOUTME: Dense indices, validation and conflict retry under concurrent appends
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/harper/recall/internal/models"
)

func TestTurnLedger_AppendDense(t *testing.T) {
	store := newTestStore(t)
	ledger := NewTurnLedger(store, 8, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		turn, err := ledger.Append(ctx, "u1", "c1", models.RoleUser, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if turn.TurnIndex != i {
			t.Errorf("TurnIndex = %d, want %d", turn.TurnIndex, i)
		}
	}

	// a second conversation starts again at zero
	turn, err := ledger.Append(ctx, "u1", "c2", models.RoleAssistant, "other")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if turn.TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0", turn.TurnIndex)
	}

	turns, err := ledger.Range(ctx, "u1", "c1", 1, 3)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(turns) != 3 || turns[0].TurnIndex != 1 || turns[2].TurnIndex != 3 {
		t.Errorf("Range(1,3) returned %+v", turns)
	}
}

func TestTurnLedger_Validation(t *testing.T) {
	store := newTestStore(t)
	ledger := NewTurnLedger(store, 8, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		conv    string
		role    models.Role
		content string
	}{
		{"empty user", "", "c", models.RoleUser, "hi"},
		{"empty conversation", "u", " ", models.RoleUser, "hi"},
		{"bad role", "u", "c", models.Role("robot"), "hi"},
		{"blank content", "u", "c", models.RoleUser, "  \n "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Append(ctx, tt.user, tt.conv, tt.role, tt.content)
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Errorf("Append() error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if _, err := ledger.Range(ctx, "u", "c", -1, 2); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("Range(-1,2) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := ledger.Range(ctx, "u", "c", 3, 2); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("Range(3,2) error = %v, want ErrInvalidArgument", err)
	}
}

func TestTurnLedger_ConcurrentAppendsStayDense(t *testing.T) {
	store := newTestStore(t)
	ledger := NewTurnLedger(store, 200, nil)
	ctx := context.Background()

	const writers, each = 6, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*each)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := ledger.Append(ctx, "u1", "c1", models.RoleUser, fmt.Sprintf("w%d-%d", w, i)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append() error = %v", err)
	}

	turns, err := ledger.Range(ctx, "u1", "c1", 0, writers*each+10)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(turns) != writers*each {
		t.Fatalf("got %d turns, want %d", len(turns), writers*each)
	}
	for i, turn := range turns {
		if turn.TurnIndex != i {
			t.Fatalf("turn %d has index %d; indices must be dense", i, turn.TurnIndex)
		}
	}
}

type conflictingStore struct {
	LedgerStore
	failures int
}

func (c *conflictingStore) InsertTurn(ctx context.Context, turn *models.Turn) error {
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("turn %d: %w", turn.TurnIndex, models.ErrConflict)
	}
	return c.LedgerStore.InsertTurn(ctx, turn)
}

func TestTurnLedger_ConflictRetries(t *testing.T) {
	ctx := context.Background()

	store := &conflictingStore{LedgerStore: newTestStore(t), failures: 3}
	if _, err := NewTurnLedger(store, 3, nil).Append(ctx, "u", "c", models.RoleUser, "hi"); err != nil {
		t.Fatalf("Append() with 3 conflicts and 3 retries error = %v", err)
	}

	store = &conflictingStore{LedgerStore: newTestStore(t), failures: 5}
	_, err := NewTurnLedger(store, 2, nil).Append(ctx, "u", "c", models.RoleUser, "hi")
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("Append() error = %v, want ErrConflict after exhausting retries", err)
	}
}
