// ABOUTME: Tests for user rows and the cascade delete
// ABOUTME: Verifies turns, windows and events disappear with the user
package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harper/recall/internal/models"
)

func TestUserStore_EnsureIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.EnsureUser(ctx, "u1"); err != nil {
			t.Fatalf("EnsureUser() error = %v", err)
		}
	}
	ok, err := s.UserExists(ctx, "u1")
	if err != nil || !ok {
		t.Errorf("UserExists() = %v, %v; want true", ok, err)
	}
}

func TestUserStore_DeleteCascade(t *testing.T) {
	tests := []struct {
		name       string
		keepEvents bool
		wantEvents int
	}{
		{"drop analytics", false, 0},
		{"keep analytics", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			ctx := context.Background()
			now := time.Now()

			seedTurn(t, s, "u1", "c1", 0, models.RoleUser, "hello weather", now)
			seedTurn(t, s, "u2", "c1", 0, models.RoleUser, "hello weather", now)
			seedWindow(t, s, "u1", "c1", 0, 0, "user: hello weather", models.WindowPending, now)
			seedWindow(t, s, "u2", "c1", 0, 0, "user: hello weather", models.WindowPending, now)
			_ = s.RecordEvent(ctx, &models.AnalyticsEvent{UserID: "u1", EventName: models.EventIngestTurn})

			stats, err := s.DeleteUser(ctx, "u1", tt.keepEvents)
			if err != nil {
				t.Fatalf("DeleteUser() error = %v", err)
			}
			if stats.Turns != 1 || stats.Windows != 1 {
				t.Errorf("DeleteUser() stats = %+v, want 1 turn and 1 window", stats)
			}

			turns, _ := s.TurnRange(ctx, "u1", "c1", 0, 10)
			if len(turns) != 0 {
				t.Errorf("u1 still has %d turns", len(turns))
			}
			windows, _ := s.ConversationWindows(ctx, "u1", "c1")
			if len(windows) != 0 {
				t.Errorf("u1 still has %d windows", len(windows))
			}
			hits, _ := s.LexicalSearch(ctx, models.SearchScope{UserID: "u1"}, "weather", 10)
			if len(hits) != 0 {
				t.Errorf("u1 windows still searchable: %d", len(hits))
			}
			events, _ := s.ListEvents(ctx, "u1")
			if len(events) != tt.wantEvents {
				t.Errorf("u1 events = %d, want %d", len(events), tt.wantEvents)
			}

			other, _ := s.LexicalSearch(ctx, models.SearchScope{UserID: "u2"}, "weather", 10)
			if len(other) != 1 {
				t.Errorf("u2 windows affected by u1 delete: %d", len(other))
			}
		})
	}
}

func TestUserStore_DeleteUnknown(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.DeleteUser(context.Background(), "nobody", false)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("DeleteUser() unknown error = %v, want ErrNotFound", err)
	}
}
