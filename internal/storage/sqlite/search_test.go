// ABOUTME: Tests for SQLite retrieval legs
// ABOUTME: Covers scoping, cosine ordering, full-text matching and recency ordering
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/harper/recall/internal/models"
)

func TestSearchStore_VectorSearch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	near := seedWindow(t, s, "u1", "c1", 0, 1, "near", models.WindowPending, now)
	far := seedWindow(t, s, "u1", "c1", 2, 3, "far", models.WindowPending, now)
	seedWindow(t, s, "u1", "c1", 4, 5, "unembedded", models.WindowPending, now)
	other := seedWindow(t, s, "u2", "c1", 0, 1, "other user", models.WindowPending, now)

	for _, w := range []struct {
		id, hash string
		vec      []float32
	}{
		{near.WindowID, near.TextHash, []float32{1, 0.1}},
		{far.WindowID, far.TextHash, []float32{0, 1}},
		{other.WindowID, other.TextHash, []float32{1, 0}},
	} {
		if err := s.SetWindowEmbedding(ctx, w.id, w.hash, w.vec); err != nil {
			t.Fatalf("SetWindowEmbedding() error = %v", err)
		}
	}

	hits, err := s.VectorSearch(ctx, models.SearchScope{UserID: "u1", ConversationID: "c1"}, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("VectorSearch() returned %d hits, want 2 (ready windows of u1 only)", len(hits))
	}
	if hits[0].Window.WindowID != near.WindowID {
		t.Errorf("VectorSearch() top hit = %s, want near window", hits[0].Window.Text)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %f, %f", hits[0].Score, hits[1].Score)
	}

	limited, _ := s.VectorSearch(ctx, models.SearchScope{UserID: "u1"}, []float32{1, 0}, 1)
	if len(limited) != 1 {
		t.Errorf("VectorSearch() limit 1 returned %d", len(limited))
	}
}

func TestSearchStore_LexicalSearch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	seedWindow(t, s, "u1", "c1", 0, 1, "user: hello\nassistant: hi there", models.WindowPending, now)
	weather := seedWindow(t, s, "u1", "c1", 2, 3, "user: what's the weather\nassistant: sunny", models.WindowDraft, now)
	seedWindow(t, s, "u1", "c2", 0, 1, "user: weather in another conversation", models.WindowPending, now)

	hits, err := s.LexicalSearch(ctx, models.SearchScope{UserID: "u1", ConversationID: "c1"}, "weather?", 10)
	if err != nil {
		t.Fatalf("LexicalSearch() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Window.WindowID != weather.WindowID {
		t.Fatalf("LexicalSearch() = %v, want only the weather window of c1", hits)
	}

	all, err := s.LexicalSearch(ctx, models.SearchScope{UserID: "u1"}, "weather", 10)
	if err != nil {
		t.Fatalf("LexicalSearch() cross-conversation error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("LexicalSearch() cross-conversation returned %d, want 2", len(all))
	}

	none, err := s.LexicalSearch(ctx, models.SearchScope{UserID: "u1"}, "?!", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("LexicalSearch() punctuation-only = %v, %v; want empty", none, err)
	}
}

func TestSearchStore_LikeFallback(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedWindow(t, s, "u1", "c1", 0, 0, "user: Weather report", models.WindowPending, time.Now())

	hits, err := s.SearchStore.likeSearch(ctx, models.SearchScope{UserID: "u1"}, queryTerms("weather"), 10)
	if err != nil {
		t.Fatalf("likeSearch() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Score != 1 {
		t.Errorf("likeSearch() = %v, want one hit scored 1", hits)
	}
}

func TestSearchStore_RecentWindowsAndFilters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().Add(-48 * time.Hour)

	oldest := seedWindow(t, s, "u1", "c1", 0, 1, "a", models.WindowPending, base)
	middle := seedWindow(t, s, "u1", "c1", 2, 3, "b", models.WindowPending, base.Add(time.Hour))
	newest := seedWindow(t, s, "u1", "c1", 4, 5, "c", models.WindowDraft, base.Add(2*time.Hour))

	hits, err := s.RecentWindows(ctx, models.SearchScope{UserID: "u1", ConversationID: "c1"}, 10)
	if err != nil {
		t.Fatalf("RecentWindows() error = %v", err)
	}
	want := []string{newest.WindowID, middle.WindowID, oldest.WindowID}
	if len(hits) != len(want) {
		t.Fatalf("RecentWindows() returned %d, want %d", len(hits), len(want))
	}
	for i, id := range want {
		if hits[i].Window.WindowID != id {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].Window.Text, id)
		}
	}

	since, _ := s.RecentWindows(ctx, models.SearchScope{UserID: "u1", Since: base.Add(90 * time.Minute)}, 10)
	if len(since) != 1 || since[0].Window.WindowID != newest.WindowID {
		t.Errorf("RecentWindows() with Since = %v, want newest only", since)
	}

	group := 1
	grouped, _ := s.RecentWindows(ctx, models.SearchScope{UserID: "u1", TestGroup: &group}, 10)
	if len(grouped) != 0 {
		t.Errorf("RecentWindows() with TestGroup 1 = %d, want 0", len(grouped))
	}
}

func TestQueryTerms(t *testing.T) {
	got := queryTerms("What's the WEATHER, weather?")
	want := []string{"what", "s", "the", "weather"}
	if len(got) != len(want) {
		t.Fatalf("queryTerms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queryTerms()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
