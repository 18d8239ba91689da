// ABOUTME: Tests for benchmark retrieval metrics
// ABOUTME: Verifies rank lookup, context recall and averaged summaries

package recall

import (
	"math"
	"testing"

	"github.com/harper/recall/internal/models"
)

func result(start, end int, text string) models.SearchResult {
	return models.SearchResult{Window: models.Window{StartIndex: start, EndIndex: end, TurnCount: end - start + 1, Text: text}}
}

func TestFirstRelevantRank(t *testing.T) {
	m := NewMetricsCalculator()
	results := []models.SearchResult{
		result(4, 5, "b"),
		result(0, 1, "a"),
		result(2, 3, "c"),
	}

	tests := []struct {
		turn int
		want int
	}{
		{4, 1},
		{1, 2},
		{3, 3},
		{9, 0},
	}
	for _, tt := range tests {
		if got := m.FirstRelevantRank(results, tt.turn); got != tt.want {
			t.Errorf("FirstRelevantRank(turn %d) = %d, want %d", tt.turn, got, tt.want)
		}
	}
}

func TestCalculateContextRecall(t *testing.T) {
	m := NewMetricsCalculator()

	got, _ := m.CalculateContextRecall([]string{"Stay in Alfama", "take tram 28"}, []string{"alfama", "TRAM"})
	if got != 1.0 {
		t.Errorf("recall = %v, want 1", got)
	}

	got, detail := m.CalculateContextRecall([]string{"Stay in Alfama"}, []string{"alfama", "metro"})
	if got != 0.5 {
		t.Errorf("recall = %v, want 0.5", got)
	}
	if detail == "" {
		t.Error("partial recall should explain what is missing")
	}

	if got, _ := m.CalculateContextRecall(nil, nil); got != 1.0 {
		t.Errorf("no expectations should score 1, got %v", got)
	}
}

func TestSummarize(t *testing.T) {
	m := NewMetricsCalculator()
	scores := []QueryScore{
		{Rank: 1, Hit: true, ContextRecall: 1},
		{Rank: 2, Hit: true, ContextRecall: 0.5},
		{Rank: 0, Hit: false, ContextRecall: 0},
		{Rank: 4, Hit: true, ContextRecall: 1},
	}

	hit, mrr, recall := m.Summarize(scores)
	if hit != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", hit)
	}
	if want := (1 + 0.5 + 0.25) / 4; math.Abs(mrr-want) > 1e-9 {
		t.Errorf("mrr = %v, want %v", mrr, want)
	}
	if recall != 0.625 {
		t.Errorf("recall = %v, want 0.625", recall)
	}

	if h, r, c := m.Summarize(nil); h != 0 || r != 0 || c != 0 {
		t.Error("empty scores should summarize to zero")
	}
}
