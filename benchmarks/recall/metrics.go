// ABOUTME: Retrieval metrics for the recall benchmark
// ABOUTME: Computes reciprocal rank, hit rate at k and context recall over ranked windows

package recall

import (
	"fmt"
	"strings"

	"github.com/harper/recall/internal/models"
)

// QueryScore is the outcome of one query
type QueryScore struct {
	Query         string  `json:"query"`
	Rank          int     `json:"rank"`
	Hit           bool    `json:"hit"`
	ContextRecall float64 `json:"context_recall"`
	Detail        string  `json:"detail"`
}

// MetricsCalculator scores ranked results against expected turns
type MetricsCalculator struct{}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// FirstRelevantRank returns the 1-based rank of the first window covering turn, or 0
func (m *MetricsCalculator) FirstRelevantRank(results []models.SearchResult, turn int) int {
	for i, r := range results {
		if r.Window.Covers(turn) {
			return i + 1
		}
	}
	return 0
}

// CalculateContextRecall returns the share of expected items present in the retrieved text
func (m *MetricsCalculator) CalculateContextRecall(retrieved []string, expected []string) (float64, string) {
	if len(expected) == 0 {
		return 1.0, "No context retrieval required"
	}

	all := strings.ToUpper(strings.Join(retrieved, " "))

	found := 0
	var missing []string
	for _, item := range expected {
		if strings.Contains(all, strings.ToUpper(item)) {
			found++
		} else {
			missing = append(missing, item)
		}
	}

	recall := float64(found) / float64(len(expected))
	if recall == 1.0 {
		return 1.0, "All expected items retrieved"
	}
	return recall, fmt.Sprintf("Partial context recall (%.2f) - missing items: %v", recall, missing)
}

// ScoreQuery evaluates one query against its ranked results
func (m *MetricsCalculator) ScoreQuery(q Query, results []models.SearchResult) QueryScore {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Window.Text
	}
	recall, detail := m.CalculateContextRecall(texts, q.ExpectedContext)
	rank := m.FirstRelevantRank(results, q.ExpectedTurn)
	return QueryScore{
		Query:         q.Text,
		Rank:          rank,
		Hit:           rank > 0,
		ContextRecall: recall,
		Detail:        detail,
	}
}

// Summarize averages hit rate, MRR and context recall over scores
func (m *MetricsCalculator) Summarize(scores []QueryScore) (hitRate, mrr, recall float64) {
	if len(scores) == 0 {
		return 0, 0, 0
	}
	for _, s := range scores {
		if s.Hit {
			hitRate++
			mrr += 1.0 / float64(s.Rank)
		}
		recall += s.ContextRecall
	}
	n := float64(len(scores))
	return hitRate / n, mrr / n, recall / n
}
