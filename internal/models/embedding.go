// ABOUTME: Retrieval result models shared by storage adapters and the retriever
// ABOUTME: Defines per-leg candidates, fused results and search scope filters
package models

import "time"

// Candidate is a window returned by one retrieval leg with its raw score
type Candidate struct {
	Window Window  `json:"window"`
	Score  float64 `json:"score"`
}

// SearchScope restricts which windows a leg may return
type SearchScope struct {
	UserID         string
	ConversationID string // empty means every conversation of the user
	TestGroup      *int
	Since          time.Time
	Until          time.Time
}

// SearchResult is a fused, ranked window
type SearchResult struct {
	Window  Window  `json:"window"`
	Score   float64 `json:"score"`
	Vector  float64 `json:"vector_score"`
	Lexical float64 `json:"lexical_score"`
	Recency float64 `json:"recency_score"`
}

// SearchResponse is the ranked output of a hybrid search
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded []string       `json:"degraded,omitempty"`
}
