// ABOUTME: Hybrid retrieval fusing vector similarity, lexical relevance and recency
// ABOUTME: Legs run concurrently under deadlines and degrade instead of failing the query
package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// Retrieval leg names reported in SearchResponse.Degraded
const (
	LegVector  = "vector"
	LegLexical = "lexical"
)

// SearchFilters narrows a search
type SearchFilters struct {
	CrossConversation bool
	TestGroup         *int
	Since             time.Time
	Until             time.Time
}

// SearchRequest is one retrieval query
type SearchRequest struct {
	UserID         string
	ConversationID string
	QueryText      string
	K              int
	Filters        SearchFilters
}

// HybridRetriever ranks windows for a query
type HybridRetriever struct {
	store     storage.SearchStore
	embedder  embedding.Embedder
	cfg       *config.Config
	telemetry *TelemetrySink
	metrics   *Metrics
	logger    *log.Entry
	now       func() time.Time
}

// NewHybridRetriever creates a retriever. A nil embedder disables the vector leg.
func NewHybridRetriever(store storage.SearchStore, embedder embedding.Embedder, cfg *config.Config, telemetry *TelemetrySink, metrics *Metrics) *HybridRetriever {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &HybridRetriever{
		store:     store,
		embedder:  embedder,
		cfg:       cfg,
		telemetry: telemetry,
		metrics:   metrics,
		logger:    logging.For("retriever"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// fused accumulates the leg scores of one window
type fused struct {
	window  models.Window
	vector  float64
	lexical float64
}

// Search returns at most K windows ranked by fused score
func (r *HybridRetriever) Search(ctx context.Context, req SearchRequest) (*models.SearchResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrInvalidArgument)
	}
	if req.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, req.K)
	}
	cross := req.Filters.CrossConversation || r.cfg.CrossConversation
	if !cross && strings.TrimSpace(req.ConversationID) == "" {
		return nil, fmt.Errorf("%w: conversation_id is required unless searching across conversations", models.ErrInvalidArgument)
	}

	start := time.Now()
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	scope := models.SearchScope{
		UserID:    req.UserID,
		TestGroup: req.Filters.TestGroup,
		Since:     req.Filters.Since,
		Until:     req.Filters.Until,
	}
	if !cross {
		scope.ConversationID = req.ConversationID
	}

	limit := req.K * r.cfg.Overfetch
	if limit < r.cfg.MinCandidates {
		limit = r.cfg.MinCandidates
	}

	resp := &models.SearchResponse{}
	var candidates map[string]*fused
	mode := "hybrid"

	query := strings.TrimSpace(req.QueryText)
	if query != "" {
		vecHits, lexHits, vecErr, lexErr := r.runLegs(ctx, scope, query, limit)
		if vecErr != nil {
			resp.Degraded = append(resp.Degraded, LegVector)
			r.metrics.DegradedLegs.WithLabelValues(LegVector).Inc()
			r.logger.WithError(vecErr).Warn("vector leg degraded")
		}
		if lexErr != nil {
			resp.Degraded = append(resp.Degraded, LegLexical)
			r.metrics.DegradedLegs.WithLabelValues(LegLexical).Inc()
			r.logger.WithError(lexErr).Warn("lexical leg degraded")
		}
		if vecErr == nil || lexErr == nil {
			candidates = fuseLegs(vecHits, lexHits)
		}
	}

	if candidates == nil {
		mode = "recency"
		rctx := ctx
		if ctx.Err() != nil && parent.Err() == nil {
			// the query legs used up the deadline; recency is still owed to the caller
			var rcancel context.CancelFunc
			rctx, rcancel = context.WithTimeout(context.WithoutCancel(parent), r.cfg.SearchTimeout)
			defer rcancel()
		}
		recent, err := r.store.RecentWindows(rctx, scope, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: recency leg: %v", models.ErrUpstreamUnavailable, err)
		}
		candidates = make(map[string]*fused, len(recent))
		for _, c := range recent {
			candidates[c.Window.WindowID] = &fused{window: c.Window}
		}
	}

	resp.Results = r.rank(candidates, req.K, mode == "recency")
	r.metrics.Searches.WithLabelValues(mode).Inc()
	r.metrics.SearchLatency.Observe(time.Since(start).Seconds())

	group := AssignTestGroup(req.UserID, req.ConversationID, r.cfg.Arms)
	if len(resp.Results) > 0 {
		group = resp.Results[0].Window.TestGroup
	}
	hits := int64(len(resp.Results))
	r.telemetry.Record(req.UserID, group, models.EventSearchWindows, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"k":               req.K,
		"mode":            mode,
		"degraded":        resp.Degraded,
		"latency_ms":      time.Since(start).Milliseconds(),
	}, &hits)
	return resp, nil
}

// runLegs runs the vector and lexical legs concurrently. Each leg records its
// own error so one failure never cancels the other.
func (r *HybridRetriever) runLegs(ctx context.Context, scope models.SearchScope, query string, limit int) (vec, lex []models.Candidate, vecErr, lexErr error) {
	var g errgroup.Group
	var mu sync.Mutex

	g.Go(func() error {
		hits, err := r.vectorLeg(ctx, scope, query, limit)
		mu.Lock()
		vec, vecErr = hits, err
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		hits, err := r.store.LexicalSearch(ctx, scope, query, limit)
		mu.Lock()
		lex, lexErr = hits, err
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	return vec, lex, vecErr, lexErr
}

func (r *HybridRetriever) vectorLeg(ctx context.Context, scope models.SearchScope, query string, limit int) ([]models.Candidate, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", models.ErrUpstreamUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.VectorLegTimeout)
	defer cancel()

	qv, err := r.embedder.Embed(ctx, TruncateForEmbedding(query, r.cfg.MaxEmbedChars))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return r.store.VectorSearch(ctx, scope, qv, limit)
}

// fuseLegs merges leg hits by window id with min-max normalised scores
func fuseLegs(vec, lex []models.Candidate) map[string]*fused {
	out := make(map[string]*fused, len(vec)+len(lex))
	get := func(w models.Window) *fused {
		f, ok := out[w.WindowID]
		if !ok {
			f = &fused{window: w}
			out[w.WindowID] = f
		}
		return f
	}
	vn := minMax(vec)
	for i, c := range vec {
		get(c.Window).vector = vn[i]
	}
	ln := minMax(lex)
	for i, c := range lex {
		get(c.Window).lexical = ln[i]
	}
	return out
}

// minMax scales candidate scores into [0,1]. A single value or a list of
// equal values maps to 1.
func minMax(cands []models.Candidate) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	lo, hi := cands[0].Score, cands[0].Score
	for _, c := range cands[1:] {
		lo = math.Min(lo, c.Score)
		hi = math.Max(hi, c.Score)
	}
	for i, c := range cands {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (c.Score - lo) / (hi - lo)
	}
	return out
}

// Recency scores a window by exponential decay of its last activity
func Recency(lastTurnAt, now time.Time, decayDays float64) float64 {
	age := now.Sub(lastTurnAt).Hours() / 24
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / decayDays)
}

func (r *HybridRetriever) rank(candidates map[string]*fused, k int, recencyOnly bool) []models.SearchResult {
	now := r.now()
	results := make([]models.SearchResult, 0, len(candidates))
	for _, f := range candidates {
		rec := Recency(f.window.LastTurnAt, now, r.cfg.DecayDays)
		score := r.cfg.VectorWeight*f.vector + r.cfg.LexicalWeight*f.lexical + r.cfg.RecencyWeight*rec
		if recencyOnly {
			score = rec
		}
		w := f.window
		w.Embedding = nil
		results = append(results, models.SearchResult{
			Window:  w,
			Score:   score,
			Vector:  f.vector,
			Lexical: f.lexical,
			Recency: rec,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Window.LastTurnAt.Equal(b.Window.LastTurnAt) {
			return a.Window.LastTurnAt.After(b.Window.LastTurnAt)
		}
		return a.Window.WindowID > b.Window.WindowID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
