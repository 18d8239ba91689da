// ABOUTME: Engine wires the ledger, builder, pipeline, retriever and telemetry together
// ABOUTME: It is the single entry point used by the CLI, the MCP server and the benchmark
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// Options carries the optional collaborators of an Engine
type Options struct {
	// Recorder receives analytics events; nil discards them
	Recorder storage.EventStore
	// Registerer receives the engine's Prometheus collectors; nil keeps them private
	Registerer prometheus.Registerer
	// Chat answers grounded prompts; nil limits Ask to prompt assembly
	Chat Chatter
}

// Chatter completes a chat prompt
type Chatter interface {
	Chat(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// AskRequest is a question answered from retrieved windows
type AskRequest struct {
	SearchRequest
	// PromptOnly returns the assembled prompt without calling the chat model
	PromptOnly bool
}

// EventPurger is implemented by recorders that keep events outside the store
type EventPurger interface {
	DeleteEvents(ctx context.Context, userID string) (int64, error)
}

// AppendResult is the outcome of appending one turn
type AppendResult struct {
	Turn  models.Turn `json:"turn"`
	Build BuildReport `json:"build"`
}

// IngestResult is the outcome of appending a batch of turns
type IngestResult struct {
	Turns []models.Turn `json:"turns"`
	Build BuildReport   `json:"build"`
}

// Engine is the conversational memory facade
type Engine struct {
	cfg       *config.Config
	store     storage.Store
	purger    EventPurger
	locks     *keyedMutex
	metrics   *Metrics
	telemetry *TelemetrySink
	ledger    *TurnLedger
	builder   *WindowBuilder
	pipeline  *EmbeddingPipeline
	retriever *HybridRetriever
	hydrator  *ContextHydrator
	chat      Chatter
}

// NewEngine assembles an engine over store and embedder
func NewEngine(store storage.Store, embedder embedding.Embedder, cfg *config.Config, opts Options) *Engine {
	metrics := NewMetrics(opts.Registerer)
	locks := newKeyedMutex()
	telemetry := NewTelemetrySink(opts.Recorder, cfg.TelemetryBuffer, metrics)
	builder := NewWindowBuilder(store, cfg, locks, telemetry, metrics)
	pipeline := NewEmbeddingPipeline(store, embedder, cfg, builder, telemetry, metrics)
	builder.OnSealed(pipeline.Enqueue)

	purger, _ := opts.Recorder.(EventPurger)

	return &Engine{
		cfg:       cfg,
		store:     store,
		purger:    purger,
		locks:     locks,
		metrics:   metrics,
		telemetry: telemetry,
		ledger:    NewTurnLedger(store, cfg.ConflictRetries, metrics),
		builder:   builder,
		pipeline:  pipeline,
		retriever: NewHybridRetriever(store, embedder, cfg, telemetry, metrics),
		hydrator:  NewContextHydrator(cfg.PromptMaxTokens),
		chat:      opts.Chat,
	}
}

// Ledger returns the turn ledger
func (e *Engine) Ledger() *TurnLedger { return e.ledger }

// Builder returns the window builder
func (e *Engine) Builder() *WindowBuilder { return e.builder }

// Pipeline returns the embedding pipeline
func (e *Engine) Pipeline() *EmbeddingPipeline { return e.pipeline }

// Retriever returns the hybrid retriever
func (e *Engine) Retriever() *HybridRetriever { return e.retriever }

// Start runs the background embedding workers until Close
func (e *Engine) Start(ctx context.Context) {
	e.pipeline.Start(ctx)
}

// Close stops the workers and flushes telemetry. The store is left open.
func (e *Engine) Close(ctx context.Context) error {
	e.pipeline.Stop()
	return e.telemetry.Close(ctx)
}

// AppendTurn appends a turn and updates the conversation's windows
func (e *Engine) AppendTurn(ctx context.Context, userID, conversationID string, role models.Role, content string) (AppendResult, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return AppendResult{}, err
	}
	unlock := e.locks.Lock(conversationKey(userID, conversationID))
	defer unlock()

	turn, err := e.ledger.Append(ctx, userID, conversationID, role, content)
	if err != nil {
		return AppendResult{}, err
	}
	result := AppendResult{Turn: turn}

	result.Build, err = e.builder.buildLocked(ctx, userID, conversationID)
	e.recordIngest(turn, result.Build)
	if err != nil {
		return result, fmt.Errorf("turn %d stored but windows not updated: %w", turn.TurnIndex, err)
	}
	return result, nil
}

// Ingest appends a batch of turns in order and builds windows once
func (e *Engine) Ingest(ctx context.Context, userID, conversationID string, inputs []models.TurnInput) (IngestResult, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return IngestResult{}, err
	}
	if len(inputs) == 0 {
		return IngestResult{}, fmt.Errorf("%w: no turns to ingest", models.ErrInvalidArgument)
	}
	roles := make([]models.Role, len(inputs))
	for i, in := range inputs {
		role, err := in.Validate()
		if err != nil {
			return IngestResult{}, fmt.Errorf("turn %d: %w", i, err)
		}
		roles[i] = role
	}

	unlock := e.locks.Lock(conversationKey(userID, conversationID))
	defer unlock()

	var result IngestResult
	for i, in := range inputs {
		turn, err := e.ledger.Append(ctx, userID, conversationID, roles[i], in.Content)
		if err != nil {
			return result, fmt.Errorf("turn %d: %w", i, err)
		}
		result.Turns = append(result.Turns, turn)
	}

	var err error
	result.Build, err = e.builder.buildLocked(ctx, userID, conversationID)
	for _, turn := range result.Turns {
		e.recordIngest(turn, result.Build)
	}
	if err != nil {
		return result, fmt.Errorf("turns stored but windows not updated: %w", err)
	}
	return result, nil
}

func (e *Engine) recordIngest(turn models.Turn, build BuildReport) {
	e.telemetry.Record(turn.UserID, build.TestGroup, models.EventIngestTurn, map[string]interface{}{
		"conversation_id": turn.ConversationID,
		"turn_index":      turn.TurnIndex,
		"role":            string(turn.Role),
	}, nil)
}

// Search runs a hybrid retrieval
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*models.SearchResponse, error) {
	return e.retriever.Search(ctx, req)
}

// Ask retrieves windows for the question, assembles a grounded prompt and,
// unless PromptOnly is set, answers it with the chat model
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*models.Answer, error) {
	if strings.TrimSpace(req.QueryText) == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidArgument)
	}
	if !req.PromptOnly && e.chat == nil {
		return nil, fmt.Errorf("%w: no chat model configured (set OPENAI_API_KEY)", models.ErrUpstreamUnavailable)
	}

	resp, err := e.retriever.Search(ctx, req.SearchRequest)
	if err != nil {
		return nil, err
	}
	answer := &models.Answer{Results: resp.Results, Degraded: resp.Degraded}
	answer.Prompt, answer.Dropped = e.hydrator.Hydrate(req.QueryText, resp.Results)
	if req.PromptOnly {
		return answer, nil
	}

	answer.Answer, err = e.chat.Chat(ctx, answer.Prompt)
	if err != nil {
		return answer, err
	}

	group := AssignTestGroup(req.UserID, req.ConversationID, e.cfg.Arms)
	hits := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		hits[i] = r.Window.WindowID
	}
	if len(resp.Results) > 0 {
		group = resp.Results[0].Window.TestGroup
	}
	n := int64(len(hits))
	e.telemetry.Record(req.UserID, group, models.EventRAGAnswer, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"k":               req.K,
		"hits":            hits,
		"dropped":         answer.Dropped,
	}, &n)
	return answer, nil
}

// History returns the last limit turns of a conversation, or all when limit <= 0
func (e *Engine) History(ctx context.Context, userID, conversationID string, limit int) ([]models.Turn, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return nil, err
	}
	next, err := e.store.NextTurnIndex(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if next == 0 {
		return nil, fmt.Errorf("conversation %s/%s: %w", userID, conversationID, models.ErrNotFound)
	}
	lo := 0
	if limit > 0 && next > limit {
		lo = next - limit
	}
	return e.ledger.Range(ctx, userID, conversationID, lo, next-1)
}

// ListConversations summarises a user's conversations
func (e *Engine) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrInvalidArgument)
	}
	exists, err := e.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return e.store.ListConversations(ctx, userID)
}

// DeleteUser removes a user with its turns and windows. Analytics events are
// kept when keepEvents is set, and a USER_DELETED event is added to them.
func (e *Engine) DeleteUser(ctx context.Context, userID string, keepEvents bool) (storage.DeleteStats, error) {
	if userID == "" {
		return storage.DeleteStats{}, fmt.Errorf("%w: user_id is required", models.ErrInvalidArgument)
	}
	group := e.userTestGroup(ctx, userID)
	stats, err := e.store.DeleteUser(ctx, userID, keepEvents)
	if err != nil {
		return stats, err
	}
	if !keepEvents && e.purger != nil {
		n, err := e.purger.DeleteEvents(ctx, userID)
		stats.Events += n
		if err != nil {
			return stats, fmt.Errorf("user deleted but events remain: %w", err)
		}
	}
	if keepEvents {
		windows := stats.Windows
		e.telemetry.Record(userID, group, models.EventUserDeleted, map[string]interface{}{
			"turns":   stats.Turns,
			"windows": stats.Windows,
		}, &windows)
	}
	return stats, nil
}

// userTestGroup is the group of the user's most recently active window. Users
// without windows fall back to the user-level assignment.
func (e *Engine) userTestGroup(ctx context.Context, userID string) int {
	recent, err := e.store.RecentWindows(ctx, models.SearchScope{UserID: userID}, 1)
	if err == nil && len(recent) > 0 {
		return recent[0].Window.TestGroup
	}
	return AssignTestGroup(userID, "", e.cfg.Arms)
}

// Rebuild reconciles a conversation's windows with its ledger
func (e *Engine) Rebuild(ctx context.Context, userID, conversationID string) (ReconcileReport, error) {
	return e.builder.Rebuild(ctx, userID, conversationID)
}

// SealIdle seals drafts idle for longer than the configured threshold
func (e *Engine) SealIdle(ctx context.Context) ([]string, error) {
	return e.builder.SealIdle(ctx, e.cfg.IdleSeal)
}
