// ABOUTME: Shared fixtures for core tests
// ABOUTME: In-memory SQLite storage, fast config and scripted embedders and recorders
package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage/sqlite"
)

const testDim = 64

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VectorDimension = testDim
	cfg.RetryDelay = time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.Workers = 2
	return cfg
}

func newTestStore(t *testing.T) *sqlite.Storage {
	t.Helper()
	store, err := sqlite.NewStorageInMemory()
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, cfg *config.Config, embedder embedding.Embedder) (*Engine, *sqlite.Storage) {
	t.Helper()
	store := newTestStore(t)
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(cfg.VectorDimension)
	}
	engine := NewEngine(store, embedder, cfg, Options{Recorder: store})
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine, store
}

func appendTurns(t *testing.T, e *Engine, user, conv string, turns ...string) {
	t.Helper()
	roles := []models.Role{models.RoleUser, models.RoleAssistant}
	for i, content := range turns {
		if _, err := e.AppendTurn(context.Background(), user, conv, roles[i%2], content); err != nil {
			t.Fatalf("AppendTurn(%q) error = %v", content, err)
		}
	}
}

func spans(ws []models.Window) []string {
	out := make([]string, len(ws))
	for i := range ws {
		out[i] = ws[i].Span()
	}
	return out
}

// scriptedEmbedder returns queued errors first, then delegates to a hash embedder
type scriptedEmbedder struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  int
	inner  *embedding.HashEmbedder
}

func newScriptedEmbedder(errs ...error) *scriptedEmbedder {
	return &scriptedEmbedder{errs: errs, inner: embedding.NewHashEmbedder(testDim)}
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	if s.always != nil {
		err := s.always
		s.mu.Unlock()
		return nil, err
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.inner.Embed(ctx, text)
}

func (s *scriptedEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedEmbedder) Dimension() int { return testDim }

func (s *scriptedEmbedder) Name() string { return "scripted" }

// memoryRecorder collects events in memory
type memoryRecorder struct {
	mu     sync.Mutex
	events []models.AnalyticsEvent
	fail   bool
	block  chan struct{}
}

func (r *memoryRecorder) RecordEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("recorder offline")
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *memoryRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventName
	}
	return out
}

// batchingEmbedder adds a scripted EmbedBatch to scriptedEmbedder
type batchingEmbedder struct {
	*scriptedEmbedder
	batchErr   error
	batchCalls int
	batchSizes []int
}

func newBatchingEmbedder(batchErr error) *batchingEmbedder {
	return &batchingEmbedder{scriptedEmbedder: newScriptedEmbedder(), batchErr: batchErr}
}

func (b *batchingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.batchCalls++
	b.batchSizes = append(b.batchSizes, len(texts))
	err := b.batchErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.inner.EmbedBatch(ctx, texts)
}

func (b *batchingEmbedder) BatchCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batchCalls
}
