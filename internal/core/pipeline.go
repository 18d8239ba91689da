// ABOUTME: Asynchronous embedding of sealed windows with retry, dedup and pacing
// ABOUTME: A bounded queue feeds workers; a sweeper picks up deferred and idle work
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
	"github.com/harper/recall/internal/util"
)

// PipelineReport summarises a synchronous pass over pending windows
type PipelineReport struct {
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// EmbeddingPipeline moves windows from pending to ready
type EmbeddingPipeline struct {
	store     storage.WindowStore
	embedder  embedding.Embedder
	cfg       *config.Config
	builder   *WindowBuilder
	limiter   *rate.Limiter
	telemetry *TelemetrySink
	metrics   *Metrics
	logger    *log.Entry

	queue    chan string
	mu       sync.Mutex
	inflight map[string]struct{}

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEmbeddingPipeline creates a pipeline. builder is optional; when set the
// sweeper also seals idle drafts.
func NewEmbeddingPipeline(store storage.WindowStore, embedder embedding.Embedder, cfg *config.Config, builder *WindowBuilder, telemetry *TelemetrySink, metrics *Metrics) *EmbeddingPipeline {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &EmbeddingPipeline{
		store:     store,
		embedder:  embedder,
		cfg:       cfg,
		builder:   builder,
		limiter:   limiter,
		telemetry: telemetry,
		metrics:   metrics,
		logger:    logging.For("pipeline"),
		queue:     make(chan string, cfg.QueueDepth),
		inflight:  make(map[string]struct{}),
	}
}

// Enqueue schedules windows for embedding without blocking. Ids that do not
// fit in the queue are left for the sweeper.
func (p *EmbeddingPipeline) Enqueue(windowIDs ...string) {
	for _, id := range windowIDs {
		p.mu.Lock()
		if _, ok := p.inflight[id]; ok {
			p.mu.Unlock()
			continue
		}
		select {
		case p.queue <- id:
			p.inflight[id] = struct{}{}
		default:
			p.metrics.QueueDeferred.Inc()
		}
		p.mu.Unlock()
	}
}

// Start launches the workers and the sweeper
func (p *EmbeddingPipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	p.group = g

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.sweepLoop(ctx)
		return nil
	})
	p.logger.WithFields(log.Fields{
		"workers":  p.cfg.Workers,
		"embedder": p.embedder.Name(),
	}).Info("embedding pipeline started")
}

// Stop cancels the workers and waits for them to exit
func (p *EmbeddingPipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	_ = p.group.Wait()
	p.cancel = nil
	p.logger.Info("embedding pipeline stopped")
}

func (p *EmbeddingPipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if _, err := p.EmbedWindow(ctx, id); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).WithField("window_id", id).Debug("embedding did not complete")
			}
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
		}
	}
}

func (p *EmbeddingPipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.WithError(err).Warn("sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep seals idle drafts and enqueues a batch of pending windows. It returns
// the number of pending windows found.
func (p *EmbeddingPipeline) Sweep(ctx context.Context) (int, error) {
	if p.builder != nil && p.cfg.IdleSeal > 0 {
		if _, err := p.builder.SealIdle(ctx, p.cfg.IdleSeal); err != nil {
			return 0, err
		}
	}
	pending, err := p.store.PendingWindows(ctx, p.cfg.MaxAttempts, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending windows: %w", err)
	}
	ids := make([]string, len(pending))
	for i, w := range pending {
		ids[i] = w.WindowID
	}
	p.Enqueue(ids...)
	return len(pending), nil
}

// ProcessPending embeds pending windows synchronously until none are left
// that can still be attempted
func (p *EmbeddingPipeline) ProcessPending(ctx context.Context) (PipelineReport, error) {
	var report PipelineReport
	if p.builder != nil && p.cfg.IdleSeal > 0 {
		if _, err := p.builder.SealIdle(ctx, p.cfg.IdleSeal); err != nil {
			return report, err
		}
	}
	for {
		pending, err := p.store.PendingWindows(ctx, p.cfg.MaxAttempts, p.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list pending windows: %w", err)
		}
		if len(pending) == 0 {
			return report, nil
		}
		if be, ok := p.embedder.(embedding.BatchEmbedder); ok && len(pending) > 1 {
			n, rest, err := p.embedBatch(ctx, be, pending)
			report.Embedded += n
			if err != nil {
				return report, err
			}
			pending = rest
		}
		for _, w := range pending {
			_, err := p.EmbedWindow(ctx, w.WindowID)
			switch {
			case err == nil:
				report.Embedded++
			case ctx.Err() != nil:
				return report, ctx.Err()
			case errors.Is(err, models.ErrPermanentFailure), errors.Is(err, models.ErrConflict):
				report.Failed++
			default:
				return report, err
			}
		}
	}
}

// embedBatch embeds pending windows with one provider call. Windows with a
// ready twin, and every window of a batch the provider rejected, are returned
// for per-window embedding, which owns the attempt accounting.
func (p *EmbeddingPipeline) embedBatch(ctx context.Context, be embedding.BatchEmbedder, pending []models.Window) (int, []models.Window, error) {
	var batch, rest []models.Window
	for _, w := range pending {
		twin, err := p.store.FindReadyByHash(ctx, w.UserID, w.TextHash)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to look up identical windows: %w", err)
		}
		if twin != nil {
			rest = append(rest, w)
			continue
		}
		batch = append(batch, w)
	}
	if len(batch) < 2 {
		return 0, append(rest, batch...), nil
	}

	texts := make([]string, len(batch))
	for i, w := range batch {
		texts[i] = TruncateForEmbedding(w.Text, p.cfg.MaxEmbedChars)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	start := time.Now()
	vecs, err := be.EmbedBatch(ctx, texts)
	p.metrics.EmbedLatency.Observe(time.Since(start).Seconds())
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("%w: got %d embeddings for %d windows", embedding.ErrUnavailable, len(vecs), len(batch))
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		p.logger.WithError(err).WithField("windows", len(batch)).Debug("batch embedding failed, embedding windows one by one")
		return 0, append(rest, batch...), nil
	}

	embedded := 0
	for i := range batch {
		w := &batch[i]
		if derr := storage.CheckDimension(vecs[i], p.cfg.VectorDimension); derr != nil {
			rest = append(rest, *w)
			continue
		}
		if err := p.store.SetWindowEmbedding(ctx, w.WindowID, w.TextHash, vecs[i]); err != nil {
			if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			return embedded, nil, err
		}
		p.metrics.Embeds.WithLabelValues("ok").Inc()
		p.ready(w, vecs[i], false)
		embedded++
	}
	return embedded, rest, nil
}

// RetryFailed clears the failure counters of a user's pending windows so the
// sweeper attempts them again
func (p *EmbeddingPipeline) RetryFailed(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", models.ErrInvalidArgument)
	}
	n, err := p.store.ResetEmbedFailures(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset embed failures: %w", err)
	}
	return n, nil
}

// EmbedWindow embeds one window and marks it ready
func (p *EmbeddingPipeline) EmbedWindow(ctx context.Context, windowID string) (models.Window, error) {
	w, err := p.store.GetWindow(ctx, windowID)
	if err != nil {
		return models.Window{}, err
	}

	switch w.State {
	case models.WindowReady:
		return *w, nil
	case models.WindowDraft:
		return *w, fmt.Errorf("%w: window %s is still a draft", models.ErrInvalidArgument, windowID)
	}
	if w.EmbedAttempts >= p.cfg.MaxAttempts {
		return *w, fmt.Errorf("%w: window %s exhausted %d attempts: %s",
			models.ErrPermanentFailure, windowID, w.EmbedAttempts, w.EmbedError)
	}

	twin, err := p.store.FindReadyByHash(ctx, w.UserID, w.TextHash)
	if err != nil {
		return *w, fmt.Errorf("failed to look up identical windows: %w", err)
	}
	if twin != nil && len(twin.Embedding) > 0 {
		if err := p.store.SetWindowEmbedding(ctx, w.WindowID, w.TextHash, twin.Embedding); err != nil {
			return *w, err
		}
		p.metrics.Embeds.WithLabelValues("dedup").Inc()
		return p.ready(w, twin.Embedding, true), nil
	}

	text := TruncateForEmbedding(w.Text, p.cfg.MaxEmbedChars)
	attempts := w.EmbedAttempts
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return *w, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
		}

		start := time.Now()
		vec, err := p.embedder.Embed(ctx, text)
		p.metrics.EmbedLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			if derr := storage.CheckDimension(vec, p.cfg.VectorDimension); derr != nil {
				err = fmt.Errorf("%w: %v", embedding.ErrInvalidInput, derr)
			}
		}
		if err == nil {
			if err := p.store.SetWindowEmbedding(ctx, w.WindowID, w.TextHash, vec); err != nil {
				return *w, err
			}
			p.metrics.Embeds.WithLabelValues("ok").Inc()
			return p.ready(w, vec, false), nil
		}
		if ctx.Err() != nil {
			return *w, ctx.Err()
		}

		attempts++
		permanent := !embedding.Retryable(err) || attempts >= p.cfg.MaxAttempts
		if permanent {
			// rejected input is never retried, so it counts as exhausted
			attempts = p.cfg.MaxAttempts
		}
		if rerr := p.store.RecordEmbedFailure(ctx, w.WindowID, attempts, err.Error()); rerr != nil {
			return *w, fmt.Errorf("failed to record embed failure: %w", rerr)
		}
		w.EmbedAttempts = attempts
		w.EmbedError = err.Error()

		if permanent {
			p.failed(w, err)
			return *w, fmt.Errorf("%w: window %s: %v", models.ErrPermanentFailure, w.WindowID, err)
		}

		p.metrics.Embeds.WithLabelValues("retry").Inc()
		if err := util.Sleep(ctx, util.CalculateBackoff(p.cfg.RetryDelay, attempts)); err != nil {
			return *w, err
		}
	}
}

func (p *EmbeddingPipeline) ready(w *models.Window, vec []float32, dedup bool) models.Window {
	w.State = models.WindowReady
	w.Embedding = vec
	w.EmbedError = ""
	p.telemetry.Record(w.UserID, w.TestGroup, models.EventWindowEmbedded, map[string]interface{}{
		"window_id":       w.WindowID,
		"conversation_id": w.ConversationID,
		"dedup":           dedup,
		"embedder":        p.embedder.Name(),
	}, nil)
	return *w
}

func (p *EmbeddingPipeline) failed(w *models.Window, cause error) {
	p.metrics.Embeds.WithLabelValues("failed").Inc()
	attempts := int64(w.EmbedAttempts)
	p.telemetry.Record(w.UserID, w.TestGroup, models.EventEmbedFailed, map[string]interface{}{
		"window_id":       w.WindowID,
		"conversation_id": w.ConversationID,
		"error":           cause.Error(),
	}, &attempts)
	p.logger.WithError(cause).WithFields(log.Fields{
		"window_id": w.WindowID,
		"attempts":  w.EmbedAttempts,
	}).Warn("window embedding failed permanently")
}
