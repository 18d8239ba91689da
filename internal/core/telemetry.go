// ABOUTME: Fire-and-forget analytics sink drained by a single background goroutine
// ABOUTME: Emit never blocks callers; a full buffer or failing recorder drops the event
package core

import (
	"context"
	"sync"
	"time"

	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// TelemetrySink buffers analytics events for asynchronous recording
type TelemetrySink struct {
	recorder storage.EventStore
	metrics  *Metrics
	events   chan *models.AnalyticsEvent
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewTelemetrySink starts a sink writing to recorder. A nil recorder discards events.
func NewTelemetrySink(recorder storage.EventStore, buffer int, metrics *Metrics) *TelemetrySink {
	if buffer < 1 {
		buffer = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	s := &TelemetrySink{
		recorder: recorder,
		metrics:  metrics,
		events:   make(chan *models.AnalyticsEvent, buffer),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record queues an event. It returns immediately whether or not the event was accepted.
func (s *TelemetrySink) Record(userID string, testGroup int, name string, data map[string]interface{}, stat *int64) {
	s.Submit(&models.AnalyticsEvent{
		UserID:    userID,
		TestGroup: testGroup,
		EventName: name,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Stat:      stat,
	})
}

// Submit queues a prepared event
func (s *TelemetrySink) Submit(event *models.AnalyticsEvent) {
	if s == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.metrics.TelemetryDrops.Inc()
		logging.For("telemetry").WithField("event", event.EventName).Warn("telemetry buffer full, dropping event")
	}
}

// Close stops accepting events and waits until the buffer is flushed or ctx ends
func (s *TelemetrySink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TelemetrySink) drain() {
	defer close(s.done)
	logger := logging.For("telemetry")
	for event := range s.events {
		if s.recorder == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.recorder.RecordEvent(ctx, event)
		cancel()
		if err != nil {
			s.metrics.TelemetryDrops.Inc()
			logger.WithError(err).WithField("event", event.EventName).Warn("failed to record telemetry event")
		}
	}
}
