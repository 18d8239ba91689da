// ABOUTME: Tests for the asynchronous telemetry sink
// ABOUTME: Delivery, non-blocking behaviour on a full buffer and swallowed recorder errors
package core

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harper/recall/internal/models"
)

func TestTelemetrySink_Delivers(t *testing.T) {
	rec := &memoryRecorder{}
	sink := NewTelemetrySink(rec, 8, nil)

	stat := int64(3)
	sink.Record("u1", 1, models.EventIngestTurn, map[string]interface{}{"turn_index": 0}, nil)
	sink.Record("u1", 1, models.EventSearchWindows, nil, &stat)

	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got, want := rec.names(), []string{models.EventIngestTurn, models.EventSearchWindows}; !reflect.DeepEqual(got, want) {
		t.Errorf("recorded %v, want %v", got, want)
	}
	if rec.events[1].Stat == nil || *rec.events[1].Stat != 3 {
		t.Errorf("Stat = %v, want 3", rec.events[1].Stat)
	}
	if rec.events[0].Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	// recording after close is a no-op
	sink.Record("u1", 1, models.EventIngestTurn, nil, nil)
}

func TestTelemetrySink_FullBufferNeverBlocks(t *testing.T) {
	rec := &memoryRecorder{block: make(chan struct{})}
	metrics := NewMetrics(nil)
	sink := NewTelemetrySink(rec, 1, metrics)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			sink.Record("u1", 0, models.EventIngestTurn, nil, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record() blocked on a full buffer")
	}
	if testutil.ToFloat64(metrics.TelemetryDrops) == 0 {
		t.Error("expected dropped events to be counted")
	}

	close(rec.block)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestTelemetrySink_RecorderErrorsSwallowed(t *testing.T) {
	rec := &memoryRecorder{fail: true}
	metrics := NewMetrics(nil)
	sink := NewTelemetrySink(rec, 4, metrics)

	sink.Record("u1", 0, models.EventEmbedFailed, nil, nil)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.TelemetryDrops); got != 1 {
		t.Errorf("drops = %v, want 1", got)
	}
}

func TestTelemetrySink_NilRecorderAndNilSink(t *testing.T) {
	sink := NewTelemetrySink(nil, 4, nil)
	sink.Record("u1", 0, models.EventIngestTurn, nil, nil)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var none *TelemetrySink
	none.Record("u1", 0, models.EventIngestTurn, nil, nil)
	if err := none.Close(context.Background()); err != nil {
		t.Fatalf("nil Close() error = %v", err)
	}
}
