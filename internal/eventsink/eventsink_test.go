package eventsink_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/eventsink"
	"github.com/sergeybar/ratesentry/internal/model"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]model.RateLimitEvent
	failN   int32 // number of WriteEvents calls to fail before succeeding
}

func (f *fakeWriter) WriteEvents(ctx context.Context, events []model.RateLimitEvent) error {
	if atomic.AddInt32(&f.failN, -1) >= 0 {
		return errors.New("simulated write failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]model.RateLimitEvent, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func testEvent() model.RateLimitEvent {
	return model.RateLimitEvent{ID: uuid.New(), PolicyID: uuid.New(), Identifier: "u1", Allowed: true}
}

func TestSink_FlushesOnBatchSize(t *testing.T) {
	writer := &fakeWriter{}
	sink := eventsink.New(eventsink.Config{
		BufferSize: 100, BatchSize: 3, BatchTimeout: time.Hour, Workers: 1,
	}, writer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	sink.Start(ctx)

	for i := 0; i < 3; i++ {
		sink.Enqueue(testEvent())
	}

	deadline := time.Now().Add(time.Second)
	for writer.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writer.count() != 3 {
		t.Fatalf("expected 3 events written, got %d", writer.count())
	}

	cancel()
	sink.Stop()
}

func TestSink_FlushesOnTimeout(t *testing.T) {
	writer := &fakeWriter{}
	sink := eventsink.New(eventsink.Config{
		BufferSize: 100, BatchSize: 1000, BatchTimeout: 20 * time.Millisecond, Workers: 1,
	}, writer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	sink.Start(ctx)

	sink.Enqueue(testEvent())

	deadline := time.Now().Add(time.Second)
	for writer.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writer.count() != 1 {
		t.Fatalf("expected 1 event flushed by timeout, got %d", writer.count())
	}

	cancel()
	sink.Stop()
}

func TestSink_DropsNewestWhenFull(t *testing.T) {
	writer := &fakeWriter{}
	sink := eventsink.New(eventsink.Config{
		BufferSize: 1, BatchSize: 1000, BatchTimeout: time.Hour, Workers: 0, OverflowPolicy: eventsink.OverflowDropNewest,
	}, writer, zerolog.Nop())

	// No Start(): buffer stays unconsumed so the 2nd Enqueue observes "full".
	if ok := sink.Enqueue(testEvent()); !ok {
		t.Fatal("expected first enqueue to succeed")
	}
	if ok := sink.Enqueue(testEvent()); ok {
		t.Fatal("expected second enqueue to be dropped")
	}

	stats := sink.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected Dropped=1, got %d", stats.Dropped)
	}
	if stats.Received != 2 {
		t.Fatalf("expected Received=2, got %d", stats.Received)
	}
}

func TestSink_RetriesThenSucceeds(t *testing.T) {
	writer := &fakeWriter{failN: 1}
	sink := eventsink.New(eventsink.Config{
		BufferSize: 100, BatchSize: 1, BatchTimeout: time.Hour, Workers: 1,
		MaxRetries: 2, RetryBaseDelay: time.Millisecond,
	}, writer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	sink.Start(ctx)
	sink.Enqueue(testEvent())

	deadline := time.Now().Add(time.Second)
	for writer.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writer.count() != 1 {
		t.Fatalf("expected the retried write to eventually succeed, got %d events", writer.count())
	}

	cancel()
	sink.Stop()
}
