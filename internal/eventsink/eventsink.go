// Package eventsink implements C6: a bounded buffer between the
// orchestrator (C5) and the event store, batching writes and draining on
// shutdown. Grounded on the teacher's analytics.Pipeline (ingestion.go),
// simplified to a single channel since a RateLimitEvent is the only event
// type this domain has — the teacher fans out three (requests, costs,
// wallet events); this sink only needs one.
package eventsink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/telemetry"
)

// Writer persists a batch of events in one transaction. internal/store
// provides the pgx-backed implementation.
type Writer interface {
	WriteEvents(ctx context.Context, events []model.RateLimitEvent) error
}

// OverflowPolicy decides what happens when the buffer is full.
type OverflowPolicy string

const (
	OverflowDropNewest OverflowPolicy = "drop-newest"
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// Config parameterizes buffering, batching, and retry behavior.
type Config struct {
	BufferSize     int
	BatchSize      int
	BatchTimeout   time.Duration
	OverflowPolicy OverflowPolicy
	Workers        int
	MaxRetries     int
	RetryBaseDelay time.Duration
	DrainDeadline  time.Duration
}

// Stats are the atomic counters Sink exposes for telemetry/health reporting.
type Stats struct {
	Received    int64
	Written     int64
	Dropped     int64
	FlushErrors int64
}

// Sink is the producer/consumer buffer C6 describes.
type Sink struct {
	cfg    Config
	writer Writer
	logger zerolog.Logger

	events  chan model.RateLimitEvent
	batches chan []model.RateLimitEvent

	// writeCtx is deliberately independent of the ctx passed to Start: that
	// one governs admission (when the batcher stops accepting new events and
	// flushes its final batch) and is canceled first during shutdown. If
	// writers used it too, the drain's own WriteEvents calls would fail
	// instantly with context.Canceled instead of getting DrainDeadline to
	// finish. writeCancel is invoked once, bounded by DrainDeadline, from Stop.
	writeCtx    context.Context
	writeCancel context.CancelFunc

	wg   sync.WaitGroup
	once sync.Once

	received    atomic.Int64
	written     atomic.Int64
	dropped     atomic.Int64
	flushErrors atomic.Int64
}

// New constructs a Sink. Call Start to begin the batcher and worker
// goroutines.
func New(cfg Config, writer Writer, logger zerolog.Logger) *Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 500 * time.Millisecond
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = OverflowDropNewest
	}
	writeCtx, writeCancel := context.WithCancel(context.Background())
	return &Sink{
		cfg:         cfg,
		writer:      writer,
		logger:      logger.With().Str("component", "eventsink").Logger(),
		events:      make(chan model.RateLimitEvent, cfg.BufferSize),
		batches:     make(chan []model.RateLimitEvent, cfg.Workers*2),
		writeCtx:    writeCtx,
		writeCancel: writeCancel,
	}
}

// Start launches the batcher and worker goroutines. ctx cancellation (not
// Stop) is what ends the batcher's normal loop; Stop additionally drains.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runBatcher(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
}

// Enqueue offers an event to the buffer without blocking. When full, the
// configured OverflowPolicy decides whether the new event or the oldest
// buffered event is dropped; either way Dropped is incremented. Enqueue
// returns false when the new event is dropped, and true when drop-oldest
// made room for it.
func (s *Sink) Enqueue(event model.RateLimitEvent) bool {
	s.received.Add(1)

	select {
	case s.events <- event:
		return true
	default:
	}

	if s.cfg.OverflowPolicy == OverflowDropOldest {
		select {
		case <-s.events:
			s.dropped.Add(1)
			telemetry.EventSinkDroppedTotal.WithLabelValues("buffer_full_drop_oldest").Inc()
		default:
		}
		select {
		case s.events <- event:
			return true
		default:
		}
	}

	s.dropped.Add(1)
	telemetry.EventSinkDroppedTotal.WithLabelValues("buffer_full").Inc()
	s.logger.Warn().Str("overflow_policy", string(s.cfg.OverflowPolicy)).Msg("event sink buffer full, dropping event")
	return false
}

// runBatcher accumulates events into batches of BatchSize or BatchTimeout,
// whichever comes first, and hands each batch to the worker pool.
func (s *Sink) runBatcher(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.batches)

	ticker := time.NewTicker(s.cfg.BatchTimeout)
	defer ticker.Stop()

	batch := make([]model.RateLimitEvent, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.batches <- batch
		batch = make([]model.RateLimitEvent, 0, s.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			s.drainRemaining(&batch)
			flush()
			return
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// drainRemaining pulls whatever is still sitting in the events channel,
// non-blocking, so a final flush on shutdown doesn't lose buffered events.
func (s *Sink) drainRemaining(batch *[]model.RateLimitEvent) {
	for {
		select {
		case e := <-s.events:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

// runWorker drains batches and writes them with bounded retry, using
// writeCtx rather than the Start ctx so an in-flight or drain-time flush
// isn't aborted by the same cancellation that stops admission.
func (s *Sink) runWorker() {
	defer s.wg.Done()
	for batch := range s.batches {
		s.flushWithRetry(batch)
	}
}

func (s *Sink) flushWithRetry(batch []model.RateLimitEvent) {
	var err error
retryLoop:
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		err = s.writer.WriteEvents(s.writeCtx, batch)
		if err == nil {
			s.written.Add(int64(len(batch)))
			return
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		delay := s.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-s.writeCtx.Done():
			timer.Stop()
			break retryLoop
		case <-timer.C:
		}
	}

	s.flushErrors.Add(1)
	s.dropped.Add(int64(len(batch)))
	telemetry.EventSinkFlushErrorsTotal.Inc()
	telemetry.EventSinkDroppedTotal.WithLabelValues("flush_exhausted_retries").Inc()
	s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("event batch write failed after retries, dropping")
}

// Stop signals shutdown and blocks until every worker has drained, or until
// cfg.DrainDeadline elapses, whichever comes first. Callers must have
// already canceled the context passed to Start so the batcher's select loop
// exits into its final flush; that cancellation stops admission only — the
// final flush itself runs against writeCtx, which Stop bounds by
// DrainDeadline here rather than leaving tied to the already-canceled ctx.
func (s *Sink) Stop() {
	deadline := s.cfg.DrainDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	timer := time.AfterFunc(deadline, s.writeCancel)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn().Msg("event sink drain deadline exceeded, shutting down with events possibly unflushed")
	}
	s.writeCancel()
}

// Stats returns a snapshot of the sink's atomic counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Received:    s.received.Load(),
		Written:     s.written.Load(),
		Dropped:     s.dropped.Load(),
		FlushErrors: s.flushErrors.Load(),
	}
}
