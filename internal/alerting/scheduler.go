package alerting

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a single task on a fixed tick, skipping a tick entirely if
// the previous run hasn't finished — per spec.md §5: "an overrun does not
// stack — the next tick is skipped if the previous has not completed."
// Grounded on the teacher's main.go background tasks (healthPoller,
// modelSyncer), which use the same ticker-plus-goroutine shape.
type Scheduler struct {
	interval     time.Duration
	initialDelay time.Duration
	task         func(ctx context.Context)
	logger       zerolog.Logger
	running      atomic.Bool
}

// NewScheduler builds a Scheduler for task, ticking every interval after
// waiting initialDelay once at startup.
func NewScheduler(interval, initialDelay time.Duration, task func(ctx context.Context), logger zerolog.Logger) *Scheduler {
	return &Scheduler{interval: interval, initialDelay: initialDelay, task: task, logger: logger}
}

// Run blocks, ticking task until ctx is canceled. Intended to be launched
// in its own goroutine from the composition root.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	go s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous tick still running, skipping this one")
		return
	}
	defer s.running.Store(false)
	s.task(ctx)
}
