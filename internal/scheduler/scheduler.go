// Package scheduler drives the three periodic pipeline workers: sensor
// forwarding, batch processing, and batch delivery. Workers share nothing
// but the local store; each owns its cursor through the store's selection
// queries alone, so a crash or restart resumes from durable state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is one periodic task. Tick processes at most one bounded batch of
// candidates; errors are logged and the worker waits for the next interval.
type Worker struct {
	Name     string
	Interval time.Duration
	Delay    time.Duration
	Tick     func(ctx context.Context) error
}

// Scheduler runs a fixed set of workers until stopped.
type Scheduler struct {
	workers []Worker
	log     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler over workers.
func New(log *slog.Logger, workers ...Worker) *Scheduler {
	return &Scheduler{workers: workers, log: log}
}

// Start spawns one goroutine per worker. Each waits its initial delay, then
// ticks at its interval until the scheduler stops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, w := range s.workers {
		s.wg.Add(1)

		go func(w Worker) {
			defer s.wg.Done()
			s.run(ctx, w)
		}(w)
	}

	s.log.InfoContext(ctx, "scheduler started", "workers", len(s.workers))
}

// Stop cancels all workers and waits for their current tick to finish.
// Callers stop the scheduler before closing the store.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, w Worker) {
	if !sleep(ctx, w.Delay) {
		return
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		err := w.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.ErrorContext(ctx, "worker tick failed", "worker", w.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleep waits d, returning false when ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
