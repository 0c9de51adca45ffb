package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context)

// Scheduler runs a job immediately and then at a fixed rate, one run at a time.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a new Scheduler. Pass nil logger to use the default logger.
func New(interval time.Duration, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		job:      job,
		logger:   logger,
	}
}

// Start spawns the loop goroutine. It is non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Wait blocks until the loop started by Start has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run executes the loop on the calling goroutine until ctx is cancelled.
// Cancellation is observed between runs only.
func (s *Scheduler) Run(ctx context.Context) {
	// Run immediately.
	s.runJob(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitoring stopped")
			return
		case <-ticker.C:
			// A slow run may leave a stale tick behind; skip it once cancelled.
			if ctx.Err() != nil {
				s.logger.Info("monitoring stopped")
				return
			}
			s.runJob(ctx)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduled job panicked", "panic", p)
		}
	}()
	s.job(ctx)
}
