package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/livewatch/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingJob records how many times it ran and how many runs overlapped.
type countingJob struct {
	runs     atomic.Int32
	inFlight atomic.Int32
	overlaps atomic.Int32
	sleep    time.Duration
}

func (j *countingJob) Run(ctx context.Context) {
	if j.inFlight.Add(1) > 1 {
		j.overlaps.Add(1)
	}
	defer j.inFlight.Add(-1)
	if j.sleep > 0 {
		time.Sleep(j.sleep)
	}
	j.runs.Add(1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestScheduler_RunsJobImmediately(t *testing.T) {
	job := &countingJob{}
	sched := scheduler.New(time.Hour, job.Run, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	waitFor(t, func() bool { return job.runs.Load() >= 1 })
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	job := &countingJob{}
	sched := scheduler.New(50*time.Millisecond, job.Run, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	// 1 immediate + ~5 ticks in 300ms at 50ms interval; allow some slack.
	if n := job.runs.Load(); n < 3 {
		t.Errorf("expected at least 3 runs in 300ms with 50ms interval, got %d", n)
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	job := &countingJob{}
	sched := scheduler.New(20*time.Millisecond, job.Run, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	waitFor(t, func() bool { return job.runs.Load() >= 1 })
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	after := job.runs.Load()
	time.Sleep(60 * time.Millisecond)
	if job.runs.Load() != after {
		t.Error("job ran after the scheduler stopped")
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	job := &countingJob{sleep: 30 * time.Millisecond}
	sched := scheduler.New(5*time.Millisecond, job.Run, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if n := job.overlaps.Load(); n != 0 {
		t.Errorf("expected serial runs, got %d overlaps", n)
	}
}

func TestScheduler_RunBlocksUntilCancel(t *testing.T) {
	job := &countingJob{}
	sched := scheduler.New(time.Hour, job.Run, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	waitFor(t, func() bool { return job.runs.Load() == 1 })
	cancel()
	wg.Wait()
}

func TestScheduler_SurvivesPanickingJob(t *testing.T) {
	var runs atomic.Int32
	job := func(context.Context) {
		runs.Add(1)
		panic("tick failed")
	}
	sched := scheduler.New(10*time.Millisecond, job, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if runs.Load() < 2 {
		t.Errorf("expected the loop to keep running after a panic, got %d runs", runs.Load())
	}
}
