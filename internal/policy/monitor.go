package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/reboot"
)

// Detector reports whether the channel is live.
type Detector interface {
	Detect(ctx context.Context, channel string) detector.Result
}

// Rebooter restarts the streaming device.
type Rebooter interface {
	Reboot(ctx context.Context) reboot.Outcome
}

// TickResult describes one evaluate-and-act step.
type TickResult struct {
	ID         string
	Channel    string
	StartedAt  time.Time
	Duration   time.Duration
	Live       bool
	Label      string
	Strategies []detector.StrategyResult
	// Failures is the consecutive offline count reached on this tick.
	Failures int
	Max      int
	Tripped  bool
	// Reboot is set only when the tick tripped.
	Reboot reboot.Outcome
	// Count is the counter after the tick.
	Count int
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Count    int
	Max      int
	Channel  string
	LastTick *TickResult
}

// Monitor owns the failure counter. Only Tick mutates it.
type Monitor struct {
	channel   string
	max       int
	detector  Detector
	rebooter  Rebooter
	logger    *slog.Logger
	observers []func(TickResult)

	mu    sync.Mutex
	state State
	last  *TickResult
}

// NewMonitor creates a Monitor. Pass nil logger to use the default logger.
func NewMonitor(channel string, maxFailures int, d Detector, r Rebooter, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Monitor{
		channel:  channel,
		max:      maxFailures,
		detector: d,
		rebooter: r,
		logger:   logger,
	}
}

// OnTick registers fn to be called after every tick. Register observers
// before the first tick.
func (m *Monitor) OnTick(fn func(TickResult)) {
	m.observers = append(m.observers, fn)
}

// State returns the current counter.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the counter, threshold and last tick.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Count: m.state.Count, Max: m.max, Channel: m.channel}
	if m.last != nil {
		last := *m.last
		st.LastTick = &last
	}
	return st
}

// Tick runs one detection, updates the counter and reboots the device when
// the threshold is reached. Cancelling ctx does not interrupt a tick.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	ctx = context.WithoutCancel(ctx)
	res := TickResult{
		ID:        uuid.NewString(),
		Channel:   m.channel,
		StartedAt: time.Now(),
		Max:       m.max,
	}
	logger := m.logger.With("tick", res.ID)
	logger.Info("checking for live streams")

	det := m.detect(ctx, logger)
	res.Live = det.Live
	res.Label = det.Label
	res.Strategies = det.Strategies

	m.mu.Lock()
	prev := m.state
	next, action := Next(prev, det.Live, m.max)
	m.state = next
	m.mu.Unlock()

	if det.Live {
		logger.Info("live stream detected", "title", det.Label)
	} else {
		res.Failures = prev.Count + 1
		logger.Warn("no live stream detected",
			"failures", fmt.Sprintf("%d/%d", res.Failures, m.max),
		)
	}

	if action == ActionReboot {
		res.Tripped = true
		logger.Warn("consecutive failures detected, rebooting device", "failures", res.Failures)
		res.Reboot = m.reboot(ctx, logger)
		logger.Info("reboot attempt finished",
			"outcome", res.Reboot,
			"dispatched", res.Reboot.Dispatched(),
		)
	}

	res.Count = next.Count
	res.Duration = time.Since(res.StartedAt)

	m.mu.Lock()
	last := res
	m.last = &last
	m.mu.Unlock()

	for _, fn := range m.observers {
		m.notify(fn, res, logger)
	}
	return res
}

func (m *Monitor) detect(ctx context.Context, logger *slog.Logger) (res detector.Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("detection panicked", "panic", p)
			res = detector.Result{Label: detector.UnknownLabel}
		}
	}()
	return m.detector.Detect(ctx, m.channel)
}

func (m *Monitor) reboot(ctx context.Context, logger *slog.Logger) (out reboot.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("reboot panicked", "panic", p)
			out = reboot.OutcomeFailed
		}
	}()
	return m.rebooter.Reboot(ctx)
}

func (m *Monitor) notify(fn func(TickResult), res TickResult, logger *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("tick observer panicked", "panic", p)
		}
	}()
	fn(res)
}
