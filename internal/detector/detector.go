// Package detector decides whether a channel currently has an in-progress
// live broadcast by folding the verdicts of several independent strategies.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// UnknownLabel is reported when no live entry carries a title.
const UnknownLabel = "Unknown"

// StrategyResult is the outcome of one strategy for one detection pass.
type StrategyResult struct {
	Strategy string
	Live     bool
	// Entries is the number of entries the strategy inspected.
	Entries int
	// Titles lists the titles of the qualifying live entries.
	Titles   []string
	Error    string
	Duration time.Duration
}

// Result is the aggregate verdict of a detection pass.
type Result struct {
	Live       bool
	Label      string
	Strategies []StrategyResult
}

// Detector runs every strategy and reports live if any of them does.
type Detector struct {
	strategies []Strategy
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a Detector. A zero timeout leaves detection bounded only by ctx.
// Pass nil logger to use the default logger.
func New(strategies []Strategy, timeout time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		strategies: strategies,
		timeout:    timeout,
		logger:     logger,
	}
}

// Detect queries every strategy for channel. Strategies run concurrently
// under the same deadline so a slow one cannot starve the others. Strategy
// failures are logged and count as not live; Detect itself never fails.
func (d *Detector) Detect(ctx context.Context, channel string) Result {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	results := make([]StrategyResult, len(d.strategies))
	var wg sync.WaitGroup
	for i, s := range d.strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			results[i] = d.run(ctx, s, channel)
		}(i, s)
	}
	wg.Wait()

	res := Result{Label: UnknownLabel, Strategies: results}
	for _, sr := range results {
		if sr.Live && !res.Live {
			res.Live = true
			if len(sr.Titles) > 0 && sr.Titles[0] != "" {
				res.Label = sr.Titles[0]
			}
		}
	}
	return res
}

func (d *Detector) run(ctx context.Context, s Strategy, channel string) (sr StrategyResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			sr = StrategyResult{Strategy: s.Name(), Error: fmt.Sprintf("panic: %v", r)}
			d.logger.Error("detection strategy panicked", "strategy", s.Name(), "panic", r)
		}
		sr.Duration = time.Since(start)
	}()

	sr, err := s.Detect(ctx, channel)
	if err != nil {
		d.logger.Warn("error checking stream", "strategy", s.Name(), "error", err)
		return StrategyResult{Strategy: s.Name(), Error: err.Error()}
	}
	d.logger.Debug("strategy verdict",
		"strategy", s.Name(),
		"live", sr.Live,
		"entries", sr.Entries,
	)
	return sr
}
