// Package metrics exposes tick outcomes as Prometheus metrics.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazz-dev/livewatch/internal/policy"
)

const namespace = "livewatch"

// Metrics holds the collectors fed by every tick.
type Metrics struct {
	TicksTotal          *prometheus.CounterVec
	StrategyErrorsTotal *prometheus.CounterVec
	RebootsTotal        *prometheus.CounterVec

	ConsecutiveFailures prometheus.Gauge
	MaxFailures         prometheus.Gauge
	Live                prometheus.Gauge
	LastTickTimestamp   prometheus.Gauge

	TickDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total number of live checks, by verdict",
			},
			[]string{"verdict"},
		),
		StrategyErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_errors_total",
				Help:      "Total number of failed detection strategy runs",
			},
			[]string{"strategy"},
		),
		RebootsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reboots_total",
				Help:      "Total number of reboot attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive offline checks",
		}),
		MaxFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_failures",
			Help:      "Consecutive offline checks that trigger a reboot",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live",
			Help:      "1 if the last check found a live stream, 0 otherwise",
		}),
		LastTickTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time the last check started",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full check including any reboot attempt",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.StrategyErrorsTotal,
		m.RebootsTotal,
		m.ConsecutiveFailures,
		m.MaxFailures,
		m.Live,
		m.LastTickTimestamp,
		m.TickDuration,
	)
	return m
}

// Observe records a tick. It is meant to be registered with Monitor.OnTick.
func (m *Metrics) Observe(r policy.TickResult) {
	verdict := "offline"
	live := 0.0
	if r.Live {
		verdict = "live"
		live = 1
	}
	m.TicksTotal.WithLabelValues(verdict).Inc()
	m.Live.Set(live)
	m.ConsecutiveFailures.Set(float64(r.Count))
	m.MaxFailures.Set(float64(r.Max))
	m.LastTickTimestamp.Set(float64(r.StartedAt.Unix()))
	m.TickDuration.Observe(r.Duration.Seconds())

	for _, s := range r.Strategies {
		if s.Error != "" {
			m.StrategyErrorsTotal.WithLabelValues(s.Strategy).Inc()
		}
	}
	if r.Tripped {
		m.RebootsTotal.WithLabelValues(string(r.Reboot)).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
