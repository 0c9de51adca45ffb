package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/metrics"
	"github.com/hazz-dev/livewatch/internal/policy"
	"github.com/hazz-dev/livewatch/internal/reboot"
	"github.com/hazz-dev/livewatch/internal/scheduler"
	"github.com/hazz-dev/livewatch/internal/server"
	"github.com/hazz-dev/livewatch/internal/storage"
)

const channelURL = "https://www.youtube.com/@example"

// scriptedExecutor stands in for yt-dlp and answers with a fixed listing.
type scriptedExecutor struct {
	listing string
	calls   atomic.Int32
}

func (e *scriptedExecutor) Run(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
	e.calls.Add(1)
	return []byte(e.listing), nil, nil
}

type recordingTransport struct {
	calls atomic.Int32
}

func (r *recordingTransport) Exec(context.Context, reboot.Target, string) (reboot.ExecResult, error) {
	r.calls.Add(1)
	return reboot.ExecResult{}, nil
}

// TestIntegration_FullFlow verifies the complete pipeline:
// scheduler → detector → policy → reboot → storage → API
func TestIntegration_FullFlow(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer db.Close()

	exec := &scriptedExecutor{listing: `{"id":"UCxyz","entries":[{"id":"a1","title":"Yesterday's stream","live_status":"was_live","duration":7200}]}`}
	src := detector.NewYtDlpSourceWithExecutor("yt-dlp", exec)

	var strategies []detector.Strategy
	for _, name := range []string{detector.StrategyVideos, detector.StrategyStreams} {
		s, err := detector.NewStrategy(name, src, 10)
		if err != nil {
			t.Fatal(err)
		}
		strategies = append(strategies, s)
	}
	det := detector.New(strategies, 5*time.Second, nil)

	transport := &recordingTransport{}
	rb := reboot.New(reboot.Options{
		Target:  reboot.Target{Host: "192.168.1.50", Port: 22, Username: "pi", Password: "raspberry"},
		Command: "sudo reboot now",
		Timeout: 5 * time.Second,
	}, transport, nil)

	mon := policy.NewMonitor(channelURL, 1, det, rb, nil)
	m := metrics.New()
	mon.OnTick(m.Observe)
	mon.OnTick(func(r policy.TickResult) {
		if err := db.InsertTick(context.Background(), r); err != nil {
			t.Errorf("storing tick: %v", err)
		}
	})

	// An hour interval means only the immediate first tick runs.
	sched := scheduler.New(time.Hour, func(ctx context.Context) { mon.Tick(ctx) }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	var latest *storage.Tick
	for time.Now().Before(deadline) {
		latest, err = db.LatestTick(context.Background())
		if err != nil {
			t.Fatalf("LatestTick: %v", err)
		}
		if latest != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if latest == nil {
		t.Fatal("no tick was stored within 5s")
	}

	if latest.Live {
		t.Error("expected offline verdict for a finished broadcast")
	}
	if !latest.Tripped || latest.Reboot != string(reboot.OutcomeDispatched) {
		t.Errorf("expected a dispatched reboot, got tripped=%v reboot=%q", latest.Tripped, latest.Reboot)
	}
	if transport.calls.Load() != 1 {
		t.Errorf("expected 1 reboot command, got %d", transport.calls.Load())
	}
	if exec.calls.Load() != 2 {
		t.Errorf("expected both strategies to query yt-dlp, got %d calls", exec.calls.Load())
	}

	api := server.New(mon, server.Options{Store: db, Metrics: m.Handler(nil)}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/status: expected 200, got %d", w.Code)
	}

	var status struct {
		Data struct {
			Count    int `json:"count"`
			Max      int `json:"max"`
			LastTick struct {
				Tripped bool   `json:"tripped"`
				Reboot  string `json:"reboot"`
			} `json:"last_tick"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Data.Count != 0 || status.Data.Max != 1 {
		t.Errorf("expected counter reset after trip, got count=%d max=%d", status.Data.Count, status.Data.Max)
	}
	if !status.Data.LastTick.Tripped || status.Data.LastTick.Reboot != "dispatched" {
		t.Errorf("unexpected last tick %+v", status.Data.LastTick)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ticks?limit=10", nil)
	w = httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)

	var history struct {
		Data struct {
			Ticks []storage.Tick `json:"ticks"`
			Total int            `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if history.Data.Total != 1 || len(history.Data.Ticks) != 1 {
		t.Errorf("expected 1 stored tick, got total=%d len=%d", history.Data.Total, len(history.Data.Ticks))
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics: expected 200, got %d", w.Code)
	}

	cancel()
	sched.Wait()
}

// TestIntegration_LiveResetsCounter checks that a live listing keeps the
// device untouched across several ticks.
func TestIntegration_LiveResetsCounter(t *testing.T) {
	exec := &scriptedExecutor{listing: `{"entries":[{"id":"b2","title":"LIVE: harbour cam","live_status":"is_live","is_live":true,"duration":null}]}`}
	src := detector.NewYtDlpSourceWithExecutor("yt-dlp", exec)

	videos, _ := detector.NewStrategy(detector.StrategyVideos, src, 10)
	det := detector.New([]detector.Strategy{videos}, time.Second, nil)

	transport := &recordingTransport{}
	rb := reboot.New(reboot.Options{Target: reboot.Target{Host: "device"}}, transport, nil)
	mon := policy.NewMonitor(channelURL, 2, det, rb, nil)

	for i := 0; i < 5; i++ {
		res := mon.Tick(context.Background())
		if !res.Live || res.Label != "LIVE: harbour cam" {
			t.Fatalf("tick %d: expected live with label, got %+v", i, res)
		}
	}
	if transport.calls.Load() != 0 {
		t.Errorf("expected no reboots while live, got %d", transport.calls.Load())
	}
	if mon.State().Count != 0 {
		t.Errorf("expected counter 0, got %d", mon.State().Count)
	}
}
