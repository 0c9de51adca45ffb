package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/reboot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// offlineSource reports an empty channel and records queried URLs.
type offlineSource struct {
	mu   sync.Mutex
	urls []string
}

func (s *offlineSource) Entries(_ context.Context, url string, _ detector.Options) ([]detector.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	return nil, nil
}

type countingTransport struct {
	calls   atomic.Int32
	command atomic.Value
}

func (c *countingTransport) Exec(_ context.Context, _ reboot.Target, command string) (reboot.ExecResult, error) {
	c.command.Store(command)
	c.calls.Add(1)
	return reboot.ExecResult{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Channel: config.ChannelConfig{URL: "https://www.youtube.com/@example"},
		Device: config.DeviceConfig{
			Host:     "192.168.1.50",
			Port:     22,
			Username: "pi",
			Password: "raspberry",
			Command:  config.DefaultCommand,
			Timeout:  config.Duration{Duration: time.Second},
		},
		Policy: config.PolicyConfig{
			MaxFailures: 2,
			Interval:    config.Duration{Duration: 20 * time.Millisecond},
		},
		Detect: config.DetectConfig{
			Timeout:     config.Duration{Duration: time.Second},
			PlaylistEnd: 10,
			Strategies:  []string{detector.StrategyVideos, detector.StrategyStreams},
		},
		Log: config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestWatch_RebootsAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Path = ":memory:"
	src := &offlineSource{}
	transport := &countingTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, cfg, watchDeps{source: src, transport: transport}, discardLogger())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for transport.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	if transport.calls.Load() == 0 {
		t.Fatal("expected a reboot after consecutive offline checks")
	}
	if got := transport.command.Load(); got != config.DefaultCommand {
		t.Errorf("expected command %q, got %v", config.DefaultCommand, got)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	var sawStreams bool
	for _, u := range src.urls {
		if u == "https://www.youtube.com/@example/streams" {
			sawStreams = true
		}
	}
	if !sawStreams {
		t.Errorf("expected streams tab to be queried, got %v", src.urls)
	}
}

func TestWatch_DryRunNeverConnects(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	cfg.Policy.MaxFailures = 1
	transport := &countingTransport{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := watch(ctx, cfg, watchDeps{source: &offlineSource{}, transport: transport}, discardLogger()); err != nil {
		t.Fatalf("watch returned error: %v", err)
	}
	if n := transport.calls.Load(); n != 0 {
		t.Errorf("expected no connections in dry run, got %d", n)
	}
}

func TestWatch_InvalidListenAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.Interval = config.Duration{Duration: time.Hour}
	cfg.Server.Address = "256.0.0.1:bad"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := watch(ctx, cfg, watchDeps{source: &offlineSource{}, transport: &countingTransport{}}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "HTTP server") {
		t.Fatalf("expected HTTP server error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "channel", "x")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info message to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn line, got %q", out)
	}
}

func TestBuildDetector_UsesConfiguredStrategies(t *testing.T) {
	cfg := testConfig()
	cfg.Detect.Strategies = []string{detector.StrategyStreams}
	src := &offlineSource{}

	det, err := buildDetector(cfg, src, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	res := det.Detect(context.Background(), cfg.Channel.URL)
	if len(res.Strategies) != 1 || res.Strategies[0].Strategy != "streams" {
		t.Errorf("expected only the streams strategy, got %+v", res.Strategies)
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	if !strings.HasPrefix(buf.String(), "livewatch dev") {
		t.Errorf("unexpected version output %q", buf.String())
	}
}
