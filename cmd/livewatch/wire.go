package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/detector"
	"github.com/hazz-dev/livewatch/internal/reboot"
)

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func buildDetector(cfg *config.Config, src detector.Source, logger *slog.Logger) (*detector.Detector, error) {
	strategies := make([]detector.Strategy, 0, len(cfg.Detect.Strategies))
	for _, name := range cfg.Detect.Strategies {
		s, err := detector.NewStrategy(name, src, cfg.Detect.PlaylistEnd)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return detector.New(strategies, cfg.Detect.Timeout.Duration, logger), nil
}

func buildRebooter(cfg *config.Config, transport reboot.Transport, logger *slog.Logger) *reboot.Rebooter {
	return reboot.New(reboot.Options{
		Target: reboot.Target{
			Host:       cfg.Device.Host,
			Port:       cfg.Device.Port,
			Username:   cfg.Device.Username,
			Password:   cfg.Device.Password,
			KeyFile:    cfg.Device.KeyFile,
			KnownHosts: cfg.Device.KnownHosts,
		},
		Command: cfg.Device.Command,
		Timeout: cfg.Device.Timeout.Duration,
		DryRun:  cfg.DryRun,
	}, transport, logger)
}
