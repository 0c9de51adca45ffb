// Package reboot sends a privileged reboot command to the streaming device.
package reboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Outcome classifies a reboot attempt.
type Outcome string

const (
	OutcomeDispatched   Outcome = "dispatched"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeRejected     Outcome = "rejected"
	OutcomeFailed       Outcome = "failed"
	OutcomeDryRun       Outcome = "dry_run"
)

// Dispatched reports whether the command may have reached the device.
// Timeouts and dropped sessions count: a rebooting device cannot acknowledge.
func (o Outcome) Dispatched() bool {
	switch o {
	case OutcomeDispatched, OutcomeTimedOut, OutcomeDisconnected, OutcomeDryRun:
		return true
	}
	return false
}

// Target is the address and credentials of the device.
type Target struct {
	Host       string
	Port       int
	Username   string
	Password   string
	KeyFile    string
	KnownHosts string
}

// ExecResult is what the remote command reported.
type ExecResult struct {
	ExitCode int
	Stderr   string
}

// ErrNoExitStatus is returned by a Transport when the session ended without
// the remote side reporting an exit status.
var ErrNoExitStatus = errors.New("session closed without exit status")

// Transport runs a single command on a remote host.
type Transport interface {
	Exec(ctx context.Context, target Target, command string) (ExecResult, error)
}

// Options configures a Rebooter.
type Options struct {
	Target  Target
	Command string
	Timeout time.Duration
	DryRun  bool
}

// Rebooter issues the reboot command with a hard timeout.
type Rebooter struct {
	opts      Options
	transport Transport
	logger    *slog.Logger
}

// New creates a Rebooter. Pass nil logger to use the default logger.
func New(opts Options, transport Transport, logger *slog.Logger) *Rebooter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Rebooter{opts: opts, transport: transport, logger: logger}
}

// Reboot sends the command once. It ignores cancellation of ctx and returns
// when the command completes or the timeout expires.
func (r *Rebooter) Reboot(ctx context.Context) (outcome Outcome) {
	logger := r.logger.With("host", r.opts.Target.Host, "user", r.opts.Target.Username)

	if r.opts.DryRun {
		logger.Warn("dry run: reboot command not sent", "command", r.opts.Command)
		return OutcomeDryRun
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("failed to reboot device", "error", fmt.Sprintf("panic: %v", p))
			outcome = OutcomeFailed
		}
	}()

	logger.Info("attempting to reboot device")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.Timeout)
	defer cancel()

	res, err := r.transport.Exec(ctx, r.opts.Target, r.opts.Command)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (err != nil && ctx.Err() != nil):
		logger.Warn("reboot command timed out (may have succeeded)", "timeout", r.opts.Timeout)
		return OutcomeTimedOut
	case errors.Is(err, ErrNoExitStatus):
		logger.Warn("device closed the session without an exit status (likely rebooting)")
		return OutcomeDisconnected
	case err != nil:
		logger.Error("failed to reboot device", "error", err)
		return OutcomeFailed
	case res.ExitCode != 0:
		logger.Error("reboot failed",
			"exit_code", res.ExitCode,
			"stderr", strings.TrimSpace(res.Stderr),
		)
		return OutcomeRejected
	}
	logger.Info("reboot command sent successfully")
	return OutcomeDispatched
}
