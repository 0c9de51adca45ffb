package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/reboot"
)

func rebootCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reboot",
		Short: "Send the reboot command to the device once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reboot without --yes")
			}
			cfg, err := loadConfig(config.RequireDevice)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			rb := buildRebooter(cfg, reboot.NewSSHTransport(logger), logger)
			return executeReboot(cmd.Context(), cmd.OutOrStdout(), rb)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reboot")
	return cmd
}

type deviceRebooter interface {
	Reboot(ctx context.Context) reboot.Outcome
}

func executeReboot(ctx context.Context, out io.Writer, r deviceRebooter) error {
	outcome := r.Reboot(ctx)
	fmt.Fprintf(out, "reboot outcome: %s\n", outcome)
	if !outcome.Dispatched() {
		return fmt.Errorf("reboot not dispatched: %s", outcome)
	}
	return nil
}
