package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/storage"
)

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print recent tick history from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(config.RequireNone)
			if err != nil {
				return err
			}
			if cfg.Storage.Path == "" {
				return errors.New("storage.path (STORAGE_PATH) is not configured")
			}

			db, err := storage.Open(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			return executeStatus(cmd, db, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of ticks to show")
	return cmd
}

type statusStore interface {
	History(ctx context.Context, limit, offset int) ([]storage.Tick, int, error)
	Trips(ctx context.Context, limit int) ([]storage.Tick, error)
	LivePercent(ctx context.Context, last int) (float64, error)
}

func executeStatus(cmd *cobra.Command, db statusStore, limit int) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	ticks, total, err := db.History(ctx, limit, 0)
	if err != nil {
		return fmt.Errorf("querying history: %w", err)
	}

	if len(ticks) == 0 {
		fmt.Fprintln(out, "No tick history. Run 'livewatch run' with storage enabled first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tVERDICT\tFAILURES\tREBOOT\tDURATION\tLABEL\tERRORS")
	for _, t := range ticks {
		verdict := "offline"
		if t.Live {
			verdict = "live"
		}
		reboot := "-"
		if t.Tripped {
			reboot = t.Reboot
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			t.StartedAt.Local().Format("2006-01-02 15:04:05"),
			verdict,
			t.Failures,
			t.MaxFailures,
			reboot,
			(time.Duration(t.DurationMs) * time.Millisecond).String(),
			t.Label,
			t.Errors,
		)
	}
	w.Flush()

	pct, err := db.LivePercent(ctx, 100)
	if err != nil {
		return fmt.Errorf("calculating live percentage: %w", err)
	}
	fmt.Fprintf(out, "\nshowing %d of %d ticks, live %.1f%% of the last 100\n", len(ticks), total, pct)

	trips, err := db.Trips(ctx, 1)
	if err != nil {
		return fmt.Errorf("querying trips: %w", err)
	}
	if len(trips) == 0 {
		fmt.Fprintln(out, "last reboot: never")
		return nil
	}
	fmt.Fprintf(out, "last reboot: %s (%s)\n",
		trips[0].StartedAt.Local().Format("2006-01-02 15:04:05"),
		trips[0].Reboot,
	)
	return nil
}
