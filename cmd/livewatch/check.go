package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/livewatch/internal/config"
	"github.com/hazz-dev/livewatch/internal/detector"
)

var errOffline = errors.New("no live stream detected")

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one detection pass and print each strategy's verdict",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(config.RequireChannel)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	det, err := buildDetector(cfg, detector.NewYtDlpSource(cfg.Detect.YtDlpPath), logger)
	if err != nil {
		return err
	}
	return executeCheck(cmd.Context(), cmd.OutOrStdout(), det, cfg.Channel.URL)
}

type liveDetector interface {
	Detect(ctx context.Context, channel string) detector.Result
}

func executeCheck(ctx context.Context, out io.Writer, d liveDetector, channel string) error {
	res := d.Detect(ctx, channel)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tLIVE\tENTRIES\tDURATION\tTITLES\tERROR")
	for _, sr := range res.Strategies {
		titles := "-"
		if len(sr.Titles) > 0 {
			titles = strings.Join(sr.Titles, " | ")
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\t%s\n",
			sr.Strategy,
			sr.Live,
			sr.Entries,
			sr.Duration.Round(time.Millisecond),
			titles,
			sr.Error,
		)
	}
	w.Flush()

	if !res.Live {
		fmt.Fprintf(out, "\n%s is offline\n", channel)
		return errOffline
	}
	fmt.Fprintf(out, "\n%s is live: %s\n", channel, res.Label)
	return nil
}
