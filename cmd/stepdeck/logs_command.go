package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stepdeck/internal/logs"
)

const logFollowWait = 5 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		path   string
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent console log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(path)
			if target == "" {
				if target, err = logs.Latest(cfg.Paths.LogDir); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if target == "" {
				fmt.Fprintln(out, "No log files found")
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := logs.Tail(runCtx, target, logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			for _, entry := range result.Entries {
				fmt.Fprintln(out, entry.Format())
			}
			for follow {
				result, err = logs.Tail(runCtx, target, logs.TailOptions{
					Offset: result.Offset,
					Follow: true,
					Wait:   logFollowWait,
					Filter: filter,
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, entry := range result.Entries {
					fmt.Fprintln(out, entry.Format())
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&path, "file", "", "Log file to read (defaults to the newest daily log)")
	cmd.Flags().StringVar(&filter.StepKey, "step", "", "Only show entries for this step key")
	cmd.Flags().StringVar(&filter.Sequence, "sequence", "", "Only show entries for this sequence")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
