package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stepdeck/internal/config"
	"stepdeck/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded sequence runs",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))

	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var opts history.ListOptions
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sequence runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(_ *config.Config, store *history.Store) error {
				runs, err := store.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No sequence runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					result := "ok"
					if !run.OverallSuccess {
						result = "failed at " + run.FailedStep()
					}
					rows = append(rows, []string{
						shortRunID(run.RunID),
						run.SequenceName,
						formatTimestamp(run.StartedAt),
						run.OverallDurationFormatted,
						fmt.Sprintf("%d", len(run.Results)),
						result,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Sequence", "Started", "Duration", "Steps", "Result"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&opts.Sequence, "sequence", "", "Only show runs of this sequence")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "Only show failed runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the step results of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := strings.TrimSpace(args[0])
			return ctx.withHistory(func(_ *config.Config, store *history.Store) error {
				run, err := store.Get(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", runID)
				}
				if asJSON {
					return writeJSON(cmd, run)
				}
				printSummary(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(cfg *config.Config, store *history.Store) error {
				window := cfg.History.RetentionDays
				if cmd.Flags().Changed("days") {
					window = days
				}
				if window <= 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Retention disabled; nothing pruned")
					return nil
				}
				removed, err := store.PruneRetention(cmd.Context(), window, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) older than %d day(s)\n", removed, window)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention window in days (defaults to history.retention_days)")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(_ *config.Config, store *history.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d run(s)\n", removed)
				return nil
			})
		},
	}
}
