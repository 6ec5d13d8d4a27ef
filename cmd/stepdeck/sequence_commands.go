package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"stepdeck/internal/console"
	"stepdeck/internal/sequence"
)

func newSequenceCommand(ctx *commandContext) *cobra.Command {
	sequenceCmd := &cobra.Command{
		Use:   "sequence",
		Short: "Run ordered step sequences",
	}

	sequenceCmd.AddCommand(newSequenceListCommand(ctx))
	sequenceCmd.AddCommand(newSequenceRunCommand(ctx))

	return sequenceCmd
}

func newSequenceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Sequences) == 0 {
				fmt.Fprintln(out, "No sequences configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.Sequences))
			for _, seq := range cfg.Sequences {
				rows = append(rows, []string{
					seq.Name,
					displayName(seq.Name),
					fmt.Sprintf("%d", len(seq.Steps)),
					strings.Join(seq.Steps, " → "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Name", "Title", "Steps", "Order"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newSequenceRunCommand(ctx *commandContext) *cobra.Command {
	var steps []string
	var fast bool

	cmd := &cobra.Command{
		Use:   "run [name]",
		Short: "Run a configured sequence or an ad-hoc step list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(steps) == 0 {
				return errors.New("name a configured sequence or pass --steps")
			}
			if len(args) > 0 && len(steps) > 0 {
				return errors.New("a sequence name and --steps cannot be combined")
			}
			return ctx.withConsole(cmd, func(runCtx context.Context, con *console.Console) error {
				if fast {
					con.Steps.SetFastMonitoring(true)
				}
				var (
					summary *sequence.Summary
					err     error
				)
				if len(steps) > 0 {
					if err := con.Sequences.Select(steps); err != nil {
						return err
					}
					summary, err = con.Sequences.RunSelected(runCtx)
				} else {
					seq, ok := con.Config.SequenceByName(args[0])
					if !ok {
						return fmt.Errorf("unknown sequence %q", args[0])
					}
					summary, err = con.Sequences.Run(runCtx, seq.Name, seq.Steps)
				}
				if summary == nil {
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "No steps to run")
					return nil
				}
				printSummary(cmd.OutOrStdout(), summary)
				if err != nil {
					return err
				}
				if !summary.OverallSuccess {
					return errReported
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&steps, "steps", nil, "Comma-separated step keys to run in order")
	cmd.Flags().BoolVar(&fast, "fast", false, "Poll at the fast interval")
	return cmd
}

// printSummary renders a sequence summary as a heading plus a per-step table.
func printSummary(out io.Writer, summary *sequence.Summary) {
	colorize := shouldColorize(out)
	kind, verdict := statusOK, "succeeded"
	if !summary.OverallSuccess {
		kind, verdict = statusError, "failed at "+summary.FailedStep()
	}
	fmt.Fprintln(out, renderStatusLine(displayName(summary.SequenceName), kind, verdict, colorize))
	fmt.Fprintf(out, "%sRun %s started %s\n", statusIndent, shortRunID(summary.RunID), formatTimestamp(summary.StartedAt))
	fmt.Fprintln(out, summaryTable(summary))
}

func summaryTable(summary *sequence.Summary) string {
	rows := make([][]string, 0, len(summary.Results))
	for i, res := range summary.Results {
		result := "ok"
		if !res.Success {
			result = "failed"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			res.Name,
			result,
			res.Duration,
			res.Error,
		})
	}
	overall := "ok"
	if !summary.OverallSuccess {
		overall = "failed"
	}
	return renderTable(
		[]string{"#", "Step", "Result", "Duration", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		"", "Total", overall, summary.OverallDurationFormatted, "",
	)
}
