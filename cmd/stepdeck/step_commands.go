package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stepdeck/internal/console"
	"stepdeck/internal/lifecycle"
	"stepdeck/internal/state"
)

const interruptCancelTimeout = 10 * time.Second

func newStepCommand(ctx *commandContext) *cobra.Command {
	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "Run and inspect individual pipeline steps",
	}

	stepCmd.AddCommand(newStepRunCommand(ctx))
	stepCmd.AddCommand(newStepStatusCommand(ctx))
	stepCmd.AddCommand(newStepCancelCommand(ctx))
	stepCmd.AddCommand(newStepWatchCommand(ctx))

	return stepCmd
}

func newStepRunCommand(ctx *commandContext) *cobra.Command {
	var fast bool

	cmd := &cobra.Command{
		Use:   "run <step>",
		Short: "Start a step and follow it until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withConsole(cmd, func(runCtx context.Context, con *console.Console) error {
				if fast {
					con.Steps.SetFastMonitoring(true)
				}
				out := cmd.OutOrStdout()
				if err := con.Steps.Initiate(runCtx, key); err != nil {
					fmt.Fprintln(out, renderStatusLine(key, statusError, err.Error(), shouldColorize(out)))
					return errReported
				}

				printer := newProgressPrinter(out, key)
				info, err := con.WaitSettled(runCtx, key, printer.update)
				if err != nil && errors.Is(err, context.Canceled) {
					cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), interruptCancelTimeout)
					defer cancel()
					if cerr := con.Steps.Cancel(cancelCtx, key); cerr != nil {
						con.Steps.Fail(key, err, lifecycle.OriginInterrupt)
					}
					info, _ = con.Store.ProcessInfoOf(key)
				} else if err != nil {
					return err
				}

				elapsed := con.Steps.StopTimer(key)
				return reportStepOutcome(cmd, key, info, elapsed)
			})
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "Poll at the fast interval")
	return cmd
}

func newStepStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <step>",
		Short: "Fetch a step's status once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withConsole(cmd, func(runCtx context.Context, con *console.Console) error {
				info, err := con.Status(runCtx, key)
				if err != nil {
					return err
				}
				if asJSON {
					fields := info.Fields()
					fields["step"] = key
					return writeJSON(cmd, fields)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderStatusLine(key, stepStatusKind(info), describeStep(info), shouldColorize(out)))
				for _, line := range info.Log {
					fmt.Fprintf(out, "%s  %s\n", statusIndent, line)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStepCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <step>",
		Short: "Ask the pipeline to stop a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withConsole(cmd, func(runCtx context.Context, con *console.Console) error {
				if err := con.Steps.Cancel(runCtx, key); err != nil {
					return err
				}
				info, _ := con.Store.ProcessInfoOf(key)
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderStatusLine(key, stepStatusKind(info), describeStep(info), shouldColorize(out)))
				return nil
			})
		},
	}
}

func newStepWatchCommand(ctx *commandContext) *cobra.Command {
	var continuous bool
	var fast bool

	cmd := &cobra.Command{
		Use:   "watch <step>",
		Short: "Follow a step that is already running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withConsole(cmd, func(runCtx context.Context, con *console.Console) error {
				if continuous {
					con.Steps.SetContinuousMonitoring(true)
				}
				if fast {
					con.Steps.SetFastMonitoring(true)
				}
				if err := con.Steps.Watch(key); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printer := newProgressPrinter(out, key)
				info, err := con.WaitSettled(runCtx, key, printer.update)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				printer.update(info)
				if !info.Settled() {
					fmt.Fprintf(out, "%s%s is idle; use --continuous to keep watching\n", statusIndent, key)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&continuous, "continuous", false, "Keep polling while the step reports idle")
	cmd.Flags().BoolVar(&fast, "fast", false, "Poll at the fast interval")
	return cmd
}

// reportStepOutcome prints the final line of a step run. Anything other than
// a clean completion is reported as a failure.
func reportStepOutcome(cmd *cobra.Command, key string, info state.ProcessInfo, elapsed time.Duration) error {
	out := cmd.OutOrStdout()
	kind := stepStatusKind(info)
	message := describeStep(info) + " in " + lifecycle.FormatElapsed(elapsed)
	fmt.Fprintln(out, renderStatusLine(key, kind, message, shouldColorize(out)))
	if info.Status == state.StatusCompleted && !info.Cancelled() {
		return nil
	}
	return errReported
}
