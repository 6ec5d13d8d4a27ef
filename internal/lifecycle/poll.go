package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"stepdeck/internal/logging"
	"stepdeck/internal/polling"
	"stepdeck/internal/remote"
	"stepdeck/internal/state"
)

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// Refresh fetches the step's status once and merges it into the store.
func (c *Controller) Refresh(ctx context.Context, stepKey string) error {
	if !state.ValidStepKey(stepKey) {
		return Wrap(ErrInvalidStep, stepKey, "status", "", nil)
	}
	_, err := c.refresh(ctx, stepKey)
	return err
}

// poll is the scheduler callback for a step's polling task.
func (c *Controller) poll(ctx context.Context, stepKey string) error {
	stop, err := c.refresh(ctx, stepKey)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if stop {
		return polling.ErrDone
	}
	return nil
}

// refresh reports whether polling for the step should stop.
func (c *Controller) refresh(ctx context.Context, stepKey string) (bool, error) {
	resp, err := c.pipeline.Status(ctx, stepKey)
	if err != nil {
		return false, Wrap(ErrPollingTransport, stepKey, "status", "", err)
	}
	return c.apply(ctx, stepKey, resp), nil
}

// apply merges a status response. The record, the frozen timer and the
// control state land in one store update so no observer sees a terminal
// status with a running timer.
func (c *Controller) apply(ctx context.Context, stepKey string, resp remote.StatusResponse) bool {
	next := processInfoFromResponse(resp)
	now := c.opts.Now()

	var (
		skipped    bool
		stop       bool
		crossed    bool
		notify     bool
		continuous bool
	)
	c.store.Update(sourcePoll, func(cur state.Tree) state.Tree {
		if ctx.Err() != nil {
			skipped = true
			return nil
		}
		prev, _ := state.ProcessInfoIn(cur, stepKey)
		if resp.IsAnySequenceRunning == nil {
			next.IsAnySequenceRunning = prev.IsAnySequenceRunning
		}
		continuous = state.BoolIn(cur, state.KeyContinuousMonitoring)
		stop = next.Settled() || (next.Status == state.StatusIdle && !continuous)

		parts := []state.Tree{state.At(state.ProcessInfoPath(stepKey), next.Fields())}
		if stop {
			parts = append(parts, freezeTimer(cur, stepKey, now))
		}
		if next.Settled() {
			crossed, notify = c.settle(stepKey)
			parts = append(parts, settledControl(cur, stepKey, ""))
		}
		return state.Combine(parts...)
	})
	if skipped {
		return false
	}

	logger := c.logger.With(logging.String(logging.FieldStepKey, stepKey))
	if c.shouldLogProgress(stepKey, next) {
		logger.Info("step progress",
			logging.String("status", string(next.Status)),
			logging.Float64("percent", next.Percent()),
			logging.String("progress_text", next.ProgressText),
		)
	}
	if crossed {
		logger.Info("step reached terminal state",
			logging.String(logging.FieldEventType, "step_settled"),
			logging.String("status", string(next.Status)),
			logging.Bool("cancelled", next.Cancelled()),
		)
		if notify {
			c.notifyTerminal(stepKey, next)
		}
	}
	if stop {
		c.sched.Stop(TimerTaskID(stepKey))
	}
	return stop
}

func (c *Controller) onBudgetExhausted(stepKey string, lastErr error) {
	info, _ := c.store.ProcessInfoOf(stepKey)
	if info.Settled() {
		return
	}
	c.Fail(stepKey, Wrap(ErrPollingBudget, stepKey, "status",
		fmt.Sprintf("%d consecutive errors", c.opts.MaxErrors), lastErr), OriginBudget)
}

func processInfoFromResponse(resp remote.StatusResponse) state.ProcessInfo {
	info := state.ProcessInfo{
		Status:                    state.StepStatus(resp.Status),
		Log:                       append([]string{}, resp.Log...),
		ProgressCurrent:           resp.ProgressCurrent,
		ProgressCurrentFractional: resp.ProgressCurrentFractional,
		ProgressTotal:             resp.ProgressTotal,
		ProgressText:              resp.ProgressText,
		ReturnCode:                resp.ReturnCode,
	}
	if resp.IsAnySequenceRunning != nil {
		info.IsAnySequenceRunning = *resp.IsAnySequenceRunning
	}
	if frac, ok := fractionalFromText(info); ok {
		info.ProgressCurrentFractional = &frac
	}
	return info
}

// fractionalFromText derives fractional progress from a percentage in the
// progress text when the pipeline reported no counter.
func fractionalFromText(info state.ProcessInfo) (float64, bool) {
	if info.ProgressCurrentFractional != nil || info.ProgressCurrent != 0 || info.ProgressTotal <= 0 {
		return 0, false
	}
	match := percentPattern.FindStringSubmatch(info.ProgressText)
	if match == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return pct / 100 * float64(info.ProgressTotal), true
}
