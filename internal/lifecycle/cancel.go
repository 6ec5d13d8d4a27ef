package lifecycle

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"stepdeck/internal/logging"
	"stepdeck/internal/state"
)

var errNotConfirmed = errors.New("pipeline has not confirmed the stop")

const unconfirmedCancelMessage = "cancel requested; the pipeline did not confirm the stop"

// Cancel asks the pipeline to stop a step. It is best effort: a failed
// request is logged, surfaced on the step's control message and returned as
// an ErrCancellation error, but the step is not failed. After a sent request
// local polling and the timer stop, and a short grace re-poll lets the
// pipeline confirm the outcome. Without confirmation the step is marked
// cancelled locally with the cancellation return code.
func (c *Controller) Cancel(ctx context.Context, stepKey string) error {
	if !state.ValidStepKey(stepKey) {
		return Wrap(ErrInvalidStep, stepKey, "cancel", "", nil)
	}
	logger := logging.WithContext(logging.WithStepKey(ctx, stepKey), c.logger)

	resp, err := c.pipeline.Cancel(ctx, stepKey)
	if err != nil {
		wrapped := Wrap(ErrCancellation, stepKey, "cancel", "", err)
		logging.WarnWithContext(logger, "cancel request failed", "cancel_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the step status; it may still be running"),
			logging.String(logging.FieldImpact, "step keeps running and polling continues"),
		)
		c.store.SetState(state.At(state.Path(state.StepControlPath(stepKey), "message"),
			truncateMessage("cancel failed: "+err.Error(), c.opts.MessageLimit)), sourceCancel)
		return wrapped
	}

	c.sched.Stop(PollTaskID(stepKey))
	c.StopTimer(stepKey)
	logger.Info("cancel requested",
		logging.String(logging.FieldEventType, "step_cancel_requested"),
		logging.String("message", resp.Message),
	)

	err = c.confirmCancel(ctx, stepKey)
	if err == nil {
		return nil
	}
	logger.Debug("cancel not confirmed", logging.Error(err))
	c.markCancelled(stepKey)
	if ctx.Err() != nil {
		return Wrap(ErrCancellation, stepKey, "confirm", "", ctx.Err())
	}
	return nil
}

// confirmCancel re-polls the step until the pipeline reports it settled or
// the grace attempts run out.
func (c *Controller) confirmCancel(ctx context.Context, stepKey string) error {
	retries := uint64(c.opts.CancelGraceAttempts - 1)
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.CancelGraceInterval), retries), ctx)
	return backoff.Retry(func() error {
		if _, err := c.refresh(ctx, stepKey); err != nil {
			return err
		}
		info, _ := c.store.ProcessInfoOf(stepKey)
		if info.Settled() {
			return nil
		}
		return errNotConfirmed
	}, b)
}

func (c *Controller) markCancelled(stepKey string) {
	now := c.opts.Now()
	var notify, applied bool
	c.store.Update(sourceCancel, func(cur state.Tree) state.Tree {
		info, _ := state.ProcessInfoIn(cur, stepKey)
		if info.Settled() {
			return nil
		}
		first, owed := c.settle(stepKey)
		if !first {
			return nil
		}
		applied, notify = true, owed
		rc := state.CancelledReturnCode
		info.Status = state.StatusCancelled
		info.ReturnCode = &rc
		info.ErrorMessage = unconfirmedCancelMessage
		if info.Log == nil {
			info.Log = []string{}
		}
		return state.Combine(
			state.At(state.ProcessInfoPath(stepKey), info.Fields()),
			freezeTimer(cur, stepKey, now),
			settledControl(cur, stepKey, unconfirmedCancelMessage),
		)
	})
	if !applied {
		return
	}
	logging.WarnWithContext(c.logger, "step marked cancelled without confirmation", "cancel_unconfirmed",
		logging.String(logging.FieldStepKey, stepKey),
		logging.String(logging.FieldErrorHint, "the step may still be running remotely; check the pipeline"),
		logging.String(logging.FieldImpact, "local state shows the step as cancelled"),
	)
	if notify {
		info, _ := c.store.ProcessInfoOf(stepKey)
		c.notifyTerminal(stepKey, info)
	}
}
