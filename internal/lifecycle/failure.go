package lifecycle

import (
	"context"
	"time"

	"stepdeck/internal/logging"
	"stepdeck/internal/notifications"
	"stepdeck/internal/state"
)

// Fail is the single path by which an error becomes a terminal step failure.
// It stops the step's polling and timer, records the failed status with a
// truncated message and re-enables the run affordance unless a sequence is
// running. Only the first call per run has an effect; the return value
// reports whether this call recorded the failure.
func (c *Controller) Fail(stepKey string, err error, origin Origin) bool {
	if !state.ValidStepKey(stepKey) {
		return false
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	msg = truncateMessage(msg, c.opts.MessageLimit)
	now := c.opts.Now()

	var notify bool
	applied := false
	c.store.Update(sourceFail, func(cur state.Tree) state.Tree {
		// Stopped under the store lock: a reader that sees polling gone
		// also sees the failed record.
		c.sched.Stop(PollTaskID(stepKey))
		c.sched.Stop(TimerTaskID(stepKey))
		first, owed := c.settle(stepKey)
		if !first {
			return nil
		}
		applied, notify = true, owed
		info, _ := state.ProcessInfoIn(cur, stepKey)
		info.Status = state.StatusFailed
		info.ErrorMessage = msg
		if info.Log == nil {
			info.Log = []string{}
		}
		return state.Combine(
			state.At(state.ProcessInfoPath(stepKey), info.Fields()),
			freezeTimer(cur, stepKey, now),
			settledControl(cur, stepKey, msg),
		)
	})

	logger := c.logger.With(logging.String(logging.FieldStepKey, stepKey))
	if !applied {
		logger.Debug("failure already recorded for step",
			logging.String(logging.FieldOrigin, string(origin)),
			logging.Error(err),
		)
		return false
	}

	logging.ErrorWithContext(logger, "step failed", "step_failed",
		logging.String(logging.FieldOrigin, string(origin)),
		logging.String("message", msg),
		logging.String(logging.FieldErrorHint, failureHint(origin)),
	)
	if notify {
		info, _ := c.store.ProcessInfoOf(stepKey)
		c.notifyTerminal(stepKey, info)
	}
	return true
}

func failureHint(origin Origin) string {
	switch origin {
	case OriginInitiate:
		return "check the pipeline accepted the step and that it is not already running"
	case OriginBudget, OriginPoll:
		return "check that the pipeline is reachable, then re-run the step"
	default:
		return "inspect the step log for details"
	}
}

// freezeTimer returns the partial that stops a running timer, or nil.
func freezeTimer(cur state.Tree, stepKey string, now time.Time) state.Tree {
	timer, ok := state.StepTimerIn(cur, stepKey)
	if !ok || !timer.Running() {
		return nil
	}
	timer.StopTime = now
	timer.IntervalID = ""
	timer.ElapsedTimeFormatted = FormatElapsed(timer.Elapsed(now))
	return state.At(state.StepTimerPath(stepKey), timer.Fields())
}

// settledControl re-enables the run affordance unless a sequence holds the
// run-lock; the sequence re-enables its steps when it releases the lock.
func settledControl(cur state.Tree, stepKey, message string) state.Tree {
	control := state.StepControl{
		RunEnabled: !state.BoolIn(cur, state.KeyIsAnySequenceRunning),
		Message:    message,
	}
	return state.At(state.StepControlPath(stepKey), control.Fields())
}

func (c *Controller) notifyTerminal(stepKey string, info state.ProcessInfo) {
	event := notifications.EventStepFailed
	switch {
	case info.Cancelled():
		event = notifications.EventStepCancelled
	case info.Status == state.StatusCompleted:
		event = notifications.EventStepCompleted
	}
	payload := notifications.Payload{"step": stepKey}
	if timer, ok := c.store.StepTimerOf(stepKey); ok {
		payload["elapsed"] = timer.ElapsedTimeFormatted
	}
	if info.ErrorMessage != "" {
		payload["error"] = info.ErrorMessage
	}
	if err := c.opts.Notifier.Publish(context.Background(), event, payload); err != nil {
		logging.WarnWithContext(c.logger, "step notification failed", "notification_failed",
			logging.String(logging.FieldStepKey, stepKey),
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ntfy topic configuration"),
			logging.String(logging.FieldImpact, "no push notification for this step"),
		)
	}
}
