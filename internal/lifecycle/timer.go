package lifecycle

import (
	"context"
	"fmt"
	"time"

	"stepdeck/internal/polling"
	"stepdeck/internal/state"
)

// FormatElapsed renders a duration as HH:MM:SS. Hours are not capped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// tick refreshes the formatted elapsed time of a running timer. A frozen or
// cleared timer ends its task.
func (c *Controller) tick(ctx context.Context, stepKey string) error {
	now := c.opts.Now()
	running := false
	c.store.Update(sourceTimer, func(cur state.Tree) state.Tree {
		if ctx.Err() != nil {
			return nil
		}
		timer, ok := state.StepTimerIn(cur, stepKey)
		if !ok || !timer.Running() {
			return nil
		}
		running = true
		return state.At(state.Path(state.StepTimerPath(stepKey), "elapsedTimeFormatted"),
			FormatElapsed(timer.Elapsed(now)))
	})
	if !running {
		return polling.ErrDone
	}
	return nil
}

// StopTimer freezes the step's timer if it is running and returns the time it
// covers. A step without a timer reports zero.
func (c *Controller) StopTimer(stepKey string) time.Duration {
	if !state.ValidStepKey(stepKey) {
		return 0
	}
	c.sched.Stop(TimerTaskID(stepKey))
	now := c.opts.Now()
	var elapsed time.Duration
	c.store.Update(sourceTimer, func(cur state.Tree) state.Tree {
		timer, ok := state.StepTimerIn(cur, stepKey)
		if !ok {
			return nil
		}
		elapsed = timer.Elapsed(now)
		return freezeTimer(cur, stepKey, now)
	})
	return elapsed
}
