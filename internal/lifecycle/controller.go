package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stepdeck/internal/config"
	"stepdeck/internal/logging"
	"stepdeck/internal/notifications"
	"stepdeck/internal/polling"
	"stepdeck/internal/remote"
	"stepdeck/internal/state"
)

const (
	DefaultPollInterval        = 2000 * time.Millisecond
	DefaultFastPollInterval    = 200 * time.Millisecond
	DefaultTimerInterval       = time.Second
	DefaultMessageLimit        = 200
	DefaultCancelGraceAttempts = 3
	DefaultCancelGraceInterval = 500 * time.Millisecond
)

// Store source labels.
const (
	sourceInitiate   = "lifecycle.initiate"
	sourcePoll       = "lifecycle.poll"
	sourceTimer      = "lifecycle.timer"
	sourceFail       = "lifecycle.fail"
	sourceCancel     = "lifecycle.cancel"
	sourceMonitoring = "lifecycle.monitoring"
)

const (
	pollTaskPrefix  = "step-"
	timerTaskPrefix = "timer-"
)

// Pipeline is the remote collaborator that runs steps.
type Pipeline interface {
	Run(ctx context.Context, stepKey string) (remote.RunResponse, error)
	Status(ctx context.Context, stepKey string) (remote.StatusResponse, error)
	Cancel(ctx context.Context, stepKey string) (remote.CancelResponse, error)
}

// Options tunes a Controller. Zero values fall back to the package defaults.
type Options struct {
	PollInterval        time.Duration
	FastPollInterval    time.Duration
	TimerInterval       time.Duration
	MaxErrors           int
	MessageLimit        int
	CancelGraceAttempts int
	CancelGraceInterval time.Duration
	Notifier            notifications.Service
	Now                 func() time.Time
}

// OptionsFromConfig maps configuration onto controller options.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		PollInterval:        cfg.PollInterval(),
		FastPollInterval:    cfg.FastPollInterval(),
		TimerInterval:       cfg.TimerInterval(),
		MaxErrors:           cfg.Polling.MaxErrors,
		MessageLimit:        cfg.Monitoring.MessageLimit,
		CancelGraceAttempts: cfg.Monitoring.CancelGraceAttempts,
		CancelGraceInterval: cfg.CancelGraceInterval(),
		Notifier:            notifications.NewService(cfg),
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.FastPollInterval <= 0 {
		o.FastPollInterval = DefaultFastPollInterval
	}
	if o.TimerInterval <= 0 {
		o.TimerInterval = DefaultTimerInterval
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = polling.DefaultMaxErrors
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = DefaultMessageLimit
	}
	if o.CancelGraceAttempts <= 0 {
		o.CancelGraceAttempts = DefaultCancelGraceAttempts
	}
	if o.CancelGraceInterval <= 0 {
		o.CancelGraceInterval = DefaultCancelGraceInterval
	}
	if o.Notifier == nil {
		o.Notifier = notifications.NewService(nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// runState is the controller's private bookkeeping for one step.
type runState struct {
	// armed is set by Initiate and cleared on the first terminal crossing.
	armed   bool
	settled bool
	sampler *logging.ProgressSampler
}

// Controller drives single steps on the remote pipeline and keeps their
// status, timer and affordance state current in the store.
type Controller struct {
	store    *state.Store
	sched    *polling.Scheduler
	pipeline Pipeline
	logger   *slog.Logger
	opts     Options

	mu   sync.Mutex
	runs map[string]*runState
}

// NewController wires a controller to its store, scheduler and pipeline.
func NewController(store *state.Store, sched *polling.Scheduler, pipeline Pipeline, logger *slog.Logger, opts Options) *Controller {
	return &Controller{
		store:    store,
		sched:    sched,
		pipeline: pipeline,
		logger:   logging.NewComponentLogger(logger, "lifecycle"),
		opts:     opts.withDefaults(),
		runs:     make(map[string]*runState),
	}
}

// Store exposes the state store the controller writes to.
func (c *Controller) Store() *state.Store {
	return c.store
}

// PollTaskID names the polling task of a step.
func PollTaskID(stepKey string) string { return pollTaskPrefix + stepKey }

// TimerTaskID names the timer task of a step.
func TimerTaskID(stepKey string) string { return timerTaskPrefix + stepKey }

// Polling reports whether a status polling task is active for the step.
func (c *Controller) Polling(stepKey string) bool {
	return c.sched.Active(PollTaskID(stepKey))
}

// Initiate asks the pipeline to start a step. On acceptance the step is
// recorded as initiated, its timer starts and status polling begins. Any
// other outcome goes through Fail and is returned as an ErrInitiation error.
func (c *Controller) Initiate(ctx context.Context, stepKey string) error {
	if !state.ValidStepKey(stepKey) {
		return Wrap(ErrInvalidStep, stepKey, "initiate", "step key must be non-empty and contain no dots", nil)
	}
	logger := logging.WithContext(logging.WithStepKey(ctx, stepKey), c.logger)

	c.sched.Stop(PollTaskID(stepKey))
	c.sched.Stop(TimerTaskID(stepKey))
	c.beginRun(stepKey)
	c.store.SetState(state.Combine(
		state.At(state.StepTimerPath(stepKey), state.Remove),
		state.At(state.StepControlPath(stepKey), state.StepControl{}.Fields()),
	), sourceInitiate)

	resp, err := c.pipeline.Run(ctx, stepKey)
	if err != nil {
		wrapped := Wrap(ErrInitiation, stepKey, "run", "", err)
		c.Fail(stepKey, wrapped, OriginInitiate)
		return wrapped
	}
	if !resp.Initiated() {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %q", resp.Status)
		}
		wrapped := Wrap(ErrInitiation, stepKey, "run", msg, nil)
		c.Fail(stepKey, wrapped, OriginInitiate)
		return wrapped
	}

	now := c.opts.Now()
	timer := state.StepTimer{
		StartTime:            now,
		ElapsedTimeFormatted: FormatElapsed(0),
		IntervalID:           TimerTaskID(stepKey),
	}
	c.store.Update(sourceInitiate, func(cur state.Tree) state.Tree {
		prev, _ := state.ProcessInfoIn(cur, stepKey)
		info := state.ProcessInfo{
			Status:               state.StatusInitiated,
			Log:                  []string{},
			IsAnySequenceRunning: prev.IsAnySequenceRunning,
		}
		return state.Combine(
			state.At(state.ProcessInfoPath(stepKey), info.Fields()),
			state.At(state.StepTimerPath(stepKey), timer.Fields()),
		)
	})

	if err := c.sched.Start(TimerTaskID(stepKey), func(ctx context.Context) error {
		return c.tick(ctx, stepKey)
	}, c.opts.TimerInterval, polling.Options{}); err != nil {
		wrapped := Wrap(ErrInitiation, stepKey, "start timer", "", err)
		c.Fail(stepKey, wrapped, OriginInitiate)
		return wrapped
	}
	if err := c.startPolling(stepKey, true); err != nil {
		wrapped := Wrap(ErrInitiation, stepKey, "start polling", "", err)
		c.Fail(stepKey, wrapped, OriginInitiate)
		return wrapped
	}

	logger.Info("step initiated",
		logging.String(logging.FieldEventType, "step_initiated"),
		logging.Duration("poll_interval", c.pollInterval()),
	)
	return nil
}

// Watch starts status polling for a step without initiating it. Watching a
// step whose previous run already settled opens a new, unarmed run so later
// failures are recorded again.
func (c *Controller) Watch(stepKey string) error {
	if !state.ValidStepKey(stepKey) {
		return Wrap(ErrInvalidStep, stepKey, "watch", "", nil)
	}
	c.watchRun(stepKey)
	return c.startPolling(stepKey, true)
}

// SetFastMonitoring toggles the high-frequency polling interval and restarts
// active step polling tasks with the new cadence.
func (c *Controller) SetFastMonitoring(enabled bool) {
	if !c.store.SetState(state.At(state.KeyFastMonitoring, enabled), sourceMonitoring) {
		return
	}
	for _, id := range c.sched.ActiveIDs() {
		stepKey, ok := strings.CutPrefix(id, pollTaskPrefix)
		if !ok {
			continue
		}
		if err := c.startPolling(stepKey, false); err != nil {
			logging.WarnWithContext(c.logger, "failed to restart polling", "polling_restart_failed",
				logging.String(logging.FieldStepKey, stepKey),
				logging.Error(err),
				logging.String(logging.FieldImpact, "step status is no longer refreshed"),
			)
		}
	}
	c.logger.Info("fast monitoring toggled", logging.Bool("enabled", enabled))
}

// SetContinuousMonitoring controls whether idle steps keep being polled.
func (c *Controller) SetContinuousMonitoring(enabled bool) {
	if c.store.SetState(state.At(state.KeyContinuousMonitoring, enabled), sourceMonitoring) {
		c.logger.Info("continuous monitoring toggled", logging.Bool("enabled", enabled))
	}
}

func (c *Controller) pollInterval() time.Duration {
	if c.store.Bool(state.KeyFastMonitoring) {
		return c.opts.FastPollInterval
	}
	return c.opts.PollInterval
}

func (c *Controller) startPolling(stepKey string, immediate bool) error {
	return c.sched.Start(PollTaskID(stepKey), func(ctx context.Context) error {
		return c.poll(ctx, stepKey)
	}, c.pollInterval(), polling.Options{
		Immediate: immediate,
		MaxErrors: c.opts.MaxErrors,
		OnExhausted: func(_ string, lastErr error) {
			c.onBudgetExhausted(stepKey, lastErr)
		},
	})
}

func (c *Controller) beginRun(stepKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[stepKey] = &runState{armed: true, sampler: logging.NewProgressSampler(10)}
}

// watchRun keeps a run that is still in flight and replaces a settled one.
func (c *Controller) watchRun(stepKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.runs[stepKey]; ok && !rs.settled {
		return
	}
	c.runs[stepKey] = &runState{sampler: logging.NewProgressSampler(10)}
}

func (c *Controller) run(stepKey string) *runState {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.runs[stepKey]
	if !ok {
		rs = &runState{sampler: logging.NewProgressSampler(10)}
		c.runs[stepKey] = rs
	}
	return rs
}

// settle marks the current run as settled. first reports whether this call
// did so; notify reports whether the run was started here and still owes its
// terminal notification.
func (c *Controller) settle(stepKey string) (first, notify bool) {
	rs := c.run(stepKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs.settled {
		return false, false
	}
	rs.settled = true
	notify = rs.armed
	rs.armed = false
	return true, notify
}

func (c *Controller) shouldLogProgress(stepKey string, info state.ProcessInfo) bool {
	rs := c.run(stepKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	return rs.sampler.ShouldLog(info.Percent(), string(info.Status))
}
