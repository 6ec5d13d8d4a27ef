package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepdeck/internal/config"
	"stepdeck/internal/lifecycle"
	"stepdeck/internal/logging"
	"stepdeck/internal/state"
)

const (
	// DefaultWaitInterval is how often a running sequence samples the store.
	DefaultWaitInterval = time.Second
	// CustomSequenceName labels runs of the user-selected step order.
	CustomSequenceName = "custom"

	sourceSequence = "sequence"
	sourceSelect   = "sequence.select"
	cancelTimeout  = 10 * time.Second
)

var (
	// ErrSequenceRunning rejects a run while another one holds the run-lock.
	ErrSequenceRunning = errors.New("a sequence is already running")
	// ErrInvalidSequence reports a step list with unusable keys.
	ErrInvalidSequence = errors.New("invalid sequence")

	errPollingStopped = errors.New("status polling stopped before the step settled")
)

// Stepper is the step lifecycle surface the orchestrator drives.
type Stepper interface {
	Initiate(ctx context.Context, stepKey string) error
	Cancel(ctx context.Context, stepKey string) error
	Fail(stepKey string, err error, origin lifecycle.Origin) bool
	StopTimer(stepKey string) time.Duration
	Polling(stepKey string) bool
}

// Options tunes an Orchestrator.
type Options struct {
	WaitInterval time.Duration
	// LockFile, when set, is held for the duration of a run so that two
	// processes cannot drive sequences at once.
	LockFile  string
	Reporters []Reporter
	Now       func() time.Time
}

// OptionsFromConfig maps configuration onto orchestrator options. Reporters
// are wired by the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		WaitInterval: cfg.WaitInterval(),
		LockFile:     cfg.Paths.LockFile,
	}
}

// Orchestrator runs ordered lists of steps with abort-on-first-failure under
// a single global run-lock.
type Orchestrator struct {
	store  *state.Store
	steps  Stepper
	logger *slog.Logger
	opts   Options
	lock   *runLock
}

// New builds an orchestrator.
func New(store *state.Store, steps Stepper, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultWaitInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:  store,
		steps:  steps,
		logger: logging.NewComponentLogger(logger, "sequence"),
		opts:   opts,
		lock:   newRunLock(opts.LockFile),
	}
}

// AddReporter registers a summary consumer.
func (o *Orchestrator) AddReporter(r Reporter) {
	if r != nil {
		o.opts.Reporters = append(o.opts.Reporters, r)
	}
}

// Running reports whether a sequence currently holds the run-lock.
func (o *Orchestrator) Running() bool {
	return o.store.Bool(state.KeyIsAnySequenceRunning)
}

// Select records the user-defined step order used by RunSelected.
func (o *Orchestrator) Select(keys []string) error {
	cleaned, err := cleanKeys(keys)
	if err != nil {
		return err
	}
	o.store.SetState(state.At(state.KeySelectedStepsOrder, cleaned), sourceSelect)
	return nil
}

// RunSelected runs the selected step order as the custom sequence.
func (o *Orchestrator) RunSelected(ctx context.Context) (*Summary, error) {
	return o.Run(ctx, CustomSequenceName, o.store.Strings(state.KeySelectedStepsOrder))
}

// Run executes keys in order. Each step must settle before the next one is
// initiated and the first failure aborts the rest. An empty list is a no-op
// and yields a nil summary. A run attempted while another holds the run-lock
// fails with ErrSequenceRunning without touching any state.
//
// Cancelling ctx aborts the run: the current step is cancelled best effort
// and recorded as failed. The partial summary is still reported and returned
// alongside the context error.
func (o *Orchestrator) Run(ctx context.Context, name string, keys []string) (*Summary, error) {
	if len(keys) == 0 {
		o.logger.Debug("empty sequence ignored", logging.String(logging.FieldSequence, name))
		return nil, nil
	}
	keys, err := cleanKeys(keys)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = CustomSequenceName
	}

	runID := uuid.NewString()
	if !o.acquire(name, runID, len(keys)) {
		return nil, ErrSequenceRunning
	}
	if err := o.lock.tryLock(); err != nil {
		o.release(keys)
		return nil, err
	}

	ctx = logging.WithSequence(ctx, name, runID)
	logger := logging.WithContext(ctx, o.logger)
	started := o.opts.Now()
	logger.Info("sequence started",
		logging.String(logging.FieldEventType, "sequence_started"),
		logging.Int("steps", len(keys)),
	)

	results := make([]Result, 0, len(keys))
	success := true
	var runErr error
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			success, runErr = false, err
			break
		}
		o.store.SetState(state.At(state.KeyActiveSequence, state.Tree{
			"currentIndex": i + 1,
			"currentStep":  key,
		}), sourceSequence)

		result, err := o.runStep(ctx, key, i+1, len(keys))
		results = append(results, result)
		if err != nil {
			runErr = err
		}
		if !result.Success {
			success = false
			break
		}
	}

	finished := o.opts.Now()
	o.lock.unlock(logger)
	o.release(keys)

	total := finished.Sub(started)
	summary := &Summary{
		RunID:                    runID,
		SequenceName:             name,
		OverallSuccess:           success && len(results) == len(keys),
		OverallDuration:          total,
		OverallDurationFormatted: lifecycle.FormatElapsed(total),
		StartedAt:                started,
		FinishedAt:               finished,
		Results:                  results,
	}
	if summary.OverallSuccess {
		logger.Info("sequence completed",
			logging.String(logging.FieldEventType, "sequence_completed"),
			logging.String("duration", summary.OverallDurationFormatted),
		)
	} else {
		logging.WarnWithContext(logger, "sequence aborted", "sequence_aborted",
			logging.String("failed_step", summary.FailedStep()),
			logging.Int("completed_steps", len(results)),
			logging.String("duration", summary.OverallDurationFormatted),
			logging.String(logging.FieldErrorHint, "inspect the failed step's log, then re-run the sequence"),
			logging.String(logging.FieldImpact, "remaining steps were not started"),
		)
	}
	o.report(context.WithoutCancel(ctx), *summary)

	if runErr != nil && ctx.Err() != nil {
		return summary, fmt.Errorf("sequence %s interrupted: %w", name, runErr)
	}
	return summary, nil
}

func (o *Orchestrator) runStep(ctx context.Context, key string, index, total int) (Result, error) {
	stepCtx := logging.WithStepKey(ctx, key)
	logger := logging.WithContext(stepCtx, o.logger)
	logger.Info("sequence step starting",
		logging.Int("index", index),
		logging.Int("total", total),
	)

	if err := o.steps.Initiate(stepCtx, key); err != nil {
		return Result{
			Name:     key,
			Success:  false,
			Duration: InitiationFailedDuration,
			Error:    err.Error(),
		}, ctx.Err()
	}

	ok, waitErr := o.waitForTerminal(stepCtx, key)
	switch {
	case waitErr == nil:
	case ctx.Err() != nil:
		o.abortStep(stepCtx, key, waitErr)
	default:
		o.steps.Fail(key, waitErr, lifecycle.OriginSequence)
	}

	elapsed := o.steps.StopTimer(key)
	result := Result{
		Name:     key,
		Success:  ok,
		Duration: lifecycle.FormatElapsed(elapsed),
		Elapsed:  elapsed,
	}
	if !ok {
		if waitErr != nil {
			result.Error = waitErr.Error()
		} else if info, found := o.store.ProcessInfoOf(key); found {
			result.Error = info.ErrorMessage
			if result.Error == "" && info.Cancelled() {
				result.Error = "cancelled"
			}
		}
	}
	logger.Info("sequence step finished",
		logging.Bool("success", ok),
		logging.String("duration", result.Duration),
	)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// waitForTerminal samples the store, never a response, until the step
// settles. It resolves true only on completed without the cancellation
// signal.
func (o *Orchestrator) waitForTerminal(ctx context.Context, key string) (bool, error) {
	ticker := time.NewTicker(o.opts.WaitInterval)
	defer ticker.Stop()
	for {
		if info, ok := o.store.ProcessInfoOf(key); ok && info.Settled() {
			return info.Status == state.StatusCompleted && !info.Cancelled(), nil
		}
		if !o.steps.Polling(key) {
			// The terminal merge lands before the task is removed, so a
			// settled record may have appeared since the first read.
			if info, ok := o.store.ProcessInfoOf(key); ok && info.Settled() {
				continue
			}
			return false, lifecycle.Wrap(lifecycle.ErrPollingTransport, key, "wait", "", errPollingStopped)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abortStep cancels the current step after the run was interrupted. When the
// cancel request cannot be sent the step is failed locally so it does not
// keep polling.
func (o *Orchestrator) abortStep(ctx context.Context, key string, cause error) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := o.steps.Cancel(cancelCtx, key); err != nil {
		o.steps.Fail(key, cause, lifecycle.OriginSequence)
	}
}

// acquire is the run-lock check-and-set.
func (o *Orchestrator) acquire(name, runID string, total int) bool {
	return o.store.Update(sourceSequence, func(cur state.Tree) state.Tree {
		if state.BoolIn(cur, state.KeyIsAnySequenceRunning) {
			return nil
		}
		return state.Combine(
			state.At(state.KeyIsAnySequenceRunning, true),
			state.At(state.KeyActiveSequence, state.Tree{
				"name":         name,
				"runId":        runID,
				"total":        total,
				"currentIndex": 0,
				"currentStep":  "",
			}),
		)
	})
}

// release clears the run-lock and re-enables the run affordance of the
// sequence's steps in one update.
func (o *Orchestrator) release(keys []string) {
	parts := []state.Tree{
		state.At(state.KeyIsAnySequenceRunning, false),
		state.At(state.KeyActiveSequence, state.Remove),
	}
	for _, key := range keys {
		parts = append(parts, state.At(state.Path(state.StepControlPath(key), "runEnabled"), true))
	}
	o.store.SetState(state.Combine(parts...), sourceSequence)
}

func (o *Orchestrator) report(ctx context.Context, summary Summary) {
	for _, r := range o.opts.Reporters {
		if err := r.Report(ctx, summary); err != nil {
			logging.WarnWithContext(o.logger, "sequence reporter failed", "sequence_report_failed",
				logging.String(logging.FieldSequence, summary.SequenceName),
				logging.String(logging.FieldRunID, summary.RunID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sequence summary was not recorded by one reporter"),
			)
		}
	}
}

func cleanKeys(keys []string) ([]string, error) {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if !state.ValidStepKey(key) {
			return nil, fmt.Errorf("%w: step key %q", ErrInvalidSequence, key)
		}
		cleaned = append(cleaned, key)
	}
	return cleaned, nil
}
