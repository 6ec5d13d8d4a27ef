package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stepdeck/internal/config"
	"stepdeck/internal/history"
	"stepdeck/internal/lifecycle"
	"stepdeck/internal/logging"
	"stepdeck/internal/notifications"
	"stepdeck/internal/polling"
	"stepdeck/internal/remote"
	"stepdeck/internal/sequence"
	"stepdeck/internal/state"
)

// Console bundles the wired engine.
type Console struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *state.Store
	Scheduler *polling.Scheduler
	Steps     *lifecycle.Controller
	Sequences *sequence.Orchestrator
	Notifier  notifications.Service
	// History is nil when history is disabled or could not be opened.
	History *history.Store

	logger *slog.Logger
}

type buildOptions struct {
	logger   *slog.Logger
	pipeline lifecycle.Pipeline
	notifier notifications.Service
	now      func() time.Time
}

// Option customizes New.
type Option func(*buildOptions)

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithPipeline replaces the HTTP pipeline client.
func WithPipeline(p lifecycle.Pipeline) Option {
	return func(o *buildOptions) { o.pipeline = p }
}

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(svc notifications.Service) Option {
	return func(o *buildOptions) { o.notifier = svc }
}

// WithClock overrides the wall clock used by timers and summaries.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.now = now }
}

// New wires the engine. Background tasks end when ctx is cancelled or Close
// is called. A history database that cannot be opened is logged and skipped
// so that steps can still be driven.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Console, error) {
	if cfg == nil {
		return nil, errors.New("console: nil config")
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	logger := bo.logger
	if logger == nil {
		var err error
		if logger, err = logging.NewFromConfig(cfg); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	pipeline := bo.pipeline
	if pipeline == nil {
		client, err := remote.NewClient(cfg.Pipeline.BaseURL,
			remote.WithToken(cfg.Pipeline.APIToken),
			remote.WithTimeout(cfg.RequestTimeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("pipeline client: %w", err)
		}
		pipeline = client
	}

	notifier := bo.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	store := state.NewStore(state.Tree{
		state.KeyFastMonitoring:       cfg.Monitoring.Fast,
		state.KeyContinuousMonitoring: cfg.Monitoring.Continuous,
		state.KeyIsAnySequenceRunning: false,
	}, logger)
	sched := polling.NewScheduler(ctx, logger)

	stepOpts := lifecycle.OptionsFromConfig(cfg)
	stepOpts.Notifier = notifier
	stepOpts.Now = bo.now
	steps := lifecycle.NewController(store, sched, pipeline, logger, stepOpts)

	seqOpts := sequence.OptionsFromConfig(cfg)
	seqOpts.Now = bo.now
	seqOpts.Reporters = append(seqOpts.Reporters, sequence.NewNotifyReporter(notifier))
	sequences := sequence.New(store, steps, logger, seqOpts)

	c := &Console{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Scheduler: sched,
		Steps:     steps,
		Sequences: sequences,
		Notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "console"),
	}
	if cfg.History.Enabled {
		c.attachHistory(ctx)
	}
	return c, nil
}

func (c *Console) attachHistory(ctx context.Context) {
	store, err := history.Open(c.Config)
	if err != nil {
		logging.WarnWithContext(c.logger, "history store unavailable", "history_unavailable",
			logging.String("path", c.Config.HistoryPath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the history database or disable [history]"),
			logging.String(logging.FieldImpact, "sequence summaries will not be recorded"),
		)
		return
	}
	if removed, err := store.PruneRetention(ctx, c.Config.History.RetentionDays, time.Now()); err != nil {
		logging.WarnWithContext(c.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old sequence summaries remain"),
		)
	} else if removed > 0 {
		c.logger.Info("history pruned", logging.Int64("removed", removed))
	}
	c.History = store
	c.Sequences.AddReporter(store)
}

// Close stops background polling and releases the history database.
func (c *Console) Close() error {
	if c == nil {
		return nil
	}
	c.Scheduler.Shutdown()
	if c.History != nil {
		return c.History.Close()
	}
	return nil
}

// Status fetches a step's status once and returns the merged record.
func (c *Console) Status(ctx context.Context, stepKey string) (state.ProcessInfo, error) {
	if err := c.Steps.Refresh(ctx, stepKey); err != nil {
		return state.ProcessInfo{}, err
	}
	info, _ := c.Store.ProcessInfoOf(stepKey)
	return info, nil
}

// WaitSettled blocks until the step settles, its polling stops, or ctx ends,
// and returns the latest record. onChange, when set, receives every change
// of the step's record.
func (c *Console) WaitSettled(ctx context.Context, stepKey string, onChange func(state.ProcessInfo)) (state.ProcessInfo, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := c.Store.SubscribeToProperty(state.ProcessInfoPath(stepKey), func(newValue, _ any) {
		if info, ok := state.DecodeProcessInfo(newValue); ok && onChange != nil {
			onChange(info)
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	interval := c.Config.WaitInterval()
	if interval <= 0 {
		interval = sequence.DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		info, _ := c.Store.ProcessInfoOf(stepKey)
		if info.Settled() {
			return info, nil
		}
		if !c.Steps.Polling(stepKey) {
			// Polling may have stopped right after a settling merge.
			info, _ = c.Store.ProcessInfoOf(stepKey)
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}
