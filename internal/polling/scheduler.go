package polling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stepdeck/internal/logging"
)

// DefaultMaxErrors is the consecutive error budget used when Options leaves
// MaxErrors unset.
const DefaultMaxErrors = 3

var (
	// ErrInvalidTask reports a Start call with a missing id, callback or interval.
	ErrInvalidTask = errors.New("invalid polling task")
	// ErrDone is returned by a callback to remove its own task. It does not
	// count as an error.
	ErrDone = errors.New("polling task done")
)

// Func is a polling callback. A non-nil error other than ErrDone counts
// against the task's consecutive error budget.
type Func func(ctx context.Context) error

// Options tunes a single task.
type Options struct {
	// Immediate invokes the callback once before the first interval elapses.
	Immediate bool
	// MaxErrors is the consecutive error budget (DefaultMaxErrors when <= 0).
	MaxErrors int
	// OnExhausted runs once when the budget is spent, while the task is still
	// registered; the task removes itself when it returns. The scheduler does
	// not decide what exhaustion means.
	OnExhausted func(id string, lastErr error)
}

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	ID                string
	Interval          time.Duration
	ConsecutiveErrors int
	MaxErrors         int
	Active            bool
}

type task struct {
	id       string
	fn       Func
	interval time.Duration
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc

	mu                sync.Mutex
	consecutiveErrors int
}

// Scheduler runs named repeating tasks. At most one task exists per id and a
// task's invocations never overlap, including across restarts of the same id.
type Scheduler struct {
	logger *slog.Logger
	base   context.Context
	stop   context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*task
	runMus map[string]*sync.Mutex
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler whose tasks end when ctx is cancelled or
// Shutdown is called.
func NewScheduler(ctx context.Context, logger *slog.Logger) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	base, stop := context.WithCancel(ctx)
	return &Scheduler{
		logger: logging.NewComponentLogger(logger, "polling"),
		base:   base,
		stop:   stop,
		tasks:  make(map[string]*task),
		runMus: make(map[string]*sync.Mutex),
	}
}

// Start registers a repeating task. Any existing task with the same id is
// stopped first.
func (s *Scheduler) Start(id string, fn Func, interval time.Duration, opts Options) error {
	if id == "" || fn == nil || interval <= 0 {
		return fmt.Errorf("%w: id=%q interval=%s", ErrInvalidTask, id, interval)
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}

	s.mu.Lock()
	if err := s.base.Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	if prev, ok := s.tasks[id]; ok {
		prev.cancel()
		delete(s.tasks, id)
	}
	runMu, ok := s.runMus[id]
	if !ok {
		runMu = &sync.Mutex{}
		s.runMus[id] = runMu
	}
	ctx, cancel := context.WithCancel(s.base)
	t := &task{
		id:       id,
		fn:       fn,
		interval: interval,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("polling task started",
		logging.String(logging.FieldTaskID, id),
		logging.Duration("interval", interval),
		logging.Bool("immediate", opts.Immediate),
		logging.Int("max_errors", opts.MaxErrors),
	)
	go s.run(t, runMu)
	return nil
}

// Stop removes the task with the given id. Unknown or already-stopped ids are
// ignored. Stop never waits, so a task may stop itself from its callback.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	s.logger.Debug("polling task stopped", logging.String(logging.FieldTaskID, id))
}

// Active reports whether a task with the given id is registered.
func (s *Scheduler) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Info returns a view of the task with the given id.
func (s *Scheduler) Info(id string) (TaskInfo, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return TaskInfo{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskInfo{
		ID:                t.id,
		Interval:          t.interval,
		ConsecutiveErrors: t.consecutiveErrors,
		MaxErrors:         t.opts.MaxErrors,
		Active:            true,
	}, true
}

// ActiveIDs lists registered task ids.
func (s *Scheduler) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every task and waits for in-flight callbacks to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stop()
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(t *task, runMu *sync.Mutex) {
	defer s.wg.Done()

	if t.opts.Immediate {
		if !s.invoke(t, runMu) {
			return
		}
	}

	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-timer.C:
		}
		if !s.invoke(t, runMu) {
			return
		}
		timer.Reset(t.interval)
	}
}

// invoke runs one callback and reports whether the task should keep going.
func (s *Scheduler) invoke(t *task, runMu *sync.Mutex) bool {
	runMu.Lock()
	defer runMu.Unlock()
	if t.ctx.Err() != nil {
		return false
	}

	err := s.call(t)
	if t.ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrDone) {
		if s.remove(t) {
			s.logger.Debug("polling task finished", logging.String(logging.FieldTaskID, t.id))
		}
		return false
	}

	t.mu.Lock()
	if err == nil {
		t.consecutiveErrors = 0
		t.mu.Unlock()
		return true
	}
	t.consecutiveErrors++
	count := t.consecutiveErrors
	t.mu.Unlock()

	logger := s.logger.With(logging.String(logging.FieldTaskID, t.id))
	if count < t.opts.MaxErrors {
		logger.Debug("polling callback failed",
			logging.Error(err),
			logging.Int("consecutive_errors", count),
			logging.Int("max_errors", t.opts.MaxErrors),
		)
		return true
	}

	if !s.current(t) {
		return false
	}
	logging.WarnWithContext(logger, "polling task stopped after repeated errors", "polling_budget_exhausted",
		logging.Error(err),
		logging.Int("consecutive_errors", count),
		logging.String(logging.FieldErrorHint, "check that the pipeline is reachable"),
		logging.String(logging.FieldImpact, "no further status refreshes for this task"),
	)
	// Registered until OnExhausted returns.
	if t.opts.OnExhausted != nil {
		t.opts.OnExhausted(t.id, err)
	}
	s.remove(t)
	return false
}

func (s *Scheduler) call(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("polling callback panicked: %v", r)
		}
	}()
	return t.fn(t.ctx)
}

// current reports whether t is still the registered task for its id.
func (s *Scheduler) current(t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[t.id] == t
}

// remove unregisters t if it is still the current task for its id.
func (s *Scheduler) remove(t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tasks[t.id]; !ok || current != t {
		return false
	}
	delete(s.tasks, t.id)
	t.cancel()
	return true
}
