package lifecycle_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"stepdeck/internal/lifecycle"
	"stepdeck/internal/logging"
	"stepdeck/internal/notifications"
	"stepdeck/internal/polling"
	"stepdeck/internal/state"
	"stepdeck/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count(event notifications.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	store *state.Store
	sched *polling.Scheduler
	ctrl  *lifecycle.Controller
	pipe  *testsupport.Pipeline
	notes *recordingNotifier
}

func newHarness(t *testing.T, opts lifecycle.Options) *harness {
	t.Helper()
	pipe := testsupport.NewPipeline(t)
	store := state.NewStore(nil, logging.NewNop())
	sched := polling.NewScheduler(context.Background(), logging.NewNop())
	t.Cleanup(sched.Shutdown)

	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.FastPollInterval == 0 {
		opts.FastPollInterval = 2 * time.Millisecond
	}
	if opts.TimerInterval == 0 {
		opts.TimerInterval = 5 * time.Millisecond
	}
	if opts.CancelGraceInterval == 0 {
		opts.CancelGraceInterval = 2 * time.Millisecond
	}
	notes := &recordingNotifier{}
	opts.Notifier = notes

	return &harness{
		store: store,
		sched: sched,
		ctrl:  lifecycle.NewController(store, sched, pipe.Client(t), logging.NewNop(), opts),
		pipe:  pipe,
		notes: notes,
	}
}

func (h *harness) info(t *testing.T, key string) state.ProcessInfo {
	t.Helper()
	info, _ := h.store.ProcessInfoOf(key)
	return info
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestInitiateRunsStepToCompletion(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	h.pipe.OnStatus("STEP1",
		testsupport.Status("running", 1, 5, "20%"),
		testsupport.Status("completed", 5, 5, "100%"),
	)

	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.info(t, "STEP1").Status == state.StatusCompleted })
	waitFor(t, time.Second, func() bool { return !h.ctrl.Polling("STEP1") })
	waitFor(t, time.Second, func() bool { return h.notes.count(notifications.EventStepCompleted) > 0 })

	timer, ok := h.store.StepTimerOf("STEP1")
	if !ok || timer.Running() || timer.StopTime.IsZero() {
		t.Fatalf("expected frozen timer, got %+v", timer)
	}
	control, _ := h.store.StepControlOf("STEP1")
	if !control.RunEnabled {
		t.Fatal("run affordance should be re-enabled after completion")
	}
	if got := h.notes.count(notifications.EventStepCompleted); got != 1 {
		t.Fatalf("completed notifications = %d, want 1", got)
	}

	calls := h.pipe.Calls("status", "STEP1")
	time.Sleep(30 * time.Millisecond)
	if got := h.pipe.Calls("status", "STEP1"); got != calls {
		t.Fatalf("polling continued after terminal status: %d -> %d", calls, got)
	}
}

func TestInitiateFailureRoutesThroughFailureHandler(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	h.pipe.OnRun("STEP2", testsupport.HTTPError(500, "worker crashed"))

	err := h.ctrl.Initiate(context.Background(), "STEP2")
	if !errors.Is(err, lifecycle.ErrInitiation) {
		t.Fatalf("Initiate error = %v, want ErrInitiation", err)
	}
	info := h.info(t, "STEP2")
	if info.Status != state.StatusFailed || !strings.Contains(info.ErrorMessage, "worker crashed") {
		t.Fatalf("unexpected record: %+v", info)
	}
	if h.ctrl.Polling("STEP2") {
		t.Fatal("no polling task may start after a failed initiation")
	}
	if _, ok := h.store.StepTimerOf("STEP2"); ok {
		t.Fatal("no timer may exist after a failed initiation")
	}
	if h.pipe.Calls("status", "STEP2") != 0 {
		t.Fatal("status must not be fetched after a failed initiation")
	}
	if got := h.notes.count(notifications.EventStepFailed); got != 1 {
		t.Fatalf("failed notifications = %d, want 1", got)
	}
}

func TestInitiateRejectsUnexpectedRunStatus(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	h.pipe.OnRun("STEP1", testsupport.Reply{Body: map[string]string{"status": "busy", "message": "already running"}})

	err := h.ctrl.Initiate(context.Background(), "STEP1")
	if !errors.Is(err, lifecycle.ErrInitiation) || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("Initiate error = %v", err)
	}
	control, _ := h.store.StepControlOf("STEP1")
	if !control.RunEnabled || !strings.Contains(control.Message, "already running") {
		t.Fatalf("unexpected control: %+v", control)
	}
}

func TestInvalidStepKeyLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	for _, key := range []string{"", "a.b"} {
		if err := h.ctrl.Initiate(context.Background(), key); !errors.Is(err, lifecycle.ErrInvalidStep) {
			t.Fatalf("Initiate(%q) = %v, want ErrInvalidStep", key, err)
		}
	}
	if len(h.store.Snapshot()) != 0 {
		t.Fatalf("store mutated: %v", h.store.Snapshot())
	}
	if len(h.pipe.RunOrder()) != 0 {
		t.Fatal("invalid keys must not reach the pipeline")
	}
}

func TestErrorBudgetTriggersExactlyOneFailure(t *testing.T) {
	h := newHarness(t, lifecycle.Options{MaxErrors: 3})
	h.pipe.OnStatus("X", testsupport.HTTPError(503, "unavailable"))

	if err := h.ctrl.Initiate(context.Background(), "X"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.info(t, "X").Status == state.StatusFailed })
	time.Sleep(30 * time.Millisecond)

	if got := h.pipe.Calls("status", "X"); got != 3 {
		t.Fatalf("status calls = %d, want 3", got)
	}
	if h.ctrl.Polling("X") {
		t.Fatal("polling task should be gone after budget exhaustion")
	}
	if got := h.notes.count(notifications.EventStepFailed); got != 1 {
		t.Fatalf("failure transitions = %d, want exactly 1", got)
	}
	if msg := h.info(t, "X").ErrorMessage; !strings.Contains(msg, "polling budget exceeded") {
		t.Fatalf("error message = %q", msg)
	}
	if timer, _ := h.store.StepTimerOf("X"); timer.Running() {
		t.Fatal("timer must be frozen after failure")
	}
}

func TestRewatchAfterSettleRecordsNewFailure(t *testing.T) {
	h := newHarness(t, lifecycle.Options{MaxErrors: 2})
	h.pipe.OnStatus("X", testsupport.Status("completed", 1, 1, ""))

	if err := h.ctrl.Watch("X"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.info(t, "X").Status == state.StatusCompleted })
	waitFor(t, 2*time.Second, func() bool { return !h.ctrl.Polling("X") })

	h.pipe.OnStatus("X", testsupport.Status("running", 1, 2, ""), testsupport.HTTPError(500, "boom"))
	if err := h.ctrl.Watch("X"); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.info(t, "X").Status == state.StatusFailed })

	if msg := h.info(t, "X").ErrorMessage; !strings.Contains(msg, "polling budget exceeded") {
		t.Fatalf("error message = %q", msg)
	}
	if got := h.notes.count(notifications.EventStepFailed); got != 0 {
		t.Fatalf("watched runs must not notify, got %d failure notifications", got)
	}
}

func TestProgressFallbackAndSingleTimerFreeze(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	h.pipe.OnStatus("STEP3",
		testsupport.Status("initiated", 0, 0, ""),
		testsupport.Status("running", 0, 10, "40%"),
		testsupport.Status("running", 0, 10, "progress 90.0 %"),
		testsupport.Status("completed", 10, 10, "100%"),
	)

	var mu sync.Mutex
	var freezes int
	var fractions []float64
	h.store.SubscribeToProperty(state.Path(state.StepTimerPath("STEP3"), "intervalId"), func(newValue, oldValue any) {
		if newValue == nil && oldValue != nil {
			mu.Lock()
			freezes++
			mu.Unlock()
		}
	})
	h.store.SubscribeToProperty(state.Path(state.ProcessInfoPath("STEP3"), "progress_current_fractional"), func(newValue, _ any) {
		if f, ok := newValue.(float64); ok {
			mu.Lock()
			fractions = append(fractions, f)
			mu.Unlock()
		}
	})

	if err := h.ctrl.Initiate(context.Background(), "STEP3"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.info(t, "STEP3").Status == state.StatusCompleted })
	h.ctrl.StopTimer("STEP3")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if freezes != 1 {
		t.Fatalf("timer froze %d times, want exactly 1", freezes)
	}
	if len(fractions) != 2 || math.Abs(fractions[0]-4) > 1e-9 || math.Abs(fractions[1]-9) > 1e-9 {
		t.Fatalf("fractional progress = %v, want [4 9]", fractions)
	}
	if info := h.info(t, "STEP3"); info.ProgressCurrentFractional != nil {
		t.Fatalf("completed record has a counter; fallback must not apply: %+v", info)
	}
}

func TestIdleStopsPollingUnlessContinuous(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})

	if err := h.ctrl.Watch("IDLE"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !h.ctrl.Polling("IDLE") })

	h.ctrl.SetContinuousMonitoring(true)
	if err := h.ctrl.Watch("IDLE"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	before := h.pipe.Calls("status", "IDLE")
	waitFor(t, time.Second, func() bool { return h.pipe.Calls("status", "IDLE") >= before+3 })
	if !h.ctrl.Polling("IDLE") {
		t.Fatal("continuous monitoring should keep polling idle steps")
	}
}

func TestCancelConfirmedByPipeline(t *testing.T) {
	h := newHarness(t, lifecycle.Options{PollInterval: time.Hour})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))

	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.info(t, "STEP1").Status == state.StatusRunning })

	h.pipe.OnStatus("STEP1", testsupport.Cancelled())
	if err := h.ctrl.Cancel(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	info := h.info(t, "STEP1")
	if !info.Cancelled() || info.Status != state.StatusFailed {
		t.Fatalf("expected pipeline-confirmed cancellation, got %+v", info)
	}
	if h.ctrl.Polling("STEP1") {
		t.Fatal("polling should stop after cancel")
	}
	if got := h.notes.count(notifications.EventStepCancelled); got != 1 {
		t.Fatalf("cancelled notifications = %d, want 1", got)
	}
}

func TestCancelWithoutConfirmationMarksCancelledLocally(t *testing.T) {
	h := newHarness(t, lifecycle.Options{PollInterval: time.Hour, CancelGraceAttempts: 3})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))

	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.info(t, "STEP1").Status == state.StatusRunning })
	before := h.pipe.Calls("status", "STEP1")

	if err := h.ctrl.Cancel(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.pipe.Calls("status", "STEP1") - before; got != 3 {
		t.Fatalf("grace re-polls = %d, want 3", got)
	}
	info := h.info(t, "STEP1")
	if info.Status != state.StatusCancelled || info.ReturnCode == nil || *info.ReturnCode != state.CancelledReturnCode {
		t.Fatalf("expected local cancellation with rc -9, got %+v", info)
	}
	if timer, _ := h.store.StepTimerOf("STEP1"); timer.Running() {
		t.Fatal("timer must be frozen after cancel")
	}
}

func TestCancelTransportFailureIsInformational(t *testing.T) {
	h := newHarness(t, lifecycle.Options{PollInterval: 20 * time.Millisecond})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))
	h.pipe.OnCancel("STEP1", testsupport.HTTPError(500, "cannot cancel"))

	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.info(t, "STEP1").Status == state.StatusRunning })

	err := h.ctrl.Cancel(context.Background(), "STEP1")
	if !errors.Is(err, lifecycle.ErrCancellation) {
		t.Fatalf("Cancel error = %v, want ErrCancellation", err)
	}
	if h.info(t, "STEP1").Status != state.StatusRunning {
		t.Fatal("a failed cancel must not fail the step")
	}
	if !h.ctrl.Polling("STEP1") {
		t.Fatal("polling should continue after a failed cancel")
	}
	control, _ := h.store.StepControlOf("STEP1")
	if !strings.Contains(control.Message, "cancel failed") {
		t.Fatalf("control message = %q", control.Message)
	}
	if h.notes.count(notifications.EventStepFailed) != 0 {
		t.Fatal("no failure notification expected")
	}
}

func TestFailIsIdempotent(t *testing.T) {
	h := newHarness(t, lifecycle.Options{PollInterval: time.Hour})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))
	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	long := strings.Repeat("é", 500)
	if !h.ctrl.Fail("STEP1", errors.New(long), lifecycle.OriginPoll) {
		t.Fatal("first Fail should record the failure")
	}
	if h.ctrl.Fail("STEP1", errors.New("second"), lifecycle.OriginBudget) {
		t.Fatal("second Fail must be a no-op")
	}
	info := h.info(t, "STEP1")
	if info.Status != state.StatusFailed {
		t.Fatalf("status = %s", info.Status)
	}
	if n := len([]rune(info.ErrorMessage)); n > lifecycle.DefaultMessageLimit {
		t.Fatalf("message has %d runes, want <= %d", n, lifecycle.DefaultMessageLimit)
	}
	if got := h.notes.count(notifications.EventStepFailed); got != 1 {
		t.Fatalf("failed notifications = %d, want 1", got)
	}
}

func TestFailKeepsRunDisabledWhileSequenceRuns(t *testing.T) {
	h := newHarness(t, lifecycle.Options{})
	h.store.SetState(state.At(state.KeyIsAnySequenceRunning, true), "test")

	h.ctrl.Fail("STEP1", errors.New("boom"), lifecycle.OriginSequence)
	control, _ := h.store.StepControlOf("STEP1")
	if control.RunEnabled {
		t.Fatal("run affordance must stay disabled while a sequence runs")
	}
}

func TestFastMonitoringRestartsPolling(t *testing.T) {
	h := newHarness(t, lifecycle.Options{PollInterval: time.Hour})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))
	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return h.pipe.Calls("status", "STEP1") == 1 })

	h.ctrl.SetFastMonitoring(true)
	waitFor(t, time.Second, func() bool { return h.pipe.Calls("status", "STEP1") >= 4 })
	if !h.store.Bool(state.KeyFastMonitoring) {
		t.Fatal("fast monitoring flag not recorded")
	}
}

func TestStopTimerReportsElapsed(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newHarness(t, lifecycle.Options{PollInterval: time.Hour, TimerInterval: time.Hour, Now: clock})
	h.pipe.OnStatus("STEP1", testsupport.Status("running", 1, 4, "25%"))

	if err := h.ctrl.Initiate(context.Background(), "STEP1"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	mu.Lock()
	now = now.Add(65 * time.Second)
	mu.Unlock()

	if got := h.ctrl.StopTimer("STEP1"); got != 65*time.Second {
		t.Fatalf("StopTimer = %s, want 65s", got)
	}
	timer, _ := h.store.StepTimerOf("STEP1")
	if timer.ElapsedTimeFormatted != "00:01:05" || timer.Running() {
		t.Fatalf("unexpected timer: %+v", timer)
	}
	if got := h.ctrl.StopTimer("STEP1"); got != 65*time.Second {
		t.Fatalf("second StopTimer = %s, want frozen 65s", got)
	}
	if got := h.ctrl.StopTimer("UNKNOWN"); got != 0 {
		t.Fatalf("StopTimer(unknown) = %s", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59*time.Second + 999*time.Millisecond, "00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{101 * time.Hour, "101:00:00"},
	}
	for _, tc := range tests {
		if got := lifecycle.FormatElapsed(tc.in); got != tc.want {
			t.Fatalf("FormatElapsed(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
