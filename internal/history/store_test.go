package history_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"stepdeck/internal/history"
	"stepdeck/internal/sequence"
	"stepdeck/internal/testsupport"
)

func sampleSummary(runID, name string, started time.Time, success bool) sequence.Summary {
	results := []sequence.Result{
		{Name: "STEP1", Success: true, Duration: "00:00:05", Elapsed: 5 * time.Second},
	}
	if success {
		results = append(results, sequence.Result{Name: "STEP2", Success: true, Duration: "00:01:00", Elapsed: time.Minute})
	} else {
		results = append(results, sequence.Result{Name: "STEP2", Success: false, Duration: "00:00:02", Elapsed: 2 * time.Second, Error: "exit 3"})
	}
	return sequence.Summary{
		RunID:                    runID,
		SequenceName:             name,
		OverallSuccess:           success,
		OverallDuration:          65 * time.Second,
		OverallDurationFormatted: "00:01:05",
		StartedAt:                started,
		FinishedAt:               started.Add(65 * time.Second),
		Results:                  results,
	}
}

func TestReportAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Report(ctx, sampleSummary("run-1", "nightly", started, false)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected recorded run")
	}
	if got.SequenceName != "nightly" || got.OverallSuccess || got.OverallDurationFormatted != "00:01:05" {
		t.Fatalf("unexpected run: %#v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(got.Results))
	}
	if got.Results[1].Name != "STEP2" || got.Results[1].Error != "exit 3" || got.Results[1].Elapsed != 2*time.Second {
		t.Fatalf("unexpected step result: %#v", got.Results[1])
	}
	if got.FailedStep() != "STEP2" {
		t.Fatalf("failed step = %q", got.FailedStep())
	}
}

func TestGetUnknownRunReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown run, got %#v", got)
	}
}

func TestReportReplacesExistingRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Report(ctx, sampleSummary("run-1", "nightly", started, false)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if err := store.Report(ctx, sampleSummary("run-1", "nightly", started, true)); err != nil {
		t.Fatalf("second Report failed: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.OverallSuccess || len(got.Results) != 2 {
		t.Fatalf("expected replaced successful run, got %#v", got)
	}
}

func TestReportRequiresRunID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	if err := store.Report(context.Background(), sequence.Summary{SequenceName: "x"}); err == nil {
		t.Fatal("expected error for summary without run id")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []sequence.Summary{
		sampleSummary("a", "nightly", base, true),
		sampleSummary("b", "nightly", base.Add(time.Hour), false),
		sampleSummary("c", "weekly", base.Add(2*time.Hour), true),
		sampleSummary("d", "Nightly", base.Add(90*time.Minute+500*time.Millisecond), true),
	}
	for _, run := range runs {
		if err := store.Report(ctx, run); err != nil {
			t.Fatalf("Report %s failed: %v", run.RunID, err)
		}
	}

	cases := []struct {
		name string
		opts history.ListOptions
		want []string
	}{
		{"all newest first", history.ListOptions{}, []string{"c", "d", "b", "a"}},
		{"sequence ignores case", history.ListOptions{Sequence: "NIGHTLY"}, []string{"d", "b", "a"}},
		{"limit", history.ListOptions{Limit: 2}, []string{"c", "d"}},
		{"failed only", history.ListOptions{FailedOnly: true}, []string{"b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.opts)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d runs, got %d", len(tc.want), len(got))
			}
			for i, id := range tc.want {
				if got[i].RunID != id {
					t.Fatalf("run %d = %q, want %q", i, got[i].RunID, id)
				}
				if len(got[i].Results) != 2 {
					t.Fatalf("run %q missing step results", id)
				}
			}
		})
	}
}

func TestPruneRemovesOldRunsAndSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	if err := store.Report(ctx, sampleSummary("old", "nightly", now.AddDate(0, 0, -40), true)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if err := store.Report(ctx, sampleSummary("new", "nightly", now.AddDate(0, 0, -2), true)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	removed, err := store.PruneRetention(ctx, 30, now)
	if err != nil {
		t.Fatalf("PruneRetention failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Fatalf("expected old run to be pruned, got %#v", got)
	}
	if got, _ := store.Get(ctx, "new"); got == nil {
		t.Fatal("expected recent run to survive")
	}

	// Re-recording the pruned id must not pick up orphaned steps.
	if err := store.Report(ctx, sampleSummary("old", "nightly", now, true)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	got, err := store.Get(ctx, "old")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(got.Results))
	}

	if n, err := store.PruneRetention(ctx, 0, now); err != nil || n != 0 {
		t.Fatalf("zero retention should keep everything, got %d, %v", n, err)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		if err := store.Report(ctx, sampleSummary(id, "nightly", started, true)); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
	}
	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	runs, err := store.List(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty history, got %d runs", len(runs))
	}
}

func TestReopenKeepsRecordedRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Report(ctx, sampleSummary("run-1", "nightly", time.Now(), true)); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenHistory(t, cfg)
	if got, err := reopened.Get(ctx, "run-1"); err != nil || got == nil {
		t.Fatalf("expected run to survive reopen, got %#v, %v", got, err)
	}
	if reopened.Path() != cfg.HistoryPath() {
		t.Fatalf("path = %q, want %q", reopened.Path(), cfg.HistoryPath())
	}
}

func TestOrchestratorRecordsThroughReporter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	var reporter sequence.Reporter = store
	summary := sampleSummary("run-r", "custom", time.Now(), true)
	if err := reporter.Report(context.Background(), summary); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if got, err := store.Get(context.Background(), "run-r"); err != nil || got == nil {
		t.Fatalf("expected reported run, got %#v, %v", got, err)
	}
}

func TestOpenRejectsNilConfig(t *testing.T) {
	if _, err := history.Open(nil); err == nil || errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected plain error for nil config, got %v", err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	raw, err := sql.Open("sqlite", cfg.HistoryPath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = raw.Close()

	if _, err := history.Open(cfg); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
