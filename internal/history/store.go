package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stepdeck/internal/sequence"
)

const runColumns = "run_id, sequence_name, overall_success, duration_ns, duration_formatted, started_at, finished_at"

// ListOptions filters List results.
type ListOptions struct {
	// Sequence restricts results to one sequence name. Matching ignores case.
	Sequence string
	// Limit caps the number of runs returned, newest first. Zero means no cap.
	Limit int
	// FailedOnly keeps only runs that did not succeed.
	FailedOnly bool
}

// Report records a finished sequence run. Recording the same run twice
// replaces the earlier row.
func (s *Store) Report(ctx context.Context, summary sequence.Summary) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(summary.RunID) == "" {
		return errors.New("record sequence run: missing run id")
	}
	return retryOnBusy(ctx, func() error {
		return s.record(ctx, summary)
	})
}

func (s *Store) record(ctx context.Context, summary sequence.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM sequence_steps WHERE run_id = ?`,
		`DELETE FROM sequence_runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, summary.RunID); err != nil {
			return fmt.Errorf("replace sequence run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sequence_runs (`+runColumns+`, failed_step) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		summary.SequenceName,
		boolToInt(summary.OverallSuccess),
		int64(summary.OverallDuration),
		summary.OverallDurationFormatted,
		formatTime(summary.StartedAt),
		formatTime(summary.FinishedAt),
		nullableString(summary.FailedStep()),
	)
	if err != nil {
		return fmt.Errorf("insert sequence run: %w", err)
	}

	for i, res := range summary.Results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sequence_steps (run_id, position, step_key, success, duration, elapsed_ns, error_message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			summary.RunID,
			i,
			res.Name,
			boolToInt(res.Success),
			res.Duration,
			int64(res.Elapsed),
			nullableString(res.Error),
		)
		if err != nil {
			return fmt.Errorf("insert sequence step %q: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sequence run: %w", err)
	}
	return nil
}

// Get returns a recorded run with its step results, or nil when the run is
// unknown.
func (s *Store) Get(ctx context.Context, runID string) (*sequence.Summary, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sequence_runs WHERE run_id = ?`, runID)
	summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence run: %w", err)
	}
	if err := s.loadSteps(ctx, []*sequence.Summary{summary}); err != nil {
		return nil, err
	}
	return summary, nil
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*sequence.Summary, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if name := strings.TrimSpace(opts.Sequence); name != "" {
		clauses = append(clauses, `sequence_name = ? COLLATE NOCASE`)
		args = append(args, name)
	}
	if opts.FailedOnly {
		clauses = append(clauses, `overall_success = 0`)
	}
	query := `SELECT ` + runColumns + ` FROM sequence_runs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY started_at DESC, run_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sequence runs: %w", err)
	}
	defer rows.Close()

	var runs []*sequence.Summary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequence runs: %w", err)
	}
	if err := s.loadSteps(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Prune removes runs that started before cutoff and returns how many were
// deleted.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	bound := formatTime(cutoff)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		n, err := s.deleteRuns(ctx, `WHERE started_at < ?`, bound)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune sequence runs: %w", err)
	}
	return removed, nil
}

// PruneRetention applies a retention window in days. A non-positive window
// keeps everything.
func (s *Store) PruneRetention(ctx context.Context, days int, now time.Time) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return s.Prune(ctx, now.AddDate(0, 0, -days))
}

// Clear removes every recorded run.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		n, err := s.deleteRuns(ctx, "")
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear sequence runs: %w", err)
	}
	return removed, nil
}

// deleteRuns removes the runs matched by where together with their steps.
func (s *Store) deleteRuns(ctx context.Context, where string, args ...any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sequence_steps WHERE run_id IN (SELECT run_id FROM sequence_runs `+where+`)`, args...); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sequence_runs `+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) loadSteps(ctx context.Context, runs []*sequence.Summary) error {
	if len(runs) == 0 {
		return nil
	}
	byID := make(map[string]*sequence.Summary, len(runs))
	args := make([]any, 0, len(runs))
	for _, run := range runs {
		byID[run.RunID] = run
		args = append(args, run.RunID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_key, success, duration, elapsed_ns, error_message FROM sequence_steps WHERE run_id IN (`+
			makePlaceholders(len(args))+`) ORDER BY run_id, position`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load sequence steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID    string
			res      sequence.Result
			success  int
			elapsed  int64
			errorMsg sql.NullString
		)
		if err := rows.Scan(&runID, &res.Name, &success, &res.Duration, &elapsed, &errorMsg); err != nil {
			return fmt.Errorf("scan sequence step: %w", err)
		}
		res.Success = success != 0
		res.Elapsed = time.Duration(elapsed)
		res.Error = errorMsg.String
		if run := byID[runID]; run != nil {
			run.Results = append(run.Results, res)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sequence steps: %w", err)
	}
	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*sequence.Summary, error) {
	var (
		summary    sequence.Summary
		success    int
		durationNs int64
		startedRaw string
		finishRaw  string
	)
	if err := scanner.Scan(
		&summary.RunID,
		&summary.SequenceName,
		&success,
		&durationNs,
		&summary.OverallDurationFormatted,
		&startedRaw,
		&finishRaw,
	); err != nil {
		return nil, err
	}
	summary.OverallSuccess = success != 0
	summary.OverallDuration = time.Duration(durationNs)
	summary.StartedAt = parseTime(startedRaw)
	summary.FinishedAt = parseTime(finishRaw)
	return &summary, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
