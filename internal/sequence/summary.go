package sequence

import (
	"context"
	"fmt"
	"time"

	"stepdeck/internal/notifications"
)

// InitiationFailedDuration is the duration recorded for a step that never
// started.
const InitiationFailedDuration = "N/A (échec initiation)"

// Result is the outcome of one step in a sequence run.
type Result struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration string        `json:"duration"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Error    string        `json:"error,omitempty"`
}

// Initiated reports whether the step got past initiation.
func (r Result) Initiated() bool {
	return r.Duration != InitiationFailedDuration
}

// Summary is the report produced at the end of a sequence run.
type Summary struct {
	RunID                    string        `json:"run_id"`
	SequenceName             string        `json:"sequence_name"`
	OverallSuccess           bool          `json:"overall_success"`
	OverallDuration          time.Duration `json:"overall_duration_ns"`
	OverallDurationFormatted string        `json:"overall_duration_formatted"`
	StartedAt                time.Time     `json:"started_at"`
	FinishedAt               time.Time     `json:"finished_at"`
	Results                  []Result      `json:"results"`
}

// FailedStep returns the name of the step that aborted the run, if any.
func (s Summary) FailedStep() string {
	for _, r := range s.Results {
		if !r.Success {
			return r.Name
		}
	}
	return ""
}

// Reporter consumes finished sequence summaries. Reporter errors are logged
// and never change the outcome of a run.
type Reporter interface {
	Report(ctx context.Context, summary Summary) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, summary Summary) error

func (f ReporterFunc) Report(ctx context.Context, summary Summary) error {
	return f(ctx, summary)
}

// NotifyReporter publishes a sequence_completed notification per run.
type NotifyReporter struct {
	svc notifications.Service
}

// NewNotifyReporter wraps a notification service as a Reporter.
func NewNotifyReporter(svc notifications.Service) *NotifyReporter {
	return &NotifyReporter{svc: svc}
}

func (r *NotifyReporter) Report(ctx context.Context, summary Summary) error {
	if r == nil || r.svc == nil {
		return nil
	}
	succeeded := 0
	for _, res := range summary.Results {
		if res.Success {
			succeeded++
		}
	}
	return r.svc.Publish(ctx, notifications.EventSequenceCompleted, notifications.Payload{
		"sequence":    summary.SequenceName,
		"run_id":      summary.RunID,
		"success":     summary.OverallSuccess,
		"steps":       fmt.Sprintf("%d/%d", succeeded, len(summary.Results)),
		"duration":    summary.OverallDurationFormatted,
		"failed_step": summary.FailedStep(),
	})
}
