package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStepKey is the standardized structured logging key for remote step identifiers.
	FieldStepKey = "step_key"
	// FieldSequence is the standardized structured logging key for sequence names.
	FieldSequence = "sequence"
	// FieldRunID is the standardized structured logging key for sequence run identifiers.
	FieldRunID = "run_id"
	// FieldTaskID is the standardized structured logging key for polling task identifiers.
	FieldTaskID = "task_id"
	// FieldOrigin names the operation that produced a failure (initiate, poll, budget).
	FieldOrigin = "origin"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldSessionID identifies one console process in the shared daily log file.
	FieldSessionID = "session_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	stepKeyContextKey  contextKey = "step_key"
	sequenceContextKey contextKey = "sequence"
	runIDContextKey    contextKey = "run_id"
)

// WithStepKey tags ctx with the step being driven.
func WithStepKey(ctx context.Context, stepKey string) context.Context {
	return context.WithValue(ctx, stepKeyContextKey, strings.TrimSpace(stepKey))
}

// WithSequence tags ctx with the sequence name and run identifier.
func WithSequence(ctx context.Context, name, runID string) context.Context {
	ctx = context.WithValue(ctx, sequenceContextKey, strings.TrimSpace(name))
	return context.WithValue(ctx, runIDContextKey, strings.TrimSpace(runID))
}

func contextString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if v, ok := contextString(ctx, stepKeyContextKey); ok {
		fields = append(fields, slog.String(FieldStepKey, v))
	}
	if v, ok := contextString(ctx, sequenceContextKey); ok {
		fields = append(fields, slog.String(FieldSequence, v))
	}
	if v, ok := contextString(ctx, runIDContextKey); ok {
		fields = append(fields, slog.String(FieldRunID, v))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
