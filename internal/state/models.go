package state

import (
	"strings"
	"time"
)

// Top-level snapshot keys.
const (
	KeyProcessInfo          = "processInfo"
	KeyStepTimers           = "stepTimers"
	KeyStepControls         = "stepControls"
	KeyIsAnySequenceRunning = "isAnySequenceRunning"
	KeySelectedStepsOrder   = "selectedStepsOrder"
	KeyFastMonitoring       = "fastMonitoring"
	KeyContinuousMonitoring = "continuousMonitoring"
	KeyActiveSequence       = "activeSequence"
)

// CancelledReturnCode is the return code the pipeline reports for a step
// that was cancelled.
const CancelledReturnCode = -9

// StepStatus is the lifecycle status reported for a step.
type StepStatus string

const (
	StatusIdle      StepStatus = "idle"
	StatusInitiated StepStatus = "initiated"
	StatusStarting  StepStatus = "starting"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusCancelled StepStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected without a
// new initiation.
func (s StepStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessInfo is the per-step status record.
type ProcessInfo struct {
	Status                    StepStatus
	Log                       []string
	ProgressCurrent           int
	ProgressCurrentFractional *float64
	ProgressTotal             int
	ProgressText              string
	ReturnCode                *int
	IsAnySequenceRunning      bool
	ErrorMessage              string
}

// Cancelled reports whether the record carries the cancellation signal.
func (p ProcessInfo) Cancelled() bool {
	if p.Status == StatusCancelled {
		return true
	}
	return p.ReturnCode != nil && *p.ReturnCode == CancelledReturnCode
}

// Settled reports whether the step has finished for orchestration purposes:
// terminal status or cancellation.
func (p ProcessInfo) Settled() bool {
	return p.Status.IsTerminal() || p.Cancelled()
}

// Percent returns progress as 0-100, or -1 when unknown.
func (p ProcessInfo) Percent() float64 {
	if p.ProgressTotal <= 0 {
		return -1
	}
	current := float64(p.ProgressCurrent)
	if p.ProgressCurrentFractional != nil {
		current = *p.ProgressCurrentFractional
	}
	pct := current / float64(p.ProgressTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Fields renders the record as a mergeable tree.
func (p ProcessInfo) Fields() Tree {
	log := make([]string, len(p.Log))
	copy(log, p.Log)
	fields := Tree{
		"status":                      string(p.Status),
		"log":                         log,
		"progress_current":            p.ProgressCurrent,
		"progress_current_fractional": nil,
		"progress_total":              p.ProgressTotal,
		"progress_text":               p.ProgressText,
		"return_code":                 nil,
		"is_any_sequence_running":     p.IsAnySequenceRunning,
		"error_message":               p.ErrorMessage,
	}
	if p.ProgressCurrentFractional != nil {
		fields["progress_current_fractional"] = *p.ProgressCurrentFractional
	}
	if p.ReturnCode != nil {
		fields["return_code"] = *p.ReturnCode
	}
	return fields
}

// DecodeProcessInfo reads a record previously written with Fields (or a
// partial merge of one).
func DecodeProcessInfo(v any) (ProcessInfo, bool) {
	m, ok := v.(Tree)
	if !ok {
		return ProcessInfo{}, false
	}
	info := ProcessInfo{
		Status:               StepStatus(stringField(m, "status")),
		Log:                  stringsField(m, "log"),
		ProgressCurrent:      intField(m, "progress_current"),
		ProgressTotal:        intField(m, "progress_total"),
		ProgressText:         stringField(m, "progress_text"),
		IsAnySequenceRunning: boolField(m, "is_any_sequence_running"),
		ErrorMessage:         stringField(m, "error_message"),
	}
	if f, ok := floatField(m, "progress_current_fractional"); ok {
		info.ProgressCurrentFractional = &f
	}
	if _, present := m["return_code"]; present && m["return_code"] != nil {
		rc := intField(m, "return_code")
		info.ReturnCode = &rc
	}
	return info, true
}

// StepTimer tracks wall-clock time for one step run.
type StepTimer struct {
	StartTime            time.Time
	ElapsedTimeFormatted string
	// IntervalID names the ticking task; empty once the timer is frozen.
	IntervalID string
	// StopTime is set when the timer is frozen.
	StopTime time.Time
}

// Running reports whether the timer is still ticking.
func (t StepTimer) Running() bool {
	return t.IntervalID != ""
}

// Elapsed returns the wall-clock time covered by the timer. A running timer
// is measured against now.
func (t StepTimer) Elapsed(now time.Time) time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	end := now
	if !t.StopTime.IsZero() {
		end = t.StopTime
	}
	if end.Before(t.StartTime) {
		return 0
	}
	return end.Sub(t.StartTime)
}

// Fields renders the timer as a mergeable tree.
func (t StepTimer) Fields() Tree {
	fields := Tree{
		"startTime":            t.StartTime,
		"elapsedTimeFormatted": t.ElapsedTimeFormatted,
		"intervalId":           nil,
		"stopTime":             nil,
	}
	if t.IntervalID != "" {
		fields["intervalId"] = t.IntervalID
	}
	if !t.StopTime.IsZero() {
		fields["stopTime"] = t.StopTime
	}
	return fields
}

// DecodeStepTimer reads a timer record.
func DecodeStepTimer(v any) (StepTimer, bool) {
	m, ok := v.(Tree)
	if !ok {
		return StepTimer{}, false
	}
	timer := StepTimer{
		ElapsedTimeFormatted: stringField(m, "elapsedTimeFormatted"),
		IntervalID:           stringField(m, "intervalId"),
	}
	if ts, ok := m["startTime"].(time.Time); ok {
		timer.StartTime = ts
	}
	if ts, ok := m["stopTime"].(time.Time); ok {
		timer.StopTime = ts
	}
	return timer, true
}

// StepControl is the presentation-facing affordance state for a step.
type StepControl struct {
	RunEnabled bool
	Message    string
}

// Fields renders the control as a mergeable tree.
func (c StepControl) Fields() Tree {
	return Tree{"runEnabled": c.RunEnabled, "message": c.Message}
}

// DecodeStepControl reads a control record.
func DecodeStepControl(v any) (StepControl, bool) {
	m, ok := v.(Tree)
	if !ok {
		return StepControl{}, false
	}
	return StepControl{
		RunEnabled: boolField(m, "runEnabled"),
		Message:    stringField(m, "message"),
	}, true
}

// ProcessInfoPath returns the store path of a step's status record.
func ProcessInfoPath(stepKey string) string { return Path(KeyProcessInfo, stepKey) }

// StepTimerPath returns the store path of a step's timer.
func StepTimerPath(stepKey string) string { return Path(KeyStepTimers, stepKey) }

// StepControlPath returns the store path of a step's affordance state.
func StepControlPath(stepKey string) string { return Path(KeyStepControls, stepKey) }

// ProcessInfoIn reads a step's status record from a snapshot, typically the
// one handed to an Update callback.
func ProcessInfoIn(root Tree, stepKey string) (ProcessInfo, bool) {
	v, ok := lookup(root, ProcessInfoPath(stepKey))
	if !ok {
		return ProcessInfo{}, false
	}
	return DecodeProcessInfo(v)
}

// StepTimerIn reads a step's timer from a snapshot.
func StepTimerIn(root Tree, stepKey string) (StepTimer, bool) {
	v, ok := lookup(root, StepTimerPath(stepKey))
	if !ok {
		return StepTimer{}, false
	}
	return DecodeStepTimer(v)
}

// BoolIn reads a boolean flag from a snapshot.
func BoolIn(root Tree, path string) bool {
	v, _ := lookup(root, path)
	b, _ := v.(bool)
	return b
}

// ProcessInfoOf reads a step's status record from the store.
func (s *Store) ProcessInfoOf(stepKey string) (ProcessInfo, bool) {
	v, ok := s.Get(ProcessInfoPath(stepKey))
	if !ok {
		return ProcessInfo{}, false
	}
	return DecodeProcessInfo(v)
}

// StepTimerOf reads a step's timer from the store.
func (s *Store) StepTimerOf(stepKey string) (StepTimer, bool) {
	v, ok := s.Get(StepTimerPath(stepKey))
	if !ok {
		return StepTimer{}, false
	}
	return DecodeStepTimer(v)
}

// StepControlOf reads a step's affordance state from the store.
func (s *Store) StepControlOf(stepKey string) (StepControl, bool) {
	v, ok := s.Get(StepControlPath(stepKey))
	if !ok {
		return StepControl{}, false
	}
	return DecodeStepControl(v)
}

// Bool reads a boolean flag; missing or non-boolean values read as false.
func (s *Store) Bool(path string) bool {
	v, _ := s.Get(path)
	b, _ := v.(bool)
	return b
}

// Strings reads a string list.
func (s *Store) Strings(path string) []string {
	v, ok := s.Get(path)
	if !ok {
		return nil
	}
	return toStrings(v)
}

// StepKeys lists the steps that have a status record, in no particular order.
func (s *Store) StepKeys() []string {
	v, ok := s.Get(KeyProcessInfo)
	if !ok {
		return nil
	}
	m, ok := v.(Tree)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// ValidStepKey reports whether key can be used as a path segment.
func ValidStepKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && !strings.Contains(key, ".")
}

func stringField(m Tree, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m Tree, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intField(m Tree, key string) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func floatField(m Tree, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringsField(m Tree, key string) []string {
	return toStrings(m[key])
}

func toStrings(v any) []string {
	switch typed := v.(type) {
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
