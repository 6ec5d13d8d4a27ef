package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"stepdeck/internal/logging"
)

// Entry is one decoded log line.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	StepKey   string
	Sequence  string
	Fields    map[string]any
	Raw       string
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	StepKey  string
	Sequence string
	// MinLevel is one of debug, info, warn, error.
	MinLevel string
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

var reservedKeys = map[string]struct{}{
	"ts":                   {},
	"level":                {},
	"msg":                  {},
	logging.FieldComponent: {},
	logging.FieldStepKey:   {},
	logging.FieldSequence:  {},
	logging.FieldSessionID: {},
	"source":               {},
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects are
// kept as plain messages.
func ParseEntry(line string) Entry {
	entry := Entry{Raw: line}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		entry.Message = line
		return entry
	}
	entry.Level = strings.ToLower(stringValue(payload["level"]))
	entry.Message = stringValue(payload["msg"])
	entry.Component = stringValue(payload[logging.FieldComponent])
	entry.StepKey = stringValue(payload[logging.FieldStepKey])
	entry.Sequence = stringValue(payload[logging.FieldSequence])
	if ts := stringValue(payload["ts"]); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	for key, value := range payload {
		if _, skip := reservedKeys[key]; skip {
			continue
		}
		if entry.Fields == nil {
			entry.Fields = make(map[string]any)
		}
		entry.Fields[key] = value
	}
	return entry
}

// Match reports whether the entry passes the filter.
func (f Filter) Match(entry Entry) bool {
	if f.StepKey != "" && !strings.EqualFold(f.StepKey, entry.StepKey) {
		return false
	}
	if f.Sequence != "" && !strings.EqualFold(f.Sequence, entry.Sequence) {
		return false
	}
	if floor, ok := levelRank[strings.ToLower(f.MinLevel)]; ok {
		rank, known := levelRank[entry.Level]
		if known && rank < floor {
			return false
		}
	}
	return true
}

// Format renders an entry on one line in local time.
func (e Entry) Format() string {
	if e.Level == "" && e.Time.IsZero() {
		return e.Raw
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.In(time.Local).Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(e.Level))
	if e.Component != "" {
		fmt.Fprintf(&b, " [%s]", e.Component)
	}
	if subject := logging.FormatSubject(e.Sequence, e.StepKey); subject != "" {
		b.WriteString(" " + subject)
	}
	b.WriteString(" – " + e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for key := range e.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, " %s=%v", key, e.Fields[key])
		}
	}
	return b.String()
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
