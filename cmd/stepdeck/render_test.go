package main

import (
	"bytes"
	"testing"

	"stepdeck/internal/state"
)

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"nightly":       "Nightly",
		"nightly-build": "Nightly Build",
		"full_rebuild":  "Full Rebuild",
		"  ":            "",
		"custom":        "Custom",
	}
	for in, want := range cases {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShortRunID(t *testing.T) {
	if got := shortRunID("0123456789"); got != "01234567" {
		t.Fatalf("unexpected short id %q", got)
	}
	if got := shortRunID("abc"); got != "abc" {
		t.Fatalf("unexpected short id %q", got)
	}
}

func TestDescribeStep(t *testing.T) {
	rc := state.CancelledReturnCode
	tests := []struct {
		name string
		info state.ProcessInfo
		want string
		kind statusKind
	}{
		{
			name: "running with progress",
			info: state.ProcessInfo{Status: state.StatusRunning, ProgressCurrent: 1, ProgressTotal: 4, ProgressText: "copying"},
			want: "running · 25.0% · copying",
			kind: statusInfo,
		},
		{
			name: "failed with message",
			info: state.ProcessInfo{Status: state.StatusFailed, ErrorMessage: "boom"},
			want: "failed · boom",
			kind: statusError,
		},
		{
			name: "cancel signal",
			info: state.ProcessInfo{Status: state.StatusFailed, ReturnCode: &rc},
			want: "failed (cancelled) · rc=-9",
			kind: statusWarn,
		},
		{
			name: "unknown",
			info: state.ProcessInfo{},
			want: "unknown",
			kind: statusInfo,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := describeStep(tc.info); got != tc.want {
				t.Fatalf("describeStep = %q, want %q", got, tc.want)
			}
			if got := stepStatusKind(tc.info); got != tc.kind {
				t.Fatalf("stepStatusKind = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestRenderStatusLine(t *testing.T) {
	plain := renderStatusLine("STEP1", statusOK, "completed", false)
	if plain != "  STEP1:         [OK] completed" {
		t.Fatalf("unexpected line %q", plain)
	}
	colored := renderStatusLine("STEP1", statusError, "failed", true)
	if colored[:len(ansiRed)] != ansiRed {
		t.Fatalf("expected red prefix, got %q", colored)
	}
}

func TestProgressPrinterSkipsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, "STEP1")
	info := state.ProcessInfo{Status: state.StatusRunning}
	p.update(info)
	p.update(info)
	info.Status = state.StatusCompleted
	p.update(info)
	if got := bytes.Count(buf.Bytes(), []byte("\n")); got != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", got, buf.String())
	}
}
