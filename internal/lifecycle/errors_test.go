package lifecycle_test

import (
	"errors"
	"strings"
	"testing"

	"stepdeck/internal/lifecycle"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("connection refused")
	err := lifecycle.Wrap(lifecycle.ErrPollingTransport, "STEP1", "status", "fetch failed", base)
	if !errors.Is(err, lifecycle.ErrPollingTransport) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"STEP1", "status", "fetch failed"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
}

func TestOriginOfMapsMarkers(t *testing.T) {
	tests := []struct {
		err  error
		want lifecycle.Origin
	}{
		{lifecycle.Wrap(lifecycle.ErrInitiation, "A", "run", "", nil), lifecycle.OriginInitiate},
		{lifecycle.Wrap(lifecycle.ErrPollingTransport, "A", "status", "", nil), lifecycle.OriginPoll},
		{lifecycle.Wrap(lifecycle.ErrPollingBudget, "A", "status", "", lifecycle.ErrPollingTransport), lifecycle.OriginBudget},
		{errors.New("other"), lifecycle.OriginSequence},
	}
	for _, tc := range tests {
		if got := lifecycle.OriginOf(tc.err); got != tc.want {
			t.Fatalf("OriginOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
