package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStep      = errors.New("invalid step key")
	ErrInitiation       = errors.New("initiation error")
	ErrPollingTransport = errors.New("polling transport error")
	ErrPollingBudget    = errors.New("polling budget exceeded")
	ErrCancellation     = errors.New("cancellation error")
)

// Origin labels the operation that routed a step into the failure handler.
type Origin string

const (
	OriginInitiate  Origin = "initiate"
	OriginPoll      Origin = "poll"
	OriginBudget    Origin = "polling_budget"
	OriginSequence  Origin = "sequence"
	OriginInterrupt Origin = "interrupt"
)

// Wrap builds an error message that includes step context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stepKey, operation, message string, err error) error {
	detail := buildDetail(stepKey, operation, message)
	if marker == nil {
		marker = ErrPollingTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// OriginOf maps a wrapped error back to the failure origin it implies.
func OriginOf(err error) Origin {
	switch {
	case errors.Is(err, ErrInitiation):
		return OriginInitiate
	case errors.Is(err, ErrPollingBudget):
		return OriginBudget
	case errors.Is(err, ErrPollingTransport):
		return OriginPoll
	default:
		return OriginSequence
	}
}

func buildDetail(stepKey, operation, message string) string {
	parts := make([]string, 0, 3)
	if stepKey = strings.TrimSpace(stepKey); stepKey != "" {
		parts = append(parts, stepKey)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "step failure"
	}
	return strings.Join(parts, ": ")
}

// truncateMessage shortens msg to at most limit runes.
func truncateMessage(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if limit <= 0 {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
