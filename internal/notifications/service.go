package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stepdeck/internal/config"
)

const userAgent = "stepdeck/0.1"

// Event identifies a notification kind.
type Event string

const (
	EventStepCompleted     Event = "step_completed"
	EventStepFailed        Event = "step_failed"
	EventStepCancelled     Event = "step_cancelled"
	EventSequenceCompleted Event = "sequence_completed"
	EventTest              Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes passive notifications. Implementations never influence
// control flow; errors are for logging only.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventStepCompleted:     cfg.Notifications.StepCompleted,
			EventStepFailed:        cfg.Notifications.StepFailed,
			EventStepCancelled:     cfg.Notifications.StepFailed,
			EventSequenceCompleted: cfg.Notifications.Sequences,
			EventTest:              true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	step := payload.str("step")
	switch event {
	case EventStepCompleted:
		body := fmt.Sprintf("✅ Step completed: %s", step)
		if elapsed := payload.str("elapsed"); elapsed != "" {
			body += " (" + elapsed + ")"
		}
		return message{
			title: "stepdeck - Step Complete",
			body:  body,
			tags:  []string{"stepdeck", "step", "completed"},
		}, true
	case EventStepFailed:
		body := fmt.Sprintf("❌ Step failed: %s", step)
		if reason := payload.str("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "stepdeck - Step Failed",
			body:     body,
			tags:     []string{"stepdeck", "step", "failed"},
			priority: "high",
		}, true
	case EventStepCancelled:
		return message{
			title: "stepdeck - Step Cancelled",
			body:  fmt.Sprintf("⏹ Step cancelled: %s", step),
			tags:  []string{"stepdeck", "step", "cancelled"},
		}, true
	case EventSequenceCompleted:
		name := payload.str("sequence")
		duration := payload.str("duration")
		success, _ := payload["success"].(bool)
		if success {
			return message{
				title: "stepdeck - Sequence Complete",
				body:  fmt.Sprintf("Sequence %s finished: %s steps succeeded in %s", name, payload.str("steps"), duration),
				tags:  []string{"stepdeck", "sequence", "completed"},
			}, true
		}
		return message{
			title:    "stepdeck - Sequence Failed",
			body:     fmt.Sprintf("Sequence %s aborted at %s after %s", name, payload.str("failed_step"), duration),
			tags:     []string{"stepdeck", "sequence", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "stepdeck - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"stepdeck", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
