package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"genfetch/internal/config"
)

const userAgent = "genfetch/0.1.0"

// Event enumerates the notifications genfetch can publish.
type Event string

const (
	EventMessage           Event = "message"
	EventBatchCompleted    Event = "batch_completed"
	EventBatchAborted      Event = "batch_aborted"
	EventSubmissionAborted Event = "submission_aborted"
	EventRecoveryPending   Event = "recovery_pending"
	EventTest              Event = "test"
)

// Payload carries event fields. Unknown keys are ignored.
type Payload map[string]any

// Service publishes events to an external channel.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
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
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	data, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func format(event Event, payload Payload) (message, bool) {
	identity := payload.text("identity")
	switch event {
	case EventMessage:
		return message{
			title: "genfetch - " + fallback(identity, "message"),
			body:  payload.text("text"),
			tags:  []string{"genfetch", "message"},
		}, true
	case EventBatchCompleted:
		fulfilled := payload.integer("fulfilled")
		dropped := payload.integer("dropped")
		body := fmt.Sprintf("%d result(s) ready for %s", fulfilled, identity)
		if dropped > 0 {
			body = fmt.Sprintf("%s, %d dropped", body, dropped)
		}
		return message{
			title: "genfetch - Batch Complete",
			body:  body,
			tags:  []string{"genfetch", "batch", "completed"},
		}, true
	case EventBatchAborted:
		return message{
			title:    "genfetch - Batch Failed",
			body:     fmt.Sprintf("Every result for %s failed: %s", identity, fallback(payload.text("error"), "unknown")),
			tags:     []string{"genfetch", "batch", "failed"},
			priority: "high",
		}, true
	case EventSubmissionAborted:
		return message{
			title:    "genfetch - Submission Aborted",
			body:     fmt.Sprintf("Nothing was generated for %s: %s", identity, fallback(payload.text("error"), "unknown")),
			tags:     []string{"genfetch", "submit", "aborted"},
			priority: "high",
		}, true
	case EventRecoveryPending:
		return message{
			title: "genfetch - Interrupted Batches",
			body:  fmt.Sprintf("%d interrupted batch(es) can be resumed", payload.integer("count")),
			tags:  []string{"genfetch", "recovery"},
		}, true
	case EventTest:
		return message{
			title:    "genfetch - Test",
			body:     "Notification system test",
			tags:     []string{"genfetch", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
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

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) integer(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
