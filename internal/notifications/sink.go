package notifications

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"genfetch/internal/logging"
)

const publishTimeout = 15 * time.Second

// Sink is the user-facing message boundary. Implementations must not block.
type Sink interface {
	ReportMessage(ctx context.Context, identity, text string)
}

// Discard drops every message.
type Discard struct{}

// ReportMessage implements Sink.
func (Discard) ReportMessage(context.Context, string, string) {}

// Dispatcher logs every message and publishes it in the background.
type Dispatcher struct {
	logger  *slog.Logger
	service Service
	wg      sync.WaitGroup
}

// NewDispatcher wires a Sink over service. A nil service disables publishing.
func NewDispatcher(logger *slog.Logger, service Service) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if service == nil {
		service = noopService{}
	}
	return &Dispatcher{
		logger:  logging.NewComponentLogger(logger, "notifications"),
		service: service,
	}
}

// ReportMessage logs text for identity and forwards it without waiting.
func (d *Dispatcher) ReportMessage(ctx context.Context, identity, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	d.logger.Info("message",
		logging.Identity(identity),
		logging.String("text", text),
	)
	d.Publish(ctx, EventMessage, Payload{"identity": identity, "text": text})
}

// Publish forwards an event in the background. Failures are logged, never returned.
func (d *Dispatcher) Publish(ctx context.Context, event Event, payload Payload) {
	if _, ok := d.service.(noopService); ok {
		return
	}
	pubCtx := context.WithoutCancel(ctx)
	d.wg.Go(func() {
		pubCtx, cancel := context.WithTimeout(pubCtx, publishTimeout)
		defer cancel()
		if err := d.service.Publish(pubCtx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification delivery failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "push notification not delivered"),
			)
		}
	})
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Message is one recorded user-facing message.
type Message struct {
	Identity string
	Text     string
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// ReportMessage records the message.
func (r *Recorder) ReportMessage(_ context.Context, identity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Identity: identity, Text: text})
}

// Messages returns a copy of all recorded messages in arrival order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// For returns the texts recorded for identity.
func (r *Recorder) For(identity string) []string {
	var out []string
	for _, msg := range r.Messages() {
		if msg.Identity == identity {
			out = append(out, msg.Text)
		}
	}
	return out
}
