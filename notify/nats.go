// Package notify publishes bill approval events to NATS.
//
// Subject convention: <prefix>.<event_type>, by default
// notifications.approvals.bill_approval_required and friends.
//
// Publishing is best-effort. A nil or disconnected publisher returns an
// error that the billing service logs and drops.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/warp/approval-engine/billing"
)

const DefaultSubjectPrefix = "notifications.approvals"

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id,omitempty"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity"`
	Category     string         `json:"category"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

var ErrNotConnected = errors.New("nats: publisher not connected")

// Publisher implements billing.Notifier over NATS.
type Publisher struct {
	conn   Conn
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

var _ billing.Notifier = (*Publisher)(nil)

// Connect dials url and returns a Publisher on the new connection.
func Connect(url, prefix string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("approval-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return NewPublisher(nc, prefix, log), nil
}

// NewPublisher wraps an existing connection. An empty prefix uses
// DefaultSubjectPrefix.
func NewPublisher(conn Conn, prefix string, log *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: prefix, log: log, now: time.Now}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t billing.EventType) string {
	return fmt.Sprintf("%s.%s", p.prefix, t)
}

// Publish implements billing.Notifier.
func (p *Publisher) Publish(_ context.Context, event billing.Event) error {
	if p == nil || p.conn == nil {
		return ErrNotConnected
	}
	if len(event.Recipients) == 0 {
		return nil
	}

	data, err := json.Marshal(toNotification(event, p.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug("notification published",
		zap.String("subject", subject),
		zap.String("bill_id", string(event.BillID)),
		zap.Int("recipients", len(event.Recipients)))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn("nats flush on close failed", zap.Error(err))
	}
	p.conn.Close()
}

func toNotification(e billing.Event, at time.Time) NotificationEvent {
	n := NotificationEvent{
		EventType:    string(e.Type),
		ActorID:      string(e.ActorID),
		ResourceType: "bill",
		ResourceID:   string(e.BillID),
		IsActionable: e.Actionable,
		Severity:     severity(e.Type),
		Category:     "bill_approval",
		OccurredAt:   at.UTC(),
		Payload:      e.Payload,
	}
	for _, r := range e.Recipients {
		n.Recipients = append(n.Recipients, string(r))
	}
	return n
}

func severity(t billing.EventType) string {
	switch t {
	case billing.EventRejected, billing.EventEscalated:
		return "warning"
	default:
		return "info"
	}
}
