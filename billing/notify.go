package billing

import (
	"context"
	"sync"

	"github.com/warp/approval-engine/approval"
)

// EventType names a bill approval notification.
type EventType string

const (
	EventApprovalRequired EventType = "bill_approval_required"
	EventApproved         EventType = "bill_approved"
	EventRejected         EventType = "bill_rejected"
	EventEscalated        EventType = "bill_escalated"
)

// Event is handed to the Notifier after a state change has been saved.
type Event struct {
	Type       EventType
	BillID     approval.BillID
	ActorID    approval.EmployeeID
	Recipients []approval.EmployeeID
	// Actionable is true when a recipient is expected to approve or reject.
	Actionable bool
	Payload    map[string]any
}

// Notifier delivers events. Errors are logged by the service, never returned
// to the caller of the bill operation.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }

// RecordingNotifier keeps events in memory. Used by tests.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingNotifier) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *RecordingNotifier) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *RecordingNotifier) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
