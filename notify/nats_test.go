package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/billing"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	sent   []message
	err    error
	closed bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, message{subject, data})
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error { return nil }
func (c *fakeConn) Close()                           { c.closed = true }

func TestPublisher_PublishesEnvelope(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", nil)
	at := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.Publish(context.Background(), billing.Event{
		Type:       billing.EventApprovalRequired,
		BillID:     "b1",
		ActorID:    "E1",
		Recipients: []approval.EmployeeID{"E2"},
		Actionable: true,
		Payload:    map[string]any{"bill_number": "INV-1"},
	})
	require.NoError(t, err)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "notifications.approvals.bill_approval_required", conn.sent[0].subject)

	var got NotificationEvent
	require.NoError(t, json.Unmarshal(conn.sent[0].data, &got))
	assert.Equal(t, NotificationEvent{
		EventType:    "bill_approval_required",
		ActorID:      "E1",
		Recipients:   []string{"E2"},
		ResourceType: "bill",
		ResourceID:   "b1",
		IsActionable: true,
		Severity:     "info",
		Category:     "bill_approval",
		OccurredAt:   at,
		Payload:      map[string]any{"bill_number": "INV-1"},
	}, got)
}

func TestPublisher_CustomPrefixAndSeverity(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "acme.bills", nil)

	require.NoError(t, p.Publish(context.Background(), billing.Event{
		Type: billing.EventRejected, BillID: "b1", Recipients: []approval.EmployeeID{"E1"},
	}))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "acme.bills.bill_rejected", conn.sent[0].subject)

	var got NotificationEvent
	require.NoError(t, json.Unmarshal(conn.sent[0].data, &got))
	assert.Equal(t, "warning", got.Severity)
}

func TestPublisher_SkipsWithoutRecipients(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "", nil)
	require.NoError(t, p.Publish(context.Background(), billing.Event{Type: billing.EventApproved}))
	assert.Empty(t, conn.sent)
}

func TestPublisher_Errors(t *testing.T) {
	var nilPublisher *Publisher
	assert.ErrorIs(t, nilPublisher.Publish(context.Background(), billing.Event{}), ErrNotConnected)

	conn := &fakeConn{err: errors.New("connection closed")}
	p := NewPublisher(conn, "", nil)
	err := p.Publish(context.Background(), billing.Event{Type: billing.EventApproved, Recipients: []approval.EmployeeID{"E1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.approvals.bill_approved")

	p.Close()
	assert.True(t, conn.closed)
}
