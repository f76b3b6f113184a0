package approval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/approval-engine/approval"
)

func escalatingRule(timeout int, alternatives ...approval.EmployeeID) approval.ApprovalRule {
	r := rule("esc", 0, 1000, "E1", "E2")
	r.ApproverLevels[0].EscalationTimeoutDays = &timeout
	r.ApproverLevels[0].AlternativeApprovers = alternatives
	return r
}

func TestResolveEscalation_Rounds(t *testing.T) {
	since := approval.Date(2025, time.March, 1)
	r := escalatingRule(3, "A1", "A2")
	bill := approval.Bill{ApprovalStatus: approval.StatusPending, CreatedAt: since}

	tests := []struct {
		days  int
		due   bool
		round int
		want  approval.EmployeeID
	}{
		{0, false, 0, ""},
		{2, false, 0, ""},
		{3, true, 1, "A1"},
		{5, true, 1, "A1"},
		{6, true, 2, "A2"},
		{9, true, 3, "A2"}, // alternatives exhausted, last one keeps it
		{30, true, 10, "A2"},
	}
	for _, tt := range tests {
		esc := approval.ResolveEscalation(bill, &r, since, since.AddDate(0, 0, tt.days))
		assert.Equal(t, tt.due, esc.Due, "day %d", tt.days)
		assert.Equal(t, tt.round, esc.Round, "day %d", tt.days)
		assert.Equal(t, tt.want, esc.ApproverID, "day %d", tt.days)
		assert.Equal(t, 1, esc.Level, "day %d", tt.days)
	}
}

func TestResolveEscalation_PartialDayDoesNotCount(t *testing.T) {
	since := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := escalatingRule(1, "A1")
	bill := approval.Bill{ApprovalStatus: approval.StatusPending}

	esc := approval.ResolveEscalation(bill, &r, since, since.Add(23*time.Hour))
	assert.False(t, esc.Due)

	esc = approval.ResolveEscalation(bill, &r, since, since.Add(24*time.Hour))
	assert.True(t, esc.Due)
}

func TestResolveEscalation_NotApplicable(t *testing.T) {
	since := approval.Date(2025, time.March, 1)
	later := since.AddDate(0, 0, 100)
	pending := approval.Bill{ApprovalStatus: approval.StatusPending}

	t.Run("nil rule", func(t *testing.T) {
		assert.Equal(t, approval.Escalation{}, approval.ResolveEscalation(pending, nil, since, later))
	})

	t.Run("terminal bill", func(t *testing.T) {
		r := escalatingRule(1, "A1")
		b := approval.Bill{ApprovalStatus: approval.StatusApproved}
		assert.False(t, approval.ResolveEscalation(b, &r, since, later).Due)
	})

	t.Run("no timeout configured", func(t *testing.T) {
		r := rule("plain", 0, 10, "E1")
		r.ApproverLevels[0].AlternativeApprovers = []approval.EmployeeID{"A1"}
		assert.False(t, approval.ResolveEscalation(pending, &r, since, later).Due)
	})

	t.Run("zero timeout", func(t *testing.T) {
		r := escalatingRule(0, "A1")
		assert.False(t, approval.ResolveEscalation(pending, &r, since, later).Due)
	})

	t.Run("no alternatives", func(t *testing.T) {
		r := escalatingRule(2)
		assert.False(t, approval.ResolveEscalation(pending, &r, since, later).Due)
	})

	t.Run("all levels satisfied", func(t *testing.T) {
		r := escalatingRule(1, "A1")
		b := approval.Bill{ApprovalStatus: approval.StatusPending, ApprovalHistory: approved("E1", "E2")}
		assert.False(t, approval.ResolveEscalation(b, &r, since, later).Due)
	})
}

func TestResolveEscalation_UsesCurrentLevel(t *testing.T) {
	// Level 2 has no escalation configured, so approving level 1 stops it.
	since := approval.Date(2025, time.March, 1)
	r := escalatingRule(1, "A1")
	b := approval.Bill{ApprovalStatus: approval.StatusPending, ApprovalHistory: approved("E1")}

	esc := approval.ResolveEscalation(b, &r, since, since.AddDate(0, 0, 10))
	assert.False(t, esc.Due)
	assert.Equal(t, 2, esc.Level)
}

func TestDaysBetween(t *testing.T) {
	a := approval.Date(2025, time.January, 1)
	assert.Equal(t, 0, approval.DaysBetween(a, a))
	assert.Equal(t, 0, approval.DaysBetween(a, a.Add(-time.Hour)))
	assert.Equal(t, 31, approval.DaysBetween(a, approval.Date(2025, time.February, 1)))
}

func TestBill_CanAct(t *testing.T) {
	b := approval.Bill{ApprovalStatus: approval.StatusPending, CurrentApproverID: "E1", EscalatedTo: "A1"}
	assert.True(t, b.CanAct("E1"))
	assert.True(t, b.CanAct("A1"))
	assert.False(t, b.CanAct("E2"))
	assert.False(t, b.CanAct(""))

	b.ApprovalStatus = approval.StatusRejected
	assert.False(t, b.CanAct("E1"))
}
