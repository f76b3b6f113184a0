package approval

import (
	"time"
)

// =============================================================================
// ESCALATION - Timed hand-off to alternative approvers
// =============================================================================

// Escalation describes who should be able to act on a pending bill once
// the current level's timeout has elapsed.
type Escalation struct {
	Due        bool
	Round      int // full timeout periods elapsed; 0 = not yet escalated
	Level      int
	ApproverID EmployeeID // alternative approver for this round; "" when not due
}

// ResolveEscalation computes the escalation state of bill under rule.
//
// Round k (k >= 1) hands the bill to AlternativeApprovers[k-1]; once the
// list is exhausted the last alternative keeps it. since is when the
// current level started waiting, normally Bill.LastActionAt().
func ResolveEscalation(bill Bill, rule *ApprovalRule, since, asOf time.Time) Escalation {
	if rule == nil || bill.ApprovalStatus.IsTerminal() {
		return Escalation{}
	}
	current := bill.ApprovedCount() + 1
	level, ok := rule.Level(current)
	if !ok {
		return Escalation{}
	}
	esc := Escalation{Level: current}
	if level.EscalationTimeoutDays == nil || *level.EscalationTimeoutDays <= 0 {
		return esc
	}
	if len(level.AlternativeApprovers) == 0 {
		return esc
	}

	esc.Round = DaysBetween(since, asOf) / *level.EscalationTimeoutDays
	if esc.Round == 0 {
		return esc
	}
	idx := esc.Round - 1
	if idx >= len(level.AlternativeApprovers) {
		idx = len(level.AlternativeApprovers) - 1
	}
	esc.Due = true
	esc.ApproverID = level.AlternativeApprovers[idx]
	return esc
}
