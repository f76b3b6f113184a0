/*
Package approval provides the bill approval routing engine.

PURPOSE:
  Given a bill's total payable amount and a set of amount-banded,
  time-bounded approval rules, decides which rule applies, who must act
  next, and what status label to show. The router functions are pure: no
  I/O, no locking, no hidden state.

KEY CONCEPTS IN THIS FILE (types.go):
  - ApprovalRule:   An inclusive amount band with ordered approver levels
  - ApproverLevel:  One rank of the approval chain, with optional escalation
  - Bill:           The document being approved, with append-only history
  - ApprovalAction: One entry of a bill's approval history
  - ApprovalFlow:   Display terminology for each approval step

DESIGN PRINCIPLES:
  1. Derived state: CurrentApproverID is always recomputable from the
     amount, the history and the active rules
  2. Precision: money uses decimal.Decimal, never float64
  3. Type Safety: distinct ID types for rules, bills, flows and employees
  4. No-throw routing: "not found" degrades to "" or a default label

USAGE:
  rule := approval.ApprovalRule{
      ID:        "rule-small",
      MinAmount: decimal.NewFromInt(0),
      MaxAmount: decimal.NewFromInt(1000),
      ApproverLevels: []approval.ApproverLevel{{Level: 1, ApproverID: "E1"}},
  }
  bill = approval.ProcessBill(bill, []approval.ApprovalRule{rule}, time.Now())

SEE ALSO:
  - router.go: Rule matching and next-approver resolution
  - label.go: Status label resolution
  - diagnostics.go: Configuration warnings
  - escalation.go: Escalation rounds
*/
package approval

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID string
type BillID string
type FlowID string
type EmployeeID string

// =============================================================================
// APPROVAL RULE - Amount band with ordered approver levels
// =============================================================================

// ApprovalRule applies to bills whose total payable amount falls within
// [MinAmount, MaxAmount], both ends inclusive.
type ApprovalRule struct {
	ID        RuleID
	Name      string
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	// EffectiveDate nil means the rule is always active.
	EffectiveDate *time.Time

	// Ordered ascending by Level. Persistence keeps this order.
	ApproverLevels []ApproverLevel

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether amount is inside the rule's band.
func (r ApprovalRule) Contains(amount decimal.Decimal) bool {
	return r.MinAmount.LessThanOrEqual(amount) && amount.LessThanOrEqual(r.MaxAmount)
}

// Level returns the approver level with the given rank, if any.
func (r ApprovalRule) Level(level int) (ApproverLevel, bool) {
	for _, l := range r.ApproverLevels {
		if l.Level == level {
			return l, true
		}
	}
	return ApproverLevel{}, false
}

// ApproverLevel is one rank of an approval chain.
type ApproverLevel struct {
	Level      int
	ApproverID EmployeeID

	// EscalationTimeoutDays nil or <= 0 disables escalation for this level.
	EscalationTimeoutDays *int

	// Consulted in order once the primary approver times out.
	AlternativeApprovers []EmployeeID
}

// =============================================================================
// BILL - The document moving through approval
// =============================================================================

// ApprovalAction is one entry of a bill's append-only approval history.
type ApprovalAction struct {
	ApproverID EmployeeID
	Status     ApprovalStatus
	Timestamp  time.Time
	Comment    string
}

type Bill struct {
	ID                 BillID
	BillNumber         string
	VendorName         string
	BillDate           time.Time
	DueDate            *time.Time
	TotalPayableAmount decimal.Decimal

	ApprovalStatus  ApprovalStatus
	ApprovalHistory []ApprovalAction

	// Derived fields. Never edited directly, always recomputed.
	CurrentApproverID EmployeeID
	EscalatedTo       EmployeeID

	// Optional flow used for status labels.
	FlowID FlowID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApprovedCount is the number of satisfied levels.
func (b Bill) ApprovedCount() int {
	n := 0
	for _, a := range b.ApprovalHistory {
		if a.Status == StatusApproved {
			n++
		}
	}
	return n
}

// LastActionAt returns the timestamp of the most recent history entry,
// falling back to CreatedAt for a bill nobody has acted on.
func (b Bill) LastActionAt() time.Time {
	if len(b.ApprovalHistory) == 0 {
		return b.CreatedAt
	}
	return b.ApprovalHistory[len(b.ApprovalHistory)-1].Timestamp
}

// CanAct reports whether the employee may approve or reject the bill now.
func (b Bill) CanAct(id EmployeeID) bool {
	if id == "" || b.ApprovalStatus.IsTerminal() {
		return false
	}
	return id == b.CurrentApproverID || id == b.EscalatedTo
}

// =============================================================================
// APPROVAL FLOW - Step terminology for display
// =============================================================================

type FlowStep struct {
	StatusName string
}

type ApprovalFlow struct {
	ID    FlowID
	Name  string
	Steps []FlowStep
}

// =============================================================================
// EMPLOYEE - Approvers
// =============================================================================

type Employee struct {
	ID          EmployeeID
	Name        string
	Email       string
	Designation string
	CreatedAt   time.Time
}
