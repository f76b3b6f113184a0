/*
store.go - Persistence interfaces for rules, bills, flows and employees

PURPOSE:
  Defines the boundary between the billing service and the database.
  The router never touches a store; the service loads data, routes it,
  and saves the result.

KEY INTERFACES:
  RuleStore:     Approval rules, listed in insertion order
  BillStore:     Bills with their approval history
  FlowStore:     Status-label flows
  EmployeeStore: Approvers
  AuditLog:      Append-only record of who did what when
  EscalationRunStore: History of escalation sweeps

ORDERING CONTRACT:
  ListRules returns rules in the order they were first saved. Updating a
  rule keeps its position. First-match-wins depends on this.

NOT FOUND:
  Get* methods return the matching Err*NotFound sentinel rather than a
  nil value.

IMPLEMENTATIONS:
  - approval/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (rules and bills)

SEE ALSO:
  - billing/service.go: Uses these interfaces
*/
package approval

import (
	"context"
	"time"
)

// =============================================================================
// STORES
// =============================================================================

type RuleStore interface {
	// SaveRule inserts or replaces a rule by ID.
	SaveRule(ctx context.Context, rule ApprovalRule) error
	GetRule(ctx context.Context, id RuleID) (*ApprovalRule, error)
	// ListRules returns all rules in insertion order.
	ListRules(ctx context.Context) ([]ApprovalRule, error)
	DeleteRule(ctx context.Context, id RuleID) error
}

type BillStore interface {
	// SaveBill inserts or replaces a bill by ID.
	SaveBill(ctx context.Context, bill Bill) error
	GetBill(ctx context.Context, id BillID) (*Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
}

// BillFilter narrows ListBills. Zero value matches everything.
type BillFilter struct {
	Status *ApprovalStatus
	// ApproverID matches CurrentApproverID or EscalatedTo.
	ApproverID EmployeeID
}

// Matches reports whether b passes the filter.
func (f BillFilter) Matches(b Bill) bool {
	if f.Status != nil && b.ApprovalStatus != *f.Status {
		return false
	}
	if f.ApproverID != "" && b.CurrentApproverID != f.ApproverID && b.EscalatedTo != f.ApproverID {
		return false
	}
	return true
}

type FlowStore interface {
	SaveFlow(ctx context.Context, flow ApprovalFlow) error
	GetFlow(ctx context.Context, id FlowID) (*ApprovalFlow, error)
	ListFlows(ctx context.Context) ([]ApprovalFlow, error)
}

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, emp Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// Store is everything the billing service needs.
type Store interface {
	RuleStore
	BillStore
	FlowStore
	EmployeeStore
	AuditLog
	EscalationRunStore
}

// EscalationRunStore records escalation sweeps.
type EscalationRunStore interface {
	SaveEscalationRun(ctx context.Context, run EscalationRun) error
	// ListEscalationRuns returns the newest runs first.
	ListEscalationRuns(ctx context.Context, limit int) ([]EscalationRun, error)
}

type EscalationRunStatus string

const (
	RunRunning   EscalationRunStatus = "running"
	RunCompleted EscalationRunStatus = "completed"
	RunFailed    EscalationRunStatus = "failed"
)

// EscalationRun is one pass of the escalation sweep.
type EscalationRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Escalated   int
	Status      EscalationRunStatus
	Error       string
}

// Resetter is implemented by stores that can be wiped (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// AUDIT LOG - Separate from bill history, tracks every action
// =============================================================================

type AuditAction string

const (
	AuditBillSubmitted AuditAction = "bill_submitted"
	AuditBillApproved  AuditAction = "bill_approved"
	AuditLevelApproved AuditAction = "level_approved"
	AuditBillRejected  AuditAction = "bill_rejected"
	AuditBillRerouted  AuditAction = "bill_rerouted"
	AuditBillEscalated AuditAction = "bill_escalated"
	AuditRuleChanged   AuditAction = "rule_changed"
	AuditRuleDeleted   AuditAction = "rule_deleted"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   EmployeeID // empty for system actions
	Action    AuditAction
	BillID    BillID
	RuleID    RuleID
	Payload   map[string]any
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	BillID  *BillID
	RuleID  *RuleID
	ActorID *EmployeeID
	Actions []AuditAction
	From    *time.Time
	To      *time.Time
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.BillID != nil && e.BillID != *f.BillID {
		return false
	}
	if f.RuleID != nil && e.RuleID != *f.RuleID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
