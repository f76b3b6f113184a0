/*
Package billing runs bills through their approval lifecycle.

PURPOSE:
  The approval package decides who should act; this package makes it
  happen. It loads rules and bills from a store, applies the router,
  enforces who may act, saves the result, writes the audit log and emits
  notifications.

BILL LIFECYCLE:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │  SubmitBill ──▶ Pending (approver = level 1)                    │
  │                    │                                            │
  │          Approve   │   Reject (reason required)                 │
  │        ┌───────────┴───────────┐                                │
  │        ▼                       ▼                                │
  │  next level exists?        Rejected (approver cleared)          │
  │    yes: Pending, approver = level n+1                           │
  │    no:  Approved (approver cleared)                             │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

WHO MAY ACT:
  The bill's CurrentApproverID, or its EscalatedTo once the current level
  has timed out. Anyone else gets NotCurrentApproverError.

RULE CHANGES:
  SaveRule and DeleteRule recompute every pending bill, so the stored
  CurrentApproverID never drifts from what the router would say.

SIDE EFFECTS:
  Audit and notification failures are logged and swallowed. The bill
  state change has already been saved by then.

SEE ALSO:
  - approval/router.go: Routing decisions
  - approval/escalation.go: Escalation rounds
  - notify/nats.go: NATS Notifier
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    approval.Store
	router   *approval.Router
	notifier Notifier
	log      *zap.Logger
	now      approval.Clock

	defaultFlow approval.FlowID

	// mu serialises read-modify-write cycles on bills.
	mu sync.Mutex
}

type Option func(*Service)

func WithClock(c approval.Clock) Option {
	return func(s *Service) { s.now = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithDefaultFlow sets the flow used for labels when neither the caller nor
// the bill names one.
func WithDefaultFlow(id approval.FlowID) Option {
	return func(s *Service) { s.defaultFlow = id }
}

func NewService(store approval.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: NopNotifier{},
		log:      zap.NewNop(),
		now:      approval.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = approval.NewRouter(s.now)
	s.router.OnDiagnostic = func(d approval.Diagnostic) {
		s.log.Warn("approval rule diagnostic",
			zap.String("code", string(d.Code)),
			zap.String("rule_id", string(d.RuleID)),
			zap.String("message", d.Message))
	}
	return s
}

// Store exposes the underlying store for read-only handlers.
func (s *Service) Store() approval.Store { return s.store }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitBill validates a new bill, routes it and saves it as Pending, or
// Approved when the matching rule has no levels. Any history or status on
// the input is discarded.
func (s *Service) SubmitBill(ctx context.Context, bill approval.Bill) (*approval.Bill, error) {
	if err := validateBill(bill); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.ID == "" {
		bill.ID = approval.BillID(uuid.NewString())
	} else if _, err := s.store.GetBill(ctx, bill.ID); err == nil {
		return nil, fmt.Errorf("bill %s: %w", bill.ID, approval.ErrDuplicateID)
	}
	if bill.FlowID != "" {
		if _, err := s.store.GetFlow(ctx, bill.FlowID); err != nil {
			return nil, fmt.Errorf("bill flow %s: %w", bill.FlowID, err)
		}
	}

	now := s.now()
	bill.ApprovalStatus = approval.StatusPending
	bill.ApprovalHistory = nil
	bill.EscalatedTo = ""
	bill.CreatedAt = now
	bill.UpdatedAt = now
	if bill.BillDate.IsZero() {
		bill.BillDate = now
	}

	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rule := s.router.FindMatchingRule(bill.TotalPayableAmount, rules)
	bill.CurrentApproverID = s.router.GetNextApprover(bill, rule)
	if rule != nil && bill.CurrentApproverID == "" {
		// The matching rule has no levels: nothing to approve.
		bill.ApprovalStatus = approval.StatusApproved
	}

	if err := s.store.SaveBill(ctx, bill); err != nil {
		return nil, fmt.Errorf("failed to save bill: %w", err)
	}

	s.audit(ctx, approval.AuditEntry{
		Action: approval.AuditBillSubmitted,
		BillID: bill.ID,
		Payload: map[string]any{
			"amount":           bill.TotalPayableAmount.String(),
			"current_approver": string(bill.CurrentApproverID),
		},
	})

	if bill.ApprovalStatus == approval.StatusApproved {
		s.log.Info("bill needs no approval",
			zap.String("bill_id", string(bill.ID)),
			zap.String("rule_id", string(rule.ID)))
	} else if bill.CurrentApproverID == "" {
		s.log.Warn("bill has no matching approval rule",
			zap.String("bill_id", string(bill.ID)),
			zap.String("amount", bill.TotalPayableAmount.String()))
	} else {
		s.notify(ctx, Event{
			Type:       EventApprovalRequired,
			BillID:     bill.ID,
			Recipients: []approval.EmployeeID{bill.CurrentApproverID},
			Actionable: true,
			Payload:    billPayload(bill),
		})
	}

	s.log.Info("bill submitted",
		zap.String("bill_id", string(bill.ID)),
		zap.String("bill_number", bill.BillNumber),
		zap.String("current_approver", string(bill.CurrentApproverID)))

	return &bill, nil
}

func validateBill(bill approval.Bill) error {
	if strings.TrimSpace(bill.BillNumber) == "" {
		return &approval.ValidationError{Field: "bill_number", Message: "required"}
	}
	if !bill.TotalPayableAmount.IsPositive() {
		return &approval.ValidationError{Field: "total_payable_amount", Message: "must be positive"}
	}
	if bill.DueDate != nil && !bill.BillDate.IsZero() && bill.DueDate.Before(bill.BillDate) {
		return &approval.ValidationError{Field: "due_date", Message: "must not be before bill_date"}
	}
	return nil
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// Approve records actorID's approval of the bill's current level. When no
// level remains the bill becomes Approved.
func (s *Service) Approve(ctx context.Context, billID approval.BillID, actorID approval.EmployeeID, comment string) (*approval.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := authorize(*bill, actorID); err != nil {
		return nil, err
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	now := s.now()
	level := bill.ApprovedCount() + 1
	bill.ApprovalHistory = append(bill.ApprovalHistory, approval.ApprovalAction{
		ApproverID: actorID,
		Status:     approval.StatusApproved,
		Timestamp:  now,
		Comment:    comment,
	})
	bill.EscalatedTo = ""
	next := s.router.ProcessBill(*bill, rules)
	if next.CurrentApproverID == "" {
		next.ApprovalStatus = approval.StatusApproved
	}
	next.UpdatedAt = now

	if err := s.store.SaveBill(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save bill: %w", err)
	}

	action := approval.AuditLevelApproved
	if next.ApprovalStatus == approval.StatusApproved {
		action = approval.AuditBillApproved
	}
	s.audit(ctx, approval.AuditEntry{
		ActorID: actorID,
		Action:  action,
		BillID:  next.ID,
		Payload: map[string]any{"level": level, "comment": comment, "next_approver": string(next.CurrentApproverID)},
	})

	if next.ApprovalStatus == approval.StatusApproved {
		s.notify(ctx, Event{
			Type:       EventApproved,
			BillID:     next.ID,
			ActorID:    actorID,
			Recipients: historyApprovers(next),
			Payload:    billPayload(next),
		})
	} else {
		s.notify(ctx, Event{
			Type:       EventApprovalRequired,
			BillID:     next.ID,
			ActorID:    actorID,
			Recipients: []approval.EmployeeID{next.CurrentApproverID},
			Actionable: true,
			Payload:    billPayload(next),
		})
	}

	s.log.Info("bill approved",
		zap.String("bill_id", string(next.ID)),
		zap.String("actor_id", string(actorID)),
		zap.Int("level", level),
		zap.String("status", next.ApprovalStatus.String()))

	return &next, nil
}

// Reject closes the bill as Rejected. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, billID approval.BillID, actorID approval.EmployeeID, reason string) (*approval.Bill, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, approval.ErrReasonRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := authorize(*bill, actorID); err != nil {
		return nil, err
	}

	now := s.now()
	level := bill.ApprovedCount() + 1
	bill.ApprovalHistory = append(bill.ApprovalHistory, approval.ApprovalAction{
		ApproverID: actorID,
		Status:     approval.StatusRejected,
		Timestamp:  now,
		Comment:    reason,
	})
	bill.ApprovalStatus = approval.StatusRejected
	bill.CurrentApproverID = ""
	bill.EscalatedTo = ""
	bill.UpdatedAt = now

	if err := s.store.SaveBill(ctx, *bill); err != nil {
		return nil, fmt.Errorf("failed to save bill: %w", err)
	}

	s.audit(ctx, approval.AuditEntry{
		ActorID: actorID,
		Action:  approval.AuditBillRejected,
		BillID:  bill.ID,
		Payload: map[string]any{"level": level, "reason": reason},
	})
	s.notify(ctx, Event{
		Type:       EventRejected,
		BillID:     bill.ID,
		ActorID:    actorID,
		Recipients: historyApprovers(*bill),
		Payload:    billPayload(*bill),
	})

	s.log.Info("bill rejected",
		zap.String("bill_id", string(bill.ID)),
		zap.String("actor_id", string(actorID)),
		zap.Int("level", level))

	return bill, nil
}

func authorize(bill approval.Bill, actorID approval.EmployeeID) error {
	if bill.ApprovalStatus.IsTerminal() {
		return fmt.Errorf("bill %s is %s: %w", bill.ID, bill.ApprovalStatus, approval.ErrBillNotPending)
	}
	if bill.CurrentApproverID == "" && bill.EscalatedTo == "" {
		return fmt.Errorf("bill %s: %w", bill.ID, approval.ErrNoApprover)
	}
	if !bill.CanAct(actorID) {
		return &approval.NotCurrentApproverError{BillID: bill.ID, ActorID: actorID, Expected: bill.CurrentApproverID}
	}
	return nil
}

// =============================================================================
// RECOMPUTE - Keep stored approvers in line with the rules
// =============================================================================

// Recompute re-routes one bill. Terminal bills are returned untouched.
// changed reports whether the bill was saved with a new approver or status.
func (s *Service) Recompute(ctx context.Context, billID approval.BillID) (bill *approval.Bill, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, err = s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, false, err
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load rules: %w", err)
	}
	next, changed, err := s.recompute(ctx, *bill, rules)
	if err != nil {
		return nil, false, err
	}
	return &next, changed, nil
}

// RecomputeAll re-routes every pending bill and returns how many changed.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeAll(ctx)
}

func (s *Service) recomputeAll(ctx context.Context) (int, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}
	pending := approval.StatusPending
	bills, err := s.store.ListBills(ctx, approval.BillFilter{Status: &pending})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending bills: %w", err)
	}

	count := 0
	for _, b := range bills {
		_, changed, err := s.recompute(ctx, b, rules)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	if count > 0 {
		s.log.Info("pending bills re-routed", zap.Int("count", count))
	}
	return count, nil
}

func (s *Service) recompute(ctx context.Context, bill approval.Bill, rules []approval.ApprovalRule) (approval.Bill, bool, error) {
	if bill.ApprovalStatus.IsTerminal() {
		return bill, false, nil
	}
	rule := s.router.FindMatchingRule(bill.TotalPayableAmount, rules)
	next := bill
	next.CurrentApproverID = s.router.GetNextApprover(bill, rule)

	// A matching rule with no level left to approve completes the bill, the
	// same way Approve does after the last level.
	completed := rule != nil && next.CurrentApproverID == ""
	if completed {
		next.ApprovalStatus = approval.StatusApproved
	} else if next.CurrentApproverID == bill.CurrentApproverID {
		return bill, false, nil
	}

	// The escalation target belonged to the old approver's level.
	next.EscalatedTo = ""
	next.UpdatedAt = s.now()
	if err := s.store.SaveBill(ctx, next); err != nil {
		return bill, false, fmt.Errorf("failed to save bill %s: %w", bill.ID, err)
	}

	if completed {
		s.audit(ctx, approval.AuditEntry{
			Action:  approval.AuditBillApproved,
			BillID:  next.ID,
			Payload: map[string]any{"from": string(bill.CurrentApproverID), "reason": "no remaining level"},
		})
		s.notify(ctx, Event{
			Type:       EventApproved,
			BillID:     next.ID,
			Recipients: historyApprovers(next),
			Payload:    billPayload(next),
		})
		s.log.Info("bill approved after rule change",
			zap.String("bill_id", string(next.ID)),
			zap.Int("approvals", next.ApprovedCount()))
		return next, true, nil
	}

	s.audit(ctx, approval.AuditEntry{
		Action: approval.AuditBillRerouted,
		BillID: next.ID,
		Payload: map[string]any{
			"from": string(bill.CurrentApproverID),
			"to":   string(next.CurrentApproverID),
		},
	})
	if next.CurrentApproverID != "" {
		s.notify(ctx, Event{
			Type:       EventApprovalRequired,
			BillID:     next.ID,
			Recipients: []approval.EmployeeID{next.CurrentApproverID},
			Actionable: true,
			Payload:    billPayload(next),
		})
	}
	return next, true, nil
}

// =============================================================================
// ESCALATION
// =============================================================================

// Escalate hands every overdue pending bill to its alternative approver as
// of asOf. Returns the number of bills whose EscalatedTo changed.
func (s *Service) Escalate(ctx context.Context, asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}
	pending := approval.StatusPending
	bills, err := s.store.ListBills(ctx, approval.BillFilter{Status: &pending})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending bills: %w", err)
	}

	count := 0
	for _, bill := range bills {
		rule := approval.FindMatchingRule(bill.TotalPayableAmount, rules, asOf)
		esc := approval.ResolveEscalation(bill, rule, bill.LastActionAt(), asOf)
		if !esc.Due || esc.ApproverID == bill.EscalatedTo || esc.ApproverID == bill.CurrentApproverID {
			continue
		}

		previous := bill.EscalatedTo
		bill.EscalatedTo = esc.ApproverID
		bill.UpdatedAt = s.now()
		if err := s.store.SaveBill(ctx, bill); err != nil {
			return count, fmt.Errorf("failed to save bill %s: %w", bill.ID, err)
		}
		count++

		s.audit(ctx, approval.AuditEntry{
			Action: approval.AuditBillEscalated,
			BillID: bill.ID,
			RuleID: rule.ID,
			Payload: map[string]any{
				"level":    esc.Level,
				"round":    esc.Round,
				"from":     string(previous),
				"to":       string(esc.ApproverID),
				"approver": string(bill.CurrentApproverID),
			},
		})
		recipients := []approval.EmployeeID{esc.ApproverID}
		if bill.CurrentApproverID != "" {
			recipients = append(recipients, bill.CurrentApproverID)
		}
		s.notify(ctx, Event{
			Type:       EventEscalated,
			BillID:     bill.ID,
			Recipients: recipients,
			Actionable: true,
			Payload:    billPayload(bill),
		})

		s.log.Info("bill escalated",
			zap.String("bill_id", string(bill.ID)),
			zap.Int("level", esc.Level),
			zap.Int("round", esc.Round),
			zap.String("escalated_to", string(esc.ApproverID)))
	}
	return count, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// StatusText renders the bill's label. flowID overrides the bill's own flow;
// when both are empty the service default applies, and a missing default
// falls back to the plain status.
func (s *Service) StatusText(ctx context.Context, billID approval.BillID, flowID approval.FlowID) (string, error) {
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return "", err
	}

	if flowID == "" {
		flowID = bill.FlowID
	}
	if flowID == "" {
		if s.defaultFlow == "" {
			return approval.GetBillStatusText(*bill, nil), nil
		}
		flow, err := s.store.GetFlow(ctx, s.defaultFlow)
		if err != nil {
			s.log.Warn("default approval flow unavailable",
				zap.String("flow_id", string(s.defaultFlow)), zap.Error(err))
			return approval.GetBillStatusText(*bill, nil), nil
		}
		return approval.GetBillStatusText(*bill, flow), nil
	}

	flow, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return "", err
	}
	return approval.GetBillStatusText(*bill, flow), nil
}

// PendingFor lists the pending bills approverID may act on.
func (s *Service) PendingFor(ctx context.Context, approverID approval.EmployeeID) ([]approval.Bill, error) {
	if approverID == "" {
		return nil, &approval.ValidationError{Field: "approver_id", Message: "required"}
	}
	pending := approval.StatusPending
	return s.store.ListBills(ctx, approval.BillFilter{Status: &pending, ApproverID: approverID})
}

// MatchRule returns the rule that would route amount now, or nil.
func (s *Service) MatchRule(ctx context.Context, amount decimal.Decimal) (*approval.ApprovalRule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rule := s.router.FindMatchingRule(amount, rules)
	if rule == nil {
		return nil, nil
	}
	out := *rule
	return &out, nil
}

// Diagnostics checks the stored rule set.
func (s *Service) Diagnostics(ctx context.Context) ([]approval.Diagnostic, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return approval.Diagnose(rules), nil
}

// BillAudit returns the audit trail of one bill, oldest first.
func (s *Service) BillAudit(ctx context.Context, billID approval.BillID) ([]approval.AuditEntry, error) {
	if _, err := s.store.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	return s.store.QueryAudit(ctx, approval.AuditFilter{BillID: &billID})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) audit(ctx context.Context, entry approval.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Error("failed to write audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("bill_id", string(entry.BillID)),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, event Event) {
	if s.notifier == nil || len(event.Recipients) == 0 {
		return
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("notification failed (non-fatal)",
			zap.String("event_type", string(event.Type)),
			zap.String("bill_id", string(event.BillID)),
			zap.Error(err))
	}
}

func billPayload(b approval.Bill) map[string]any {
	return map[string]any{
		"bill_number":      b.BillNumber,
		"vendor_name":      b.VendorName,
		"amount":           b.TotalPayableAmount.String(),
		"status":           b.ApprovalStatus.String(),
		"current_approver": string(b.CurrentApproverID),
	}
}

// historyApprovers lists everyone who acted on the bill, first action first.
func historyApprovers(b approval.Bill) []approval.EmployeeID {
	seen := make(map[approval.EmployeeID]bool)
	var out []approval.EmployeeID
	for _, a := range b.ApprovalHistory {
		if a.ApproverID != "" && !seen[a.ApproverID] {
			seen[a.ApproverID] = true
			out = append(out, a.ApproverID)
		}
	}
	return out
}
