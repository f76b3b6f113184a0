/*
router.go - Rule matching and next-approver resolution

PURPOSE:
  The routing core. Given an amount and the configured rules, picks the
  active rule; given a bill and that rule, picks who acts next.

ROUTING FLOW:
  amount ──▶ FindMatchingRule ──▶ rule ──▶ GetNextApprover ──▶ approverID
                  │                              │
            active + in band              count Approved entries (n),
            first match wins              look up level n+1

ACTIVE RULES:
  A rule with no EffectiveDate is always active. A rule with an
  EffectiveDate is active from that calendar day onwards.

TIE-BREAK:
  Rules are evaluated in input order and the first band containing the
  amount wins. Overlapping bands are a configuration error; Router reports
  them through OnDiagnostic but does not reorder.

NO-THROW CONTRACT:
  No function here returns an error. Missing rules or levels yield "".

SEE ALSO:
  - diagnostics.go: Static configuration checks
  - label.go: Status labels
  - billing/service.go: Persists the recomputed approver
*/
package approval

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURE FUNCTIONS
// =============================================================================

// IsActive reports whether the rule applies at asOf.
func (r ApprovalRule) IsActive(asOf time.Time) bool {
	if r.EffectiveDate == nil {
		return true
	}
	return OnOrBeforeDay(*r.EffectiveDate, asOf)
}

// FindMatchingRule returns the first active rule, in input order, whose band
// contains amount. Returns nil when none does.
func FindMatchingRule(amount decimal.Decimal, rules []ApprovalRule, asOf time.Time) *ApprovalRule {
	for i := range rules {
		if rules[i].IsActive(asOf) && rules[i].Contains(amount) {
			return &rules[i]
		}
	}
	return nil
}

// GetNextApprover returns the approver of level n+1, where n is the number
// of Approved history entries. Empty when rule is nil, the bill is already
// Approved or Rejected, or every level is satisfied.
func GetNextApprover(bill Bill, rule *ApprovalRule) EmployeeID {
	if rule == nil || bill.ApprovalStatus.IsTerminal() {
		return ""
	}
	level, ok := rule.Level(bill.ApprovedCount() + 1)
	if !ok {
		return ""
	}
	return level.ApproverID
}

// ProcessBill returns a shallow copy of bill with CurrentApproverID
// recomputed. No other field changes.
func ProcessBill(bill Bill, rules []ApprovalRule, asOf time.Time) Bill {
	out := bill
	out.CurrentApproverID = GetNextApprover(bill, FindMatchingRule(bill.TotalPayableAmount, rules, asOf))
	return out
}

// =============================================================================
// ROUTER - Clocked variant with a diagnostic channel
// =============================================================================

// Router evaluates rules against its clock and reports runtime anomalies.
// The zero value uses the wall clock and drops diagnostics.
type Router struct {
	Now          Clock
	OnDiagnostic func(Diagnostic)
}

// NewRouter creates a router on the given clock.
func NewRouter(now Clock) *Router {
	if now == nil {
		now = SystemClock
	}
	return &Router{Now: now}
}

func (rt *Router) now() time.Time {
	if rt == nil || rt.Now == nil {
		return time.Now()
	}
	return rt.Now()
}

func (rt *Router) report(d Diagnostic) {
	if rt != nil && rt.OnDiagnostic != nil {
		rt.OnDiagnostic(d)
	}
}

// FindMatchingRule behaves like the package function at the router's clock.
// If more than one active band contains amount, the first still wins and an
// overlapping_bands diagnostic is emitted.
func (rt *Router) FindMatchingRule(amount decimal.Decimal, rules []ApprovalRule) *ApprovalRule {
	asOf := rt.now()
	var first *ApprovalRule
	for i := range rules {
		if !rules[i].IsActive(asOf) || !rules[i].Contains(amount) {
			continue
		}
		if first == nil {
			first = &rules[i]
			continue
		}
		rt.report(Diagnostic{
			Code:   DiagOverlappingBands,
			RuleID: rules[i].ID,
			Message: fmt.Sprintf("amount %s also matches rule %q; rule %q wins by order",
				amount.String(), rules[i].ID, first.ID),
		})
	}
	return first
}

// GetNextApprover is the pure resolver; kept on Router for symmetry.
func (rt *Router) GetNextApprover(bill Bill, rule *ApprovalRule) EmployeeID {
	return GetNextApprover(bill, rule)
}

// ProcessBill recomputes CurrentApproverID at the router's clock.
func (rt *Router) ProcessBill(bill Bill, rules []ApprovalRule) Bill {
	out := bill
	out.CurrentApproverID = GetNextApprover(bill, rt.FindMatchingRule(bill.TotalPayableAmount, rules))
	return out
}
