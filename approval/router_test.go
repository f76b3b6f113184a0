package approval_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.June, 15, 14, 30, 0, 0, time.UTC)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func rule(id string, min, max int64, approvers ...string) approval.ApprovalRule {
	r := approval.ApprovalRule{
		ID:        approval.RuleID(id),
		Name:      id,
		MinAmount: amt(min),
		MaxAmount: amt(max),
	}
	for i, a := range approvers {
		r.ApproverLevels = append(r.ApproverLevels, approval.ApproverLevel{
			Level:      i + 1,
			ApproverID: approval.EmployeeID(a),
		})
	}
	return r
}

func approved(ids ...string) []approval.ApprovalAction {
	var h []approval.ApprovalAction
	for _, id := range ids {
		h = append(h, approval.ApprovalAction{
			ApproverID: approval.EmployeeID(id),
			Status:     approval.StatusApproved,
			Timestamp:  now,
		})
	}
	return h
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// RULE MATCHER
// =============================================================================

func TestFindMatchingRule(t *testing.T) {
	small := rule("small", 0, 1000, "E1")
	medium := rule("medium", 1001, 10000, "E1", "E2")
	rules := []approval.ApprovalRule{small, medium}

	tests := []struct {
		name   string
		amount decimal.Decimal
		want   approval.RuleID
	}{
		{"inside first band", amt(500), "small"},
		{"lower bound inclusive", amt(0), "small"},
		{"upper bound inclusive", amt(1000), "small"},
		{"second band", amt(1001), "medium"},
		{"second band upper bound", amt(10000), "medium"},
		{"fractional gap between bands", decimal.RequireFromString("1000.50"), ""},
		{"above every band", amt(10001), ""},
		{"negative", amt(-1), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := approval.FindMatchingRule(tt.amount, rules, now)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestFindMatchingRule_FirstMatchWinsInInputOrder(t *testing.T) {
	// GIVEN: Two overlapping bands, the wider one listed first
	// THEN: The first listed wins, regardless of specificity
	wide := rule("wide", 0, 100000, "E9")
	narrow := rule("narrow", 0, 1000, "E1")

	got := approval.FindMatchingRule(amt(500), []approval.ApprovalRule{wide, narrow}, now)
	require.NotNil(t, got)
	assert.Equal(t, approval.RuleID("wide"), got.ID)

	got = approval.FindMatchingRule(amt(500), []approval.ApprovalRule{narrow, wide}, now)
	require.NotNil(t, got)
	assert.Equal(t, approval.RuleID("narrow"), got.ID)
}

func TestFindMatchingRule_EffectiveDate(t *testing.T) {
	future := rule("future", 0, 1000, "E2")
	future.EffectiveDate = ptr(approval.Date(2025, time.June, 16))

	today := rule("today", 0, 1000, "E3")
	today.EffectiveDate = ptr(approval.Date(2025, time.June, 15))

	past := rule("past", 0, 1000, "E4")
	past.EffectiveDate = ptr(approval.Date(2024, time.January, 1))

	t.Run("future rule never selected", func(t *testing.T) {
		got := approval.FindMatchingRule(amt(10), []approval.ApprovalRule{future}, now)
		assert.Nil(t, got)
	})

	t.Run("future rule skipped in favour of later active rule", func(t *testing.T) {
		got := approval.FindMatchingRule(amt(10), []approval.ApprovalRule{future, past}, now)
		require.NotNil(t, got)
		assert.Equal(t, approval.RuleID("past"), got.ID)
	})

	t.Run("rule effective today is active all day", func(t *testing.T) {
		morning := time.Date(2025, time.June, 15, 0, 0, 1, 0, time.UTC)
		got := approval.FindMatchingRule(amt(10), []approval.ApprovalRule{today}, morning)
		require.NotNil(t, got)
		assert.Equal(t, approval.RuleID("today"), got.ID)
	})

	t.Run("future rule becomes active on its day", func(t *testing.T) {
		next := now.AddDate(0, 0, 1)
		got := approval.FindMatchingRule(amt(10), []approval.ApprovalRule{future}, next)
		require.NotNil(t, got)
		assert.Equal(t, approval.RuleID("future"), got.ID)
	})
}

func TestFindMatchingRule_EffectiveDateInLocalClock(t *testing.T) {
	june2 := rule("june2", 0, 1000, "E2")
	june2.EffectiveDate = ptr(approval.Date(2025, time.June, 2))
	rules := []approval.ApprovalRule{june2}

	newYork := time.FixedZone("EDT", -4*60*60)
	tokyo := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		name   string
		asOf   time.Time
		active bool
	}{
		{"west of UTC, day before", time.Date(2025, time.June, 1, 10, 0, 0, 0, newYork), false},
		{"west of UTC, late on day before", time.Date(2025, time.June, 1, 23, 59, 0, 0, newYork), false},
		{"west of UTC, effective day", time.Date(2025, time.June, 2, 0, 0, 1, 0, newYork), true},
		{"east of UTC, day before", time.Date(2025, time.June, 1, 23, 0, 0, 0, tokyo), false},
		{"east of UTC, early on effective day", time.Date(2025, time.June, 2, 1, 0, 0, 0, tokyo), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := approval.FindMatchingRule(amt(500), rules, tt.asOf)
			if tt.active {
				require.NotNil(t, got)
				assert.Equal(t, approval.RuleID("june2"), got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestFindMatchingRule_EmptyRules(t *testing.T) {
	assert.Nil(t, approval.FindMatchingRule(amt(1), nil, now))
}

// =============================================================================
// NEXT-APPROVER RESOLVER
// =============================================================================

func TestGetNextApprover_WalksLevels(t *testing.T) {
	r := rule("three", 0, 1000, "E1", "E2", "E3")
	expected := []approval.EmployeeID{"E1", "E2", "E3", ""}
	history := []string{"E1", "E2", "E3"}

	for k := 0; k <= 3; k++ {
		bill := approval.Bill{
			TotalPayableAmount: amt(100),
			ApprovalStatus:     approval.StatusPending,
			ApprovalHistory:    approved(history[:k]...),
		}
		assert.Equal(t, expected[k], approval.GetNextApprover(bill, &r), "after %d approvals", k)
	}
}

func TestGetNextApprover_TerminalStatus(t *testing.T) {
	r := rule("one", 0, 1000, "E1")
	for _, status := range []approval.ApprovalStatus{approval.StatusApproved, approval.StatusRejected} {
		bill := approval.Bill{ApprovalStatus: status}
		assert.Empty(t, approval.GetNextApprover(bill, &r), "status %s", status)
	}
}

func TestGetNextApprover_NilRule(t *testing.T) {
	bill := approval.Bill{ApprovalStatus: approval.StatusPending}
	assert.Empty(t, approval.GetNextApprover(bill, nil))
}

func TestGetNextApprover_IgnoresRejectedEntriesInCount(t *testing.T) {
	r := rule("two", 0, 1000, "E1", "E2")
	bill := approval.Bill{
		ApprovalStatus: approval.StatusPending,
		ApprovalHistory: []approval.ApprovalAction{
			{ApproverID: "E1", Status: approval.StatusApproved},
			{ApproverID: "X", Status: approval.StatusRejected},
		},
	}
	assert.Equal(t, approval.EmployeeID("E2"), approval.GetNextApprover(bill, &r))
}

func TestGetNextApprover_LevelLookupIsByNumberNotIndex(t *testing.T) {
	// Levels stored out of order still resolve by Level value.
	r := approval.ApprovalRule{
		ID: "unsorted", MinAmount: amt(0), MaxAmount: amt(10),
		ApproverLevels: []approval.ApproverLevel{
			{Level: 2, ApproverID: "E2"},
			{Level: 1, ApproverID: "E1"},
		},
	}
	bill := approval.Bill{ApprovalStatus: approval.StatusPending}
	assert.Equal(t, approval.EmployeeID("E1"), approval.GetNextApprover(bill, &r))
}

func TestGetNextApprover_GapStopsRouting(t *testing.T) {
	r := approval.ApprovalRule{
		ID: "gap", MinAmount: amt(0), MaxAmount: amt(10),
		ApproverLevels: []approval.ApproverLevel{
			{Level: 1, ApproverID: "E1"},
			{Level: 3, ApproverID: "E3"},
		},
	}
	bill := approval.Bill{ApprovalStatus: approval.StatusPending, ApprovalHistory: approved("E1")}
	assert.Empty(t, approval.GetNextApprover(bill, &r))
}

// =============================================================================
// BILL PROCESSOR
// =============================================================================

func TestProcessBill_Scenarios(t *testing.T) {
	rules := []approval.ApprovalRule{rule("r", 0, 1000, "E1")}

	t.Run("fresh bill routes to level 1", func(t *testing.T) {
		bill := approval.Bill{TotalPayableAmount: amt(500)}
		assert.Equal(t, approval.EmployeeID("E1"), approval.ProcessBill(bill, rules, now).CurrentApproverID)
	})

	t.Run("single level satisfied", func(t *testing.T) {
		bill := approval.Bill{TotalPayableAmount: amt(500), ApprovalHistory: approved("E1")}
		assert.Empty(t, approval.ProcessBill(bill, rules, now).CurrentApproverID)
	})

	t.Run("amount outside every band", func(t *testing.T) {
		bill := approval.Bill{TotalPayableAmount: amt(1500), CurrentApproverID: "stale"}
		assert.Empty(t, approval.ProcessBill(bill, rules, now).CurrentApproverID)
	})
}

func TestProcessBill_OnlyTouchesCurrentApprover(t *testing.T) {
	rules := []approval.ApprovalRule{rule("r", 0, 1000, "E1", "E2")}
	bill := approval.Bill{
		ID:                 "bill-1",
		BillNumber:         "INV-7",
		VendorName:         "Acme",
		TotalPayableAmount: amt(900),
		ApprovalStatus:     approval.StatusPending,
		ApprovalHistory:    approved("E1"),
		EscalatedTo:        "E7",
		FlowID:             "flow",
	}

	out := approval.ProcessBill(bill, rules, now)

	want := bill
	want.CurrentApproverID = "E2"
	assert.Equal(t, want, out)
	assert.Empty(t, bill.CurrentApproverID, "input must not be mutated")
}

func TestProcessBill_Idempotent(t *testing.T) {
	rules := []approval.ApprovalRule{
		rule("a", 0, 1000, "E1", "E2"),
		rule("b", 1001, 5000, "E3", "E4", "E5"),
	}
	for _, a := range []int64{0, 999, 1000, 1001, 4999, 5001} {
		for k := 0; k < 3; k++ {
			bill := approval.Bill{TotalPayableAmount: amt(a), ApprovalHistory: approved([]string{"x", "y", "z"}[:k]...)}
			once := approval.ProcessBill(bill, rules, now)
			twice := approval.ProcessBill(once, rules, now)
			assert.Equal(t, once.CurrentApproverID, twice.CurrentApproverID, "amount %d, k=%d", a, k)
		}
	}
}

// =============================================================================
// ROUTER
// =============================================================================

func TestRouter_ReportsOverlapButKeepsFirstMatch(t *testing.T) {
	var diags []approval.Diagnostic
	rt := approval.NewRouter(func() time.Time { return now })
	rt.OnDiagnostic = func(d approval.Diagnostic) { diags = append(diags, d) }

	rules := []approval.ApprovalRule{rule("first", 0, 1000, "E1"), rule("second", 500, 2000, "E2")}

	got := rt.FindMatchingRule(amt(700), rules)
	require.NotNil(t, got)
	assert.Equal(t, approval.RuleID("first"), got.ID)
	require.Len(t, diags, 1)
	assert.Equal(t, approval.DiagOverlappingBands, diags[0].Code)
	assert.Equal(t, approval.RuleID("second"), diags[0].RuleID)

	diags = nil
	rt.FindMatchingRule(amt(100), rules)
	assert.Empty(t, diags, "no overlap below 500")
}

func TestRouter_UsesClock(t *testing.T) {
	r := rule("later", 0, 1000, "E1")
	r.EffectiveDate = ptr(approval.Date(2030, time.January, 1))

	rt := approval.NewRouter(func() time.Time { return now })
	bill := rt.ProcessBill(approval.Bill{TotalPayableAmount: amt(1)}, []approval.ApprovalRule{r})
	assert.Empty(t, bill.CurrentApproverID)

	rt.Now = func() time.Time { return approval.Date(2030, time.January, 1) }
	bill = rt.ProcessBill(approval.Bill{TotalPayableAmount: amt(1)}, []approval.ApprovalRule{r})
	assert.Equal(t, approval.EmployeeID("E1"), bill.CurrentApproverID)
}

func TestRouter_ZeroValueIsUsable(t *testing.T) {
	var rt approval.Router
	got := rt.FindMatchingRule(amt(5), []approval.ApprovalRule{rule("r", 0, 10, "E1")})
	require.NotNil(t, got)
}
