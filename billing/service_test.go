package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/approval/store"
	"github.com/warp/approval-engine/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	ctx      context.Context
	store    *store.Memory
	notifier *billing.RecordingNotifier
	svc      *billing.Service
	now      time.Time
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    store.NewMemory(),
		notifier: &billing.RecordingNotifier{},
		now:      time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC),
	}
	opts = append([]billing.Option{
		billing.WithClock(func() time.Time { return f.now }),
		billing.WithNotifier(f.notifier),
	}, opts...)
	f.svc = billing.NewService(f.store, opts...)
	return f
}

func (f *fixture) addRule(t *testing.T, id string, min, max int64, approvers ...string) {
	t.Helper()
	rule := approval.ApprovalRule{
		ID:        approval.RuleID(id),
		Name:      id,
		MinAmount: decimal.NewFromInt(min),
		MaxAmount: decimal.NewFromInt(max),
	}
	for i, a := range approvers {
		rule.ApproverLevels = append(rule.ApproverLevels, approval.ApproverLevel{Level: i + 1, ApproverID: approval.EmployeeID(a)})
	}
	_, err := f.svc.SaveRule(f.ctx, rule, "admin")
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, number string, amount int64) *approval.Bill {
	t.Helper()
	bill, err := f.svc.SubmitBill(f.ctx, approval.Bill{
		BillNumber:         number,
		VendorName:         "Acme",
		TotalPayableAmount: decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return bill
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmitBill_RoutesToFirstLevel(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1", "E2")

	bill := f.submit(t, "INV-1", 500)

	assert.NotEmpty(t, bill.ID)
	assert.Equal(t, approval.StatusPending, bill.ApprovalStatus)
	assert.Equal(t, approval.EmployeeID("E1"), bill.CurrentApproverID)
	assert.Equal(t, f.now, bill.CreatedAt)

	stored, err := f.store.GetBill(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("E1"), stored.CurrentApproverID)

	events := f.notifier.OfType(billing.EventApprovalRequired)
	require.Len(t, events, 1)
	assert.Equal(t, []approval.EmployeeID{"E1"}, events[0].Recipients)
	assert.True(t, events[0].Actionable)

	audit, err := f.svc.BillAudit(f.ctx, bill.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, approval.AuditBillSubmitted, audit[0].Action)
}

func TestSubmitBill_DiscardsClientState(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")

	bill, err := f.svc.SubmitBill(f.ctx, approval.Bill{
		BillNumber:         "INV-2",
		TotalPayableAmount: decimal.NewFromInt(10),
		ApprovalStatus:     approval.StatusApproved,
		ApprovalHistory:    []approval.ApprovalAction{{ApproverID: "E1", Status: approval.StatusApproved}},
		CurrentApproverID:  "someone",
		EscalatedTo:        "else",
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, bill.ApprovalStatus)
	assert.Empty(t, bill.ApprovalHistory)
	assert.Empty(t, bill.EscalatedTo)
	assert.Equal(t, approval.EmployeeID("E1"), bill.CurrentApproverID)
}

func TestSubmitBill_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitBill(f.ctx, approval.Bill{TotalPayableAmount: decimal.NewFromInt(5)})
	var ve *approval.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "bill_number", ve.Field)

	_, err = f.svc.SubmitBill(f.ctx, approval.Bill{BillNumber: "X", TotalPayableAmount: decimal.Zero})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "total_payable_amount", ve.Field)

	due := f.now.AddDate(0, 0, -1)
	_, err = f.svc.SubmitBill(f.ctx, approval.Bill{BillNumber: "X", TotalPayableAmount: decimal.NewFromInt(1), BillDate: f.now, DueDate: &due})
	assert.ErrorIs(t, err, approval.ErrInvalidInput)

	_, err = f.svc.SubmitBill(f.ctx, approval.Bill{BillNumber: "X", TotalPayableAmount: decimal.NewFromInt(1), FlowID: "missing"})
	assert.ErrorIs(t, err, approval.ErrFlowNotFound)
}

func TestSubmitBill_DuplicateID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitBill(f.ctx, approval.Bill{ID: "b1", BillNumber: "A", TotalPayableAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = f.svc.SubmitBill(f.ctx, approval.Bill{ID: "b1", BillNumber: "B", TotalPayableAmount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, approval.ErrDuplicateID)
}

func TestSubmitBill_NoMatchingRule(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")

	bill := f.submit(t, "INV-BIG", 1500)
	assert.Empty(t, bill.CurrentApproverID)
	assert.Equal(t, approval.StatusPending, bill.ApprovalStatus)
	assert.Empty(t, f.notifier.Events())

	_, err := f.svc.Approve(f.ctx, bill.ID, "E1", "")
	assert.ErrorIs(t, err, approval.ErrNoApprover)
}

func TestSubmitBill_RuleWithoutLevelsApproves(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "petty", 0, 50)

	bill := f.submit(t, "INV-PETTY", 20)
	assert.Equal(t, approval.StatusApproved, bill.ApprovalStatus)
	assert.Empty(t, bill.CurrentApproverID)

	n, err := f.svc.RecomputeAll(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestApprove_WalksChainToApproved(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "medium", 0, 10000, "E1", "E2")
	bill := f.submit(t, "INV-3", 5000)

	f.now = f.now.Add(time.Hour)
	after1, err := f.svc.Approve(f.ctx, bill.ID, "E1", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, after1.ApprovalStatus)
	assert.Equal(t, approval.EmployeeID("E2"), after1.CurrentApproverID)
	require.Len(t, after1.ApprovalHistory, 1)
	assert.Equal(t, "looks fine", after1.ApprovalHistory[0].Comment)
	assert.Equal(t, f.now, after1.ApprovalHistory[0].Timestamp)

	after2, err := f.svc.Approve(f.ctx, bill.ID, "E2", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, after2.ApprovalStatus)
	assert.Empty(t, after2.CurrentApproverID)

	approved := f.notifier.OfType(billing.EventApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, []approval.EmployeeID{"E1", "E2"}, approved[0].Recipients)

	audit, err := f.svc.BillAudit(f.ctx, bill.ID)
	require.NoError(t, err)
	actions := make([]approval.AuditAction, 0, len(audit))
	for _, e := range audit {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []approval.AuditAction{
		approval.AuditBillSubmitted,
		approval.AuditLevelApproved,
		approval.AuditBillApproved,
	}, actions)

	_, err = f.svc.Approve(f.ctx, bill.ID, "E2", "")
	assert.ErrorIs(t, err, approval.ErrBillNotPending)
}

func TestApprove_WrongActor(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")
	bill := f.submit(t, "INV-4", 10)

	_, err := f.svc.Approve(f.ctx, bill.ID, "E9", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrNotCurrentApprover)

	var nca *approval.NotCurrentApproverError
	require.True(t, errors.As(err, &nca))
	assert.Equal(t, approval.EmployeeID("E1"), nca.Expected)

	_, err = f.svc.Approve(f.ctx, "missing", "E1", "")
	assert.ErrorIs(t, err, approval.ErrBillNotFound)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1", "E2")
	bill := f.submit(t, "INV-5", 10)

	_, err := f.svc.Reject(f.ctx, bill.ID, "E1", "   ")
	assert.ErrorIs(t, err, approval.ErrReasonRequired)

	rejected, err := f.svc.Reject(f.ctx, bill.ID, "E1", "duplicate invoice")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, rejected.ApprovalStatus)
	assert.Empty(t, rejected.CurrentApproverID)
	require.Len(t, rejected.ApprovalHistory, 1)
	assert.Equal(t, approval.StatusRejected, rejected.ApprovalHistory[0].Status)
	assert.Equal(t, "duplicate invoice", rejected.ApprovalHistory[0].Comment)

	require.Len(t, f.notifier.OfType(billing.EventRejected), 1)

	_, err = f.svc.Reject(f.ctx, bill.ID, "E1", "again")
	assert.ErrorIs(t, err, approval.ErrBillNotPending)
}

type failingNotifier struct{}

func (failingNotifier) Publish(context.Context, billing.Event) error {
	return errors.New("broker down")
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, billing.WithNotifier(failingNotifier{}))
	f.addRule(t, "small", 0, 1000, "E1")

	bill := f.submit(t, "INV-6", 10)
	_, err := f.svc.Approve(f.ctx, bill.ID, "E1", "")
	assert.NoError(t, err)
}

// =============================================================================
// RULE CHANGES
// =============================================================================

func TestSaveRule_ReroutesPendingBills(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")
	small := f.submit(t, "INV-7", 100)
	big := f.submit(t, "INV-8", 5000)
	assert.Empty(t, big.CurrentApproverID)

	f.addRule(t, "big", 1001, 10000, "E5")

	stored, err := f.store.GetBill(f.ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("E5"), stored.CurrentApproverID)

	// Replace the small rule's approver; its position is kept.
	f.addRule(t, "small", 0, 1000, "E3")
	stored, err = f.store.GetBill(f.ctx, small.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("E3"), stored.CurrentApproverID)

	rules, err := f.store.ListRules(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("small"), rules[0].ID)

	rerouted, err := f.store.QueryAudit(f.ctx, approval.AuditFilter{Actions: []approval.AuditAction{approval.AuditBillRerouted}})
	require.NoError(t, err)
	assert.Len(t, rerouted, 2)
}

func TestDeleteRule_ClearsApprover(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")
	bill := f.submit(t, "INV-9", 100)

	require.NoError(t, f.svc.DeleteRule(f.ctx, "small", "admin"))
	stored, err := f.store.GetBill(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CurrentApproverID)

	assert.ErrorIs(t, f.svc.DeleteRule(f.ctx, "small", "admin"), approval.ErrRuleNotFound)
}

func TestSaveRule_CompletesBillWhenLevelsRemoved(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1", "E2")
	bill := f.submit(t, "INV-11", 100)
	_, err := f.svc.Approve(f.ctx, bill.ID, "E1", "")
	require.NoError(t, err)

	// Level 2 goes away: the E1 approval now satisfies the rule.
	f.addRule(t, "small", 0, 1000, "E1")

	stored, err := f.store.GetBill(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, stored.ApprovalStatus)
	assert.Empty(t, stored.CurrentApproverID)

	approved, err := f.store.QueryAudit(f.ctx, approval.AuditFilter{Actions: []approval.AuditAction{approval.AuditBillApproved}})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
	assert.Len(t, f.notifier.OfType(billing.EventApproved), 1)

	_, err = f.svc.Approve(f.ctx, bill.ID, "E2", "")
	assert.ErrorIs(t, err, approval.ErrBillNotPending)
}

func TestRecomputeAll_CompletesStrandedBill(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")

	// Stored before the fix-up: Pending with every level satisfied.
	stranded := approval.Bill{
		ID:                 "stranded",
		BillNumber:         "INV-12",
		TotalPayableAmount: decimal.NewFromInt(50),
		ApprovalStatus:     approval.StatusPending,
		ApprovalHistory: []approval.ApprovalAction{
			{ApproverID: "E1", Status: approval.StatusApproved, Timestamp: f.now},
		},
		CreatedAt: f.now,
	}
	require.NoError(t, f.store.SaveBill(f.ctx, stranded))

	n, err := f.svc.RecomputeAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetBill(f.ctx, "stranded")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, stored.ApprovalStatus)
}

func TestRecompute_NoMatchingRuleStaysPending(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")
	bill := f.submit(t, "INV-13", 5000)

	got, changed, err := f.svc.Recompute(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, approval.StatusPending, got.ApprovalStatus)
}

// unlistableBills fails pending-bill listing after rules are saved.
type unlistableBills struct {
	*store.Memory
}

func (unlistableBills) ListBills(context.Context, approval.BillFilter) ([]approval.Bill, error) {
	return nil, errors.New("bills table locked")
}

func TestSaveRule_RerouteFailureKeepsWrite(t *testing.T) {
	mem := store.NewMemory()
	svc := billing.NewService(unlistableBills{mem})
	ctx := context.Background()

	saved, err := svc.SaveRule(ctx, approval.ApprovalRule{
		ID:             "small",
		MinAmount:      decimal.Zero,
		MaxAmount:      decimal.NewFromInt(1000),
		ApproverLevels: []approval.ApproverLevel{{Level: 1, ApproverID: "E1"}},
	}, "admin")
	require.NoError(t, err)
	require.NotNil(t, saved)

	_, err = mem.GetRule(ctx, "small")
	require.NoError(t, err)

	assert.NoError(t, svc.DeleteRule(ctx, "small", "admin"))
}

func TestRecompute_TerminalBillUntouched(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "small", 0, 1000, "E1")
	bill := f.submit(t, "INV-10", 100)
	_, err := f.svc.Approve(f.ctx, bill.ID, "E1", "")
	require.NoError(t, err)

	f.addRule(t, "small", 0, 1000, "E1", "E2")
	got, changed, err := f.svc.Recompute(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, approval.StatusApproved, got.ApprovalStatus)
	assert.Empty(t, got.CurrentApproverID)
}

func TestMatchRuleAndDiagnostics(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, "a", 0, 1000, "E1")
	f.addRule(t, "b", 500, 2000, "E2")

	rule, err := f.svc.MatchRule(f.ctx, decimal.NewFromInt(700))
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, approval.RuleID("a"), rule.ID)

	rule, err = f.svc.MatchRule(f.ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Nil(t, rule)

	diags, err := f.svc.Diagnostics(f.ctx)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, approval.DiagOverlappingBands, diags[0].Code)
}

// =============================================================================
// ESCALATION
// =============================================================================

func TestEscalate(t *testing.T) {
	f := newFixture(t)
	timeout := 2
	_, err := f.svc.SaveRule(f.ctx, approval.ApprovalRule{
		ID: "esc", Name: "esc",
		MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(1000),
		ApproverLevels: []approval.ApproverLevel{
			{Level: 1, ApproverID: "E1", EscalationTimeoutDays: &timeout, AlternativeApprovers: []approval.EmployeeID{"A1", "A2"}},
			{Level: 2, ApproverID: "E2"},
		},
	}, "admin")
	require.NoError(t, err)
	bill := f.submit(t, "INV-11", 100)
	t0 := f.now

	n, err := f.svc.Escalate(f.ctx, t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.svc.Escalate(f.ctx, t0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetBill(f.ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("A1"), stored.EscalatedTo)
	assert.Equal(t, approval.EmployeeID("E1"), stored.CurrentApproverID, "escalation never rewrites the current approver")

	// Same round again is a no-op.
	n, err = f.svc.Escalate(f.ctx, t0.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := f.svc.PendingFor(f.ctx, "A1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	escalated := f.notifier.OfType(billing.EventEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, []approval.EmployeeID{"A1", "E1"}, escalated[0].Recipients)

	// The alternative approves on behalf of level 1.
	after, err := f.svc.Approve(f.ctx, bill.ID, "A1", "covering")
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("E2"), after.CurrentApproverID)
	assert.Empty(t, after.EscalatedTo)
}

// =============================================================================
// STATUS TEXT
// =============================================================================

func TestStatusText(t *testing.T) {
	f := newFixture(t, billing.WithDefaultFlow("default"))
	f.addRule(t, "small", 0, 1000, "E1", "E2", "E3")
	require.NoError(t, f.store.SaveFlow(f.ctx, approval.ApprovalFlow{
		ID:    "three",
		Steps: []approval.FlowStep{{StatusName: "Manager OK"}, {StatusName: "Finance OK"}, {StatusName: "Paid"}},
	}))

	bill := f.submit(t, "INV-12", 10)

	text, err := f.svc.StatusText(f.ctx, bill.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Pending", text, "missing default flow falls back")

	_, err = f.svc.Approve(f.ctx, bill.ID, "E1", "")
	require.NoError(t, err)

	text, err = f.svc.StatusText(f.ctx, bill.ID, "three")
	require.NoError(t, err)
	assert.Equal(t, "Manager OK", text)

	_, err = f.svc.StatusText(f.ctx, bill.ID, "nope")
	assert.ErrorIs(t, err, approval.ErrFlowNotFound)

	require.NoError(t, f.store.SaveFlow(f.ctx, approval.ApprovalFlow{ID: "default", Steps: []approval.FlowStep{{StatusName: "Stage 1"}, {StatusName: "Stage 2"}}}))
	text, err = f.svc.StatusText(f.ctx, bill.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Stage 1", text)

	_, err = f.svc.StatusText(f.ctx, "missing", "")
	assert.ErrorIs(t, err, approval.ErrBillNotFound)
}

func TestPendingFor_RequiresApprover(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PendingFor(f.ctx, "")
	assert.ErrorIs(t, err, approval.ErrInvalidInput)
}
