// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	rules     map[approval.RuleID]approval.ApprovalRule
	ruleOrder []approval.RuleID
	bills     map[approval.BillID]approval.Bill
	billOrder []approval.BillID
	flows     map[approval.FlowID]approval.ApprovalFlow
	employees map[approval.EmployeeID]approval.Employee
	audit     []approval.AuditEntry
	runs      []approval.EscalationRun
}

func NewMemory() *Memory {
	m := &Memory{}
	m.init()
	return m
}

func (m *Memory) init() {
	m.rules = make(map[approval.RuleID]approval.ApprovalRule)
	m.ruleOrder = nil
	m.bills = make(map[approval.BillID]approval.Bill)
	m.billOrder = nil
	m.flows = make(map[approval.FlowID]approval.ApprovalFlow)
	m.employees = make(map[approval.EmployeeID]approval.Employee)
	m.audit = nil
	m.runs = nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return nil
}

// =============================================================================
// RULES
// =============================================================================

// SaveRule upserts. A new rule goes to the end; an update keeps its slot.
func (m *Memory) SaveRule(_ context.Context, rule approval.ApprovalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[rule.ID]; !ok {
		m.ruleOrder = append(m.ruleOrder, rule.ID)
	}
	m.rules[rule.ID] = copyRule(rule)
	return nil
}

func (m *Memory) GetRule(_ context.Context, id approval.RuleID) (*approval.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, approval.ErrRuleNotFound
	}
	r = copyRule(r)
	return &r, nil
}

func (m *Memory) ListRules(_ context.Context) ([]approval.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]approval.ApprovalRule, 0, len(m.ruleOrder))
	for _, id := range m.ruleOrder {
		result = append(result, copyRule(m.rules[id]))
	}
	return result, nil
}

func (m *Memory) DeleteRule(_ context.Context, id approval.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return approval.ErrRuleNotFound
	}
	delete(m.rules, id)
	for i, rid := range m.ruleOrder {
		if rid == id {
			m.ruleOrder = append(m.ruleOrder[:i], m.ruleOrder[i+1:]...)
			break
		}
	}
	return nil
}

func copyRule(r approval.ApprovalRule) approval.ApprovalRule {
	levels := make([]approval.ApproverLevel, len(r.ApproverLevels))
	for i, l := range r.ApproverLevels {
		l.AlternativeApprovers = append([]approval.EmployeeID(nil), l.AlternativeApprovers...)
		levels[i] = l
	}
	r.ApproverLevels = levels
	return r
}

// =============================================================================
// BILLS
// =============================================================================

func (m *Memory) SaveBill(_ context.Context, bill approval.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[bill.ID]; !ok {
		m.billOrder = append(m.billOrder, bill.ID)
	}
	m.bills[bill.ID] = copyBill(bill)
	return nil
}

func (m *Memory) GetBill(_ context.Context, id approval.BillID) (*approval.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bills[id]
	if !ok {
		return nil, approval.ErrBillNotFound
	}
	b = copyBill(b)
	return &b, nil
}

func (m *Memory) ListBills(_ context.Context, filter approval.BillFilter) ([]approval.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []approval.Bill
	for _, id := range m.billOrder {
		b := m.bills[id]
		if filter.Matches(b) {
			result = append(result, copyBill(b))
		}
	}
	return result, nil
}

func copyBill(b approval.Bill) approval.Bill {
	b.ApprovalHistory = append([]approval.ApprovalAction(nil), b.ApprovalHistory...)
	return b
}

// =============================================================================
// FLOWS & EMPLOYEES
// =============================================================================

func (m *Memory) SaveFlow(_ context.Context, flow approval.ApprovalFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow.Steps = append([]approval.FlowStep(nil), flow.Steps...)
	m.flows[flow.ID] = flow
	return nil
}

func (m *Memory) GetFlow(_ context.Context, id approval.FlowID) (*approval.ApprovalFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flows[id]
	if !ok {
		return nil, approval.ErrFlowNotFound
	}
	f.Steps = append([]approval.FlowStep(nil), f.Steps...)
	return &f, nil
}

func (m *Memory) ListFlows(_ context.Context) ([]approval.ApprovalFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]approval.ApprovalFlow, 0, len(m.flows))
	for _, f := range m.flows {
		f.Steps = append([]approval.FlowStep(nil), f.Steps...)
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveEmployee(_ context.Context, emp approval.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id approval.EmployeeID) (*approval.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, approval.ErrEmployeeNotFound
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]approval.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]approval.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry approval.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter approval.AuditFilter) ([]approval.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []approval.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// ESCALATION RUNS
// =============================================================================

// SaveEscalationRun upserts by ID.
func (m *Memory) SaveEscalationRun(_ context.Context, run approval.EscalationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListEscalationRuns(_ context.Context, limit int) ([]approval.EscalationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []approval.EscalationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}
