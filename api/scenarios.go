/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates approvers, a status-label flow,
	approval rules and a few bills at different points of their lifecycle.

AVAILABLE SCENARIOS:

	single-level: One rule, one approver, one pending bill
	tiered:       Three amount bands with 1, 2 and 3 levels, loaded from YAML
	escalation:   A level with a timeout and two alternatives, one overdue bill

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create approvers and the flow
 3. Create rules via the factory
 4. Submit bills through billing.Service, then approve or reject some

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tiered"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to scenarioLoader

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - factory/rule.go: Rule JSON and YAML definitions
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-level",
		Name:        "Single Level",
		Description: "One rule covering every amount, approved by the finance manager",
	},
	{
		ID:          "tiered",
		Name:        "Tiered Approvals",
		Description: "Small, medium and large bands needing one, two and three approvers",
	},
	{
		ID:          "escalation",
		Name:        "Escalation",
		Description: "An overdue bill ready to be handed to an alternative approver",
	},
}

// DemoFlowID is the flow every scenario installs.
const DemoFlowID approval.FlowID = "standard"

var demoEmployees = []approval.Employee{
	{ID: "E1", Name: "Maya Chen", Email: "maya@example.com", Designation: "Finance Manager"},
	{ID: "E2", Name: "Omar Haddad", Email: "omar@example.com", Designation: "Finance Director"},
	{ID: "E3", Name: "Ines Duarte", Email: "ines@example.com", Designation: "CFO"},
	{ID: "E7", Name: "Tomas Berg", Email: "tomas@example.com", Designation: "Deputy Director"},
	{ID: "E8", Name: "Priya Nair", Email: "priya@example.com", Designation: "Controller"},
}

const tieredRulesYAML = `
rules:
  - id: rule-small
    name: Small bills
    min_amount: 0
    max_amount: 1000
    approver_levels:
      - {level: 1, approver_id: E1}
  - id: rule-medium
    name: Medium bills
    min_amount: 1000.01
    max_amount: 10000
    approver_levels:
      - {level: 1, approver_id: E1}
      - {level: 2, approver_id: E2}
  - id: rule-large
    name: Large bills
    min_amount: 10000.01
    max_amount: 1000000
    approver_levels:
      - {level: 1, approver_id: E1}
      - {level: 2, approver_id: E2}
      - {level: 3, approver_id: E3}
`

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader := h.scenarioLoader(req.ScenarioID)
	if loader == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errResetUnsupported = errors.New("store does not support reset")

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(approval.Resetter)
	if !ok {
		return errResetUnsupported
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

func (h *Handler) scenarioLoader(id string) func(context.Context) error {
	switch id {
	case "single-level":
		return h.loadSingleLevelScenario
	case "tiered":
		return h.loadTieredScenario
	case "escalation":
		return h.loadEscalationScenario
	default:
		return nil
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleLevelScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	rule, err := h.RuleFactory.ParseRule(factory.StandardRuleJSON("rule-all", "All bills", 0, 1000000, "E1"))
	if err != nil {
		return err
	}
	if _, err := h.Service.SaveRule(ctx, *rule, "admin"); err != nil {
		return err
	}

	_, err = h.submitDemoBill(ctx, "BILL-1001", "Acme Office Supply", "420.50")
	return err
}

func (h *Handler) loadTieredScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	rules, err := h.RuleFactory.ParseRulesYAML([]byte(tieredRulesYAML))
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if _, err := h.Service.SaveRule(ctx, rule, "admin"); err != nil {
			return err
		}
	}

	// Small: waiting on E1
	if _, err := h.submitDemoBill(ctx, "BILL-2001", "Paper & Co", "250"); err != nil {
		return err
	}

	// Medium: E1 approved, waiting on E2
	medium, err := h.submitDemoBill(ctx, "BILL-2002", "Northwind Logistics", "4800")
	if err != nil {
		return err
	}
	if _, err := h.Service.Approve(ctx, medium.ID, "E1", "Checked against PO-77"); err != nil {
		return err
	}

	// Large: fully approved
	large, err := h.submitDemoBill(ctx, "BILL-2003", "Contoso Build", "125000")
	if err != nil {
		return err
	}
	for _, approver := range []approval.EmployeeID{"E1", "E2", "E3"} {
		if _, err := h.Service.Approve(ctx, large.ID, approver, ""); err != nil {
			return err
		}
	}

	// Medium: rejected at the first level
	rejected, err := h.submitDemoBill(ctx, "BILL-2004", "Fabrikam Catering", "2300")
	if err != nil {
		return err
	}
	_, err = h.Service.Reject(ctx, rejected.ID, "E1", "Duplicate of BILL-1987")
	return err
}

func (h *Handler) loadEscalationScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	timeout := 2
	rj := factory.RuleJSON{
		ID:        "rule-escalating",
		Name:      "Escalating approvals",
		MinAmount: decimal.Zero,
		MaxAmount: decimal.NewFromInt(1000000),
		ApproverLevels: []factory.LevelJSON{
			{Level: 1, ApproverID: "E1"},
			{
				Level:                 2,
				ApproverID:            "E2",
				EscalationTimeoutDays: &timeout,
				AlternativeApprovers:  []string{"E7", "E8"},
			},
		},
	}
	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		return err
	}
	if _, err := h.Service.SaveRule(ctx, *rule, "admin"); err != nil {
		return err
	}

	bill, err := h.submitDemoBill(ctx, "BILL-3001", "Litware Consulting", "7200")
	if err != nil {
		return err
	}
	bill, err = h.Service.Approve(ctx, bill.ID, "E1", "")
	if err != nil {
		return err
	}

	// Backdate the level-1 approval so level 2 is three days overdue:
	// the first sweep hands it to E7.
	stale := *bill
	stale.ApprovalHistory[len(stale.ApprovalHistory)-1].Timestamp = h.Service.Now().AddDate(0, 0, -3)
	return h.Store.SaveBill(ctx, stale)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedDirectory(ctx context.Context) error {
	now := h.Service.Now()
	for _, e := range demoEmployees {
		e.CreatedAt = now
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("employee %s: %w", e.ID, err)
		}
	}

	flow, err := factory.FlowFromJSON(factory.FlowJSON{
		ID:   string(DemoFlowID),
		Name: "Standard bill approval",
		Steps: []factory.StepJSON{
			{StatusName: "Manager Approved"},
			{StatusName: "Director Approved"},
			{StatusName: "Fully Approved"},
		},
	})
	if err != nil {
		return err
	}
	return h.Store.SaveFlow(ctx, *flow)
}

func (h *Handler) submitDemoBill(ctx context.Context, number, vendor, amount string) (*approval.Bill, error) {
	return h.Service.SubmitBill(ctx, approval.Bill{
		BillNumber:         number,
		VendorName:         vendor,
		TotalPayableAmount: decimal.RequireFromString(amount),
		FlowID:             DemoFlowID,
	})
}
