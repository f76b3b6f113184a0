/*
handlers.go - HTTP API handlers for the bill approval engine

PURPOSE:
  Exposes the approval router and the billing service via REST API.
  Handles HTTP request/response and JSON serialization, and delegates
  every decision to billing.Service.

ENDPOINTS:
  Employees:
    GET    /api/employees                List approvers
    POST   /api/employees                Create approver
    GET    /api/employees/{id}           Get approver
    GET    /api/employees/{id}/pending   Bills waiting on this approver

  Rules:
    GET    /api/rules                    List rules in match order
    POST   /api/rules                    Create rule (re-routes pending bills)
    GET    /api/rules/{id}               Get rule
    PUT    /api/rules/{id}               Replace rule (keeps match position)
    DELETE /api/rules/{id}               Delete rule (re-routes pending bills)
    GET    /api/rules/diagnostics        Overlaps, gaps, invalid bands
    POST   /api/rules/match              Which rule routes {amount} today

  Flows:
    GET    /api/flows                    List status-label flows
    POST   /api/flows                    Create flow
    GET    /api/flows/{id}               Get flow

  Bills:
    GET    /api/bills                    List bills (?status=, ?approver_id=)
    POST   /api/bills                    Submit bill
    GET    /api/bills/{id}               Get bill
    POST   /api/bills/{id}/approve       Approve current level
    POST   /api/bills/{id}/reject        Reject with reason
    POST   /api/bills/{id}/recompute     Re-route against current rules
    GET    /api/bills/{id}/status        Status label (?flow_id=)
    GET    /api/bills/{id}/audit         Audit trail

  Admin:
    POST   /api/admin/recompute          Re-route every pending bill
    POST   /api/admin/escalate           Run the escalation sweep now
    GET    /api/admin/escalation-runs    Recent sweeps

ACTOR:
  There is no authentication. Approve and reject take approver_id in the
  body; rule changes read the X-Actor-ID header for the audit log.

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with:
  - 400: Validation errors, invalid input
  - 403: Actor is not the current approver
  - 404: Resource not found
  - 409: Bill not pending, no approver, duplicate ID
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/billing"
	"github.com/warp/approval-engine/factory"
)

// ActorHeader names the caller for audit entries on rule changes.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *billing.Service
	Store       approval.Store
	RuleFactory *factory.RuleFactory
	Scheduler   *EscalationScheduler

	log *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the service's store.
func NewHandler(svc *billing.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:     svc,
		Store:       svc.Store(),
		RuleFactory: factory.NewRuleFactory(),
		log:         log,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all approvers.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single approver.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := approval.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates an approver.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	emp := approval.Employee{
		ID:          approval.EmployeeID(req.ID),
		Name:        req.Name,
		Email:       req.Email,
		Designation: req.Designation,
		CreatedAt:   h.Service.Now(),
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// ListPendingForEmployee returns the pending bills an approver can act on,
// including bills escalated to them.
// GET /api/employees/{id}/pending
func (h *Handler) ListPendingForEmployee(w http.ResponseWriter, r *http.Request) {
	id := approval.EmployeeID(chi.URLParam(r, "id"))

	bills, err := h.Service.PendingFor(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to list pending bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rules in match order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i := range rules {
		dtos[i] = toRuleDTO(h.RuleFactory, &rules[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := approval.RuleID(chi.URLParam(r, "id"))

	rule, err := h.Store.GetRule(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, rule))
}

// CreateRule validates and stores a new rule. A rule posted with the ID of
// an existing rule is a conflict; use PUT to replace.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule JSON", err)
		return
	}

	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.writeServiceError(w, "Invalid rule", err)
		return
	}
	if rule.ID != "" {
		if _, err := h.Store.GetRule(r.Context(), rule.ID); err == nil {
			writeError(w, http.StatusConflict, "Rule already exists", approval.ErrDuplicateID)
			return
		}
	}

	saved, err := h.Service.SaveRule(r.Context(), *rule, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(h.RuleFactory, saved))
}

// UpdateRule replaces an existing rule. The rule keeps its position in the
// match order.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := approval.RuleID(chi.URLParam(r, "id"))

	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule JSON", err)
		return
	}
	rj.ID = string(id)

	if _, err := h.Store.GetRule(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to get rule", err)
		return
	}

	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.writeServiceError(w, "Invalid rule", err)
		return
	}

	saved, err := h.Service.SaveRule(r.Context(), *rule, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, saved))
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := approval.RuleID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteRule(r.Context(), id, actorFrom(r)); err != nil {
		h.writeServiceError(w, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RuleDiagnostics reports configuration problems in the stored rule set.
// GET /api/rules/diagnostics
func (h *Handler) RuleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diags, err := h.Service.Diagnostics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check rules", err)
		return
	}

	dtos := make([]DiagnosticDTO, len(diags))
	for i, d := range diags {
		dtos[i] = DiagnosticDTO{Code: string(d.Code), RuleID: string(d.RuleID), Message: d.Message}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MatchRule returns the rule that would route an amount today.
// POST /api/rules/match
func (h *Handler) MatchRule(w http.ResponseWriter, r *http.Request) {
	var req MatchRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.Service.MatchRule(r.Context(), req.Amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to match rule", err)
		return
	}

	resp := MatchRuleResponse{}
	if rule != nil {
		dto := toRuleDTO(h.RuleFactory, rule)
		resp.Rule = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// FLOW HANDLERS
// =============================================================================

// ListFlows returns all status-label flows.
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.Store.ListFlows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list flows", err)
		return
	}

	dtos := make([]factory.FlowJSON, len(flows))
	for i := range flows {
		dtos[i] = factory.FlowToJSON(&flows[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFlow returns a single flow.
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id := approval.FlowID(chi.URLParam(r, "id"))

	flow, err := h.Store.GetFlow(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get flow", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.FlowToJSON(flow))
}

// CreateFlow stores a flow. Posting an existing ID replaces it.
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var fj factory.FlowJSON
	if err := json.NewDecoder(r.Body).Decode(&fj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flow JSON", err)
		return
	}
	if strings.TrimSpace(fj.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	flow, err := factory.FlowFromJSON(fj)
	if err != nil {
		h.writeServiceError(w, "Invalid flow", err)
		return
	}
	if err := h.Store.SaveFlow(r.Context(), *flow); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save flow", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.FlowToJSON(flow))
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills returns bills, optionally filtered.
// GET /api/bills?status=Pending&approver_id=E1
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	var filter approval.BillFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := approval.ParseStatus(s)
		filter.Status = &status
	}
	filter.ApproverID = approval.EmployeeID(r.URL.Query().Get("approver_id"))

	bills, err := h.Store.ListBills(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

// GetBill returns a single bill with its current status label.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := approval.BillID(chi.URLParam(r, "id"))

	bill, err := h.Store.GetBill(ctx, id)
	if err != nil {
		h.writeServiceError(w, "Failed to get bill", err)
		return
	}

	dto := toBillDTO(*bill)
	if text, err := h.Service.StatusText(ctx, id, ""); err == nil {
		dto.StatusText = text
	}
	writeJSON(w, http.StatusOK, dto)
}

// SubmitBill routes a new bill to its first approver.
// POST /api/bills
func (h *Handler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	billDate, err := parseDate(req.BillDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bill_date format (use YYYY-MM-DD)", err)
		return
	}
	bill := approval.Bill{
		ID:                 approval.BillID(req.ID),
		BillNumber:         req.BillNumber,
		VendorName:         req.VendorName,
		BillDate:           billDate,
		TotalPayableAmount: req.TotalPayableAmount,
		FlowID:             approval.FlowID(req.FlowID),
	}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
		bill.DueDate = &due
	}

	saved, err := h.Service.SubmitBill(r.Context(), bill)
	if err != nil {
		h.writeServiceError(w, "Failed to submit bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(*saved))
}

// ApproveBill approves the bill's current level.
// POST /api/bills/{id}/approve
func (h *Handler) ApproveBill(w http.ResponseWriter, r *http.Request) {
	id := approval.BillID(chi.URLParam(r, "id"))

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	bill, err := h.Service.Approve(r.Context(), id, approval.EmployeeID(req.ApproverID), req.Comment)
	if err != nil {
		h.writeServiceError(w, "Failed to approve bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill))
}

// RejectBill rejects the bill.
// POST /api/bills/{id}/reject
func (h *Handler) RejectBill(w http.ResponseWriter, r *http.Request) {
	id := approval.BillID(chi.URLParam(r, "id"))

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	bill, err := h.Service.Reject(r.Context(), id, approval.EmployeeID(req.ApproverID), req.Reason)
	if err != nil {
		h.writeServiceError(w, "Failed to reject bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill))
}

// RecomputeBill re-routes one bill against the current rules.
// POST /api/bills/{id}/recompute
func (h *Handler) RecomputeBill(w http.ResponseWriter, r *http.Request) {
	id := approval.BillID(chi.URLParam(r, "id"))

	bill, changed, err := h.Service.Recompute(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to recompute bill", err)
		return
	}
	writeJSON(w, http.StatusOK, RecomputeResponse{Bill: toBillDTO(*bill), Changed: changed})
}

// GetBillStatus renders the bill's display label.
// GET /api/bills/{id}/status?flow_id=
func (h *Handler) GetBillStatus(w http.ResponseWriter, r *http.Request) {
	id := approval.BillID(chi.URLParam(r, "id"))
	flowID := approval.FlowID(r.URL.Query().Get("flow_id"))

	text, err := h.Service.StatusText(r.Context(), id, flowID)
	if err != nil {
		h.writeServiceError(w, "Failed to resolve status", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusTextDTO{BillID: string(id), FlowID: string(flowID), StatusText: text})
}

// GetBillAudit returns the bill's audit trail.
// GET /api/bills/{id}/audit
func (h *Handler) GetBillAudit(w http.ResponseWriter, r *http.Request) {
	id := approval.BillID(chi.URLParam(r, "id"))

	entries, err := h.Service.BillAudit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to load audit trail", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RecomputeAll re-routes every pending bill.
// POST /api/admin/recompute
func (h *Handler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.RecomputeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to recompute bills", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// TriggerEscalation runs the escalation sweep now. With a scheduler the
// run is recorded; without one the service is called directly.
// POST /api/admin/escalate
func (h *Handler) TriggerEscalation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler != nil {
		run, err := h.Scheduler.RunNow(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Escalation failed", err)
			return
		}
		writeJSON(w, http.StatusOK, CountResponse{Count: run.Escalated, RunID: run.ID})
		return
	}

	n, err := h.Service.Escalate(r.Context(), h.Service.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Escalation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ListEscalationRuns returns recent escalation sweeps, newest first.
// GET /api/admin/escalation-runs?limit=20
func (h *Handler) ListEscalationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListEscalationRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list escalation runs", err)
		return
	}

	dtos := make([]EscalationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toEscalationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports whether the store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(ctx context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to HTTP status codes. Unclassified
// errors are logged and returned as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case approval.IsClientError(err):
		return http.StatusBadRequest
	case approval.IsForbidden(err):
		return http.StatusForbidden
	case approval.IsNotFound(err):
		return http.StatusNotFound
	case approval.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func actorFrom(r *http.Request) approval.EmployeeID {
	return approval.EmployeeID(strings.TrimSpace(r.Header.Get(ActorHeader)))
}
