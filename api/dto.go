/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the approval domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

TYPES:
  Employee:   EmployeeDTO, CreateEmployeeRequest
  Rule:       RuleDTO (wraps factory.RuleJSON), MatchRuleRequest, DiagnosticDTO
  Flow:       factory.FlowJSON is used as-is
  Bill:       BillDTO, ActionDTO, CreateBillRequest, ApproveRequest, RejectRequest
  Audit:      AuditEntryDTO
  Escalation: EscalationRunDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

AMOUNTS:
  decimal.Decimal encodes as a JSON string ("1500.00") and decodes from
  either a number or a string.

VALIDATION:
  Validation is done by the factory and the billing service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/factory"
)

const dateLayout = "2006-01-02"

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an approver in API responses.
type EmployeeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Designation string `json:"designation,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Designation string `json:"designation"`
}

func toEmployeeDTO(e approval.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:          string(e.ID),
		Name:        e.Name,
		Email:       e.Email,
		Designation: e.Designation,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

// =============================================================================
// RULES
// =============================================================================

// RuleDTO represents an approval rule in API responses.
type RuleDTO struct {
	factory.RuleJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// MatchRuleRequest asks which rule would route an amount today.
type MatchRuleRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// MatchRuleResponse carries the matched rule, or null.
type MatchRuleResponse struct {
	Rule *RuleDTO `json:"rule"`
}

// DiagnosticDTO is one rule configuration warning.
type DiagnosticDTO struct {
	Code    string `json:"code"`
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

func toRuleDTO(rf *factory.RuleFactory, r *approval.ApprovalRule) RuleDTO {
	return RuleDTO{
		RuleJSON:  rf.ToJSON(r),
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

// =============================================================================
// BILLS
// =============================================================================

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID                 string          `json:"id"`
	BillNumber         string          `json:"bill_number"`
	VendorName         string          `json:"vendor_name,omitempty"`
	BillDate           string          `json:"bill_date"`
	DueDate            *string         `json:"due_date,omitempty"`
	TotalPayableAmount decimal.Decimal `json:"total_payable_amount"`
	ApprovalStatus     string          `json:"approval_status"`
	ApprovalHistory    []ActionDTO     `json:"approval_history"`
	CurrentApproverID  string          `json:"current_approver_id"`
	EscalatedTo        string          `json:"escalated_to,omitempty"`
	FlowID             string          `json:"flow_id,omitempty"`
	StatusText         string          `json:"status_text,omitempty"`
	CreatedAt          string          `json:"created_at,omitempty"`
	UpdatedAt          string          `json:"updated_at,omitempty"`
}

// ActionDTO is one entry of a bill's approval history.
type ActionDTO struct {
	ApproverID string `json:"approver_id"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	Comment    string `json:"comment,omitempty"`
}

// CreateBillRequest submits a bill for approval. Dates accept YYYY-MM-DD
// or RFC3339.
type CreateBillRequest struct {
	ID                 string          `json:"id,omitempty"`
	BillNumber         string          `json:"bill_number"`
	VendorName         string          `json:"vendor_name"`
	BillDate           string          `json:"bill_date,omitempty"`
	DueDate            string          `json:"due_date,omitempty"`
	TotalPayableAmount decimal.Decimal `json:"total_payable_amount"`
	FlowID             string          `json:"flow_id,omitempty"`
}

// ApproveRequest is the request to approve the bill's current level.
type ApproveRequest struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment"`
}

// RejectRequest is the request to reject a bill.
type RejectRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason"`
}

// StatusTextDTO is the display label of a bill.
type StatusTextDTO struct {
	BillID     string `json:"bill_id"`
	FlowID     string `json:"flow_id,omitempty"`
	StatusText string `json:"status_text"`
}

// RecomputeResponse reports one bill's re-routing.
type RecomputeResponse struct {
	Bill    BillDTO `json:"bill"`
	Changed bool    `json:"changed"`
}

func toBillDTO(b approval.Bill) BillDTO {
	dto := BillDTO{
		ID:                 string(b.ID),
		BillNumber:         b.BillNumber,
		VendorName:         b.VendorName,
		BillDate:           b.BillDate.Format(dateLayout),
		TotalPayableAmount: b.TotalPayableAmount,
		ApprovalStatus:     b.ApprovalStatus.String(),
		ApprovalHistory:    make([]ActionDTO, 0, len(b.ApprovalHistory)),
		CurrentApproverID:  string(b.CurrentApproverID),
		EscalatedTo:        string(b.EscalatedTo),
		FlowID:             string(b.FlowID),
		CreatedAt:          formatTime(b.CreatedAt),
		UpdatedAt:          formatTime(b.UpdatedAt),
	}
	if b.DueDate != nil {
		due := b.DueDate.Format(dateLayout)
		dto.DueDate = &due
	}
	for _, a := range b.ApprovalHistory {
		dto.ApprovalHistory = append(dto.ApprovalHistory, ActionDTO{
			ApproverID: string(a.ApproverID),
			Status:     a.Status.String(),
			Timestamp:  formatTime(a.Timestamp),
			Comment:    a.Comment,
		})
	}
	return dto
}

func toBillDTOs(bills []approval.Bill) []BillDTO {
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	return dtos
}

// =============================================================================
// AUDIT & ESCALATION
// =============================================================================

// AuditEntryDTO represents an audit log entry.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	BillID    string         `json:"bill_id,omitempty"`
	RuleID    string         `json:"rule_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditDTO(e approval.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: formatTime(e.Timestamp),
		ActorID:   string(e.ActorID),
		Action:    string(e.Action),
		BillID:    string(e.BillID),
		RuleID:    string(e.RuleID),
		Payload:   e.Payload,
	}
}

// EscalationRunDTO represents one escalation sweep.
type EscalationRunDTO struct {
	ID          string  `json:"id"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Escalated   int     `json:"escalated"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
}

func toEscalationRunDTO(r approval.EscalationRun) EscalationRunDTO {
	dto := EscalationRunDTO{
		ID:        r.ID,
		StartedAt: formatTime(r.StartedAt),
		Escalated: r.Escalated,
		Status:    string(r.Status),
		Error:     r.Error,
	}
	if r.CompletedAt != nil {
		done := formatTime(*r.CompletedAt)
		dto.CompletedAt = &done
	}
	return dto
}

// CountResponse reports how many bills an admin operation touched.
type CountResponse struct {
	Count int    `json:"count"`
	RunID string `json:"run_id,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseDate accepts YYYY-MM-DD or RFC3339. Empty input yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
