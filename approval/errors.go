/*
errors.go - Centralized error types for the approval engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The router itself never returns errors; these are used by the billing
  service, the factory and the stores.

ERROR CATEGORIES:
  1. Lookup errors - Missing bills, rules, flows, employees
  2. Workflow errors - Acting on a closed bill, wrong approver
  3. Validation errors - Malformed rules or bills

USAGE:
  if errors.Is(err, approval.ErrNotCurrentApprover) {
      // 403
  }

SEE ALSO:
  - billing/service.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package approval

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrBillNotFound     = errors.New("bill not found")
	ErrRuleNotFound     = errors.New("approval rule not found")
	ErrFlowNotFound     = errors.New("approval flow not found")
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrBillNotPending is returned when acting on an Approved or Rejected bill.
	ErrBillNotPending = errors.New("bill is not pending approval")

	// ErrNotCurrentApprover is returned when someone other than the current
	// (or escalated) approver tries to act.
	ErrNotCurrentApprover = errors.New("actor is not the current approver")

	// ErrNoApprover is returned when no rule routes the bill to anyone.
	ErrNoApprover = errors.New("no approver assigned to bill")

	ErrReasonRequired = errors.New("rejection reason is required")

	ErrInvalidInput = errors.New("invalid input")

	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotCurrentApproverError records who tried to act and who should have.
type NotCurrentApproverError struct {
	BillID   BillID
	ActorID  EmployeeID
	Expected EmployeeID
}

func (e *NotCurrentApproverError) Error() string {
	return fmt.Sprintf("bill %s: %s cannot act, awaiting %q", e.BillID, e.ActorID, e.Expected)
}

func (e *NotCurrentApproverError) Unwrap() error {
	return ErrNotCurrentApprover
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBillNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrReasonRequired)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBillNotPending) ||
		errors.Is(err, ErrNoApprover) ||
		errors.Is(err, ErrDuplicateID)
}

// IsForbidden returns true if the actor may not perform the action.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotCurrentApprover)
}
