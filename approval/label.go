package approval

// GetBillStatusText renders the status label shown for a bill.
//
// Without a flow (or with an empty one) the label is the bare status.
// With a flow, a rejected bill is always "Rejected", an approved bill
// shows the last step's name, and a pending bill shows the name of the
// most recently completed step. History at or beyond the step count
// while still pending is inconsistent and renders as "Pending".
//
// This only renders stored state; it validates no transition.
func GetBillStatusText(bill Bill, flow *ApprovalFlow) string {
	if flow == nil || len(flow.Steps) == 0 {
		return bill.ApprovalStatus.String()
	}

	switch bill.ApprovalStatus {
	case StatusRejected:
		return string(StatusRejected)
	case StatusApproved:
		return flow.Steps[len(flow.Steps)-1].StatusName
	}

	n := len(bill.ApprovalHistory)
	if n == 0 || n >= len(flow.Steps) {
		return string(StatusPending)
	}
	return flow.Steps[n-1].StatusName
}
