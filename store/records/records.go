// Package records holds the JSON column layout shared by the SQL stores.
// Rule levels and bill history are stored as JSON documents next to the
// scalar columns; both SQLite and PostgreSQL read and write this shape.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/approval-engine/approval"
)

// TimeLayout is used for every timestamp column stored as text. It is fixed
// width so text order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Level struct {
	Level                 int      `json:"level"`
	ApproverID            string   `json:"approver_id"`
	EscalationTimeoutDays *int     `json:"escalation_timeout_days,omitempty"`
	AlternativeApprovers  []string `json:"alternative_approvers,omitempty"`
}

type Action struct {
	ApproverID string                  `json:"approver_id"`
	Status     approval.ApprovalStatus `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Comment    string                  `json:"comment,omitempty"`
}

type Step struct {
	StatusName string `json:"status_name"`
}

func EncodeLevels(levels []approval.ApproverLevel) ([]byte, error) {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		r := Level{Level: l.Level, ApproverID: string(l.ApproverID), EscalationTimeoutDays: l.EscalationTimeoutDays}
		for _, a := range l.AlternativeApprovers {
			r.AlternativeApprovers = append(r.AlternativeApprovers, string(a))
		}
		out = append(out, r)
	}
	return json.Marshal(out)
}

func DecodeLevels(data []byte) ([]approval.ApproverLevel, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in []Level
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode approver levels: %w", err)
	}
	var out []approval.ApproverLevel
	for _, r := range in {
		l := approval.ApproverLevel{Level: r.Level, ApproverID: approval.EmployeeID(r.ApproverID), EscalationTimeoutDays: r.EscalationTimeoutDays}
		for _, a := range r.AlternativeApprovers {
			l.AlternativeApprovers = append(l.AlternativeApprovers, approval.EmployeeID(a))
		}
		out = append(out, l)
	}
	return out, nil
}

func EncodeHistory(history []approval.ApprovalAction) ([]byte, error) {
	out := make([]Action, 0, len(history))
	for _, a := range history {
		out = append(out, Action{
			ApproverID: string(a.ApproverID),
			Status:     a.Status,
			Timestamp:  a.Timestamp.UTC(),
			Comment:    a.Comment,
		})
	}
	return json.Marshal(out)
}

// DecodeHistory accepts the legacy numeric status codes through
// approval.ApprovalStatus's decoder.
func DecodeHistory(data []byte) ([]approval.ApprovalAction, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in []Action
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode approval history: %w", err)
	}
	var out []approval.ApprovalAction
	for _, r := range in {
		out = append(out, approval.ApprovalAction{
			ApproverID: approval.EmployeeID(r.ApproverID),
			Status:     r.Status,
			Timestamp:  r.Timestamp,
			Comment:    r.Comment,
		})
	}
	return out, nil
}

func EncodeSteps(steps []approval.FlowStep) ([]byte, error) {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, Step{StatusName: s.StatusName})
	}
	return json.Marshal(out)
}

func DecodeSteps(data []byte) ([]approval.FlowStep, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in []Step
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode flow steps: %w", err)
	}
	var out []approval.FlowStep
	for _, s := range in {
		out = append(out, approval.FlowStep{StatusName: s.StatusName})
	}
	return out, nil
}

func EncodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func DecodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p map[string]any
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode audit payload: %w", err)
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

// FormatTime renders t in UTC, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime. It also reads rows written with
// trimmed fractions. Empty or malformed input yields the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
