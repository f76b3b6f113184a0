package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/approval-engine/approval"
)

// FlowJSON is the JSON representation of an approval flow.
type FlowJSON struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Steps []StepJSON `json:"steps"`
}

type StepJSON struct {
	StatusName string `json:"status_name"`
}

// ParseFlow parses and validates a flow. Step order is display order.
func ParseFlow(jsonStr string) (*approval.ApprovalFlow, error) {
	var fj FlowJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse flow JSON: %w", err)
	}
	return FlowFromJSON(fj)
}

func FlowFromJSON(fj FlowJSON) (*approval.ApprovalFlow, error) {
	if strings.TrimSpace(fj.Name) == "" {
		return nil, &approval.ValidationError{Field: "name", Message: "required"}
	}
	flow := &approval.ApprovalFlow{ID: approval.FlowID(fj.ID), Name: fj.Name}
	for i, s := range fj.Steps {
		if strings.TrimSpace(s.StatusName) == "" {
			return nil, &approval.ValidationError{Field: fmt.Sprintf("steps[%d].status_name", i), Message: "required"}
		}
		flow.Steps = append(flow.Steps, approval.FlowStep{StatusName: s.StatusName})
	}
	return flow, nil
}

func FlowToJSON(flow *approval.ApprovalFlow) FlowJSON {
	fj := FlowJSON{ID: string(flow.ID), Name: flow.Name, Steps: []StepJSON{}}
	for _, s := range flow.Steps {
		fj.Steps = append(fj.Steps, StepJSON{StatusName: s.StatusName})
	}
	return fj
}
