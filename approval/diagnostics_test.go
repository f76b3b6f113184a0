package approval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/approval-engine/approval"
)

func codes(diags []approval.Diagnostic) []approval.DiagnosticCode {
	out := make([]approval.DiagnosticCode, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestDiagnose_CleanConfiguration(t *testing.T) {
	rules := []approval.ApprovalRule{
		rule("small", 0, 1000, "E1"),
		rule("medium", 1001, 10000, "E1", "E2"),
	}
	assert.Empty(t, approval.Diagnose(rules))
}

func TestDiagnose_PerRuleProblems(t *testing.T) {
	tests := []struct {
		name   string
		levels []approval.ApproverLevel
		want   []approval.DiagnosticCode
	}{
		{
			name: "no levels",
			want: []approval.DiagnosticCode{approval.DiagNoLevels},
		},
		{
			name:   "gap",
			levels: []approval.ApproverLevel{{Level: 1, ApproverID: "E1"}, {Level: 3, ApproverID: "E3"}},
			want:   []approval.DiagnosticCode{approval.DiagLevelGap},
		},
		{
			name:   "starts at two",
			levels: []approval.ApproverLevel{{Level: 2, ApproverID: "E2"}},
			want:   []approval.DiagnosticCode{approval.DiagLevelGap},
		},
		{
			name:   "duplicate",
			levels: []approval.ApproverLevel{{Level: 1, ApproverID: "E1"}, {Level: 1, ApproverID: "E2"}},
			want:   []approval.DiagnosticCode{approval.DiagDuplicateLevel},
		},
		{
			name:   "unsorted",
			levels: []approval.ApproverLevel{{Level: 2, ApproverID: "E2"}, {Level: 1, ApproverID: "E1"}},
			want:   []approval.DiagnosticCode{approval.DiagUnsortedLevels},
		},
		{
			name:   "missing approver",
			levels: []approval.ApproverLevel{{Level: 1}},
			want:   []approval.DiagnosticCode{approval.DiagMissingApprover},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule("r", 0, 100)
			r.ApproverLevels = tt.levels
			assert.Equal(t, tt.want, codes(approval.Diagnose([]approval.ApprovalRule{r})))
		})
	}
}

func TestDiagnose_InvalidBandIsNotAlsoAnOverlap(t *testing.T) {
	bad := rule("bad", 500, 100, "E1")
	ok := rule("ok", 0, 1000, "E1")

	diags := approval.Diagnose([]approval.ApprovalRule{bad, ok})
	assert.Equal(t, []approval.DiagnosticCode{approval.DiagInvalidBand}, codes(diags))
	assert.Equal(t, approval.RuleID("bad"), diags[0].RuleID)
}

func TestDiagnose_OverlapReportedOnLaterRule(t *testing.T) {
	rules := []approval.ApprovalRule{
		rule("a", 0, 1000, "E1"),
		rule("b", 1000, 2000, "E2"), // shares the 1000 boundary
		rule("c", 5000, 6000, "E3"),
	}
	diags := approval.Diagnose(rules)
	if assert.Len(t, diags, 1) {
		assert.Equal(t, approval.DiagOverlappingBands, diags[0].Code)
		assert.Equal(t, approval.RuleID("b"), diags[0].RuleID)
		assert.Contains(t, diags[0].String(), "overlapping_bands [b]")
	}
}
