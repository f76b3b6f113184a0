/*
diagnostics.go - Configuration warnings for approval rules

PURPOSE:
  The router tolerates misconfiguration silently (first match wins, gaps
  yield ""). Diagnose surfaces those problems so an admin screen or a log
  line can show them, without changing routing behaviour.

CODES:
  invalid_band       min_amount > max_amount
  overlapping_bands  two rules could both match some amount
  no_levels          rule has no approver levels
  level_gap          levels are not 1..n contiguous
  duplicate_level    same level number appears twice
  unsorted_levels    levels not stored ascending
  missing_approver   level without an approver ID

SEE ALSO:
  - router.go: Router.OnDiagnostic receives runtime overlaps
  - factory/rule.go: Rejects the hard errors at write time
*/
package approval

import (
	"fmt"
	"sort"
)

type DiagnosticCode string

const (
	DiagInvalidBand      DiagnosticCode = "invalid_band"
	DiagOverlappingBands DiagnosticCode = "overlapping_bands"
	DiagNoLevels         DiagnosticCode = "no_levels"
	DiagLevelGap         DiagnosticCode = "level_gap"
	DiagDuplicateLevel   DiagnosticCode = "duplicate_level"
	DiagUnsortedLevels   DiagnosticCode = "unsorted_levels"
	DiagMissingApprover  DiagnosticCode = "missing_approver"
)

// Diagnostic is a non-fatal configuration problem.
type Diagnostic struct {
	Code    DiagnosticCode
	RuleID  RuleID
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s]: %s", d.Code, d.RuleID, d.Message)
}

// Diagnose checks a rule set. Results are ordered by rule, then by check.
func Diagnose(rules []ApprovalRule) []Diagnostic {
	var out []Diagnostic
	for _, r := range rules {
		out = append(out, diagnoseRule(r)...)
	}
	out = append(out, diagnoseOverlaps(rules)...)
	return out
}

func diagnoseRule(r ApprovalRule) []Diagnostic {
	var out []Diagnostic
	if r.MinAmount.GreaterThan(r.MaxAmount) {
		out = append(out, Diagnostic{
			Code:    DiagInvalidBand,
			RuleID:  r.ID,
			Message: fmt.Sprintf("min %s exceeds max %s", r.MinAmount, r.MaxAmount),
		})
	}
	if len(r.ApproverLevels) == 0 {
		return append(out, Diagnostic{Code: DiagNoLevels, RuleID: r.ID, Message: "rule has no approver levels"})
	}

	seen := make(map[int]bool, len(r.ApproverLevels))
	levels := make([]int, 0, len(r.ApproverLevels))
	for i, l := range r.ApproverLevels {
		if seen[l.Level] {
			out = append(out, Diagnostic{
				Code:    DiagDuplicateLevel,
				RuleID:  r.ID,
				Message: fmt.Sprintf("level %d appears more than once", l.Level),
			})
		}
		seen[l.Level] = true
		levels = append(levels, l.Level)

		if i > 0 && r.ApproverLevels[i-1].Level > l.Level {
			out = append(out, Diagnostic{
				Code:    DiagUnsortedLevels,
				RuleID:  r.ID,
				Message: fmt.Sprintf("level %d stored after level %d", l.Level, r.ApproverLevels[i-1].Level),
			})
		}
		if l.ApproverID == "" {
			out = append(out, Diagnostic{
				Code:    DiagMissingApprover,
				RuleID:  r.ID,
				Message: fmt.Sprintf("level %d has no approver", l.Level),
			})
		}
	}

	sort.Ints(levels)
	expect := 1
	for i, lv := range levels {
		if i > 0 && lv == levels[i-1] {
			continue // duplicate, already reported
		}
		if lv != expect {
			out = append(out, Diagnostic{
				Code:    DiagLevelGap,
				RuleID:  r.ID,
				Message: fmt.Sprintf("expected level %d, found %d; later levels are unreachable", expect, lv),
			})
			break
		}
		expect++
	}
	return out
}

// diagnoseOverlaps reports each pair of valid bands that intersect.
// Effective dates are ignored: a future rule will overlap once it activates.
func diagnoseOverlaps(rules []ApprovalRule) []Diagnostic {
	var out []Diagnostic
	for i := 0; i < len(rules); i++ {
		a := rules[i]
		if a.MinAmount.GreaterThan(a.MaxAmount) {
			continue
		}
		for j := i + 1; j < len(rules); j++ {
			b := rules[j]
			if b.MinAmount.GreaterThan(b.MaxAmount) {
				continue
			}
			if a.MinAmount.LessThanOrEqual(b.MaxAmount) && b.MinAmount.LessThanOrEqual(a.MaxAmount) {
				out = append(out, Diagnostic{
					Code:   DiagOverlappingBands,
					RuleID: b.ID,
					Message: fmt.Sprintf("band %s-%s overlaps rule %q (%s-%s); %q wins by order",
						b.MinAmount, b.MaxAmount, a.ID, a.MinAmount, a.MaxAmount, a.ID),
				})
			}
		}
	}
	return out
}
