/*
Package factory provides JSON/YAML to Go conversion for approval rules and flows.

PURPOSE:
  Converts rule definitions into approval.ApprovalRule values. Finance
  admins describe amount bands and approver chains in JSON (API, database)
  or YAML (seed files), and the factory validates them and builds the Go
  structs the router consumes.

JSON SCHEMA:
  {
    "id": "rule-medium",
    "name": "Medium bills",
    "min_amount": "1000.01",
    "max_amount": 10000,
    "effective_date": "2025-01-01",
    "approver_levels": [
      {"level": 1, "approver_id": "E1"},
      {
        "level": 2,
        "approver_id": "E2",
        "escalation_timeout_days": 3,
        "alternative_approvers": ["E7", "E8"]
      }
    ]
  }

  Amounts may be JSON numbers or strings. effective_date accepts
  YYYY-MM-DD or RFC3339.

YAML SCHEMA:
  rules:
    - id: rule-small
      name: Small bills
      min_amount: 0
      max_amount: 1000
      approver_levels:
        - {level: 1, approver_id: E1}

VALIDATION:
  Hard errors (rule is refused): empty name, negative amounts,
  min > max, level <= 0, duplicate level, empty approver, negative
  timeout. Levels are sorted ascending before the rule is returned.
  Softer problems (gaps, overlaps between rules) are left to
  approval.Diagnose.

SEE ALSO:
  - approval/types.go: ApprovalRule definition
  - approval/diagnostics.go: Non-fatal checks
  - factory/flow.go: Flow parsing
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/approval-engine/approval"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an approval rule.
type RuleJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount"`
	EffectiveDate  string          `json:"effective_date,omitempty"`
	ApproverLevels []LevelJSON     `json:"approver_levels"`
}

// LevelJSON represents one approver level.
type LevelJSON struct {
	Level                 int      `json:"level" yaml:"level"`
	ApproverID            string   `json:"approver_id" yaml:"approver_id"`
	EscalationTimeoutDays *int     `json:"escalation_timeout_days,omitempty" yaml:"escalation_timeout_days,omitempty"`
	AlternativeApprovers  []string `json:"alternative_approvers,omitempty" yaml:"alternative_approvers,omitempty"`
}

// ruleYAML mirrors RuleJSON with string amounts; yaml.v3 hands any scalar
// to a string field, which decimal then parses.
type ruleYAML struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	MinAmount      string      `yaml:"min_amount"`
	MaxAmount      string      `yaml:"max_amount"`
	EffectiveDate  string      `yaml:"effective_date,omitempty"`
	ApproverLevels []LevelJSON `yaml:"approver_levels"`
}

type rulesDocument struct {
	Rules []ruleYAML `yaml:"rules"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts rule definitions to approval rules.
type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a validated ApprovalRule.
func (f *RuleFactory) ParseRule(jsonStr string) (*approval.ApprovalRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// ParseRulesYAML parses a YAML document holding a "rules" list. The
// returned slice keeps document order, which is the match order.
func (f *RuleFactory) ParseRulesYAML(data []byte) ([]approval.ApprovalRule, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	rules := make([]approval.ApprovalRule, 0, len(doc.Rules))
	for i, ry := range doc.Rules {
		rj, err := ry.toJSON()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, ry.ID, err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

func (ry ruleYAML) toJSON() (RuleJSON, error) {
	lo, err := parseAmount("min_amount", ry.MinAmount)
	if err != nil {
		return RuleJSON{}, err
	}
	hi, err := parseAmount("max_amount", ry.MaxAmount)
	if err != nil {
		return RuleJSON{}, err
	}
	return RuleJSON{
		ID:             ry.ID,
		Name:           ry.Name,
		MinAmount:      lo,
		MaxAmount:      hi,
		EffectiveDate:  ry.EffectiveDate,
		ApproverLevels: ry.ApproverLevels,
	}, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &approval.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", s)}
	}
	return d, nil
}

// FromJSON validates rj and converts it. Levels come back sorted.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*approval.ApprovalRule, error) {
	if err := validateRule(rj); err != nil {
		return nil, err
	}

	rule := &approval.ApprovalRule{
		ID:        approval.RuleID(rj.ID),
		Name:      strings.TrimSpace(rj.Name),
		MinAmount: rj.MinAmount,
		MaxAmount: rj.MaxAmount,
	}

	if rj.EffectiveDate != "" {
		d, err := parseDate(rj.EffectiveDate)
		if err != nil {
			return nil, &approval.ValidationError{Field: "effective_date", Message: err.Error()}
		}
		rule.EffectiveDate = &d
	}

	for _, lj := range rj.ApproverLevels {
		level := approval.ApproverLevel{
			Level:      lj.Level,
			ApproverID: approval.EmployeeID(lj.ApproverID),
		}
		if lj.EscalationTimeoutDays != nil {
			d := *lj.EscalationTimeoutDays
			level.EscalationTimeoutDays = &d
		}
		for _, alt := range lj.AlternativeApprovers {
			if alt = strings.TrimSpace(alt); alt != "" {
				level.AlternativeApprovers = append(level.AlternativeApprovers, approval.EmployeeID(alt))
			}
		}
		rule.ApproverLevels = append(rule.ApproverLevels, level)
	}
	SortLevels(rule.ApproverLevels)

	return rule, nil
}

// SortLevels orders levels ascending by Level, in place.
func SortLevels(levels []approval.ApproverLevel) {
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
}

func validateRule(rj RuleJSON) error {
	if strings.TrimSpace(rj.Name) == "" {
		return &approval.ValidationError{Field: "name", Message: "required"}
	}
	if rj.MinAmount.IsNegative() {
		return &approval.ValidationError{Field: "min_amount", Message: "must not be negative"}
	}
	if rj.MaxAmount.IsNegative() {
		return &approval.ValidationError{Field: "max_amount", Message: "must not be negative"}
	}
	if rj.MinAmount.GreaterThan(rj.MaxAmount) {
		return &approval.ValidationError{
			Field:   "min_amount",
			Message: fmt.Sprintf("%s exceeds max_amount %s", rj.MinAmount, rj.MaxAmount),
		}
	}

	seen := make(map[int]bool, len(rj.ApproverLevels))
	for i, lj := range rj.ApproverLevels {
		field := fmt.Sprintf("approver_levels[%d]", i)
		if lj.Level <= 0 {
			return &approval.ValidationError{Field: field + ".level", Message: "must be positive"}
		}
		if seen[lj.Level] {
			return &approval.ValidationError{Field: field + ".level", Message: fmt.Sprintf("duplicate level %d", lj.Level)}
		}
		seen[lj.Level] = true
		if strings.TrimSpace(lj.ApproverID) == "" {
			return &approval.ValidationError{Field: field + ".approver_id", Message: "required"}
		}
		if lj.EscalationTimeoutDays != nil && *lj.EscalationTimeoutDays < 0 {
			return &approval.ValidationError{Field: field + ".escalation_timeout_days", Message: "must not be negative"}
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339", s)
	}
	return t, nil
}

// ToJSON converts a rule back to its JSON form.
func (f *RuleFactory) ToJSON(rule *approval.ApprovalRule) RuleJSON {
	rj := RuleJSON{
		ID:        string(rule.ID),
		Name:      rule.Name,
		MinAmount: rule.MinAmount,
		MaxAmount: rule.MaxAmount,
	}
	if rule.EffectiveDate != nil {
		rj.EffectiveDate = rule.EffectiveDate.Format("2006-01-02")
	}
	for _, l := range rule.ApproverLevels {
		lj := LevelJSON{
			Level:                 l.Level,
			ApproverID:            string(l.ApproverID),
			EscalationTimeoutDays: l.EscalationTimeoutDays,
		}
		for _, alt := range l.AlternativeApprovers {
			lj.AlternativeApprovers = append(lj.AlternativeApprovers, string(alt))
		}
		rj.ApproverLevels = append(rj.ApproverLevels, lj)
	}
	return rj
}

// =============================================================================
// PRESET RULES
// =============================================================================

// StandardRuleJSON builds a rule definition with one level per approver,
// in the order given.
func StandardRuleJSON(id, name string, minAmount, maxAmount int64, approvers ...string) string {
	rj := RuleJSON{
		ID:        id,
		Name:      name,
		MinAmount: decimal.NewFromInt(minAmount),
		MaxAmount: decimal.NewFromInt(maxAmount),
	}
	for i, a := range approvers {
		rj.ApproverLevels = append(rj.ApproverLevels, LevelJSON{Level: i + 1, ApproverID: a})
	}
	data, _ := json.Marshal(rj)
	return string(data)
}
