package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/approval-engine/approval"
)

// SaveRule stores a rule and re-routes pending bills. A rule without an ID
// gets one; an existing rule keeps its CreatedAt and its match position.
func (s *Service) SaveRule(ctx context.Context, rule approval.ApprovalRule, actorID approval.EmployeeID) (*approval.ApprovalRule, error) {
	if rule.MinAmount.GreaterThan(rule.MaxAmount) {
		return nil, &approval.ValidationError{Field: "min_amount", Message: "exceeds max_amount"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := true
	if rule.ID == "" {
		rule.ID = approval.RuleID(uuid.NewString())
	} else if existing, err := s.store.GetRule(ctx, rule.ID); err == nil {
		rule.CreatedAt = existing.CreatedAt
		created = false
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	s.audit(ctx, approval.AuditEntry{
		ActorID: actorID,
		Action:  approval.AuditRuleChanged,
		RuleID:  rule.ID,
		Payload: map[string]any{
			"created":    created,
			"min_amount": rule.MinAmount.String(),
			"max_amount": rule.MaxAmount.String(),
			"levels":     len(rule.ApproverLevels),
		},
	})
	s.logDiagnostics(ctx)

	s.rerouteAfterRuleChange(ctx, rule.ID)
	return &rule, nil
}

// DeleteRule removes a rule and re-routes pending bills.
func (s *Service) DeleteRule(ctx context.Context, id approval.RuleID, actorID approval.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, approval.AuditEntry{
		ActorID: actorID,
		Action:  approval.AuditRuleDeleted,
		RuleID:  id,
	})

	s.rerouteAfterRuleChange(ctx, id)
	return nil
}

// rerouteAfterRuleChange re-routes pending bills once the rule write has
// landed. A failure leaves the rule change in place; POST /api/admin/recompute
// retries it.
func (s *Service) rerouteAfterRuleChange(ctx context.Context, id approval.RuleID) {
	if _, err := s.recomputeAll(ctx); err != nil {
		s.log.Error("failed to re-route pending bills after rule change",
			zap.String("rule_id", string(id)), zap.Error(err))
	}
}

func (s *Service) logDiagnostics(ctx context.Context) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return
	}
	for _, d := range approval.Diagnose(rules) {
		s.log.Warn("approval rule diagnostic",
			zap.String("code", string(d.Code)),
			zap.String("rule_id", string(d.RuleID)),
			zap.String("message", d.Message))
	}
}
