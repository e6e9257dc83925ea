package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/rules"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// RuleService manages the auto-analyze rule set. A broken rule skips
// silently during intake, so validation here is strict: patterns must
// compile and logic trees must evaluate before a rule is stored.
type RuleService struct {
	store    *store.Store
	recorder *audit.Recorder
}

// NewRuleService creates a rule service. recorder may be nil.
func NewRuleService(st *store.Store, recorder *audit.Recorder) *RuleService {
	if st == nil {
		panic("NewRuleService: store must not be nil")
	}
	return &RuleService{store: st, recorder: recorder}
}

// List returns all rules in evaluation order.
func (s *RuleService) List(ctx context.Context) ([]models.AutoAnalyzeRule, error) {
	return s.store.Rules.List(ctx)
}

// Get returns one rule by id.
func (s *RuleService) Get(ctx context.Context, id string) (*models.AutoAnalyzeRule, error) {
	return s.store.Rules.Get(ctx, id)
}

// Create validates and stores a new rule.
func (s *RuleService) Create(ctx context.Context, r *models.AutoAnalyzeRule, actor string) (*models.AutoAnalyzeRule, error) {
	if err := validateRule(r); err != nil {
		return nil, err
	}
	if err := s.store.Rules.Create(ctx, r); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceCreated, r.ID, r.Name)
	return r, nil
}

// Update validates and rewrites an existing rule.
func (s *RuleService) Update(ctx context.Context, r *models.AutoAnalyzeRule, actor string) (*models.AutoAnalyzeRule, error) {
	if r.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	if err := validateRule(r); err != nil {
		return nil, err
	}
	if err := s.store.Rules.Update(ctx, r); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceUpdated, r.ID, r.Name)
	return r, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, id, actor string) error {
	r, err := s.store.Rules.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Rules.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(actor, models.AuditResourceDeleted, id, r.Name)
	return nil
}

func (s *RuleService) audit(actor, action, id, name string) {
	if s.recorder == nil {
		return
	}
	s.recorder.EmitActor(actor, action, "auto_analyze_rule", id, models.AnyMap{"name": name})
}

// validateRule rejects rules that the evaluator would skip at intake
// time: uncompilable patterns and logic trees that fail against a probe
// alert.
func validateRule(r *models.AutoAnalyzeRule) error {
	if r.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if !r.Action.IsValid() {
		return NewValidationError("action", fmt.Sprintf("unknown action %q", r.Action))
	}
	if r.Priority < 0 {
		return NewValidationError("priority", "priority must not be negative")
	}

	patterns := []struct{ field, pattern string }{
		{"alert_name_pattern", r.AlertNamePattern},
		{"severity_pattern", r.SeverityPattern},
		{"instance_pattern", r.InstancePattern},
		{"job_pattern", r.JobPattern},
	}
	for _, p := range patterns {
		if _, err := rules.MatchPattern(p.pattern, "probe"); err != nil {
			return NewValidationError(p.field, err.Error())
		}
	}

	if len(r.JSONLogic) > 0 {
		probe := rules.AlertDict(&models.Alert{Name: "probe", StartsAt: time.Now()})
		if _, err := jsonlogic.ApplyInterface(map[string]any(r.JSONLogic), probe); err != nil {
			return NewValidationError("json_logic", fmt.Sprintf("logic tree does not evaluate: %v", err))
		}
	}
	return nil
}
