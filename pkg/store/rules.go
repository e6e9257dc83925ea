package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// RuleStore persists auto-analyze rules.
type RuleStore struct {
	db *sqlx.DB
}

const insertRuleQuery = `
INSERT INTO auto_analyze_rules (
	id, name, priority, enabled, alert_name_pattern, severity_pattern,
	instance_pattern, job_pattern, json_logic, action, created_at, updated_at
) VALUES (
	:id, :name, :priority, :enabled, :alert_name_pattern, :severity_pattern,
	:instance_pattern, :job_pattern, :json_logic, :action, :created_at, :updated_at
)`

// Create inserts a new rule.
func (s *RuleStore) Create(ctx context.Context, r *models.AutoAnalyzeRule) error {
	if r.ID == "" {
		r.ID = newID()
	}
	ts := now()
	r.CreatedAt = ts
	r.UpdatedAt = ts
	if _, err := s.db.NamedExecContext(ctx, insertRuleQuery, r); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns one rule by id.
func (s *RuleStore) Get(ctx context.Context, id string) (*models.AutoAnalyzeRule, error) {
	var r models.AutoAnalyzeRule
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM auto_analyze_rules WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// List returns all rules ordered by priority, then creation time.
func (s *RuleStore) List(ctx context.Context) ([]models.AutoAnalyzeRule, error) {
	rules := []models.AutoAnalyzeRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM auto_analyze_rules ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return rules, nil
}

// ListEnabled returns enabled rules in evaluation order.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]models.AutoAnalyzeRule, error) {
	rules := []models.AutoAnalyzeRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM auto_analyze_rules WHERE enabled ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return rules, nil
}

const updateRuleQuery = `
UPDATE auto_analyze_rules SET
	name = :name,
	priority = :priority,
	enabled = :enabled,
	alert_name_pattern = :alert_name_pattern,
	severity_pattern = :severity_pattern,
	instance_pattern = :instance_pattern,
	job_pattern = :job_pattern,
	json_logic = :json_logic,
	action = :action,
	updated_at = :updated_at
WHERE id = :id`

// Update rewrites a rule in place.
func (s *RuleStore) Update(ctx context.Context, r *models.AutoAnalyzeRule) error {
	r.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, updateRuleQuery, r)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// Delete removes a rule.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auto_analyze_rules WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}
