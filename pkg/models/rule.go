package models

import "time"

// RuleAction is the decision produced by the rules engine for an alert.
type RuleAction string

// Rule actions.
const (
	ActionAutoAnalyze RuleAction = "auto_analyze"
	ActionManual      RuleAction = "manual"
	ActionIgnore      RuleAction = "ignore"
)

// IsValid checks if the rule action is a known value.
func (a RuleAction) IsValid() bool {
	switch a {
	case ActionAutoAnalyze, ActionManual, ActionIgnore:
		return true
	default:
		return false
	}
}

// AutoAnalyzeRule decides what happens to an incoming alert. Rules are
// evaluated in ascending Priority order; the first enabled rule whose
// predicate matches wins. When JSONLogic is present it replaces the
// pattern fields entirely.
type AutoAnalyzeRule struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	Priority         int        `db:"priority" json:"priority"`
	Enabled          bool       `db:"enabled" json:"enabled"`
	AlertNamePattern string     `db:"alert_name_pattern" json:"alert_name_pattern"`
	SeverityPattern  string     `db:"severity_pattern" json:"severity_pattern"`
	InstancePattern  string     `db:"instance_pattern" json:"instance_pattern"`
	JobPattern       string     `db:"job_pattern" json:"job_pattern"`
	JSONLogic        AnyMap     `db:"json_logic" json:"json_logic,omitempty"`
	Action           RuleAction `db:"action" json:"action"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
