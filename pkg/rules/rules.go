// Package rules decides what happens to an incoming alert: enrich it with
// LLM analysis, leave it for a human, or drop it. It also hosts the
// glob-then-regex pattern matcher shared with the trigger matcher.
package rules

import (
	"log/slog"
	"sort"
	"time"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Decision is the outcome of evaluating the rule set against one alert.
// RuleID is empty when no rule matched and the default applied.
type Decision struct {
	Action   models.RuleAction `json:"action"`
	RuleID   string            `json:"matched_rule_id,omitempty"`
	RuleName string            `json:"matched_rule_name,omitempty"`
}

// Evaluate returns the decision of the first enabled rule, in ascending
// priority order, whose predicate matches the alert. Rules with broken
// patterns or logic trees are skipped with a warning rather than blocking
// intake. When nothing matches the decision defaults to manual.
func Evaluate(alert *models.Alert, ruleset []models.AutoAnalyzeRule) Decision {
	candidates := make([]models.AutoAnalyzeRule, 0, len(ruleset))
	for _, r := range ruleset {
		if r.Enabled {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	for _, rule := range candidates {
		matched, err := ruleMatches(&rule, alert)
		if err != nil {
			slog.Warn("Skipping unevaluable rule",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err)
			continue
		}
		if matched {
			return Decision{Action: rule.Action, RuleID: rule.ID, RuleName: rule.Name}
		}
	}
	return Decision{Action: models.ActionManual}
}

// ruleMatches evaluates one rule. A json_logic tree, when present,
// replaces the pattern fields entirely.
func ruleMatches(rule *models.AutoAnalyzeRule, alert *models.Alert) (bool, error) {
	if len(rule.JSONLogic) > 0 {
		result, err := jsonlogic.ApplyInterface(map[string]any(rule.JSONLogic), AlertDict(alert))
		if err != nil {
			return false, err
		}
		return truthy(result), nil
	}

	checks := []struct {
		pattern string
		value   string
	}{
		{rule.AlertNamePattern, alert.Name},
		{rule.SeverityPattern, alert.Severity},
		{rule.InstancePattern, alert.Instance},
		{rule.JobPattern, alert.Job},
	}
	for _, c := range checks {
		ok, err := MatchPattern(c.pattern, c.value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// AlertDict projects an alert into the dictionary shape exposed to
// json_logic trees and the LLM contract. Label and annotation maps are
// widened so logic var paths can traverse them.
func AlertDict(alert *models.Alert) map[string]any {
	labels := make(map[string]any, len(alert.Labels))
	for k, v := range alert.Labels {
		labels[k] = v
	}
	annotations := make(map[string]any, len(alert.Annotations))
	for k, v := range alert.Annotations {
		annotations[k] = v
	}
	return map[string]any{
		"name":             alert.Name,
		"severity":         alert.Severity,
		"instance":         alert.Instance,
		"job":              alert.Job,
		"status":           string(alert.Status),
		"fingerprint":      alert.Fingerprint,
		"labels":           labels,
		"annotations":      annotations,
		"occurrence_count": float64(alert.OccurrenceCount),
		"starts_at":        alert.StartsAt.UTC().Format(time.RFC3339),
	}
}

func truthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0
	case int:
		return value != 0
	case nil:
		return false
	default:
		return true
	}
}
