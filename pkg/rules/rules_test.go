package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func testAlert() *models.Alert {
	return &models.Alert{
		ID:          "a-1",
		Fingerprint: "fp-1",
		Name:        "NginxDown",
		Severity:    "critical",
		Instance:    "web-01:9100",
		Job:         "node",
		Labels:      models.StringMap{"env": "prod"},
		Annotations: models.StringMap{"summary": "nginx dead"},
		Status:      models.AlertFiring,
	}
}

func TestEvaluateFirstMatchByPriority(t *testing.T) {
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-low", Name: "catch-all", Priority: 100, Enabled: true,
			AlertNamePattern: "*", Action: models.ActionManual,
		},
		{
			ID: "r-high", Name: "critical-auto", Priority: 1, Enabled: true,
			AlertNamePattern: "*", SeverityPattern: "critical",
			Action: models.ActionAutoAnalyze,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, models.ActionAutoAnalyze, d.Action)
	assert.Equal(t, "r-high", d.RuleID)
	assert.Equal(t, "critical-auto", d.RuleName)
}

func TestEvaluateSkipsDisabled(t *testing.T) {
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-1", Priority: 1, Enabled: false,
			AlertNamePattern: "*", Action: models.ActionIgnore,
		},
		{
			ID: "r-2", Priority: 2, Enabled: true,
			AlertNamePattern: "Nginx*", Action: models.ActionAutoAnalyze,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, models.ActionAutoAnalyze, d.Action)
	assert.Equal(t, "r-2", d.RuleID)
}

func TestEvaluateDefaultManual(t *testing.T) {
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-1", Priority: 1, Enabled: true,
			AlertNamePattern: "Disk*", Action: models.ActionIgnore,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, models.ActionManual, d.Action)
	assert.Empty(t, d.RuleID)
}

func TestEvaluateJSONLogicOverridesPatterns(t *testing.T) {
	// Pattern fields would reject the alert; the logic tree matches, and it
	// alone decides.
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-logic", Priority: 1, Enabled: true,
			AlertNamePattern: "NeverMatches",
			JSONLogic: models.AnyMap{
				"and": []any{
					map[string]any{"==": []any{map[string]any{"var": "severity"}, "critical"}},
					map[string]any{"==": []any{map[string]any{"var": "labels.env"}, "prod"}},
				},
			},
			Action: models.ActionAutoAnalyze,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, models.ActionAutoAnalyze, d.Action)
	assert.Equal(t, "r-logic", d.RuleID)
}

func TestEvaluateJSONLogicNoMatchFallsThrough(t *testing.T) {
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-logic", Priority: 1, Enabled: true,
			JSONLogic: models.AnyMap{
				"==": []any{map[string]any{"var": "severity"}, "warning"},
			},
			Action: models.ActionIgnore,
		},
		{
			ID: "r-next", Priority: 2, Enabled: true,
			AlertNamePattern: "*", Action: models.ActionAutoAnalyze,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, "r-next", d.RuleID)
}

func TestEvaluateSkipsBrokenRule(t *testing.T) {
	ruleset := []models.AutoAnalyzeRule{
		{
			ID: "r-broken", Priority: 1, Enabled: true,
			AlertNamePattern: "ngin[x", Action: models.ActionIgnore,
		},
		{
			ID: "r-ok", Priority: 2, Enabled: true,
			AlertNamePattern: "*", Action: models.ActionManual,
		},
	}

	d := Evaluate(testAlert(), ruleset)
	assert.Equal(t, "r-ok", d.RuleID)
	assert.Equal(t, models.ActionManual, d.Action)
}

func TestAlertDictShape(t *testing.T) {
	dict := AlertDict(testAlert())

	assert.Equal(t, "NginxDown", dict["name"])
	assert.Equal(t, "critical", dict["severity"])
	labels, ok := dict["labels"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "prod", labels["env"])
}
