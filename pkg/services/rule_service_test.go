package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func validRule() *models.AutoAnalyzeRule {
	return &models.AutoAnalyzeRule{
		Name:             "analyze critical",
		Priority:         10,
		Enabled:          true,
		AlertNamePattern: "*",
		SeverityPattern:  "critical",
		Action:           models.ActionAutoAnalyze,
	}
}

func TestValidateRule(t *testing.T) {
	t.Run("valid rule passes", func(t *testing.T) {
		require.NoError(t, validateRule(validRule()))
	})

	t.Run("valid json_logic passes", func(t *testing.T) {
		r := validRule()
		r.JSONLogic = models.AnyMap{"==": []any{map[string]any{"var": "severity"}, "critical"}}
		require.NoError(t, validateRule(r))
	})

	tests := []struct {
		name   string
		mutate func(*models.AutoAnalyzeRule)
		field  string
	}{
		{
			name:   "missing name",
			mutate: func(r *models.AutoAnalyzeRule) { r.Name = "" },
			field:  "name",
		},
		{
			name:   "unknown action",
			mutate: func(r *models.AutoAnalyzeRule) { r.Action = "explode" },
			field:  "action",
		},
		{
			name:   "negative priority",
			mutate: func(r *models.AutoAnalyzeRule) { r.Priority = -1 },
			field:  "priority",
		},
		{
			name:   "broken regex pattern",
			mutate: func(r *models.AutoAnalyzeRule) { r.AlertNamePattern = "High(Cpu" },
			field:  "alert_name_pattern",
		},
		{
			name:   "broken severity pattern",
			mutate: func(r *models.AutoAnalyzeRule) { r.SeverityPattern = "[z-a]" },
			field:  "severity_pattern",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)

			err := validateRule(r)
			require.Error(t, err)
			require.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateRuleGlobPatternsAlwaysCompile(t *testing.T) {
	r := validRule()
	r.AlertNamePattern = "High?Cpu*"
	r.InstancePattern = "web-*"
	require.NoError(t, validateRule(r))
}
