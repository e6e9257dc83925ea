package iac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

const sampleDocument = `
name: restart-nginx
description: Restart nginx and verify it is healthy
tags:
  - nginx
  - web
target_os: linux
auto_execute: true
approval_required: false
max_executions_per_hour: 4
cooldown_minutes: 10
target_from_alert: true
target_alert_label: instance
steps:
  - name: restart service
    step_type: command
    command_linux: systemctl restart nginx
    rollback_command_linux: systemctl start nginx
    requires_elevation: true
    timeout_seconds: 120
  - name: verify endpoint
    step_type: api
    api_method: GET
    api_endpoint: "http://{{ server.hostname }}/healthz"
    api_expected_status_codes: [200]
    retry_count: 3
    retry_delay_seconds: 2
triggers:
  - alert_name_pattern: NginxDown
    severity_pattern: critical
    min_occurrences: 2
    cooldown_seconds: 600
`

func TestParse_Document(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "restart-nginx", doc.Name)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, "command", doc.Steps[0].Type)
	assert.Equal(t, "api", doc.Steps[1].Type)
	require.Len(t, doc.Triggers, 1)
	assert.Equal(t, 600, doc.Triggers[0].CooldownSeconds)
}

func TestParse_RejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty document"},
		{"missing name", "steps:\n  - name: a\n    step_type: command\n    command_linux: ls\n", "name is required"},
		{"no steps", "name: x\n", "at least one step"},
		{"unknown field", "name: x\nstepz: []\nsteps:\n  - name: a\n    step_type: command\n    command_linux: ls\n", "field stepz not found"},
		{"unknown step type", "name: x\nsteps:\n  - name: a\n    step_type: shell\n", "unknown step_type"},
		{"command without command", "name: x\nsteps:\n  - name: a\n    step_type: command\n", "command_linux or command_windows"},
		{"api without endpoint", "name: x\nsteps:\n  - name: a\n    step_type: api\n", "api_endpoint"},
		{"bad target os", "name: x\ntarget_os: bsd\nsteps:\n  - name: a\n    step_type: command\n    command_linux: ls\n", "target_os"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToRunbook_AppliesDefaults(t *testing.T) {
	doc, err := Parse([]byte(`
name: minimal
steps:
  - name: only step
    step_type: command
    command_linux: uptime
triggers:
  - alert_name_pattern: SomethingDown
`))
	require.NoError(t, err)

	rb := doc.ToRunbook()
	assert.True(t, rb.Enabled)
	assert.Equal(t, models.TargetAny, rb.TargetOS)
	assert.Equal(t, "instance", rb.TargetAlertLabel)
	assert.Equal(t, 60, rb.ApprovalTimeoutMinutes)
	assert.Equal(t, 10, rb.MaxExecutionsPerHour)
	assert.Equal(t, 5, rb.CooldownMinutes)

	require.Len(t, rb.Steps, 1)
	assert.Equal(t, 1, rb.Steps[0].StepOrder)
	assert.Equal(t, 300, rb.Steps[0].TimeoutSeconds)
	assert.Equal(t, 5, rb.Steps[0].RetryDelaySeconds)

	require.Len(t, rb.Triggers, 1)
	assert.Equal(t, 100, rb.Triggers[0].Priority)
	assert.Equal(t, "*", rb.Triggers[0].SeverityPattern)
	assert.Equal(t, 1, rb.Triggers[0].MinOccurrences)
	assert.True(t, rb.Triggers[0].Enabled)
}

// Export then re-import must reproduce the same runbook definition.
func TestRoundTrip_RunbookToDocumentAndBack(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)
	original := doc.ToRunbook()

	rendered, err := Render(FromRunbook(original))
	require.NoError(t, err)

	reparsed, err := Parse(rendered)
	require.NoError(t, err)
	reimported := reparsed.ToRunbook()

	assert.Equal(t, original, reimported)
}

// A document with a disabled runbook keeps it disabled through the cycle.
func TestRoundTrip_DisabledFlagsSurvive(t *testing.T) {
	doc, err := Parse([]byte(`
name: risky
enabled: false
steps:
  - name: a
    step_type: command
    command_windows: Restart-Service spooler
    target_os: windows
triggers:
  - enabled: false
    alert_name_pattern: SpoolerStuck
`))
	require.NoError(t, err)
	rb := doc.ToRunbook()
	require.False(t, rb.Enabled)
	require.False(t, rb.Triggers[0].Enabled)

	rendered, err := Render(FromRunbook(rb))
	require.NoError(t, err)
	reparsed, err := Parse(rendered)
	require.NoError(t, err)

	assert.Equal(t, rb, reparsed.ToRunbook())
}
