package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TestAlertTriggersRemediation drives the primary path end to end: an
// Alertmanager webhook matches a runbook trigger, the worker pool claims
// the execution, both steps run over the spy transport, and the run
// finishes with step records, extracted outputs, and an audit trail.
func TestAlertTriggersRemediation(t *testing.T) {
	app := NewTestApp(t)

	rule := app.CreateAnalyzeRule(t)
	server := app.CreateServer(t, "web-01")
	rb := commandRunbook("restart-nginx", server.ID)
	rb.Steps = []models.RunbookStep{
		{
			Name:           "capture pid",
			Type:           models.StepCommand,
			CommandLinux:   "systemctl show nginx --property MainPID",
			OutputVariable: "pid",
			OutputExtract:  `MainPID=(\d+)`,
		},
		{
			Name:         "restart service",
			Type:         models.StepCommand,
			CommandLinux: "systemctl restart nginx",
		},
	}
	rb = app.CreateRunbook(t, withTrigger(rb, "HighErrorRate"))

	app.SSH.Script(&executor.Result{ExitCode: 0, Stdout: "MainPID=1234"}, nil)

	alertIDs := app.PostWebhook(t, firingWebhook("HighErrorRate", map[string]string{
		"instance": "web-01:9100",
		"job":      "node",
	}))
	require.Len(t, alertIDs, 1)

	ex := app.WaitForExecutionForAlert(t, alertIDs[0])
	assert.Equal(t, models.ModeAuto, ex.Mode)
	assert.Equal(t, rb.ID, ex.RunbookID)
	assert.Equal(t, models.ActorSystem, ex.InitiatedBy)

	final := app.WaitForExecutionStatus(t, ex.ID, models.StatusCompleted)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.ErrorMessage)
	assert.Equal(t, "1234", final.ExtractedValues["pid"])

	require.Len(t, final.Steps, 2)
	first, second := final.Steps[0], final.Steps[1]
	assert.Equal(t, 1, first.StepOrder)
	assert.Equal(t, "capture pid", first.StepName)
	assert.Equal(t, models.StatusCompleted, first.Status)
	assert.Equal(t, "MainPID=1234", first.Stdout)
	require.NotNil(t, first.ExitCode)
	assert.Zero(t, *first.ExitCode)
	assert.Equal(t, 2, second.StepOrder)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, "ok", second.Stdout)

	assert.Equal(t, 2, app.SSH.Calls())

	// The decisions along the way are all on the audit trail.
	app.WaitForAuditAction(t, ex.ID, models.AuditExecutionFinished)
	actions := app.auditActions(t, ex.ID)
	assert.Contains(t, actions, models.AuditExecutionCreated)
	assert.Contains(t, actions, models.AuditExecutionStarted)
	assert.Contains(t, actions, models.AuditStepFinished)

	// The rule decision is recorded against the alert.
	app.WaitForAuditAction(t, alertIDs[0], models.AuditRuleDecision)
	var ruleEvents []models.AuditEvent
	app.getJSON(t, "/api/audit?resource_id="+alertIDs[0]+"&action="+models.AuditRuleDecision, http.StatusOK, &ruleEvents)
	require.Len(t, ruleEvents, 1)
	assert.Equal(t, string(models.ActionAutoAnalyze), ruleEvents[0].Details["action"])
	assert.Equal(t, rule.ID, ruleEvents[0].Details["rule_id"])

	// The stored alert reflects the webhook.
	var alert models.Alert
	app.getJSON(t, "/api/alerts/"+alertIDs[0], http.StatusOK, &alert)
	assert.Equal(t, "HighErrorRate", alert.Name)
	assert.Equal(t, models.AlertFiring, alert.Status)
	assert.Equal(t, 1, alert.OccurrenceCount)
}

// TestRepeatedAlertDeduplicates delivers the same alert twice and expects
// one stored alert with a bumped occurrence count, not two rows.
func TestRepeatedAlertDeduplicates(t *testing.T) {
	app := NewTestApp(t)

	payload := firingWebhook("DiskPressure", map[string]string{"instance": "db-02:9100"})
	first := app.PostWebhook(t, payload)
	second := app.PostWebhook(t, payload)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0], second[0])

	var alert models.Alert
	app.getJSON(t, "/api/alerts/"+first[0], http.StatusOK, &alert)
	assert.Equal(t, 2, alert.OccurrenceCount)
}

// TestDryRunNeverTouchesTransports requests a dry run and expects rendered
// commands on the step records with zero driver traffic.
func TestDryRunNeverTouchesTransports(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "db-01")
	rb := commandRunbook("rotate-logs", server.ID)
	created := app.CreateRunbook(t, rb)

	resp := app.Execute(t, created.ID, map[string]any{"dry_run": true})
	final := app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCompleted)

	assert.True(t, final.IsDryRun)
	assert.Equal(t, models.ModeManual, final.Mode)
	require.Len(t, final.Steps, 1)
	assert.Equal(t, models.StatusCompleted, final.Steps[0].Status)
	assert.Equal(t, "[dry-run] systemctl restart nginx", final.Steps[0].Stdout)

	assert.Zero(t, app.SSH.Calls(), "dry run must not reach the driver")
	assert.Zero(t, app.WinRM.Calls())
	assert.Zero(t, app.API.Calls())
}

// TestUnmatchedAlertCreatesNoExecution posts an alert no trigger accepts;
// the webhook still succeeds and only the alert is stored.
func TestUnmatchedAlertCreatesNoExecution(t *testing.T) {
	app := NewTestApp(t)

	app.CreateAnalyzeRule(t)
	alertIDs := app.PostWebhook(t, firingWebhook("UnknownAlert", nil))
	require.Len(t, alertIDs, 1)

	// The decision lands before trigger matching, so once it is on the
	// audit trail the absence of an execution is meaningful.
	app.WaitForAuditAction(t, alertIDs[0], models.AuditRuleDecision)
	time.Sleep(200 * time.Millisecond)

	var list []models.RunbookExecution
	app.getJSON(t, "/api/executions?alert_id="+alertIDs[0], http.StatusOK, &list)
	assert.Empty(t, list)
}
