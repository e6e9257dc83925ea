package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

// TestBreakerOpensAfterRepeatedFailures drives one runbook to its failure
// threshold and verifies its breaker opens, stays scoped to that runbook,
// blocks the next execute with a 423, and hands control back after a
// manual override. A healthy second runbook keeps succeeding in between,
// which also keeps the shared global breaker closed.
func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "cache-01")
	flaky := app.CreateRunbook(t, commandRunbook("flush-cache", server.ID))
	healthy := app.CreateRunbook(t, commandRunbook("rotate-cache-logs", server.ID))

	for i := 0; i < models.DefaultFailureThreshold; i++ {
		app.SSH.Script(&executor.Result{ExitCode: 1, Stderr: "connection refused"}, nil)
		resp := app.Execute(t, flaky.ID, map[string]any{"bypass_cooldown": true})
		app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusFailed)

		ok := app.Execute(t, healthy.ID, map[string]any{"bypass_cooldown": true})
		app.WaitForExecutionStatus(t, ok.ExecutionID, models.StatusCompleted)
	}

	breaker := app.WaitForBreakerState(t, flaky.ID, models.BreakerOpen)
	assert.False(t, breaker.ManuallyOpened)
	assert.GreaterOrEqual(t, breaker.FailureCount, models.DefaultFailureThreshold)

	// The neighbour's breaker is untouched.
	var other models.CircuitBreaker
	app.getJSON(t, "/api/remediation/circuit-breaker/"+healthy.ID, http.StatusOK, &other)
	assert.Equal(t, models.BreakerClosed, other.State)

	// An open breaker locks the runbook out even for an admin.
	var errBody api.ErrorBody
	app.postJSONAs(t, "/api/remediation/runbooks/"+flaky.ID+"/execute",
		map[string]any{"bypass_cooldown": true}, adminHeaders, http.StatusLocked, &errBody)
	assert.Equal(t, string(safety.DenialCircuitOpen), errBody.Error.Kind)

	// Operator closes the breaker by hand; the runbook runs again.
	var closed models.CircuitBreaker
	app.postJSONAs(t, "/api/remediation/circuit-breaker/"+flaky.ID+"/override",
		api.OverrideBreakerRequest{State: models.BreakerClosed},
		map[string]string{"X-Forwarded-User": "oncall"},
		http.StatusOK, &closed)
	assert.Equal(t, models.BreakerClosed, closed.State)

	resp := app.Execute(t, flaky.ID, map[string]any{"bypass_cooldown": true})
	app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCompleted)

	app.WaitForAuditAction(t, closed.ID, models.AuditBreakerOverride)
}

// TestBlackoutWindow verifies an auto_only maintenance window silently
// drops trigger-fired executions while manual runs pass, and that an
// all-modes window blocks manual runs unless explicitly bypassed.
func TestBlackoutWindow(t *testing.T) {
	app := NewTestApp(t)

	app.CreateAnalyzeRule(t)
	server := app.CreateServer(t, "app-01")
	rb := app.CreateRunbook(t, withTrigger(commandRunbook("restart-app", server.ID), "AppDown"))

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	var window models.BlackoutWindow
	app.postJSON(t, "/api/blackouts", &models.BlackoutWindow{
		Name:       "weekend freeze",
		Enabled:    true,
		Recurrence: models.RecurrenceOnce,
		StartTime:  &start,
		EndTime:    &end,
		AppliesTo:  models.AppliesAutoOnly,
	}, http.StatusCreated, &window)

	// The trigger fires but the gate swallows the execution.
	alertIDs := app.PostWebhook(t, firingWebhook("AppDown", map[string]string{"instance": "app-01:8080"}))
	require.Len(t, alertIDs, 1)

	denial := app.WaitForGateDenial(t, rb.ID)
	assert.Equal(t, string(safety.DenialBlackout), denial.Details["kind"])

	var executions []models.RunbookExecution
	app.getJSON(t, "/api/executions?alert_id="+alertIDs[0], http.StatusOK, &executions)
	assert.Empty(t, executions, "denied trigger must not leave an execution row")

	// auto_only does not cover a human-initiated run.
	manual := app.Execute(t, rb.ID, nil)
	app.WaitForExecutionStatus(t, manual.ExecutionID, models.StatusCompleted)

	t.Run("all-modes window blocks manual runs", func(t *testing.T) {
		var full models.BlackoutWindow
		app.postJSON(t, "/api/blackouts", &models.BlackoutWindow{
			Name:       "total freeze",
			Enabled:    true,
			Recurrence: models.RecurrenceOnce,
			StartTime:  &start,
			EndTime:    &end,
			AppliesTo:  models.AppliesAll,
		}, http.StatusCreated, &full)

		var errBody api.ErrorBody
		app.postJSONAs(t, "/api/remediation/runbooks/"+rb.ID+"/execute",
			map[string]any{"bypass_cooldown": true}, adminHeaders, http.StatusLocked, &errBody)
		assert.Equal(t, string(safety.DenialBlackout), errBody.Error.Kind)

		resp := app.Execute(t, rb.ID, map[string]any{"bypass_cooldown": true, "bypass_blackout": true})
		app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCompleted)
		app.WaitForAuditAction(t, resp.ExecutionID, models.AuditGateBypassed)
	})
}

// TestCooldownAndHourlyRateLimit runs a runbook back to back. The second
// attempt hits the cooldown, bypassing the cooldown works until the hourly
// cap is spent, and the cap cannot be bypassed.
func TestCooldownAndHourlyRateLimit(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "tmp-01")
	rb := commandRunbook("clear-tmp-files", server.ID)
	rb.MaxExecutionsPerHour = 2
	created := app.CreateRunbook(t, rb)

	first := app.Execute(t, created.ID, nil)
	app.WaitForExecutionStatus(t, first.ExecutionID, models.StatusCompleted)

	// Default cooldown is five minutes, so an immediate rerun is denied.
	var errBody api.ErrorBody
	app.postJSON(t, "/api/remediation/runbooks/"+created.ID+"/execute", nil,
		http.StatusLocked, &errBody)
	assert.Equal(t, string(safety.DenialInCooldown), errBody.Error.Kind)
	assert.EqualValues(t, 5, errBody.Error.Details["cooldown_minutes"])

	second := app.Execute(t, created.ID, map[string]any{"bypass_cooldown": true})
	app.WaitForExecutionStatus(t, second.ExecutionID, models.StatusCompleted)

	// Two starts inside the hour exhaust the cap; the bypass flag only
	// covers cooldowns.
	app.postJSONAs(t, "/api/remediation/runbooks/"+created.ID+"/execute",
		map[string]any{"bypass_cooldown": true}, adminHeaders, http.StatusLocked, &errBody)
	assert.Equal(t, string(safety.DenialRateLimited), errBody.Error.Kind)
	assert.EqualValues(t, 2, errBody.Error.Details["limit"])
	assert.EqualValues(t, 2, errBody.Error.Details["count"])

	var list []models.RunbookExecution
	app.getJSON(t, "/api/executions?runbook_id="+created.ID, http.StatusOK, &list)
	assert.Len(t, list, 2)
}

// TestGateBypassRequiresAdminRole verifies the bypass flags are honored
// only for callers in the admin group: anyone else gets a 403 before the
// gates even run, and an admin's bypass is both honored and audited.
func TestGateBypassRequiresAdminRole(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "bill-01")
	rb := app.CreateRunbook(t, commandRunbook("restart-billing", server.ID))

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	var window models.BlackoutWindow
	app.postJSON(t, "/api/blackouts", &models.BlackoutWindow{
		Name:       "change freeze",
		Enabled:    true,
		Recurrence: models.RecurrenceOnce,
		StartTime:  &start,
		EndTime:    &end,
		AppliesTo:  models.AppliesAll,
	}, http.StatusCreated, &window)

	// An anonymous caller cannot request a bypass at all.
	var errBody api.ErrorBody
	app.postJSON(t, "/api/remediation/runbooks/"+rb.ID+"/execute",
		map[string]any{"bypass_blackout": true}, http.StatusForbidden, &errBody)
	assert.Equal(t, api.KindForbidden, errBody.Error.Kind)

	// Nor can a caller whose groups lack admin.
	app.postJSONAs(t, "/api/remediation/runbooks/"+rb.ID+"/execute",
		map[string]any{"bypass_blackout": true},
		map[string]string{"X-Forwarded-User": "eve", "X-Forwarded-Groups": "dev, sre"},
		http.StatusForbidden, &errBody)
	assert.Equal(t, api.KindForbidden, errBody.Error.Kind)

	var list []models.RunbookExecution
	app.getJSON(t, "/api/executions?runbook_id="+rb.ID, http.StatusOK, &list)
	assert.Empty(t, list, "a refused bypass must not leave an execution row")

	// Without the flag the admin is denied by the window like anyone else.
	app.postJSONAs(t, "/api/remediation/runbooks/"+rb.ID+"/execute",
		nil, adminHeaders, http.StatusLocked, &errBody)
	assert.Equal(t, string(safety.DenialBlackout), errBody.Error.Kind)

	// An admin's bypass is honored and leaves an audit trail.
	var resp api.ExecuteResponse
	app.postJSONAs(t, "/api/remediation/runbooks/"+rb.ID+"/execute",
		map[string]any{"bypass_blackout": true}, adminHeaders, http.StatusAccepted, &resp)
	app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCompleted)
	app.WaitForAuditAction(t, resp.ExecutionID, models.AuditGateBypassed)
}
