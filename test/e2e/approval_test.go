package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TestApprovalGate walks an execution through the approval flow: it parks
// in pending_approval without touching the drivers, rejects an approver
// outside the allowed roles, then runs to completion once someone with the
// right group signs off.
func TestApprovalGate(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "pay-01")
	rb := commandRunbook("failover-payments", server.ID)
	rb.AutoExecute = false
	rb.ApprovalRequired = true
	rb.ApprovalRoles = models.StringList{"sre", "oncall-lead"}
	created := app.CreateRunbook(t, rb)

	resp := app.Execute(t, created.ID, nil)
	assert.Equal(t, models.StatusPendingApproval, resp.Status)

	// Nothing may run while the approval is outstanding.
	time.Sleep(300 * time.Millisecond)
	ex, err := app.fetchExecution(resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, ex.Status)
	require.NotNil(t, ex.ApprovalDueAt)
	assert.Zero(t, app.SSH.Calls())

	// An approver without any of the required groups is turned away.
	var errBody api.ErrorBody
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/approve", nil,
		map[string]string{"X-Forwarded-User": "eve", "X-Forwarded-Groups": "dev"},
		http.StatusForbidden, &errBody)
	assert.Equal(t, api.KindForbidden, errBody.Error.Kind)

	var approved models.RunbookExecution
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/approve", nil,
		map[string]string{"X-Forwarded-User": "alice", "X-Forwarded-Groups": "sre, platform"},
		http.StatusOK, &approved)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "alice", *approved.ApprovedBy)

	final := app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCompleted)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Positive(t, app.SSH.Calls())

	app.WaitForAuditAction(t, resp.ExecutionID, models.AuditExecutionApproved)
}

// TestCancelPendingApproval cancels a parked execution and verifies a late
// approval bounces off the terminal state.
func TestCancelPendingApproval(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "pay-02")
	rb := commandRunbook("drain-node", server.ID)
	rb.AutoExecute = false
	created := app.CreateRunbook(t, rb)

	resp := app.Execute(t, created.ID, nil)
	require.Equal(t, models.StatusPendingApproval, resp.Status)

	var cancelled models.RunbookExecution
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/cancel", nil,
		map[string]string{"X-Forwarded-User": "bob"},
		http.StatusOK, &cancelled)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	var errBody api.ErrorBody
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/approve", nil,
		map[string]string{"X-Forwarded-User": "alice"},
		http.StatusConflict, &errBody)
	assert.Equal(t, api.KindConflict, errBody.Error.Kind)

	assert.Zero(t, app.SSH.Calls())
	app.WaitForAuditAction(t, resp.ExecutionID, models.AuditExecutionCancel)
}

// TestApprovalWindowExpires ages a pending approval past its deadline and
// lets the sweeper time it out. The default window is an hour, so the test
// rewrites the deadline instead of waiting it out.
func TestApprovalWindowExpires(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "pay-03")
	rb := commandRunbook("rotate-api-keys", server.ID)
	rb.AutoExecute = false
	created := app.CreateRunbook(t, rb)

	resp := app.Execute(t, created.ID, nil)
	require.Equal(t, models.StatusPendingApproval, resp.Status)

	_, err := app.DB.Exec(
		`UPDATE runbook_executions SET approval_due_at = now() - interval '1 minute' WHERE id = $1`,
		resp.ExecutionID)
	require.NoError(t, err)

	final := app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusTimeout)
	assert.Equal(t, "approval window elapsed", final.ErrorMessage)
	assert.Zero(t, app.SSH.Calls())

	// A late approval reports the elapsed window as a timeout, not a
	// transition error.
	var errBody api.ErrorBody
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/approve", nil,
		map[string]string{"X-Forwarded-User": "alice"},
		http.StatusGatewayTimeout, &errBody)
	assert.Equal(t, api.KindTimeout, errBody.Error.Kind)
	assert.Equal(t, "approval window elapsed", errBody.Error.Message)

	app.WaitForAuditAction(t, resp.ExecutionID, models.AuditExecutionTimeout)
	var events []models.AuditEvent
	app.getJSON(t, "/api/audit?resource_id="+resp.ExecutionID+"&action="+models.AuditExecutionTimeout, http.StatusOK, &events)
	require.Len(t, events, 1)
	assert.Equal(t, "approval window elapsed", events[0].Details["reason"])
}
