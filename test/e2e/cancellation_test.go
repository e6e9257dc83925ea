package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TestCancelRunningExecution parks a worker inside a step, cancels the
// execution through the API, and expects the driver to be interrupted and
// the row to stay cancelled once the worker reports back.
func TestCancelRunningExecution(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "batch-01")
	rb := app.CreateRunbook(t, commandRunbook("reindex-search", server.ID))

	hold := make(chan struct{})
	defer close(hold)
	app.SSH.HoldRuns(hold)

	resp := app.Execute(t, rb.ID, nil)
	app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusRunning)
	require.Eventually(t, func() bool { return app.SSH.Calls() == 1 },
		5*time.Second, 20*time.Millisecond, "worker never entered the step")

	var cancelled models.RunbookExecution
	app.postJSONAs(t, "/api/remediation/executions/"+resp.ExecutionID+"/cancel", nil,
		map[string]string{"X-Forwarded-User": "oncall"},
		http.StatusOK, &cancelled)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// The API write is canonical; the interrupted worker's result is
	// discarded and the status never moves again.
	final := app.WaitForExecutionStatus(t, resp.ExecutionID, models.StatusCancelled)
	assert.Contains(t, final.ErrorMessage, "cancelled by oncall")
	assert.Equal(t, 1, app.SSH.Calls(), "no further driver traffic after cancel")

	app.WaitForAuditAction(t, resp.ExecutionID, models.AuditExecutionCancel)
}
