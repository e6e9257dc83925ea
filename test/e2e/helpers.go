package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/intake"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// do issues one request and decodes the JSON response into out (skipped
// when out is nil). headers may carry the identity headers a fronting
// proxy would inject.
func (app *TestApp) do(t *testing.T, method, path, contentType string, body io.Reader, headers map[string]string, wantStatus int, out any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: unexpected status, body: %s", method, path, raw)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "%s %s: undecodable body: %s", method, path, raw)
	}
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, wantStatus int, out any) {
	t.Helper()
	app.postJSONAs(t, path, body, nil, wantStatus, out)
}

// postJSONAs posts with identity headers, for endpoints that check roles.
func (app *TestApp) postJSONAs(t *testing.T, path string, body any, headers map[string]string, wantStatus int, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	app.do(t, http.MethodPost, path, "application/json", reader, headers, wantStatus, out)
}

func (app *TestApp) getJSON(t *testing.T, path string, wantStatus int, out any) {
	t.Helper()
	app.do(t, http.MethodGet, path, "", nil, nil, wantStatus, out)
}

func (app *TestApp) putJSON(t *testing.T, path string, body any, wantStatus int, out any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	app.do(t, http.MethodPut, path, "application/json", bytes.NewReader(data), nil, wantStatus, out)
}

func (app *TestApp) doDelete(t *testing.T, path string, wantStatus int) {
	t.Helper()
	app.do(t, http.MethodDelete, path, "", nil, nil, wantStatus, nil)
}

// getBody fetches a non-JSON response, such as an exported IaC document.
func (app *TestApp) getBody(t *testing.T, path string, wantStatus int) []byte {
	t.Helper()
	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s: unexpected status, body: %s", path, raw)
	return raw
}

// ────────────────────────────────────────────────────────────
// Fixture Helpers
// ────────────────────────────────────────────────────────────

// CreateServer registers a managed Linux/SSH server over the API and
// returns the stored record.
func (app *TestApp) CreateServer(t *testing.T, name string) *models.ServerCredential {
	t.Helper()
	body := map[string]any{
		"name":      name,
		"protocol":  "ssh",
		"hostname":  name + ".example.internal",
		"port":      22,
		"username":  "remedy",
		"os_type":   "linux",
		"auth_type": "password",
		"enabled":   true,
		"secret":    "swordfish",
	}
	var created models.ServerCredential
	app.postJSON(t, "/api/servers", body, http.StatusCreated, &created)
	return &created
}

// CreateRunbook persists a runbook definition over the API.
func (app *TestApp) CreateRunbook(t *testing.T, rb *models.Runbook) *models.Runbook {
	t.Helper()
	var created models.Runbook
	app.postJSON(t, "/api/remediation/runbooks", rb, http.StatusCreated, &created)
	return &created
}

// commandRunbook builds an enabled, auto-executing runbook with one Linux
// command step against the given default server. Tests adjust approval,
// trigger, and step fields before creating it.
func commandRunbook(name, serverID string) *models.Runbook {
	return &models.Runbook{
		Name:            name,
		Description:     "restarts the affected service",
		TargetOS:        models.TargetLinux,
		Enabled:         true,
		AutoExecute:     true,
		DefaultServerID: &serverID,
		Steps: []models.RunbookStep{{
			Name:         "restart service",
			Type:         models.StepCommand,
			CommandLinux: "systemctl restart nginx",
		}},
	}
}

// withTrigger attaches one enabled trigger matching the alert name.
// CreateAnalyzeRule installs a catch-all auto_analyze rule. Alerts only
// reach trigger matching behind an auto_analyze decision, so most webhook
// scenarios start here.
func (app *TestApp) CreateAnalyzeRule(t *testing.T) *models.AutoAnalyzeRule {
	t.Helper()
	var created models.AutoAnalyzeRule
	app.postJSON(t, "/api/rules", &models.AutoAnalyzeRule{
		Name:             "analyze critical alerts",
		Priority:         1,
		Enabled:          true,
		AlertNamePattern: "*",
		SeverityPattern:  "critical",
		Action:           models.ActionAutoAnalyze,
	}, http.StatusCreated, &created)
	return &created
}

func withTrigger(rb *models.Runbook, alertNamePattern string) *models.Runbook {
	rb.Triggers = append(rb.Triggers, models.RunbookTrigger{
		Enabled:          true,
		AlertNamePattern: alertNamePattern,
	})
	return rb
}

// firingWebhook builds a minimal Alertmanager payload carrying one firing
// alert with the given name plus any extra labels.
func firingWebhook(alertname string, labels map[string]string) *intake.WebhookPayload {
	merged := map[string]string{"alertname": alertname, "severity": "critical"}
	for k, v := range labels {
		merged[k] = v
	}
	return &intake.WebhookPayload{
		Version:  "4",
		GroupKey: fmt.Sprintf(`{}:{alertname=%q}`, alertname),
		Status:   "firing",
		Receiver: "remedy",
		Alerts: []intake.WebhookAlert{{
			Status:      "firing",
			Labels:      merged,
			Annotations: map[string]string{"summary": "service is unhealthy"},
			StartsAt:    time.Now().UTC().Add(-time.Minute),
		}},
	}
}

// PostWebhook delivers an Alertmanager payload and returns the upserted
// alert ids.
func (app *TestApp) PostWebhook(t *testing.T, payload *intake.WebhookPayload) []string {
	t.Helper()
	var resp api.WebhookResponse
	app.postJSON(t, "/webhook/alerts", payload, http.StatusOK, &resp)
	return resp.AlertIDs
}

// adminHeaders is the identity an authenticating proxy would inject for
// an on-call operator in the admin group. Gate bypass flags are only
// honored for this group.
var adminHeaders = map[string]string{
	"X-Forwarded-User":   "oncall",
	"X-Forwarded-Groups": "admin",
}

// Execute requests a manual run of a runbook as an admin operator and
// returns the accepted response. body may be nil.
func (app *TestApp) Execute(t *testing.T, runbookID string, body map[string]any) api.ExecuteResponse {
	t.Helper()
	var resp api.ExecuteResponse
	app.postJSONAs(t, "/api/remediation/runbooks/"+runbookID+"/execute", body, adminHeaders, http.StatusAccepted, &resp)
	return resp
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// fetchExecution loads one execution without failing the test, for use
// inside poll loops.
func (app *TestApp) fetchExecution(id string) (*models.RunbookExecution, error) {
	resp, err := http.Get(app.BaseURL + "/api/remediation/executions/" + id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET execution %s: HTTP %d", id, resp.StatusCode)
	}
	var ex models.RunbookExecution
	if err := json.NewDecoder(resp.Body).Decode(&ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// WaitForExecutionStatus polls the API until the execution reaches one of
// the expected statuses and returns the final record, steps included.
func (app *TestApp) WaitForExecutionStatus(t *testing.T, id string, expected ...models.ExecutionStatus) *models.RunbookExecution {
	t.Helper()
	var last *models.RunbookExecution
	require.Eventually(t, func() bool {
		ex, err := app.fetchExecution(id)
		if err != nil {
			return false
		}
		last = ex
		for _, want := range expected {
			if ex.Status == want {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"execution %s did not reach status %v (last: %+v)", id, expected, last)
	return last
}

// WaitForExecutionForAlert polls until the intake pipeline has created an
// execution for the alert and returns it.
func (app *TestApp) WaitForExecutionForAlert(t *testing.T, alertID string) *models.RunbookExecution {
	t.Helper()
	var found models.RunbookExecution
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/executions?alert_id=" + alertID)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var list []models.RunbookExecution
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil || len(list) == 0 {
			return false
		}
		found = list[0]
		return true
	}, 30*time.Second, 100*time.Millisecond,
		"no execution created for alert %s", alertID)
	return &found
}

// WaitForExecutionForRunbook polls until an execution exists for the
// runbook, used when the sweeper rather than the API spawns the run.
func (app *TestApp) WaitForExecutionForRunbook(t *testing.T, runbookID string) *models.RunbookExecution {
	t.Helper()
	var found models.RunbookExecution
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/executions?runbook_id=" + runbookID)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var list []models.RunbookExecution
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil || len(list) == 0 {
			return false
		}
		found = list[0]
		return true
	}, 30*time.Second, 100*time.Millisecond,
		"no execution created for runbook %s", runbookID)
	return &found
}

// ────────────────────────────────────────────────────────────
// Audit Helpers
// ────────────────────────────────────────────────────────────

// auditActions lists the recorded audit actions for a resource, newest
// first.
func (app *TestApp) auditActions(t *testing.T, resourceID string) []string {
	t.Helper()
	var events []models.AuditEvent
	app.getJSON(t, "/api/audit?resource_id="+resourceID, http.StatusOK, &events)
	actions := make([]string, 0, len(events))
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	return actions
}

// WaitForAuditAction polls until the asynchronous recorder has flushed an
// event with the given action for the resource.
func (app *TestApp) WaitForAuditAction(t *testing.T, resourceID, action string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/audit?resource_id=" + resourceID + "&action=" + action)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var events []models.AuditEvent
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			return false
		}
		return len(events) > 0
	}, 10*time.Second, 100*time.Millisecond,
		"audit action %s for resource %s never recorded", action, resourceID)
}

// WaitForGateDenial polls the audit trail for a gate.denied event naming
// the runbook. Denials recorded during alert intake never create an
// execution row, so the audit trail is the only durable evidence.
func (app *TestApp) WaitForGateDenial(t *testing.T, runbookID string) models.AuditEvent {
	t.Helper()
	var found models.AuditEvent
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/audit?action=" + models.AuditGateDenied)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var events []models.AuditEvent
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Details["runbook_id"] == runbookID {
				found = ev
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond,
		"gate denial for runbook %s never recorded", runbookID)
	return found
}

// ────────────────────────────────────────────────────────────
// Breaker Helpers
// ────────────────────────────────────────────────────────────

// WaitForBreakerState polls a runbook's circuit breaker until it reaches
// the expected state. Breaker bookkeeping happens during finalize, a beat
// after the execution's terminal status becomes visible.
func (app *TestApp) WaitForBreakerState(t *testing.T, runbookID string, state models.BreakerState) *models.CircuitBreaker {
	t.Helper()
	var found models.CircuitBreaker
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/remediation/circuit-breaker/" + runbookID)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var b models.CircuitBreaker
		if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
			return false
		}
		found = b
		return b.State == state
	}, 15*time.Second, 100*time.Millisecond,
		"breaker for runbook %s never reached %s (last: %+v)", runbookID, state, &found)
	return &found
}
