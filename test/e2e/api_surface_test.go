package e2e

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TestHealthEndpoint verifies the unauthenticated health probe reports the
// database and worker pool.
func TestHealthEndpoint(t *testing.T) {
	app := NewTestApp(t)

	var health api.HealthResponse
	app.getJSON(t, "/health", http.StatusOK, &health)
	assert.Equal(t, "healthy", health.Status)
	require.Contains(t, health.Checks, "database")
	assert.Equal(t, "healthy", health.Checks["database"].Status)
	assert.Contains(t, health.Checks, "worker_pool")
}

// TestServerSecretsNeverReturned writes a credential and inspects every
// read surface for leaked secret material.
func TestServerSecretsNeverReturned(t *testing.T) {
	app := NewTestApp(t)

	created := app.CreateServer(t, "vault-01")

	for _, path := range []string{
		"/api/servers",
		"/api/servers/" + created.ID,
	} {
		body := app.getBody(t, path, http.StatusOK)
		assert.NotContains(t, string(body), "swordfish", "secret leaked on %s", path)
		assert.NotContains(t, string(body), "secret", "secret field serialized on %s", path)
	}

	// Rotating the secret must not echo it back either.
	var updated models.ServerCredential
	app.putJSON(t, "/api/servers/"+created.ID, map[string]any{
		"name":      created.Name,
		"protocol":  created.Protocol,
		"hostname":  created.Hostname,
		"port":      created.Port,
		"username":  created.Username,
		"os_type":   created.OSType,
		"auth_type": created.AuthType,
		"enabled":   true,
		"secret":    "rotated-hunter2",
	}, http.StatusOK, &updated)
	assert.Equal(t, created.ID, updated.ID)

	body := app.getBody(t, "/api/servers/"+created.ID, http.StatusOK)
	assert.NotContains(t, string(body), "rotated-hunter2")

	// The audit trail records the rotation without the material.
	app.WaitForAuditAction(t, created.ID, models.AuditResourceUpdated)
	auditBody := app.getBody(t, "/api/audit?resource_id="+created.ID, http.StatusOK)
	assert.NotContains(t, string(auditBody), "swordfish")
	assert.NotContains(t, string(auditBody), "rotated-hunter2")
}

// TestRunbookExportImportRoundTrip exports a runbook as YAML, imports it
// back, and expects a field-stable document and an in-place upsert.
func TestRunbookExportImportRoundTrip(t *testing.T) {
	app := NewTestApp(t)

	server := app.CreateServer(t, "iac-01")
	rb := commandRunbook("rotate-certificates", server.ID)
	rb.Description = "renews and reloads the edge certificates"
	rb.Steps = []models.RunbookStep{
		{
			Name:           "renew",
			Type:           models.StepCommand,
			CommandLinux:   "certbot renew --deploy-hook 'systemctl reload nginx'",
			RollbackLinux:  "certbot rollback",
			OutputVariable: "renewed",
			OutputExtract:  `(\d+) renewed`,
		},
		{
			Name:         "verify chain",
			Type:         models.StepCommand,
			CommandLinux: "openssl s_client -connect localhost:443 -brief",
		},
	}
	created := app.CreateRunbook(t, withTrigger(rb, "CertExpiry*"))

	exported := app.getBody(t, "/api/remediation/runbooks/"+created.ID+"/export", http.StatusOK)
	doc := string(exported)
	assert.Contains(t, doc, "name: rotate-certificates")
	assert.Contains(t, doc, "command_linux: certbot renew")
	assert.Contains(t, doc, "alert_name_pattern: CertExpiry*")
	assert.NotContains(t, doc, created.ID, "server-assigned ids never leave in the document")

	// Importing the export is an in-place upsert keyed on the name.
	var imported models.Runbook
	app.do(t, http.MethodPost, "/api/remediation/runbooks/import", "application/x-yaml",
		bytes.NewReader(exported), nil, http.StatusCreated, &imported)
	assert.Equal(t, created.ID, imported.ID)
	assert.Greater(t, imported.Version, created.Version)
	require.Len(t, imported.Steps, 2)
	assert.Equal(t, created.Steps[0].CommandLinux, imported.Steps[0].CommandLinux)
	require.Len(t, imported.Triggers, 1)
	assert.Equal(t, "CertExpiry*", imported.Triggers[0].AlertNamePattern)

	reExported := app.getBody(t, "/api/remediation/runbooks/"+created.ID+"/export", http.StatusOK)
	assert.Equal(t, string(exported), string(reExported), "export must be stable across a round-trip")

	// The same document under a new name creates a sibling runbook.
	renamed := strings.Replace(doc, "name: rotate-certificates", "name: rotate-certificates-staging", 1)
	var sibling models.Runbook
	app.do(t, http.MethodPost, "/api/remediation/runbooks/import", "application/x-yaml",
		strings.NewReader(renamed), nil, http.StatusCreated, &sibling)
	assert.NotEqual(t, created.ID, sibling.ID)
	assert.Equal(t, "rotate-certificates-staging", sibling.Name)
}

// TestErrorEnvelopes spot-checks the error contract: kinds are stable
// strings and validation failures name the offending field.
func TestErrorEnvelopes(t *testing.T) {
	app := NewTestApp(t)

	var errBody api.ErrorBody
	app.getJSON(t, "/api/remediation/runbooks/"+uuid.NewString(), http.StatusNotFound, &errBody)
	assert.Equal(t, api.KindNotFound, errBody.Error.Kind)
	assert.NotEmpty(t, errBody.Error.Message)

	app.postJSON(t, "/api/remediation/runbooks", &models.Runbook{
		Name:    "no steps",
		Enabled: true,
	}, http.StatusBadRequest, &errBody)
	assert.Equal(t, api.KindValidation, errBody.Error.Kind)
	assert.Equal(t, "steps", errBody.Error.Details["field"])

	app.postJSONAs(t, "/api/remediation/executions/"+uuid.NewString()+"/approve", nil,
		map[string]string{"X-Forwarded-User": "alice"}, http.StatusNotFound, &errBody)
	assert.Equal(t, api.KindNotFound, errBody.Error.Kind)

	app.postJSON(t, "/api/servers", map[string]any{
		"name":     "bad-proto",
		"protocol": "telnet",
		"hostname": "bad.example.internal",
		"username": "root",
		"secret":   "x",
	}, http.StatusBadRequest, &errBody)
	assert.Equal(t, api.KindValidation, errBody.Error.Kind)
}
