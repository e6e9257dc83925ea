package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
)

// mockAnalyzer is a stand-in analysis service that records what the engine
// sends and answers with a canned result.
type mockAnalyzer struct {
	mu       sync.Mutex
	requests []map[string]any
	auth     []string
}

func (m *mockAnalyzer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.auth = append(m.auth, r.Header.Get("Authorization"))
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Analysis{
			RootCause: "nginx worker pool exhausted",
			Impact:    "5xx rate elevated on the public ingress",
			Recommendations: []models.Recommendation{{
				Title:     "Restart nginx",
				Commands:  []string{"systemctl restart nginx"},
				Rationale: "clears the wedged worker pool",
			}},
		})
	}
}

func (m *mockAnalyzer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockAnalyzer) lastRequest() (map[string]any, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil, ""
	}
	return m.requests[len(m.requests)-1], m.auth[len(m.auth)-1]
}

func newAnalyzerClient(t *testing.T, mock *mockAnalyzer) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(mock.handler())
	t.Cleanup(srv.Close)
	t.Setenv("REMEDY_E2E_ANALYZE_KEY", "sk-e2e-test")

	return llm.NewClient(&config.LLMConfig{
		BaseURL:   srv.URL,
		APIKeyEnv: "REMEDY_E2E_ANALYZE_KEY",
		Model:     "remedy-analyzer-v1",
		Timeout:   5 * time.Second,
	}, redact.New(nil))
}

// TestAutoAnalyzeEnrichesAlert lets an auto_analyze rule drive background
// analysis off a webhook and expects the structured result on the alert.
func TestAutoAnalyzeEnrichesAlert(t *testing.T) {
	mock := &mockAnalyzer{}
	app := NewTestApp(t, WithAnalyzer(newAnalyzerClient(t, mock)))

	app.CreateAnalyzeRule(t)
	alertIDs := app.PostWebhook(t, firingWebhook("HighErrorRate", map[string]string{
		"instance": "edge-01:9100",
	}))
	require.Len(t, alertIDs, 1)

	var alert models.Alert
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/api/alerts/" + alertIDs[0])
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
			return false
		}
		return alert.Analyzed
	}, 15*time.Second, 100*time.Millisecond, "alert never analyzed")

	require.NotNil(t, alert.Analysis)
	assert.Equal(t, "nginx worker pool exhausted", alert.Analysis.RootCause)
	require.Len(t, alert.Analysis.Recommendations, 1)
	assert.Equal(t, "Restart nginx", alert.Analysis.Recommendations[0].Title)

	sent, auth := mock.lastRequest()
	require.NotNil(t, sent)
	assert.Equal(t, "Bearer sk-e2e-test", auth)
	assert.Equal(t, "remedy-analyzer-v1", sent["model"])
	payload, ok := sent["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "HighErrorRate", payload["name"])
	assert.Equal(t, "critical", payload["severity"])

	app.WaitForAuditAction(t, alertIDs[0], models.AuditAlertAnalyzed)
}

// TestOnDemandAnalyze covers the operator-initiated endpoint: the first
// call hits the service, the second is served from the stored result, and
// force re-analyzes.
func TestOnDemandAnalyze(t *testing.T) {
	mock := &mockAnalyzer{}
	app := NewTestApp(t, WithAnalyzer(newAnalyzerClient(t, mock)))

	// No rules, so intake leaves the alert unanalyzed.
	alertIDs := app.PostWebhook(t, firingWebhook("DiskPressure", nil))
	require.Len(t, alertIDs, 1)
	id := alertIDs[0]

	var analyzed models.Alert
	app.postJSON(t, "/api/alerts/"+id+"/analyze", nil, http.StatusOK, &analyzed)
	assert.True(t, analyzed.Analyzed)
	require.NotNil(t, analyzed.Analysis)
	assert.Equal(t, 1, mock.calls())

	// Already analyzed: answered from the store.
	app.postJSON(t, "/api/alerts/"+id+"/analyze", nil, http.StatusOK, &analyzed)
	assert.Equal(t, 1, mock.calls())

	app.postJSON(t, "/api/alerts/"+id+"/analyze", map[string]any{"force": true}, http.StatusOK, &analyzed)
	assert.Equal(t, 2, mock.calls())
}
