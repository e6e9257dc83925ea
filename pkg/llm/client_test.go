package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
)

func testAlert() *models.Alert {
	return &models.Alert{
		Fingerprint: "fp-1",
		Name:        "HighMemoryUsage",
		Severity:    "critical",
		Instance:    "db-7:9100",
		Job:         "node",
		Status:      models.AlertFiring,
		Labels:      models.StringMap{"team": "storage"},
		Annotations: models.StringMap{
			"summary": "memory above 95%",
			"runbook": "restart with password=supersecret9 if needed",
		},
		StartsAt:        time.Now().UTC(),
		OccurrenceCount: 3,
	}
}

func TestClient_Analyze(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/analyze", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(models.Analysis{
			RootCause: "memory leak in batch job",
			Impact:    "database latency degraded",
			Recommendations: []models.Recommendation{
				{Title: "restart batch worker", Commands: []string{"systemctl restart batch"}},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("REMEDY_TEST_LLM_KEY", "test-key")
	c := NewClient(&config.LLMConfig{
		BaseURL:   srv.URL + "/v1",
		APIKeyEnv: "REMEDY_TEST_LLM_KEY",
		Model:     "triage",
		Timeout:   5 * time.Second,
	}, redact.New(&config.RedactionConfig{PatternGroups: []string{"basic"}}))
	require.True(t, c.Enabled())

	analysis, err := c.Analyze(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, "memory leak in batch job", analysis.RootCause)
	require.Len(t, analysis.Recommendations, 1)
	assert.Equal(t, "restart batch worker", analysis.Recommendations[0].Title)

	// The request carried the contract fields and scrubbed annotations.
	assert.Equal(t, "triage", got.Model)
	assert.Equal(t, "HighMemoryUsage", got.Alert["name"])
	annotations, ok := got.Alert["annotations"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, annotations["runbook"], "supersecret9")
}

func TestClient_AnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(&config.LLMConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, redact.New(nil))
	_, err := c.Analyze(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClient_AnalyzeEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(&config.LLMConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, redact.New(nil))
	_, err := c.Analyze(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty result")
}

func TestClient_NilWhenUnconfigured(t *testing.T) {
	c := NewClient(&config.LLMConfig{Timeout: time.Second}, nil)
	assert.Nil(t, c)
	assert.False(t, c.Enabled())

	_, err := c.Analyze(context.Background(), testAlert())
	require.Error(t, err)
}
