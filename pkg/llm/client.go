// Package llm is the JSON-over-HTTP client for the external alert analysis
// service. The engine depends only on the Analyze contract; everything
// about models, prompting, and retrieval lives on the other side of this
// boundary. Analysis failures are never fatal to remediation flow.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
)

// Client calls POST {base_url}/analyze. A nil *Client is a valid disabled
// client whose Analyze always errors, so callers do not special-case
// deployments without an analysis service.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	redactor   *redact.Redactor
}

// NewClient builds a client from configuration. Returns nil when no
// base URL is configured.
func NewClient(cfg *config.LLMConfig, redactor *redact.Redactor) *Client {
	if !cfg.Configured() {
		slog.Info("Analysis service not configured, alert analysis disabled")
		return nil
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey(),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		redactor:   redactor,
	}
}

// Enabled reports whether an analysis endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil
}

// analyzeRequest is the wire shape sent to the analysis service.
type analyzeRequest struct {
	Model string         `json:"model,omitempty"`
	Alert map[string]any `json:"alert"`
}

// Analyze submits the alert and returns the service's structured analysis.
// Label and annotation values pass through the redactor before leaving the
// process.
func (c *Client) Analyze(ctx context.Context, alert *models.Alert) (*models.Analysis, error) {
	if c == nil {
		return nil, fmt.Errorf("analysis service not configured")
	}

	body, err := json.Marshal(analyzeRequest{
		Model: c.model,
		Alert: c.alertPayload(alert),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analysis service returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var analysis models.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	if analysis.RootCause == "" && analysis.Impact == "" && len(analysis.Recommendations) == 0 {
		return nil, fmt.Errorf("analysis service returned an empty result")
	}
	return &analysis, nil
}

// alertPayload flattens the alert into the contract dict, scrubbing free
// text fields that routinely carry pasted secrets.
func (c *Client) alertPayload(a *models.Alert) map[string]any {
	labels := make(map[string]string, len(a.Labels))
	for k, v := range a.Labels {
		labels[k] = c.redactor.Redact(v)
	}
	annotations := make(map[string]string, len(a.Annotations))
	for k, v := range a.Annotations {
		annotations[k] = c.redactor.Redact(v)
	}
	return map[string]any{
		"fingerprint":      a.Fingerprint,
		"name":             a.Name,
		"severity":         a.Severity,
		"instance":         a.Instance,
		"job":              a.Job,
		"status":           string(a.Status),
		"labels":           labels,
		"annotations":      annotations,
		"starts_at":        a.StartsAt,
		"occurrence_count": a.OccurrenceCount,
	}
}
