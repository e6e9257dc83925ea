package api

import "github.com/codeready-toolchain/remedy/pkg/models"

// WebhookResponse acknowledges an Alertmanager delivery.
type WebhookResponse struct {
	Status   string   `json:"status"`
	AlertIDs []string `json:"alert_ids,omitempty"`
}

// ExecuteResponse is returned when an execution is enqueued.
type ExecuteResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

// HealthResponse is the health endpoint response.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is a single component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
