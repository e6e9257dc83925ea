package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// AnalyzeAlertRequest is the body of POST /api/alerts/:id/analyze.
type AnalyzeAlertRequest struct {
	Force         bool   `json:"force"`
	LLMProviderID string `json:"llm_provider_id"`
}

// ExecuteRunbookRequest is the body of POST /api/remediation/runbooks/:id/execute.
// The bypass flags require the admin group; other callers get a 403.
type ExecuteRunbookRequest struct {
	ServerID       *string       `json:"server_id"`
	AlertID        *string       `json:"alert_id"`
	DryRun         bool          `json:"dry_run"`
	Variables      models.AnyMap `json:"variables"`
	BypassCooldown bool          `json:"bypass_cooldown"`
	BypassBlackout bool          `json:"bypass_blackout"`
}

// OverrideBreakerRequest is the body of POST /api/remediation/circuit-breaker/:runbook_id/override.
type OverrideBreakerRequest struct {
	State          models.BreakerState `json:"state"`
	ManuallyOpened bool                `json:"manually_opened"`
}

// ImportRunbookRequest is the JSON form of POST /api/remediation/runbooks/import.
// A raw YAML body imports the document directly instead.
type ImportRunbookRequest struct {
	URL string `json:"url"`
}

// ServerRequest carries a credential write. The secret is write-only: it
// rides in on create and update and never appears in any response.
type ServerRequest struct {
	models.ServerCredential
	Secret string `json:"secret"`
}

// parseLimitOffset reads limit/offset query parameters with a default
// page of 50 rows, capped at 200.
func parseLimitOffset(c *gin.Context) (limit, offset int) {
	limit = 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
