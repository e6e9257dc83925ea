package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// listAlertsHandler handles GET /api/alerts.
func (s *Server) listAlertsHandler(c *gin.Context) {
	filter := store.AlertFilter{
		Severity: c.Query("severity"),
		Name:     c.Query("name"),
	}
	filter.Limit, filter.Offset = parseLimitOffset(c)

	if v := c.Query("status"); v != "" {
		status := models.AlertStatus(v)
		if !status.IsValid() {
			badRequest(c, "invalid status: must be firing or resolved")
			return
		}
		filter.Status = status
	}
	if v := c.Query("analyzed"); v != "" {
		analyzed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid analyzed: must be true or false")
			return
		}
		filter.Analyzed = &analyzed
	}

	alerts, err := s.svc.Alerts.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// getAlertHandler handles GET /api/alerts/:id.
func (s *Server) getAlertHandler(c *gin.Context) {
	alert, err := s.svc.Alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// analyzeAlertHandler handles POST /api/alerts/:id/analyze. An empty body
// is a plain on-demand analysis request.
func (s *Server) analyzeAlertHandler(c *gin.Context) {
	var req AnalyzeAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	if req.LLMProviderID != "" {
		// A single provider is configured; per-request selection is not
		// supported.
		badRequest(c, "llm_provider_id selection is not supported")
		return
	}

	alert, err := s.svc.Alerts.Analyze(c.Request.Context(), c.Param("id"), req.Force, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}
