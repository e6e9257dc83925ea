package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// listExecutionsHandler handles GET /api/executions.
func (s *Server) listExecutionsHandler(c *gin.Context) {
	filter := store.ExecutionFilter{
		RunbookID: c.Query("runbook_id"),
		AlertID:   c.Query("alert_id"),
		ServerID:  c.Query("server_id"),
	}
	filter.Limit, filter.Offset = parseLimitOffset(c)

	if v := c.Query("status"); v != "" {
		status := models.ExecutionStatus(v)
		if !status.IsValid() {
			badRequest(c, "invalid status: "+v)
			return
		}
		filter.Status = status
	}
	if v := c.Query("mode"); v != "" {
		mode := models.ExecutionMode(v)
		if !mode.IsValid() {
			badRequest(c, "invalid mode: must be auto, semi_auto, or manual")
			return
		}
		filter.Mode = mode
	}

	executions, err := s.svc.Executions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

// getExecutionHandler handles GET /api/remediation/executions/:id.
// The response includes per-step records.
func (s *Server) getExecutionHandler(c *gin.Context) {
	ex, err := s.svc.Executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// approveExecutionHandler handles POST /api/remediation/executions/:id/approve.
func (s *Server) approveExecutionHandler(c *gin.Context) {
	ex, err := s.svc.Executions.Approve(c.Request.Context(), c.Param("id"), extractAuthor(c), extractRoles(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// cancelExecutionHandler handles POST /api/remediation/executions/:id/cancel.
func (s *Server) cancelExecutionHandler(c *gin.Context) {
	id := c.Param("id")
	ex, err := s.svc.Executions.Cancel(c.Request.Context(), id, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	// If the run is claimed by this pod, interrupt it now. On any other
	// pod the worker finds the cancelled row when it writes its terminal
	// state.
	if s.pool != nil {
		s.pool.Cancel(id)
	}
	c.JSON(http.StatusOK, ex)
}
