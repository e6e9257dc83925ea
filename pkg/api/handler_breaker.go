package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// listBreakersHandler handles GET /api/remediation/circuit-breakers.
func (s *Server) listBreakersHandler(c *gin.Context) {
	breakers, err := s.svc.Breakers.List(c.Request.Context(), models.BreakerState(c.Query("state")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakers)
}

// getBreakerHandler handles GET /api/remediation/circuit-breaker/:runbook_id.
func (s *Server) getBreakerHandler(c *gin.Context) {
	breaker, err := s.svc.Breakers.GetForRunbook(c.Request.Context(), c.Param("runbook_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breaker)
}

// overrideBreakerHandler handles POST /api/remediation/circuit-breaker/:runbook_id/override.
func (s *Server) overrideBreakerHandler(c *gin.Context) {
	var req OverrideBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	breaker, err := s.svc.Breakers.Override(c.Request.Context(), c.Param("runbook_id"), req.State, req.ManuallyOpened, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breaker)
}
