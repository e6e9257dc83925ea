package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/store"
)

// listAuditHandler handles GET /api/audit.
func (s *Server) listAuditHandler(c *gin.Context) {
	filter := store.AuditFilter{
		Action:       c.Query("action"),
		Actor:        c.Query("actor"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
	}
	filter.Limit, filter.Offset = parseLimitOffset(c)

	events, err := s.svc.Audit.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
