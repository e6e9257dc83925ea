package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// listBlackoutsHandler handles GET /api/blackouts.
func (s *Server) listBlackoutsHandler(c *gin.Context) {
	windows, err := s.svc.Blackouts.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// getBlackoutHandler handles GET /api/blackouts/:id.
func (s *Server) getBlackoutHandler(c *gin.Context) {
	window, err := s.svc.Blackouts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, window)
}

// createBlackoutHandler handles POST /api/blackouts.
func (s *Server) createBlackoutHandler(c *gin.Context) {
	var window models.BlackoutWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	created, err := s.svc.Blackouts.Create(c.Request.Context(), &window, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateBlackoutHandler handles PUT /api/blackouts/:id.
func (s *Server) updateBlackoutHandler(c *gin.Context) {
	var window models.BlackoutWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	window.ID = c.Param("id")
	updated, err := s.svc.Blackouts.Update(c.Request.Context(), &window, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteBlackoutHandler handles DELETE /api/blackouts/:id.
func (s *Server) deleteBlackoutHandler(c *gin.Context) {
	if err := s.svc.Blackouts.Delete(c.Request.Context(), c.Param("id"), extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
