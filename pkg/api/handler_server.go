package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listServersHandler handles GET /api/servers. Responses never include
// secret material in any form.
func (s *Server) listServersHandler(c *gin.Context) {
	servers, err := s.svc.Servers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

// getServerHandler handles GET /api/servers/:id.
func (s *Server) getServerHandler(c *gin.Context) {
	server, err := s.svc.Servers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

// createServerHandler handles POST /api/servers.
func (s *Server) createServerHandler(c *gin.Context) {
	var req ServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	created, err := s.svc.Servers.Create(c.Request.Context(), &req.ServerCredential, req.Secret, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateServerHandler handles PUT /api/servers/:id. An empty secret keeps
// the stored one.
func (s *Server) updateServerHandler(c *gin.Context) {
	var req ServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.ID = c.Param("id")
	updated, err := s.svc.Servers.Update(c.Request.Context(), &req.ServerCredential, req.Secret, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteServerHandler handles DELETE /api/servers/:id.
func (s *Server) deleteServerHandler(c *gin.Context) {
	if err := s.svc.Servers.Delete(c.Request.Context(), c.Param("id"), extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
