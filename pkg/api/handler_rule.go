package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// listRulesHandler handles GET /api/rules.
func (s *Server) listRulesHandler(c *gin.Context) {
	rules, err := s.svc.Rules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// getRuleHandler handles GET /api/rules/:id.
func (s *Server) getRuleHandler(c *gin.Context) {
	rule, err := s.svc.Rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// createRuleHandler handles POST /api/rules.
func (s *Server) createRuleHandler(c *gin.Context) {
	var rule models.AutoAnalyzeRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	created, err := s.svc.Rules.Create(c.Request.Context(), &rule, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateRuleHandler handles PUT /api/rules/:id.
func (s *Server) updateRuleHandler(c *gin.Context) {
	var rule models.AutoAnalyzeRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	rule.ID = c.Param("id")
	updated, err := s.svc.Rules.Update(c.Request.Context(), &rule, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteRuleHandler handles DELETE /api/rules/:id.
func (s *Server) deleteRuleHandler(c *gin.Context) {
	if err := s.svc.Rules.Delete(c.Request.Context(), c.Param("id"), extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
