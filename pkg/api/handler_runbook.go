package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// maxImportBytes bounds an inline runbook import body.
const maxImportBytes = 1 << 20

// listRunbooksHandler handles GET /api/remediation/runbooks.
func (s *Server) listRunbooksHandler(c *gin.Context) {
	filter := store.RunbookFilter{Tag: c.Query("tag")}
	filter.Limit, filter.Offset = parseLimitOffset(c)
	if v := c.Query("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid enabled: must be true or false")
			return
		}
		filter.Enabled = &enabled
	}

	runbooks, err := s.svc.Runbooks.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runbooks)
}

// getRunbookHandler handles GET /api/remediation/runbooks/:id.
func (s *Server) getRunbookHandler(c *gin.Context) {
	rb, err := s.svc.Runbooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rb)
}

// createRunbookHandler handles POST /api/remediation/runbooks.
func (s *Server) createRunbookHandler(c *gin.Context) {
	var rb models.Runbook
	if err := c.ShouldBindJSON(&rb); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	created, err := s.svc.Runbooks.Create(c.Request.Context(), &rb, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateRunbookHandler handles PUT /api/remediation/runbooks/:id.
func (s *Server) updateRunbookHandler(c *gin.Context) {
	var rb models.Runbook
	if err := c.ShouldBindJSON(&rb); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	rb.ID = c.Param("id")
	updated, err := s.svc.Runbooks.Update(c.Request.Context(), &rb, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteRunbookHandler handles DELETE /api/remediation/runbooks/:id.
func (s *Server) deleteRunbookHandler(c *gin.Context) {
	if err := s.svc.Runbooks.Delete(c.Request.Context(), c.Param("id"), extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// importRunbookHandler handles POST /api/remediation/runbooks/import.
// A JSON body with a url field fetches the document from version control;
// any other body is imported as a raw YAML runbook document.
func (s *Server) importRunbookHandler(c *gin.Context) {
	actor := extractAuthor(c)
	ctx := c.Request.Context()

	var (
		rb  *models.Runbook
		err error
	)
	if strings.Contains(c.ContentType(), "application/json") {
		var req ImportRunbookRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			badRequest(c, "invalid request body")
			return
		}
		if req.URL == "" {
			badRequest(c, "url is required")
			return
		}
		rb, err = s.svc.Runbooks.ImportURL(ctx, req.URL, actor)
	} else {
		body, readErr := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
		if readErr != nil {
			badRequest(c, "failed to read request body")
			return
		}
		if len(body) == 0 {
			badRequest(c, "request body is empty")
			return
		}
		rb, err = s.svc.Runbooks.Import(ctx, body, actor)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rb)
}

// exportRunbookHandler handles GET /api/remediation/runbooks/:id/export.
func (s *Server) exportRunbookHandler(c *gin.Context) {
	data, err := s.svc.Runbooks.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// executeRunbookHandler handles POST /api/remediation/runbooks/:id/execute.
// The execution is enqueued, not run inline; 202 carries the id to poll
// or stream.
func (s *Server) executeRunbookHandler(c *gin.Context) {
	var req ExecuteRunbookRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	ex, err := s.svc.Executions.ExecuteRunbook(c.Request.Context(), services.ExecuteRunbookInput{
		RunbookID:      c.Param("id"),
		Actor:          extractAuthor(c),
		Roles:          extractRoles(c),
		ServerID:       req.ServerID,
		AlertID:        req.AlertID,
		DryRun:         req.DryRun,
		Variables:      req.Variables,
		BypassCooldown: req.BypassCooldown,
		BypassBlackout: req.BypassBlackout,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ExecuteResponse{ExecutionID: ex.ID, Status: ex.Status})
}
