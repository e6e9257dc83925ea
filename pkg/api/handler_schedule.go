package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// listSchedulesHandler handles GET /api/schedules.
func (s *Server) listSchedulesHandler(c *gin.Context) {
	schedules, err := s.svc.Schedules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

// getScheduleHandler handles GET /api/schedules/:id.
func (s *Server) getScheduleHandler(c *gin.Context) {
	sched, err := s.svc.Schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// createScheduleHandler handles POST /api/schedules.
func (s *Server) createScheduleHandler(c *gin.Context) {
	var sched models.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	created, err := s.svc.Schedules.Create(c.Request.Context(), &sched, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateScheduleHandler handles PUT /api/schedules/:id.
func (s *Server) updateScheduleHandler(c *gin.Context) {
	var sched models.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sched.ID = c.Param("id")
	updated, err := s.svc.Schedules.Update(c.Request.Context(), &sched, extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteScheduleHandler handles DELETE /api/schedules/:id.
func (s *Server) deleteScheduleHandler(c *gin.Context) {
	if err := s.svc.Schedules.Delete(c.Request.Context(), c.Param("id"), extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
