// Package api exposes the HTTP surface: the Alertmanager webhook, the
// REST API for alerts, runbooks, executions and safety controls, the
// WebSocket event stream, and the health endpoint.
//
// Authentication is delegated to a fronting proxy (oauth2-proxy or
// kube-rbac-proxy); handlers read the identity headers the proxy injects
// and never see credentials. Error responses share one envelope:
//
//	{"error": {"kind": "...", "message": "...", "details": {...}}}
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/intake"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/services"
)

// Services bundles the service layer the handlers delegate to.
type Services struct {
	Alerts     *services.AlertService
	Rules      *services.RuleService
	Runbooks   *services.RunbookService
	Executions *services.ExecutionService
	Servers    *services.ServerService
	Blackouts  *services.BlackoutService
	Schedules  *services.ScheduleService
	Breakers   *services.BreakerService
	Audit      *services.AuditService
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.ServerConfig
	db     *database.Client
	svc    Services
	intake *intake.Pipeline
	pool   *queue.WorkerPool
	hub    *events.Hub

	httpServer *http.Server
}

// NewServer creates the API server. The worker pool and hub may be nil in
// tests; the corresponding endpoints degrade gracefully.
func NewServer(cfg *config.ServerConfig, db *database.Client, svc Services, pipeline *intake.Pipeline, pool *queue.WorkerPool, hub *events.Hub) *Server {
	return &Server{
		cfg:    cfg,
		db:     db,
		svc:    svc,
		intake: pipeline,
		pool:   pool,
		hub:    hub,
	}
}

// Router builds the gin engine with all routes and middleware registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/health", s.healthHandler)
	r.GET("/ws", s.wsHandler)
	r.POST("/webhook/alerts", s.webhookHandler)

	api := r.Group("/api")
	{
		api.GET("/alerts", s.listAlertsHandler)
		api.GET("/alerts/:id", s.getAlertHandler)
		api.POST("/alerts/:id/analyze", s.analyzeAlertHandler)

		api.GET("/rules", s.listRulesHandler)
		api.POST("/rules", s.createRuleHandler)
		api.GET("/rules/:id", s.getRuleHandler)
		api.PUT("/rules/:id", s.updateRuleHandler)
		api.DELETE("/rules/:id", s.deleteRuleHandler)

		api.GET("/executions", s.listExecutionsHandler)
		api.GET("/audit", s.listAuditHandler)

		api.GET("/servers", s.listServersHandler)
		api.POST("/servers", s.createServerHandler)
		api.GET("/servers/:id", s.getServerHandler)
		api.PUT("/servers/:id", s.updateServerHandler)
		api.DELETE("/servers/:id", s.deleteServerHandler)

		api.GET("/blackouts", s.listBlackoutsHandler)
		api.POST("/blackouts", s.createBlackoutHandler)
		api.GET("/blackouts/:id", s.getBlackoutHandler)
		api.PUT("/blackouts/:id", s.updateBlackoutHandler)
		api.DELETE("/blackouts/:id", s.deleteBlackoutHandler)

		api.GET("/schedules", s.listSchedulesHandler)
		api.POST("/schedules", s.createScheduleHandler)
		api.GET("/schedules/:id", s.getScheduleHandler)
		api.PUT("/schedules/:id", s.updateScheduleHandler)
		api.DELETE("/schedules/:id", s.deleteScheduleHandler)

		rem := api.Group("/remediation")
		{
			rem.GET("/runbooks", s.listRunbooksHandler)
			rem.POST("/runbooks", s.createRunbookHandler)
			rem.POST("/runbooks/import", s.importRunbookHandler)
			rem.GET("/runbooks/:id", s.getRunbookHandler)
			rem.PUT("/runbooks/:id", s.updateRunbookHandler)
			rem.DELETE("/runbooks/:id", s.deleteRunbookHandler)
			rem.GET("/runbooks/:id/export", s.exportRunbookHandler)
			rem.POST("/runbooks/:id/execute", s.executeRunbookHandler)

			rem.GET("/executions/:id", s.getExecutionHandler)
			rem.POST("/executions/:id/approve", s.approveExecutionHandler)
			rem.POST("/executions/:id/cancel", s.cancelExecutionHandler)

			rem.GET("/circuit-breakers", s.listBreakersHandler)
			rem.GET("/circuit-breaker/:runbook_id", s.getBreakerHandler)
			rem.POST("/circuit-breaker/:runbook_id/override", s.overrideBreakerHandler)
		}
	}

	return r
}

// Start runs the HTTP server. It blocks until the server stops and
// returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithListener runs the HTTP server on a provided listener. Tests use
// this to bind an ephemeral port instead of the configured one.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new requests and drains in-flight ones until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
