// Remedy server — receives Alertmanager webhooks, runs the remediation
// API, and drives queued runbook executions to completion.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/iac"
	"github.com/codeready-toolchain/remedy/pkg/intake"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/orchestrator"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/redact"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/triggers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	slog.Info("Starting remedy", "pod_id", podID, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to PostgreSQL and run migrations
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Credential sealing and the store. The key is mandatory: server
	// credentials cannot be stored or used without it.
	key, err := cfg.Security.CredentialKey()
	if err != nil {
		slog.Error("Failed to decode credential key", "error", err)
		os.Exit(1)
	}
	if key == nil {
		slog.Error("Credential key is not set", "env", cfg.Security.CredentialKeyEnv)
		os.Exit(1)
	}
	secrets, err := store.NewSecretBox(key)
	if err != nil {
		slog.Error("Failed to initialize credential sealing", "error", err)
		os.Exit(1)
	}
	st := store.New(dbClient.DB, secrets)

	// 4. Audit recorder
	recorder := audit.NewRecorder(st, 0)
	recorder.Start()
	defer recorder.Stop()

	// 5. Streaming infrastructure: publisher writes events through
	// pg_notify, the listener holds a dedicated LISTEN connection, the hub
	// fans out to WebSocket clients.
	publisher := events.NewPublisher(dbClient.DB.DB)
	hub := events.NewHub(events.NewStoreCatchup(st.Events), 10*time.Second)
	listener := events.NewListener(dbConfig.DSN(), hub)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start event listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	hub.SetListener(listener)
	slog.Info("Streaming infrastructure initialized")

	// 6. Safety controls
	gate := safety.NewGate(st, recorder)
	breakers := gate.Breakers()

	// 7. Outbound notifications
	var notifier *notify.Service
	if slack := cfg.Notifications.Slack; slack.IsEnabled() {
		notifier = notify.NewService(notify.ServiceConfig{
			Token:        slack.Token(),
			Channel:      slack.Channel,
			DashboardURL: cfg.Server.DashboardURL,
		})
	}
	if notifier == nil {
		slog.Info("Slack notifications disabled")
	}

	// 8. Analysis client and domain services
	analyzer := llm.NewClient(cfg.LLM, redact.New(cfg.Security.Redaction))
	executionService := services.NewExecutionService(st, gate, recorder, publisher, notifier)
	svc := api.Services{
		Alerts:     services.NewAlertService(st, analyzer, recorder),
		Rules:      services.NewRuleService(st, recorder),
		Runbooks:   services.NewRunbookService(st, iac.NewFetcher(cfg.IaC), recorder),
		Executions: executionService,
		Servers:    services.NewServerService(st, recorder),
		Blackouts:  services.NewBlackoutService(st, recorder),
		Schedules:  services.NewScheduleService(st, recorder),
		Breakers:   services.NewBreakerService(st, breakers),
		Audit:      services.NewAuditService(st),
	}
	slog.Info("Services initialized")

	// 9. Alert intake pipeline
	pipeline := intake.NewPipeline(st, executionService, triggers.NewMatcher(st), analyzer, publisher, recorder)
	pipeline.Start()

	// 10. Execution engine and worker pool. Pool start includes recovery
	// of executions this pod abandoned in a previous run.
	engine := orchestrator.NewEngine(orchestrator.FromStore(st), executor.DefaultRegistry(), publisher, recorder, notifier)

	pool := queue.NewWorkerPool(podID, st, cfg.Queue, engine, publisher, recorder, notifier, breakers)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 11. Background sweeper: due schedules, approval deadlines, breaker
	// timers, blackout edges, retention cleanup.
	sweeper := queue.NewSweeper(st, executionService, breakers, publisher, recorder, notifier, cfg.Queue, cfg.Retention)
	sweeper.Start(ctx)

	// 12. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg.Server, dbClient, svc, pipeline, pool, hub)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Remedy started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown. Intake stops first so no new evaluations
	// arrive, then the sweeper, then the workers drain within the pool's
	// own budget. Executions still running after that keep their claim and
	// are orphan-recovered on the next start.
	pipeline.Stop()
	sweeper.Stop()
	pool.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
