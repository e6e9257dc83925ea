// Package e2e provides end-to-end test infrastructure for the remedy
// engine. Each test boots a complete instance over an isolated database
// schema and drives it through the public HTTP API, the same surface
// Alertmanager and the dashboard use. Command transports are replaced by
// spy drivers; everything else is real.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/api"
	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/iac"
	"github.com/codeready-toolchain/remedy/pkg/intake"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/orchestrator"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/triggers"
	"github.com/codeready-toolchain/remedy/test/util"
)

// TestApp boots a complete remedy instance for e2e testing.
type TestApp struct {
	// Core
	Store *store.Store
	DB    *sqlx.DB

	// Spy drivers stand in for the SSH, WinRM, and HTTP transports.
	SSH   *executor.Spy
	WinRM *executor.Spy
	API   *executor.Spy

	// Real infrastructure
	Breakers  *safety.Breakers
	Gate      *safety.Gate
	Recorder  *audit.Recorder
	Publisher *events.Publisher
	Hub       *events.Hub
	Listener  *events.Listener
	Pipeline  *intake.Pipeline
	Pool      *queue.WorkerPool
	Sweeper   *queue.Sweeper
	Services  api.Services
	Server    *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	workerCount       int
	executionTimeout  time.Duration
	heartbeatInterval time.Duration
	orphanInterval    time.Duration
	orphanThreshold   time.Duration
	analyzer          *llm.Client
	notifier          *notify.Service
	podID             string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithWorkerCount sets the number of worker pool goroutines.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithExecutionTimeout sets the per-execution wall clock budget.
func WithExecutionTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.executionTimeout = d }
}

// WithAnalyzer injects an LLM client, typically pointed at a scripted
// httptest server. Without it analysis is disabled, as in a deployment
// with no analysis service configured.
func WithAnalyzer(client *llm.Client) TestAppOption {
	return func(c *testAppConfig) { c.analyzer = client }
}

// WithNotifier injects a Slack notification service backed by a mock API
// server.
func WithNotifier(svc *notify.Service) TestAppOption {
	return func(c *testAppConfig) { c.notifier = svc }
}

// WithPodID overrides the auto-generated pod ID. Used by multi-replica
// tests so each replica gets a distinct identity for claiming and orphan
// detection.
func WithPodID(id string) TestAppOption {
	return func(c *testAppConfig) { c.podID = id }
}

// WithHeartbeatInterval sets how often a worker refreshes its claim.
// Orphan tests stretch it so a held execution goes stale.
func WithHeartbeatInterval(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.heartbeatInterval = d }
}

// WithOrphanScan tunes the stale-heartbeat scan so orphan recovery
// happens within a test's patience.
func WithOrphanScan(interval, threshold time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.orphanInterval = interval
		c.orphanThreshold = threshold
	}
}

// NewTestApp creates and starts a full remedy test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workerCount:       2,
		executionTimeout:  30 * time.Second,
		heartbeatInterval: time.Second,
		orphanInterval:    time.Minute,
		orphanThreshold:   time.Minute,
	}
	for _, opt := range opts {
		opt(tc)
	}

	// 1. Isolated schema with migrations applied, plus the store over it.
	st, db := util.SetupTestStore(t)

	queueCfg := &config.QueueConfig{
		WorkerCount:             tc.workerCount,
		MaxConcurrentExecutions: 10,
		PollInterval:            50 * time.Millisecond,
		PollIntervalJitter:      25 * time.Millisecond,
		ExecutionTimeout:        tc.executionTimeout,
		HeartbeatInterval:       tc.heartbeatInterval,
		GracefulShutdownTimeout: 10 * time.Second,
		SweepInterval:           150 * time.Millisecond,
		OrphanDetectionInterval: tc.orphanInterval,
		OrphanThreshold:         tc.orphanThreshold,
	}

	// 2. Audit trail — real, asynchronous, backed by the test schema.
	recorder := audit.NewRecorder(st, 0)
	recorder.Start()

	// 3. Event streaming — real Postgres NOTIFY/LISTEN. The listener gets
	// its own connection to the shared database; channel names carry the
	// execution id, so schemas never cross-talk on assertions.
	publisher := events.NewPublisher(db.DB)
	hub := events.NewHub(events.NewStoreCatchup(st.Events), 5*time.Second)
	listener := events.NewListener(util.GetBaseConnectionString(t), hub)
	ctx := context.Background()
	require.NoError(t, listener.Start(ctx))
	hub.SetListener(listener)

	// 4. Safety controls.
	gate := safety.NewGate(st, recorder)
	breakers := gate.Breakers()

	// 5. Service layer. The import fetcher has no domain allowlist so
	// tests can import from httptest URLs.
	executions := services.NewExecutionService(st, gate, recorder, publisher, tc.notifier)
	fetcher := iac.NewFetcher(&config.IaCConfig{
		FetchTimeout:     5 * time.Second,
		MaxDocumentBytes: 1 << 20,
	})
	svc := api.Services{
		Alerts:     services.NewAlertService(st, tc.analyzer, recorder),
		Rules:      services.NewRuleService(st, recorder),
		Runbooks:   services.NewRunbookService(st, fetcher, recorder),
		Executions: executions,
		Servers:    services.NewServerService(st, recorder),
		Blackouts:  services.NewBlackoutService(st, recorder),
		Schedules:  services.NewScheduleService(st, recorder),
		Breakers:   services.NewBreakerService(st, breakers),
		Audit:      services.NewAuditService(st),
	}

	// 6. Intake pipeline.
	pipeline := intake.NewPipeline(st, executions, triggers.NewMatcher(st), tc.analyzer, publisher, recorder)
	pipeline.Start()

	// 7. Execution engine over spy drivers.
	sshSpy := executor.NewSpy(models.ProtocolSSH)
	winrmSpy := executor.NewSpy(models.ProtocolWinRM)
	apiSpy := executor.NewSpy(models.ProtocolAPI)
	registry := executor.NewRegistry(sshSpy, winrmSpy, apiSpy)
	engine := orchestrator.NewEngine(orchestrator.FromStore(st), registry, publisher, recorder, tc.notifier)

	// 8. Worker pool and sweeper. Retention cleanup stays disabled so a
	// slow test never loses rows under its own assertions.
	podID := tc.podID
	if podID == "" {
		podID = fmt.Sprintf("e2e-%s", t.Name())
	}
	pool := queue.NewWorkerPool(podID, st, queueCfg, engine, publisher, recorder, tc.notifier, breakers)
	require.NoError(t, pool.Start(ctx))

	sweeper := queue.NewSweeper(st, executions, breakers, publisher, recorder, tc.notifier, queueCfg, nil)
	sweeper.Start(ctx)

	// 9. HTTP server on an ephemeral port.
	serverCfg := &config.ServerConfig{AllowedWSOrigins: []string{"*"}}
	server := api.NewServer(serverCfg, &database.Client{DB: db}, svc, pipeline, pool, hub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Store:     st,
		DB:        db,
		SSH:       sshSpy,
		WinRM:     winrmSpy,
		API:       apiSpy,
		Breakers:  breakers,
		Gate:      gate,
		Recorder:  recorder,
		Publisher: publisher,
		Hub:       hub,
		Listener:  listener,
		Pipeline:  pipeline,
		Pool:      pool,
		Sweeper:   sweeper,
		Services:  svc,
		Server:    server,
		BaseURL:   fmt.Sprintf("http://%s", addr),
		WSURL:     fmt.Sprintf("ws://%s/ws", addr),
		t:         t,
	}

	// Register cleanup in reverse-creation order. The schema drop from
	// SetupTestStore runs after all of this.
	t.Cleanup(func() {
		pipeline.Stop()
		sweeper.Stop()
		pool.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		listener.Stop(context.Background())
		recorder.Stop()
	})

	return app
}
