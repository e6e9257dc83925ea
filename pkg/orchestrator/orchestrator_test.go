package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	mu      sync.Mutex
	runbook *models.Runbook
	alert   *models.Alert
	servers map[string]*models.ServerCredential
	targets map[string]*models.ServerCredential

	steps   []*models.StepExecution
	updates []models.StepExecution
}

func (f *fakeStore) Runbook(_ context.Context, id string) (*models.Runbook, error) {
	if f.runbook == nil || f.runbook.ID != id {
		return nil, store.ErrNotFound
	}
	return f.runbook, nil
}

func (f *fakeStore) Alert(_ context.Context, id string) (*models.Alert, error) {
	if f.alert == nil || f.alert.ID != id {
		return nil, store.ErrNotFound
	}
	return f.alert, nil
}

func (f *fakeStore) Server(_ context.Context, id string) (*models.ServerCredential, error) {
	if sc, ok := f.servers[id]; ok {
		return sc, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindTarget(_ context.Context, value string) (*models.ServerCredential, error) {
	if sc, ok := f.targets[value]; ok {
		return sc, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) Secret(*models.ServerCredential) ([]byte, error) {
	return []byte("secret-material"), nil
}

func (f *fakeStore) CreateStep(_ context.Context, step *models.StepExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if step.ID == "" {
		step.ID = fmt.Sprintf("step-%d", len(f.steps)+1)
	}
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeStore) UpdateStep(_ context.Context, step *models.StepExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *step)
	return nil
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu         sync.Mutex
	executions []events.ExecutionStatusPayload
	steps      []events.StepStatusPayload
	chunks     []events.OutputChunkPayload
}

func (p *capturePublisher) PublishExecutionStatus(_ context.Context, payload events.ExecutionStatusPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions = append(p.executions, payload)
	return nil
}

func (p *capturePublisher) PublishStepStatus(_ context.Context, payload events.StepStatusPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, payload)
	return nil
}

func (p *capturePublisher) PublishOutputChunk(_ context.Context, payload events.OutputChunkPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, payload)
	return nil
}

func testServer() *models.ServerCredential {
	return &models.ServerCredential{
		ID:       "srv-1",
		Name:     "web-01",
		Hostname: "web-01.example.com",
		Protocol: models.ProtocolSSH,
		OSType:   models.OSLinux,
		AuthType: models.AuthPassword,
		Username: "remedy",
	}
}

func testStore(rb *models.Runbook) *fakeStore {
	return &fakeStore{
		runbook: rb,
		servers: map[string]*models.ServerCredential{"srv-1": testServer()},
		targets: map[string]*models.ServerCredential{},
	}
}

func testRunbook(steps ...models.RunbookStep) *models.Runbook {
	defaultServer := "srv-1"
	for i := range steps {
		if steps[i].StepOrder == 0 {
			steps[i].StepOrder = i + 1
		}
		if steps[i].TimeoutSeconds == 0 {
			steps[i].TimeoutSeconds = 30
		}
	}
	return &models.Runbook{
		ID:              "rb-1",
		Name:            "restart-nginx",
		Enabled:         true,
		DefaultServerID: &defaultServer,
		Steps:           steps,
	}
}

func commandStep(name, command string) models.RunbookStep {
	return models.RunbookStep{Name: name, Type: models.StepCommand, CommandLinux: command}
}

func testExecution() *models.RunbookExecution {
	return &models.RunbookExecution{
		ID:        "ex-1",
		RunbookID: "rb-1",
		Status:    models.StatusRunning,
		Mode:      models.ModeManual,
	}
}

func newTestEngine(st Store, publisher EventPublisher, drivers ...executor.Driver) *Engine {
	return NewEngine(st, executor.NewRegistry(drivers...), publisher, nil, nil)
}

func TestEngineRun_CompletesSteps(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	st := testStore(testRunbook(
		commandStep("check", "systemctl is-active nginx"),
		commandStep("restart", "systemctl restart {{ vars.service }}"),
	))
	engine := newTestEngine(st, nil, spy)

	ex := testExecution()
	ex.Variables = models.AnyMap{"service": "nginx"}

	res := engine.Run(context.Background(), ex)

	require.Equal(t, models.StatusCompleted, res.Status)
	require.NoError(t, res.Error)
	assert.Equal(t, "restart-nginx", res.RunbookName)
	assert.Equal(t, 2, spy.Calls())
	assert.Equal(t, 2, spy.CloseCalls)

	require.Len(t, spy.Commands, 2)
	assert.Equal(t, "systemctl is-active nginx", spy.Commands[0].Text)
	assert.Equal(t, "systemctl restart nginx", spy.Commands[1].Text)
	assert.Equal(t, 30*time.Second, spy.Commands[0].Timeout)

	require.Len(t, st.steps, 2)
	for _, rec := range st.steps {
		assert.Equal(t, models.StatusCompleted, rec.Status)
		require.NotNil(t, rec.ExitCode)
		assert.Equal(t, 0, *rec.ExitCode)
		assert.NotNil(t, rec.CompletedAt)
		assert.NotNil(t, rec.DurationMS)
	}
}

func TestEngineRun_DryRunNeverTouchesDrivers(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	st := testStore(testRunbook(
		commandStep("check", "systemctl is-active nginx"),
		commandStep("restart", "systemctl restart nginx"),
	))
	engine := newTestEngine(st, nil, spy)

	ex := testExecution()
	ex.IsDryRun = true

	res := engine.Run(context.Background(), ex)

	require.Equal(t, models.StatusCompleted, res.Status)
	assert.Zero(t, spy.ConnectCalls, "dry run must not open sessions")
	assert.Zero(t, spy.Calls(), "dry run must not run commands")

	require.Len(t, st.steps, 2)
	assert.Equal(t, "[dry-run] systemctl is-active nginx", st.steps[0].Stdout)
	assert.Equal(t, "[dry-run] systemctl restart nginx", st.steps[1].Stdout)
	for _, rec := range st.steps {
		assert.Equal(t, models.StatusCompleted, rec.Status)
		require.NotNil(t, rec.ExitCode)
		assert.Equal(t, 0, *rec.ExitCode)
	}
}

func TestEngineRun_RetriesUntilExpectedOutput(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "state: starting"}, nil)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "state: running"}, nil)

	step := commandStep("wait-healthy", "systemctl status nginx")
	step.ExpectedOutput = "state: running"
	step.RetryCount = 3

	st := testStore(testRunbook(step))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 2, spy.Calls())
	require.Len(t, st.steps, 1)
	assert.Equal(t, 1, st.steps[0].RetryAttempt)
	assert.Equal(t, "state: running", st.steps[0].Stdout)
}

func TestEngineRun_RetriesDriverErrors(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(nil, &executor.DriverError{Kind: executor.FailUnreachable, Err: errors.New("connection refused")})
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "ok"}, nil)

	step := commandStep("restart", "systemctl restart nginx")
	step.RetryCount = 1

	st := testStore(testRunbook(step))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 2, spy.Calls())
}

func TestEngineRun_ExhaustedRetriesBecomeExecutorFailure(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(nil, &executor.DriverError{Kind: executor.FailUnreachable, Err: errors.New("connection refused")})
	spy.Script(nil, &executor.DriverError{Kind: executor.FailUnreachable, Err: errors.New("connection refused")})

	step := commandStep("restart", "systemctl restart nginx")
	step.RetryCount = 1

	st := testStore(testRunbook(step))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "ExecutorFailure")
	assert.Equal(t, 2, spy.Calls())
	require.Len(t, st.steps, 1)
	assert.Equal(t, models.StatusFailed, st.steps[0].Status)
	assert.Contains(t, st.steps[0].ErrorMessage, "connection refused")
}

func TestEngineRun_RollsBackInReverseOrder(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "a done"}, nil)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "b done"}, nil)
	spy.Script(&executor.Result{ExitCode: 1, Stderr: "c broke"}, nil)

	stepA := commandStep("a", "do-a")
	stepA.RollbackLinux = "undo-a"
	stepB := commandStep("b", "do-b")
	stepB.RollbackLinux = "undo-b"
	stepC := commandStep("c", "do-c")

	st := testStore(testRunbook(stepA, stepB, stepC))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), `step "c"`)

	require.Equal(t, 5, spy.Calls(), "three steps plus two rollbacks")
	texts := make([]string, 0, len(spy.Commands))
	for _, cmd := range spy.Commands {
		texts = append(texts, cmd.Text)
	}
	assert.Equal(t, []string{"do-a", "do-b", "do-c", "undo-b", "undo-a"}, texts)

	require.Len(t, st.steps, 3)
	assert.True(t, st.steps[0].RollbackPerformed)
	assert.True(t, st.steps[1].RollbackPerformed)
	assert.False(t, st.steps[2].RollbackPerformed)
}

func TestEngineRun_RollbackFailureDoesNotBlockRemaining(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0}, nil) // a
	spy.Script(&executor.Result{ExitCode: 0}, nil) // b
	spy.Script(&executor.Result{ExitCode: 1}, nil) // c fails
	spy.Script(nil, &executor.DriverError{Kind: executor.FailUnreachable, Err: errors.New("gone")}) // undo-b fails
	spy.Script(&executor.Result{ExitCode: 0}, nil) // undo-a still runs

	stepA := commandStep("a", "do-a")
	stepA.RollbackLinux = "undo-a"
	stepB := commandStep("b", "do-b")
	stepB.RollbackLinux = "undo-b"
	stepC := commandStep("c", "do-c")

	st := testStore(testRunbook(stepA, stepB, stepC))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Equal(t, 5, spy.Calls())
	assert.Equal(t, "undo-a", spy.Commands[4].Text)
}

func TestEngineRun_ContinueOnFail(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 1, Stderr: "optional tune failed"}, nil)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "restarted"}, nil)

	tune := commandStep("tune", "sysctl -w vm.swappiness=10")
	tune.ContinueOnFail = true
	tune.RollbackLinux = "should-not-run"
	restart := commandStep("restart", "systemctl restart nginx")

	st := testStore(testRunbook(tune, restart))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	require.NoError(t, res.Error)
	assert.Equal(t, 2, spy.Calls(), "no rollback for continue_on_fail steps")

	require.Len(t, st.steps, 2)
	assert.Equal(t, models.StatusFailed, st.steps[0].Status)
	assert.Equal(t, models.StatusCompleted, st.steps[1].Status)
}

func TestEngineRun_TemplateFailureFailsExecution(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	st := testStore(testRunbook(
		commandStep("broken", "echo {{ vars.not_defined }}"),
	))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "TemplateResolution")
	assert.Zero(t, spy.Calls(), "unresolved templates must not dispatch")

	require.Len(t, st.steps, 1)
	assert.Equal(t, models.StatusFailed, st.steps[0].Status)
	assert.Contains(t, st.steps[0].ErrorMessage, "not_defined")
}

func TestEngineRun_TemplateFailureRollsBackEarlierSteps(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0}, nil) // a
	spy.Script(&executor.Result{ExitCode: 0}, nil) // undo-a

	stepA := commandStep("a", "do-a")
	stepA.RollbackLinux = "undo-a"
	broken := commandStep("broken", "echo {{ extracted.never_bound }}")

	st := testStore(testRunbook(stepA, broken))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Equal(t, 2, spy.Calls())
	assert.Equal(t, "undo-a", spy.Commands[1].Text)
}

func TestEngineRun_SkipsIncompatibleSteps(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)

	winStep := commandStep("windows-only", "Restart-Service nginx")
	winStep.CommandWindows = "Restart-Service nginx"
	winStep.CommandLinux = ""
	winStep.TargetOS = models.TargetWindows
	linStep := commandStep("linux-only", "systemctl restart nginx")
	linStep.TargetOS = models.TargetLinux

	st := testStore(testRunbook(winStep, linStep))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 1, spy.Calls())
	require.Len(t, st.steps, 1, "skipped steps leave no record")
	assert.Equal(t, "linux-only", st.steps[0].StepName)
}

func TestEngineRun_ServerResolution(t *testing.T) {
	t.Run("execution server overrides runbook default", func(t *testing.T) {
		spy := executor.NewSpy(models.ProtocolSSH)
		st := testStore(testRunbook(commandStep("whoami", "echo {{ server.name }}")))
		other := testServer()
		other.ID = "srv-2"
		other.Name = "db-01"
		st.servers["srv-2"] = other

		ex := testExecution()
		serverID := "srv-2"
		ex.ServerID = &serverID

		engine := newTestEngine(st, nil, spy)
		res := engine.Run(context.Background(), ex)
		require.Equal(t, models.StatusCompleted, res.Status)
		require.Len(t, spy.Commands, 1)
		assert.Equal(t, "echo db-01", spy.Commands[0].Text)
	})

	t.Run("target from alert label", func(t *testing.T) {
		spy := executor.NewSpy(models.ProtocolSSH)
		rb := testRunbook(commandStep("noop", "true"))
		rb.TargetFromAlert = true
		rb.TargetAlertLabel = "instance"
		rb.DefaultServerID = nil

		st := testStore(rb)
		st.alert = &models.Alert{
			ID:     "alert-1",
			Name:   "HighCPU",
			Labels: models.StringMap{"instance": "web-01.example.com"},
		}
		st.targets["web-01.example.com"] = testServer()

		ex := testExecution()
		alertID := "alert-1"
		ex.AlertID = &alertID

		engine := newTestEngine(st, nil, spy)
		res := engine.Run(context.Background(), ex)
		require.Equal(t, models.StatusCompleted, res.Status)
	})

	t.Run("unresolved target fails before any step", func(t *testing.T) {
		spy := executor.NewSpy(models.ProtocolSSH)
		rb := testRunbook(commandStep("noop", "true"))
		rb.DefaultServerID = nil

		st := testStore(rb)
		engine := newTestEngine(st, nil, spy)

		res := engine.Run(context.Background(), testExecution())
		require.Equal(t, models.StatusFailed, res.Status)
		require.Error(t, res.Error)
		assert.Contains(t, res.Error.Error(), "ServerUnresolved")
		assert.Zero(t, spy.Calls())
		assert.Empty(t, st.steps)
	})

	t.Run("missing alert label fails", func(t *testing.T) {
		spy := executor.NewSpy(models.ProtocolSSH)
		rb := testRunbook(commandStep("noop", "true"))
		rb.TargetFromAlert = true
		rb.TargetAlertLabel = "instance"

		st := testStore(rb)
		st.alert = &models.Alert{ID: "alert-1", Name: "HighCPU", Labels: models.StringMap{}}

		ex := testExecution()
		alertID := "alert-1"
		ex.AlertID = &alertID

		engine := newTestEngine(st, nil, spy)
		res := engine.Run(context.Background(), ex)
		require.Equal(t, models.StatusFailed, res.Status)
		assert.Contains(t, res.Error.Error(), "ServerUnresolved")
	})
}

func TestEngineRun_OutputVariableFlowsToNextStep(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "pid: 4242\n"}, nil)
	spy.Script(&executor.Result{ExitCode: 0}, nil)

	find := commandStep("find-pid", "pgrep -f nginx | head -1")
	find.OutputVariable = "pid"
	find.OutputExtract = `pid: (\d+)`
	kill := commandStep("kill", "kill -HUP {{ extracted.pid }}")

	st := testStore(testRunbook(find, kill))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	require.Len(t, spy.Commands, 2)
	assert.Equal(t, "kill -HUP 4242", spy.Commands[1].Text)
	assert.Equal(t, "4242", res.Extracted["pid"])
}

func TestEngineRun_APIResponseExtraction(t *testing.T) {
	apiSpy := executor.NewSpy(models.ProtocolAPI)
	apiSpy.Script(&executor.Result{
		ExitCode: 0,
		Stdout:   `{"job":{"id":"job-42"},"healthy":true}`,
	}, nil)
	sshSpy := executor.NewSpy(models.ProtocolSSH)
	sshSpy.Script(&executor.Result{ExitCode: 0}, nil)

	apiStep := models.RunbookStep{
		Name:        "trigger-job",
		Type:        models.StepAPI,
		APIMethod:   "post",
		APIEndpoint: "https://ops.example.com/api/jobs",
		APIBody:     `{"server":"{{ server.hostname }}"}`,
		APIResponseExtract: models.StringMap{
			"job_id": "$.job.id",
		},
	}
	follow := commandStep("tail-log", "tail -n1 /var/log/jobs/{{ extracted.job_id }}.log")

	st := testStore(testRunbook(apiStep, follow))
	engine := newTestEngine(st, nil, apiSpy, sshSpy)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusCompleted, res.Status)
	require.Len(t, apiSpy.Commands, 1)
	assert.Equal(t, "POST", apiSpy.Commands[0].Method)
	assert.Equal(t, `{"server":"web-01.example.com"}`, apiSpy.Commands[0].Body)
	assert.Equal(t, []int{200, 201, 202, 204}, apiSpy.Commands[0].ExpectedStatus)

	require.Len(t, sshSpy.Commands, 1)
	assert.Equal(t, "tail -n1 /var/log/jobs/job-42.log", sshSpy.Commands[0].Text)
	assert.Equal(t, "job-42", res.Extracted["job_id"])
}

func TestEngineRun_CancellationBetweenSteps(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	st := testStore(testRunbook(commandStep("noop", "true")))
	engine := newTestEngine(st, nil, spy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := engine.Run(ctx, testExecution())
	require.Equal(t, models.StatusCancelled, res.Status)
	assert.Zero(t, spy.Calls())
}

func TestEngineRun_DeadlineBecomesTimeout(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	st := testStore(testRunbook(commandStep("noop", "true")))
	engine := newTestEngine(st, nil, spy)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := engine.Run(ctx, testExecution())
	require.Equal(t, models.StatusTimeout, res.Status)
}

// panickingDriver wraps the spy and panics on the nth Connect.
type panickingDriver struct {
	*executor.Spy
	connects int
	panicOn  int
}

func (d *panickingDriver) Connect(ctx context.Context, server *models.ServerCredential, secret []byte) (executor.Session, error) {
	d.connects++
	if d.connects == d.panicOn {
		panic("wires crossed")
	}
	return d.Spy.Connect(ctx, server, secret)
}

func TestEngineRun_RecoversFromPanic(t *testing.T) {
	driver := &panickingDriver{Spy: executor.NewSpy(models.ProtocolSSH), panicOn: 2}

	stepA := commandStep("a", "do-a")
	stepA.RollbackLinux = "undo-a"
	stepB := commandStep("b", "do-b")

	st := testStore(testRunbook(stepA, stepB))
	engine := newTestEngine(st, nil, driver)

	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "internal error")
	require.NotNil(t, res.Details)
	assert.Equal(t, "wires crossed", res.Details["panic"])
	assert.NotEmpty(t, res.Details["stack"])

	// The completed step was still rolled back.
	require.Len(t, st.steps, 2)
	assert.True(t, st.steps[0].RollbackPerformed)
}

func TestEngineRun_PublishesLifecycleEvents(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 0, Stdout: "service restarted"}, nil)

	publisher := &capturePublisher{}
	st := testStore(testRunbook(commandStep("restart", "systemctl restart nginx")))
	engine := newTestEngine(st, publisher, spy)

	res := engine.Run(context.Background(), testExecution())
	require.Equal(t, models.StatusCompleted, res.Status)

	// The engine publishes the running status; the terminal status is the
	// worker's to publish after it persists the result.
	require.Len(t, publisher.executions, 1)
	assert.Equal(t, models.StatusRunning, publisher.executions[0].Status)
	assert.Equal(t, "restart-nginx", publisher.executions[0].RunbookName)

	require.Len(t, publisher.steps, 2)
	assert.Equal(t, models.StatusRunning, publisher.steps[0].Status)
	assert.Equal(t, models.StatusCompleted, publisher.steps[1].Status)
	require.NotNil(t, publisher.steps[1].ExitCode)
	assert.Equal(t, 0, *publisher.steps[1].ExitCode)

	require.NotEmpty(t, publisher.chunks)
	assert.Equal(t, "service restarted", publisher.chunks[0].Data)
	assert.Equal(t, "stdout", publisher.chunks[0].Stream)
	assert.Equal(t, publisher.steps[0].StepExecutionID, publisher.chunks[0].StepExecutionID)
}

func TestEngineRun_CommandStepOnAPIProfileFails(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolAPI)
	rb := testRunbook(commandStep("restart", "systemctl restart nginx"))
	st := testStore(rb)
	st.servers["srv-1"].Protocol = models.ProtocolAPI

	engine := newTestEngine(st, nil, spy)
	res := engine.Run(context.Background(), testExecution())

	require.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.Error.Error(), "api profile")
	assert.Zero(t, spy.Calls())
}

func TestEngineRun_ExpectedExitCode(t *testing.T) {
	spy := executor.NewSpy(models.ProtocolSSH)
	spy.Script(&executor.Result{ExitCode: 1, Stdout: "differences found"}, nil)

	diff := commandStep("diff-config", "diff /etc/nginx/nginx.conf /srv/backup/nginx.conf")
	diff.ExpectedExitCode = 1

	st := testStore(testRunbook(diff))
	engine := newTestEngine(st, nil, spy)

	res := engine.Run(context.Background(), testExecution())
	require.Equal(t, models.StatusCompleted, res.Status)
	require.Len(t, st.steps, 1)
	require.NotNil(t, st.steps[0].ExitCode)
	assert.Equal(t, 1, *st.steps[0].ExitCode)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	assert.PanicsWithValue(t, "orchestrator: store is required", func() {
		NewEngine(nil, executor.NewRegistry(), nil, nil, nil)
	})
	assert.PanicsWithValue(t, "orchestrator: driver registry is required", func() {
		NewEngine(&fakeStore{}, nil, nil, nil, nil)
	})
}
