package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/template"
)

// execute walks the runbook steps in order. Cancellation is checked
// between steps; in-flight drivers honor it through the context.
func (r *run) execute(ctx context.Context) *Result {
	for i := range r.runbook.Steps {
		step := &r.runbook.Steps[i]

		if err := ctx.Err(); err != nil {
			return r.interrupted(err)
		}

		if !r.server.OSType.MatchesStep(step.TargetOS) {
			// Skipped steps leave no record.
			r.log.Info("Step skipped, platform mismatch",
				"step", step.Name, "step_target", step.TargetOS, "server_os", r.server.OSType)
			continue
		}

		rendered, rec, err := r.runStep(ctx, step)
		if err == nil {
			r.completed = append(r.completed, completedStep{step: step, record: rec, rendered: rendered})
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.interrupted(ctxErr)
		}

		if step.ContinueOnFail {
			r.log.Warn("Step failed, continuing", "step", step.Name, "error", err)
			continue
		}

		r.log.Error("Step failed", "step", step.Name, "error", err)
		r.rollbackAll(context.WithoutCancel(ctx))
		return r.terminal(models.StatusFailed, fmt.Errorf("step %q: %w", step.Name, err))
	}

	return r.terminal(models.StatusCompleted, nil)
}

// runStep creates the step record, runs the attempts, and persists the
// outcome. The returned error is nil only when the step succeeded.
func (r *run) runStep(ctx context.Context, step *models.RunbookStep) (*renderedStep, *models.StepExecution, error) {
	started := time.Now()
	rec := &models.StepExecution{
		ExecutionID: r.ex.ID,
		StepOrder:   step.StepOrder,
		StepName:    step.Name,
		Status:      models.StatusRunning,
		StartedAt:   &started,
	}
	if err := r.engine.store.CreateStep(ctx, rec); err != nil {
		return nil, rec, fmt.Errorf("recording step start: %w", err)
	}
	r.publishStepStatus(ctx, rec)

	rendered, err := r.attempt(ctx, step, rec)

	completed := time.Now()
	duration := completed.Sub(started).Milliseconds()
	rec.CompletedAt = &completed
	rec.DurationMS = &duration

	// Terminal writes survive cancellation so the record reflects what ran.
	writeCtx := context.WithoutCancel(ctx)
	if uerr := r.engine.store.UpdateStep(writeCtx, rec); uerr != nil {
		r.log.Error("Failed to persist step result", "step", step.Name, "error", uerr)
	}
	r.publishStepStatus(writeCtx, rec)
	r.auditStep(step, rec)

	return rendered, rec, err
}

// attempt renders the step, short-circuits dry runs, and drives the retry
// loop. It mutates rec with the outcome of the last attempt.
func (r *run) attempt(ctx context.Context, step *models.RunbookStep, rec *models.StepExecution) (*renderedStep, error) {
	rendered, err := r.renderStep(step)
	if err != nil {
		rec.Status = models.StatusFailed
		rec.ErrorMessage = err.Error()
		return nil, err
	}

	if r.ex.IsDryRun {
		zero := 0
		rec.Status = models.StatusCompleted
		rec.ExitCode = &zero
		rec.Stdout = "[dry-run] " + rendered.display
		return rendered, nil
	}

	if step.Type == models.StepCommand && r.server.Protocol == models.ProtocolAPI {
		err := fmt.Errorf("command step %q requires an ssh or winrm server, %q is an api profile", step.Name, r.server.Name)
		rec.Status = models.StatusFailed
		rec.ErrorMessage = err.Error()
		return rendered, err
	}

	var expectOut *regexp.Regexp
	if step.ExpectedOutput != "" {
		expectOut, err = regexp.Compile(step.ExpectedOutput)
		if err != nil {
			err = fmt.Errorf("invalid expected_output_pattern: %w", err)
			rec.Status = models.StatusFailed
			rec.ErrorMessage = err.Error()
			return rendered, err
		}
	}

	proto := r.server.Protocol
	cred := r.server
	if step.Type == models.StepAPI {
		proto = models.ProtocolAPI
		if step.APICredentialProfileID != nil {
			cred, err = r.credentialProfile(ctx, *step.APICredentialProfileID)
			if err != nil {
				rec.Status = models.StatusFailed
				rec.ErrorMessage = err.Error()
				return rendered, err
			}
		}
	}

	cmd := buildCommand(step, rendered)

	var lastErr error
	for attemptNo := 0; attemptNo <= step.RetryCount; attemptNo++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if attemptNo > 0 {
			rec.RetryAttempt = attemptNo
			if !r.sleep(ctx, time.Duration(step.RetryDelaySeconds)*time.Second) {
				lastErr = ctx.Err()
				break
			}
			r.log.Info("Retrying step", "step", step.Name, "attempt", attemptNo)
			r.publishStepStatus(ctx, rec)
		}

		res, err := r.dispatch(ctx, proto, cred, cmd, rec)
		if res != nil {
			rec.ExitCode = &res.ExitCode
			rec.Stdout = res.Stdout
			rec.Stderr = res.Stderr
		}
		if err != nil {
			lastErr = err
			continue
		}

		if err := evaluate(step, expectOut, res); err != nil {
			lastErr = err
			continue
		}

		r.bindOutputs(step, res)
		rec.Status = models.StatusCompleted
		rec.ErrorMessage = ""
		return rendered, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("step produced no result")
	}
	if executor.KindOf(lastErr) != "" {
		lastErr = fmt.Errorf("ExecutorFailure: %w", lastErr)
	}
	rec.Status = models.StatusFailed
	rec.ErrorMessage = lastErr.Error()
	return rendered, lastErr
}

// dispatch acquires a driver session for one attempt and runs the
// command through it. The decrypted secret lives only for the Connect
// call; the session is closed on every path.
func (r *run) dispatch(ctx context.Context, proto models.Protocol, cred *models.ServerCredential, cmd executor.Command, rec *models.StepExecution) (*executor.Result, error) {
	driver, err := r.engine.drivers.Driver(proto)
	if err != nil {
		return nil, err
	}

	secret, err := r.engine.store.Secret(cred)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential for %q: %w", cred.Name, err)
	}
	session, err := driver.Connect(ctx, cred, secret)
	executor.Wipe(secret)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.log.Debug("Session close failed", "server", cred.Name, "error", cerr)
		}
	}()

	return session.Run(ctx, cmd, r.sink(rec))
}

// credentialProfile resolves an api step's credential override, cached
// across steps of the same execution.
func (r *run) credentialProfile(ctx context.Context, id string) (*models.ServerCredential, error) {
	if cached, ok := r.profiles[id]; ok {
		return cached, nil
	}
	profile, err := r.engine.store.Server(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading credential profile %s: %w", id, err)
	}
	r.profiles[id] = profile
	return profile, nil
}

// sleep waits the retry delay, returning false when the context ended
// first.
func (r *run) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// renderedStep holds a step's template fields after strict resolution.
type renderedStep struct {
	command  string
	workdir  string
	env      map[string]string
	endpoint string
	headers  map[string]string
	query    map[string]string
	body     string

	// display is what a dry run reports as the command.
	display string
}

// renderStep resolves every template field of the step against the
// execution context. Any unresolved placeholder fails the step with a
// TemplateResolution error.
func (r *run) renderStep(step *models.RunbookStep) (*renderedStep, error) {
	out := &renderedStep{}
	var err error

	if step.Type == models.StepAPI {
		if out.endpoint, err = template.Render("api_endpoint", step.APIEndpoint, r.tctx); err != nil {
			return nil, err
		}
		if out.headers, err = template.RenderMap("api_headers", step.APIHeaders, r.tctx); err != nil {
			return nil, err
		}
		if out.query, err = template.RenderMap("api_query_params", step.APIQueryParams, r.tctx); err != nil {
			return nil, err
		}
		if out.body, err = template.Render("api_body", step.APIBody, r.tctx); err != nil {
			return nil, err
		}
		out.display = strings.TrimSpace(apiMethod(step) + " " + out.endpoint)
		return out, nil
	}

	text := step.CommandFor(r.server.OSType)
	if text == "" {
		return nil, fmt.Errorf("step %q has no command for %s", step.Name, r.server.OSType)
	}
	if out.command, err = template.Render("command", text, r.tctx); err != nil {
		return nil, err
	}
	if out.workdir, err = template.Render("working_directory", step.WorkingDirectory, r.tctx); err != nil {
		return nil, err
	}
	if out.env, err = template.RenderMap("environment", step.Environment, r.tctx); err != nil {
		return nil, err
	}
	out.display = out.command
	return out, nil
}

// buildCommand translates a rendered step into the executor command.
func buildCommand(step *models.RunbookStep, rd *renderedStep) executor.Command {
	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if step.Type == models.StepAPI {
		return executor.Command{
			Method:          apiMethod(step),
			Endpoint:        rd.endpoint,
			Headers:         rd.headers,
			QueryParams:     rd.query,
			Body:            rd.body,
			BodyType:        step.APIBodyType,
			ExpectedStatus:  step.ExpectedStatusCodes(),
			RetryOnStatus:   step.RetryStatusCodes(),
			RetryCount:      step.RetryCount,
			RetryDelay:      time.Duration(step.RetryDelaySeconds) * time.Second,
			FollowRedirects: step.FollowRedirects(),
			Timeout:         timeout,
		}
	}
	return executor.Command{
		Text:             rd.command,
		Elevate:          step.RequiresElevation,
		WorkingDirectory: rd.workdir,
		Environment:      rd.env,
		Timeout:          timeout,
	}
}

func apiMethod(step *models.RunbookStep) string {
	if step.APIMethod == "" {
		return "GET"
	}
	return strings.ToUpper(step.APIMethod)
}

// evaluate applies the step's success criteria to a driver result.
func evaluate(step *models.RunbookStep, expectOut *regexp.Regexp, res *executor.Result) error {
	if res == nil {
		return fmt.Errorf("driver returned no result")
	}
	if res.ExitCode != step.ExpectedExitCode {
		return fmt.Errorf("exit code %d, expected %d", res.ExitCode, step.ExpectedExitCode)
	}
	if expectOut != nil && !expectOut.MatchString(res.Stdout) {
		return fmt.Errorf("output did not match expected pattern %q", step.ExpectedOutput)
	}
	return nil
}

// publishStepStatus emits a step.status event for the current record
// state. Failures are logged, never propagated.
func (r *run) publishStepStatus(ctx context.Context, rec *models.StepExecution) {
	if r.engine.events == nil {
		return
	}
	payload := events.StepStatusPayload{
		Type:            events.EventTypeStepStatus,
		ExecutionID:     r.ex.ID,
		StepExecutionID: rec.ID,
		StepName:        rec.StepName,
		StepOrder:       rec.StepOrder,
		RetryAttempt:    rec.RetryAttempt,
		Status:          rec.Status,
		ExitCode:        rec.ExitCode,
		ErrorMessage:    rec.ErrorMessage,
		Timestamp:       time.Now().Format(time.RFC3339Nano),
	}
	if err := r.engine.events.PublishStepStatus(ctx, payload); err != nil {
		r.log.Warn("Failed to publish step status", "step", rec.StepName, "error", err)
	}
}

// auditStep records a step.finished audit event.
func (r *run) auditStep(step *models.RunbookStep, rec *models.StepExecution) {
	details := models.AnyMap{
		"step_name":  step.Name,
		"step_order": step.StepOrder,
		"status":     string(rec.Status),
		"dry_run":    r.ex.IsDryRun,
	}
	if rec.ExitCode != nil {
		details["exit_code"] = *rec.ExitCode
	}
	if rec.RetryAttempt > 0 {
		details["retry_attempt"] = rec.RetryAttempt
	}
	if rec.ErrorMessage != "" {
		details["error"] = rec.ErrorMessage
	}
	if rec.DurationMS != nil {
		details["duration_ms"] = *rec.DurationMS
	}
	r.engine.audit(models.AuditStepFinished, "runbook_execution", r.ex.ID, details)
}
