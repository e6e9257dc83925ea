package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/template"
)

// rollbackAll undoes previously completed steps in reverse order. Steps
// without a rollback command for the server platform are skipped. A
// failing rollback is logged and audited but never blocks the next one.
func (r *run) rollbackAll(ctx context.Context) {
	for i := len(r.completed) - 1; i >= 0; i-- {
		cs := r.completed[i]
		text := cs.step.RollbackFor(r.server.OSType)
		if text == "" {
			continue
		}
		r.rollbackStep(ctx, cs, text)
	}
}

func (r *run) rollbackStep(ctx context.Context, cs completedStep, text string) {
	log := r.log.With("step", cs.step.Name)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Rollback panicked", "panic", rec)
		}
	}()

	rendered, err := template.Render("rollback_command", text, r.tctx)
	if err != nil {
		log.Error("Rollback command failed to render", "error", err)
		r.auditRollback(cs, "", err)
		return
	}

	if r.ex.IsDryRun {
		log.Info("Dry run, rollback not invoked", "command", rendered)
		return
	}

	log.Info("Rolling back step", "command", rendered)

	cmd := executor.Command{
		Text:             rendered,
		Elevate:          cs.step.RequiresElevation,
		WorkingDirectory: cs.rendered.workdir,
		Environment:      cs.rendered.env,
		Timeout:          time.Duration(cs.step.TimeoutSeconds) * time.Second,
	}

	res, err := r.dispatch(ctx, r.server.Protocol, r.server, cmd, cs.record)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("rollback exited with code %d", res.ExitCode)
	}
	if err != nil {
		log.Error("Rollback failed", "error", err)
	}

	cs.record.RollbackPerformed = true
	if uerr := r.engine.store.UpdateStep(ctx, cs.record); uerr != nil {
		log.Error("Failed to persist rollback flag", "error", uerr)
	}
	r.auditRollback(cs, rendered, err)
}

// auditRollback records a step.rollback audit event.
func (r *run) auditRollback(cs completedStep, command string, err error) {
	details := models.AnyMap{
		"step_name":  cs.step.Name,
		"step_order": cs.step.StepOrder,
	}
	if command != "" {
		details["command"] = command
	}
	if err != nil {
		details["error"] = err.Error()
	}
	r.engine.audit(models.AuditRollbackRun, "runbook_execution", r.ex.ID, details)
}
