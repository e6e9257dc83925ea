package intake

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/rules"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/triggers"
)

// evaluateAlert runs the rule set against one alert and follows the
// decision: ignore stops here, manual leaves the alert for an operator,
// auto_analyze kicks off background analysis and then tries to match a
// remediation trigger. Only firing alerts reach trigger matching; a
// resolved alert has nothing left to remediate.
func (p *Pipeline) evaluateAlert(ctx context.Context, alert *models.Alert, log *slog.Logger) {
	ruleset, err := p.store.Rules.ListEnabled(ctx)
	if err != nil {
		log.Error("Failed to load rules", "alert_id", alert.ID, "error", err)
		return
	}

	decision := rules.Evaluate(alert, ruleset)
	log.Info("Rule decision",
		"alert_id", alert.ID,
		"alert_name", alert.Name,
		"action", decision.Action,
		"rule_id", decision.RuleID)
	details := models.AnyMap{
		"alert_name": alert.Name,
		"action":     string(decision.Action),
	}
	if decision.RuleID != "" {
		details["rule_id"] = decision.RuleID
		details["rule_name"] = decision.RuleName
	}
	p.audit(models.AuditRuleDecision, "alert", alert.ID, details)

	if decision.Action != models.ActionAutoAnalyze {
		return
	}

	p.analyzeAsync(alert)

	if alert.Status != models.AlertFiring {
		return
	}

	candidate, err := p.matcher.Match(ctx, alert)
	if err != nil {
		log.Error("Trigger matching failed", "alert_id", alert.ID, "error", err)
		return
	}
	if candidate == nil {
		return
	}

	log.Info("Trigger fired",
		"alert_id", alert.ID,
		"trigger_id", candidate.Trigger.ID,
		"runbook_id", candidate.Runbook.ID,
		"runbook_name", candidate.Runbook.Name)
	p.audit(models.AuditTriggerFired, "runbook_trigger", candidate.Trigger.ID, models.AnyMap{
		"alert_id":     alert.ID,
		"alert_name":   alert.Name,
		"runbook_id":   candidate.Runbook.ID,
		"runbook_name": candidate.Runbook.Name,
	})

	p.createExecution(ctx, alert, candidate, log)
}

// analyzeAsync annotates the alert with LLM analysis in the background.
// Failures are logged and the alert stays unanalyzed; an operator can
// force a retry over the API.
func (p *Pipeline) analyzeAsync(alert *models.Alert) {
	if !p.analyzer.Enabled() {
		return
	}
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()

		analysis, err := p.analyzer.Analyze(ctx, alert)
		if err != nil {
			slog.Warn("Alert analysis failed",
				"alert_id", alert.ID,
				"alert_name", alert.Name,
				"error", err)
			return
		}
		if err := p.store.Alerts.SetAnalysis(ctx, alert.ID, analysis, true); err != nil {
			slog.Error("Failed to store alert analysis", "alert_id", alert.ID, "error", err)
			return
		}
		p.audit(models.AuditAlertAnalyzed, "alert", alert.ID, models.AnyMap{
			"alert_name":      alert.Name,
			"recommendations": len(analysis.Recommendations),
		})
		slog.Info("Alert analyzed", "alert_id", alert.ID, "alert_name", alert.Name)
	}()
}

// createExecution hands the fired trigger to the execution service, which
// owns the safety gates, persistence and notifications. A gate denial is
// routine traffic here, not an error.
func (p *Pipeline) createExecution(ctx context.Context, alert *models.Alert, c *triggers.Candidate, log *slog.Logger) {
	ex, err := p.executions.Create(ctx, services.CreateExecutionInput{
		Runbook:   c.Runbook,
		Mode:      models.ModeAuto,
		Actor:     models.ActorSystem,
		AlertID:   &alert.ID,
		TriggerID: &c.Trigger.ID,
		AlertName: alert.Name,
	})
	if err != nil {
		if denial, ok := safety.AsDenial(err); ok {
			log.Info("Execution denied by safety gate",
				"alert_id", alert.ID,
				"runbook_id", c.Runbook.ID,
				"kind", denial.Kind,
				"reason", denial.Message)
			return
		}
		log.Error("Failed to create execution",
			"alert_id", alert.ID,
			"runbook_id", c.Runbook.ID,
			"error", err)
		return
	}

	log.Info("Execution created from trigger",
		"execution_id", ex.ID,
		"runbook_id", c.Runbook.ID,
		"runbook_name", c.Runbook.Name,
		"alert_id", alert.ID,
		"status", ex.Status)
}
