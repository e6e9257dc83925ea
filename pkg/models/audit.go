package models

import "time"

// Audit actions recorded by the engine. Operator actions carry the acting
// user; engine decisions carry ActorSystem.
const (
	AuditAlertReceived     = "alert.received"
	AuditAlertAnalyzed     = "alert.analyzed"
	AuditRuleDecision      = "rule.decision"
	AuditTriggerFired      = "trigger.fired"
	AuditGateDenied        = "gate.denied"
	AuditGateBypassed      = "gate.bypassed"
	AuditExecutionCreated  = "execution.created"
	AuditExecutionStarted  = "execution.started"
	AuditExecutionFinished = "execution.finished"
	AuditExecutionApproved = "execution.approved"
	AuditExecutionCancel   = "execution.cancelled"
	AuditExecutionTimeout  = "execution.timeout"
	AuditStepFinished      = "step.finished"
	AuditRollbackRun       = "step.rollback"
	AuditBreakerChanged    = "breaker.transition"
	AuditBreakerOverride   = "breaker.override"
	AuditScheduleFired     = "schedule.fired"
	AuditScheduleSkipped   = "schedule.skipped"
	AuditResourceCreated   = "resource.created"
	AuditResourceUpdated   = "resource.updated"
	AuditResourceDeleted   = "resource.deleted"
)

// ActorSystem marks audit events produced by the engine itself.
const ActorSystem = "system"

// RoleAdmin is the proxy group whose members may bypass safety gates.
// Every honored bypass is still audited as AuditGateBypassed.
const RoleAdmin = "admin"

// AuditEvent is one append-only record of a decision or side effect.
type AuditEvent struct {
	ID           int64     `db:"id" json:"id"`
	Timestamp    time.Time `db:"ts" json:"ts"`
	Actor        string    `db:"actor" json:"actor"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id"`
	Details      AnyMap    `db:"details" json:"details,omitempty"`
	IP           string    `db:"ip" json:"ip,omitempty"`
}
