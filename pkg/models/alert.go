// Package models defines the domain entities shared by the store, the
// orchestrator, and the API layer. Entities map 1:1 onto database tables;
// enums are string types validated at the boundaries.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AlertStatus is the firing state reported by the monitoring system.
type AlertStatus string

// Alert statuses.
const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

// IsValid checks if the alert status is a known value.
func (s AlertStatus) IsValid() bool {
	return s == AlertFiring || s == AlertResolved
}

// Alert is a deduplicated monitoring alert. The fingerprint is the identity:
// repeated webhook deliveries with the same fingerprint update the existing
// row and bump OccurrenceCount instead of creating a new alert.
type Alert struct {
	ID              string      `db:"id" json:"id"`
	Fingerprint     string      `db:"fingerprint" json:"fingerprint"`
	Name            string      `db:"name" json:"name"`
	Severity        string      `db:"severity" json:"severity"`
	Instance        string      `db:"instance" json:"instance"`
	Job             string      `db:"job" json:"job"`
	Labels          StringMap   `db:"labels" json:"labels"`
	Annotations     StringMap   `db:"annotations" json:"annotations"`
	Status          AlertStatus `db:"status" json:"status"`
	StartsAt        time.Time   `db:"starts_at" json:"starts_at"`
	EndsAt          *time.Time  `db:"ends_at" json:"ends_at,omitempty"`
	ReceivedAt      time.Time   `db:"received_at" json:"received_at"`
	RawPayload      string      `db:"raw_payload" json:"raw_payload,omitempty"`
	OccurrenceCount int         `db:"occurrence_count" json:"occurrence_count"`
	Analyzed        bool        `db:"analyzed" json:"analyzed"`
	Analysis        *Analysis   `db:"analysis" json:"analysis,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Analysis is the result of LLM enrichment written back onto an alert.
type Analysis struct {
	RootCause       string           `json:"root_cause"`
	Impact          string           `json:"impact"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is one remediation suggestion inside an Analysis.
type Recommendation struct {
	Title     string   `json:"title"`
	Commands  []string `json:"commands,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// Value implements driver.Valuer so Analysis persists as a JSONB column.
func (a Analysis) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Analysis) Scan(src any) error {
	return scanJSON(src, a)
}

// TemplateContext flattens the alert into the map consumed by the
// template engine and the rules engine. Nil-safe: a nil alert yields
// empty fields so patterns treat them as empty strings.
func (a *Alert) TemplateContext() map[string]any {
	if a == nil {
		return map[string]any{
			"name": "", "severity": "", "instance": "", "job": "",
			"labels": map[string]string{}, "annotations": map[string]string{},
			"status": "",
		}
	}
	labels := a.Labels
	if labels == nil {
		labels = StringMap{}
	}
	annotations := a.Annotations
	if annotations == nil {
		annotations = StringMap{}
	}
	return map[string]any{
		"name":        a.Name,
		"severity":    a.Severity,
		"instance":    a.Instance,
		"job":         a.Job,
		"labels":      map[string]string(labels),
		"annotations": map[string]string(annotations),
		"status":      string(a.Status),
		"fingerprint": a.Fingerprint,
	}
}
