package models

import "time"

// StepType selects the executor driver family for a runbook step.
type StepType string

// Step types.
const (
	StepCommand StepType = "command"
	StepAPI     StepType = "api"
)

// IsValid checks if the step type is a known value.
func (t StepType) IsValid() bool {
	switch t {
	case StepCommand, StepAPI:
		return true
	default:
		return false
	}
}

// TargetOS restricts a runbook or step to hosts of a given platform.
// TargetAny runs everywhere; a step whose target does not match the
// resolved server's platform is skipped.
type TargetOS string

// Target platforms.
const (
	TargetAny     TargetOS = "any"
	TargetLinux   TargetOS = "linux"
	TargetWindows TargetOS = "windows"
)

// IsValid checks if the target OS is a known value.
func (o TargetOS) IsValid() bool {
	switch o {
	case TargetAny, TargetLinux, TargetWindows:
		return true
	default:
		return false
	}
}

// APIBodyType controls how an api step's body is encoded before dispatch.
type APIBodyType string

// API body encodings.
const (
	APIBodyJSON     APIBodyType = "json"
	APIBodyForm     APIBodyType = "form"
	APIBodyRaw      APIBodyType = "raw"
	APIBodyTemplate APIBodyType = "template"
)

// IsValid checks if the API body type is a known value.
func (t APIBodyType) IsValid() bool {
	switch t {
	case APIBodyJSON, APIBodyForm, APIBodyRaw, APIBodyTemplate:
		return true
	default:
		return false
	}
}

// Runbook is an ordered remediation procedure. Steps run in step_order
// sequence; triggers bind the runbook to alert patterns, and the approval
// and rate-limit fields feed the safety gates.
type Runbook struct {
	ID                     string     `db:"id" json:"id"`
	Name                   string     `db:"name" json:"name"`
	Description            string     `db:"description" json:"description"`
	Tags                   StringList `db:"tags" json:"tags,omitempty"`
	TargetOS               TargetOS   `db:"target_os" json:"target_os"`
	Enabled                bool       `db:"enabled" json:"enabled"`
	AutoExecute            bool       `db:"auto_execute" json:"auto_execute"`
	ApprovalRequired       bool       `db:"approval_required" json:"approval_required"`
	ApprovalRoles          StringList `db:"approval_roles" json:"approval_roles,omitempty"`
	ApprovalTimeoutMinutes int        `db:"approval_timeout_minutes" json:"approval_timeout_minutes"`
	MaxExecutionsPerHour   int        `db:"max_executions_per_hour" json:"max_executions_per_hour"`
	CooldownMinutes        int        `db:"cooldown_minutes" json:"cooldown_minutes"`
	DefaultServerID        *string    `db:"default_server_id" json:"default_server_id,omitempty"`
	TargetFromAlert        bool       `db:"target_from_alert" json:"target_from_alert"`
	TargetAlertLabel       string     `db:"target_alert_label" json:"target_alert_label"`
	Version                int        `db:"version" json:"version"`
	Embedding              FloatList  `db:"embedding" json:"embedding,omitempty"`
	CreatedBy              string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt              *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	Steps    []RunbookStep    `db:"-" json:"steps,omitempty"`
	Triggers []RunbookTrigger `db:"-" json:"triggers,omitempty"`
}

// NeedsApproval reports whether triggered executions of this runbook must
// wait for an operator before running.
func (r *Runbook) NeedsApproval() bool {
	return r.ApprovalRequired || !r.AutoExecute
}

// ApplyDefaults fills unset runbook, step, and trigger fields with their
// documented defaults. Called on every create path (API, IaC import) so a
// sparse document and a fully spelled-out one produce the same record.
func (r *Runbook) ApplyDefaults() {
	if r.TargetOS == "" {
		r.TargetOS = TargetAny
	}
	if r.TargetAlertLabel == "" {
		r.TargetAlertLabel = "instance"
	}
	if r.ApprovalTimeoutMinutes == 0 {
		r.ApprovalTimeoutMinutes = 60
	}
	if r.MaxExecutionsPerHour == 0 {
		r.MaxExecutionsPerHour = 10
	}
	if r.CooldownMinutes == 0 {
		r.CooldownMinutes = 5
	}
	for i := range r.Steps {
		s := &r.Steps[i]
		if s.StepOrder == 0 {
			s.StepOrder = i + 1
		}
		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = 300
		}
		if s.RetryDelaySeconds == 0 {
			s.RetryDelaySeconds = 5
		}
		if s.Type == StepCommand && s.TargetOS == "" {
			s.TargetOS = TargetAny
		}
	}
	for i := range r.Triggers {
		t := &r.Triggers[i]
		if t.Priority == 0 {
			t.Priority = 100
		}
		if t.AlertNamePattern == "" {
			t.AlertNamePattern = "*"
		}
		if t.SeverityPattern == "" {
			t.SeverityPattern = "*"
		}
		if t.InstancePattern == "" {
			t.InstancePattern = "*"
		}
		if t.JobPattern == "" {
			t.JobPattern = "*"
		}
		if t.MinOccurrences == 0 {
			t.MinOccurrences = 1
		}
	}
}

// RunbookStep is a single unit of work inside a runbook. Command steps
// carry per-platform command text and run over SSH or WinRM; api steps go
// through the HTTP driver. Every user-supplied string field is rendered
// against the execution context before dispatch.
type RunbookStep struct {
	ID                string    `db:"id" json:"id"`
	RunbookID         string    `db:"runbook_id" json:"runbook_id"`
	StepOrder         int       `db:"step_order" json:"step_order"`
	Name              string    `db:"name" json:"name"`
	Type              StepType  `db:"step_type" json:"step_type"`
	TimeoutSeconds    int       `db:"timeout_seconds" json:"timeout_seconds"`
	ContinueOnFail    bool      `db:"continue_on_fail" json:"continue_on_fail"`
	RetryCount        int       `db:"retry_count" json:"retry_count"`
	RetryDelaySeconds int       `db:"retry_delay_seconds" json:"retry_delay_seconds"`
	ExpectedExitCode  int       `db:"expected_exit_code" json:"expected_exit_code"`
	ExpectedOutput    string    `db:"expected_output_pattern" json:"expected_output_pattern,omitempty"`
	OutputVariable    string    `db:"output_variable" json:"output_variable,omitempty"`
	OutputExtract     string    `db:"output_extract_pattern" json:"output_extract_pattern,omitempty"`
	RequiresElevation bool      `db:"requires_elevation" json:"requires_elevation"`
	WorkingDirectory  string    `db:"working_directory" json:"working_directory,omitempty"`
	Environment       StringMap `db:"environment" json:"environment,omitempty"`
	RollbackLinux     string    `db:"rollback_command_linux" json:"rollback_command_linux,omitempty"`
	RollbackWindows   string    `db:"rollback_command_windows" json:"rollback_command_windows,omitempty"`

	// Command step fields.
	CommandLinux   string   `db:"command_linux" json:"command_linux,omitempty"`
	CommandWindows string   `db:"command_windows" json:"command_windows,omitempty"`
	TargetOS       TargetOS `db:"target_os" json:"target_os,omitempty"`

	// API step fields.
	APIMethod              string      `db:"api_method" json:"api_method,omitempty"`
	APIEndpoint            string      `db:"api_endpoint" json:"api_endpoint,omitempty"`
	APIHeaders             StringMap   `db:"api_headers" json:"api_headers,omitempty"`
	APIBody                string      `db:"api_body" json:"api_body,omitempty"`
	APIBodyType            APIBodyType `db:"api_body_type" json:"api_body_type,omitempty"`
	APIQueryParams         StringMap   `db:"api_query_params" json:"api_query_params,omitempty"`
	APIExpectedStatusCodes IntList     `db:"api_expected_status_codes" json:"api_expected_status_codes,omitempty"`
	APIResponseExtract     StringMap   `db:"api_response_extract" json:"api_response_extract,omitempty"`
	APIFollowRedirects     *bool       `db:"api_follow_redirects" json:"api_follow_redirects,omitempty"`
	APIRetryOnStatusCodes  IntList     `db:"api_retry_on_status_codes" json:"api_retry_on_status_codes,omitempty"`
	APICredentialProfileID *string     `db:"api_credential_profile_id" json:"api_credential_profile_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CommandFor returns the command text for the given platform.
func (s *RunbookStep) CommandFor(os ServerOS) string {
	if os == OSWindows {
		return s.CommandWindows
	}
	return s.CommandLinux
}

// RollbackFor returns the rollback command for the given platform.
func (s *RunbookStep) RollbackFor(os ServerOS) string {
	if os == OSWindows {
		return s.RollbackWindows
	}
	return s.RollbackLinux
}

// ExpectedStatusCodes returns the HTTP statuses counted as success for an
// api step, defaulting to the usual 2xx write statuses.
func (s *RunbookStep) ExpectedStatusCodes() []int {
	if len(s.APIExpectedStatusCodes) > 0 {
		return s.APIExpectedStatusCodes
	}
	return []int{200, 201, 202, 204}
}

// RetryStatusCodes returns the HTTP statuses the API driver retries on.
func (s *RunbookStep) RetryStatusCodes() []int {
	if len(s.APIRetryOnStatusCodes) > 0 {
		return s.APIRetryOnStatusCodes
	}
	return []int{408, 429, 500, 502, 503, 504}
}

// FollowRedirects defaults to true when unset.
func (s *RunbookStep) FollowRedirects() bool {
	if s.APIFollowRedirects == nil {
		return true
	}
	return *s.APIFollowRedirects
}

// RunbookTrigger binds a runbook to alerts matching its patterns. The
// lowest-priority enabled trigger whose patterns, occurrence and duration
// thresholds all pass fires the runbook; LastTriggeredAt enforces the
// per-trigger cooldown.
type RunbookTrigger struct {
	ID                 string     `db:"id" json:"id"`
	RunbookID          string     `db:"runbook_id" json:"runbook_id"`
	Priority           int        `db:"priority" json:"priority"`
	Enabled            bool       `db:"enabled" json:"enabled"`
	AlertNamePattern   string     `db:"alert_name_pattern" json:"alert_name_pattern"`
	SeverityPattern    string     `db:"severity_pattern" json:"severity_pattern"`
	InstancePattern    string     `db:"instance_pattern" json:"instance_pattern"`
	JobPattern         string     `db:"job_pattern" json:"job_pattern"`
	LabelMatchers      StringMap  `db:"label_matchers" json:"label_matchers,omitempty"`
	AnnotationMatchers StringMap  `db:"annotation_matchers" json:"annotation_matchers,omitempty"`
	MinDurationSeconds int        `db:"min_duration_seconds" json:"min_duration_seconds"`
	MinOccurrences     int        `db:"min_occurrences" json:"min_occurrences"`
	CooldownSeconds    int        `db:"cooldown_seconds" json:"cooldown_seconds"`
	LastTriggeredAt    *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// InCooldown reports whether the trigger fired more recently than its
// cooldown allows.
func (t *RunbookTrigger) InCooldown(now time.Time) bool {
	if t.CooldownSeconds <= 0 || t.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*t.LastTriggeredAt) < time.Duration(t.CooldownSeconds)*time.Second
}
