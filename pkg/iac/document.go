// Package iac defines the YAML document format for runbooks as code and
// the codec between documents and stored runbooks. The document carries
// the operator-authored definition only; server-assigned fields (ids,
// version, timestamps) never appear, so a runbook exported from one
// deployment imports cleanly into another.
package iac

import "github.com/codeready-toolchain/remedy/pkg/models"

// Document is one runbook definition in IaC form. Field names match the
// stored runbook exactly.
type Document struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description,omitempty"`
	Tags                   []string `yaml:"tags,omitempty"`
	TargetOS               string   `yaml:"target_os,omitempty"`
	Enabled                *bool    `yaml:"enabled,omitempty"`
	AutoExecute            bool     `yaml:"auto_execute,omitempty"`
	ApprovalRequired       bool     `yaml:"approval_required,omitempty"`
	ApprovalRoles          []string `yaml:"approval_roles,omitempty"`
	ApprovalTimeoutMinutes int      `yaml:"approval_timeout_minutes,omitempty"`
	MaxExecutionsPerHour   int      `yaml:"max_executions_per_hour,omitempty"`
	CooldownMinutes        int      `yaml:"cooldown_minutes,omitempty"`
	DefaultServerID        string   `yaml:"default_server_id,omitempty"`
	TargetFromAlert        bool     `yaml:"target_from_alert,omitempty"`
	TargetAlertLabel       string   `yaml:"target_alert_label,omitempty"`

	Steps    []StepDocument    `yaml:"steps"`
	Triggers []TriggerDocument `yaml:"triggers,omitempty"`
}

// StepDocument is one step inside a Document.
type StepDocument struct {
	StepOrder         int               `yaml:"step_order,omitempty"`
	Name              string            `yaml:"name"`
	Type              string            `yaml:"step_type"`
	TimeoutSeconds    int               `yaml:"timeout_seconds,omitempty"`
	ContinueOnFail    bool              `yaml:"continue_on_fail,omitempty"`
	RetryCount        int               `yaml:"retry_count,omitempty"`
	RetryDelaySeconds int               `yaml:"retry_delay_seconds,omitempty"`
	ExpectedExitCode  int               `yaml:"expected_exit_code,omitempty"`
	ExpectedOutput    string            `yaml:"expected_output_pattern,omitempty"`
	OutputVariable    string            `yaml:"output_variable,omitempty"`
	OutputExtract     string            `yaml:"output_extract_pattern,omitempty"`
	RequiresElevation bool              `yaml:"requires_elevation,omitempty"`
	WorkingDirectory  string            `yaml:"working_directory,omitempty"`
	Environment       map[string]string `yaml:"environment,omitempty"`
	RollbackLinux     string            `yaml:"rollback_command_linux,omitempty"`
	RollbackWindows   string            `yaml:"rollback_command_windows,omitempty"`

	CommandLinux   string `yaml:"command_linux,omitempty"`
	CommandWindows string `yaml:"command_windows,omitempty"`
	TargetOS       string `yaml:"target_os,omitempty"`

	APIMethod              string            `yaml:"api_method,omitempty"`
	APIEndpoint            string            `yaml:"api_endpoint,omitempty"`
	APIHeaders             map[string]string `yaml:"api_headers,omitempty"`
	APIBody                string            `yaml:"api_body,omitempty"`
	APIBodyType            string            `yaml:"api_body_type,omitempty"`
	APIQueryParams         map[string]string `yaml:"api_query_params,omitempty"`
	APIExpectedStatusCodes []int             `yaml:"api_expected_status_codes,omitempty"`
	APIResponseExtract     map[string]string `yaml:"api_response_extract,omitempty"`
	APIFollowRedirects     *bool             `yaml:"api_follow_redirects,omitempty"`
	APIRetryOnStatusCodes  []int             `yaml:"api_retry_on_status_codes,omitempty"`
	APICredentialProfileID string            `yaml:"api_credential_profile_id,omitempty"`
}

// TriggerDocument is one trigger inside a Document.
type TriggerDocument struct {
	Priority           int               `yaml:"priority,omitempty"`
	Enabled            *bool             `yaml:"enabled,omitempty"`
	AlertNamePattern   string            `yaml:"alert_name_pattern,omitempty"`
	SeverityPattern    string            `yaml:"severity_pattern,omitempty"`
	InstancePattern    string            `yaml:"instance_pattern,omitempty"`
	JobPattern         string            `yaml:"job_pattern,omitempty"`
	LabelMatchers      map[string]string `yaml:"label_matchers,omitempty"`
	AnnotationMatchers map[string]string `yaml:"annotation_matchers,omitempty"`
	MinDurationSeconds int               `yaml:"min_duration_seconds,omitempty"`
	MinOccurrences     int               `yaml:"min_occurrences,omitempty"`
	CooldownSeconds    int               `yaml:"cooldown_seconds,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func ptrOrTrue(p *bool) bool {
	return p == nil || *p
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// enabledField collapses the tri-state YAML enabled flag: exported
// documents always spell it out, imports default to true.
func enabledField(v bool) *bool {
	if v {
		return nil // omitted means enabled
	}
	return boolPtr(false)
}

// ToRunbook converts the document into a runbook ready for creation, with
// defaults applied. The caller assigns identity and version.
func (d *Document) ToRunbook() *models.Runbook {
	rb := &models.Runbook{
		Name:                   d.Name,
		Description:            d.Description,
		Tags:                   models.StringList(d.Tags),
		TargetOS:               models.TargetOS(d.TargetOS),
		Enabled:                ptrOrTrue(d.Enabled),
		AutoExecute:            d.AutoExecute,
		ApprovalRequired:       d.ApprovalRequired,
		ApprovalRoles:          models.StringList(d.ApprovalRoles),
		ApprovalTimeoutMinutes: d.ApprovalTimeoutMinutes,
		MaxExecutionsPerHour:   d.MaxExecutionsPerHour,
		CooldownMinutes:        d.CooldownMinutes,
		DefaultServerID:        strPtr(d.DefaultServerID),
		TargetFromAlert:        d.TargetFromAlert,
		TargetAlertLabel:       d.TargetAlertLabel,
	}

	for _, sd := range d.Steps {
		rb.Steps = append(rb.Steps, models.RunbookStep{
			StepOrder:         sd.StepOrder,
			Name:              sd.Name,
			Type:              models.StepType(sd.Type),
			TimeoutSeconds:    sd.TimeoutSeconds,
			ContinueOnFail:    sd.ContinueOnFail,
			RetryCount:        sd.RetryCount,
			RetryDelaySeconds: sd.RetryDelaySeconds,
			ExpectedExitCode:  sd.ExpectedExitCode,
			ExpectedOutput:    sd.ExpectedOutput,
			OutputVariable:    sd.OutputVariable,
			OutputExtract:     sd.OutputExtract,
			RequiresElevation: sd.RequiresElevation,
			WorkingDirectory:  sd.WorkingDirectory,
			Environment:       models.StringMap(sd.Environment),
			RollbackLinux:     sd.RollbackLinux,
			RollbackWindows:   sd.RollbackWindows,

			CommandLinux:   sd.CommandLinux,
			CommandWindows: sd.CommandWindows,
			TargetOS:       models.TargetOS(sd.TargetOS),

			APIMethod:              sd.APIMethod,
			APIEndpoint:            sd.APIEndpoint,
			APIHeaders:             models.StringMap(sd.APIHeaders),
			APIBody:                sd.APIBody,
			APIBodyType:            models.APIBodyType(sd.APIBodyType),
			APIQueryParams:         models.StringMap(sd.APIQueryParams),
			APIExpectedStatusCodes: models.IntList(sd.APIExpectedStatusCodes),
			APIResponseExtract:     models.StringMap(sd.APIResponseExtract),
			APIFollowRedirects:     sd.APIFollowRedirects,
			APIRetryOnStatusCodes:  models.IntList(sd.APIRetryOnStatusCodes),
			APICredentialProfileID: strPtr(sd.APICredentialProfileID),
		})
	}

	for _, td := range d.Triggers {
		rb.Triggers = append(rb.Triggers, models.RunbookTrigger{
			Priority:           td.Priority,
			Enabled:            ptrOrTrue(td.Enabled),
			AlertNamePattern:   td.AlertNamePattern,
			SeverityPattern:    td.SeverityPattern,
			InstancePattern:    td.InstancePattern,
			JobPattern:         td.JobPattern,
			LabelMatchers:      models.StringMap(td.LabelMatchers),
			AnnotationMatchers: models.StringMap(td.AnnotationMatchers),
			MinDurationSeconds: td.MinDurationSeconds,
			MinOccurrences:     td.MinOccurrences,
			CooldownSeconds:    td.CooldownSeconds,
		})
	}

	rb.ApplyDefaults()
	return rb
}

// FromRunbook converts a stored runbook into its IaC document.
func FromRunbook(rb *models.Runbook) *Document {
	d := &Document{
		Name:                   rb.Name,
		Description:            rb.Description,
		Tags:                   rb.Tags,
		TargetOS:               string(rb.TargetOS),
		Enabled:                enabledField(rb.Enabled),
		AutoExecute:            rb.AutoExecute,
		ApprovalRequired:       rb.ApprovalRequired,
		ApprovalRoles:          rb.ApprovalRoles,
		ApprovalTimeoutMinutes: rb.ApprovalTimeoutMinutes,
		MaxExecutionsPerHour:   rb.MaxExecutionsPerHour,
		CooldownMinutes:        rb.CooldownMinutes,
		DefaultServerID:        derefStr(rb.DefaultServerID),
		TargetFromAlert:        rb.TargetFromAlert,
		TargetAlertLabel:       rb.TargetAlertLabel,
	}

	for _, s := range rb.Steps {
		d.Steps = append(d.Steps, StepDocument{
			StepOrder:         s.StepOrder,
			Name:              s.Name,
			Type:              string(s.Type),
			TimeoutSeconds:    s.TimeoutSeconds,
			ContinueOnFail:    s.ContinueOnFail,
			RetryCount:        s.RetryCount,
			RetryDelaySeconds: s.RetryDelaySeconds,
			ExpectedExitCode:  s.ExpectedExitCode,
			ExpectedOutput:    s.ExpectedOutput,
			OutputVariable:    s.OutputVariable,
			OutputExtract:     s.OutputExtract,
			RequiresElevation: s.RequiresElevation,
			WorkingDirectory:  s.WorkingDirectory,
			Environment:       s.Environment,
			RollbackLinux:     s.RollbackLinux,
			RollbackWindows:   s.RollbackWindows,

			CommandLinux:   s.CommandLinux,
			CommandWindows: s.CommandWindows,
			TargetOS:       string(s.TargetOS),

			APIMethod:              s.APIMethod,
			APIEndpoint:            s.APIEndpoint,
			APIHeaders:             s.APIHeaders,
			APIBody:                s.APIBody,
			APIBodyType:            string(s.APIBodyType),
			APIQueryParams:         s.APIQueryParams,
			APIExpectedStatusCodes: s.APIExpectedStatusCodes,
			APIResponseExtract:     s.APIResponseExtract,
			APIFollowRedirects:     s.APIFollowRedirects,
			APIRetryOnStatusCodes:  s.APIRetryOnStatusCodes,
			APICredentialProfileID: derefStr(s.APICredentialProfileID),
		})
	}

	for _, tr := range rb.Triggers {
		d.Triggers = append(d.Triggers, TriggerDocument{
			Priority:           tr.Priority,
			Enabled:            enabledField(tr.Enabled),
			AlertNamePattern:   tr.AlertNamePattern,
			SeverityPattern:    tr.SeverityPattern,
			InstancePattern:    tr.InstancePattern,
			JobPattern:         tr.JobPattern,
			LabelMatchers:      tr.LabelMatchers,
			AnnotationMatchers: tr.AnnotationMatchers,
			MinDurationSeconds: tr.MinDurationSeconds,
			MinOccurrences:     tr.MinOccurrences,
			CooldownSeconds:    tr.CooldownSeconds,
		})
	}

	return d
}
