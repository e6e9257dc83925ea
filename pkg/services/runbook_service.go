package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/iac"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/rules"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// RunbookService manages runbook definitions: validated CRUD plus IaC
// import and export. Execution of runbooks lives on ExecutionService.
type RunbookService struct {
	store    *store.Store
	fetcher  *iac.Fetcher
	recorder *audit.Recorder
}

// NewRunbookService creates a runbook service. fetcher may be nil, which
// disables import from URL; recorder may be nil.
func NewRunbookService(st *store.Store, fetcher *iac.Fetcher, recorder *audit.Recorder) *RunbookService {
	if st == nil {
		panic("NewRunbookService: store must not be nil")
	}
	return &RunbookService{store: st, fetcher: fetcher, recorder: recorder}
}

// List returns runbooks without children.
func (s *RunbookService) List(ctx context.Context, filter store.RunbookFilter) ([]models.Runbook, error) {
	return s.store.Runbooks.List(ctx, filter)
}

// Get returns a runbook with steps and triggers attached.
func (s *RunbookService) Get(ctx context.Context, id string) (*models.Runbook, error) {
	return s.store.Runbooks.Get(ctx, id)
}

// Create validates and stores a new runbook with its steps and triggers.
func (s *RunbookService) Create(ctx context.Context, rb *models.Runbook, actor string) (*models.Runbook, error) {
	rb.ApplyDefaults()
	if err := validateRunbook(rb); err != nil {
		return nil, err
	}
	rb.CreatedBy = actor
	if err := s.store.Runbooks.Create(ctx, rb); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceCreated, rb.ID, rb.Name)
	return rb, nil
}

// Update validates and rewrites a runbook, replacing steps and triggers.
// The store bumps the version; in-flight executions keep the snapshot
// number they started with.
func (s *RunbookService) Update(ctx context.Context, rb *models.Runbook, actor string) (*models.Runbook, error) {
	if rb.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	rb.ApplyDefaults()
	if err := validateRunbook(rb); err != nil {
		return nil, err
	}
	if err := s.store.Runbooks.Update(ctx, rb); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceUpdated, rb.ID, rb.Name)
	return rb, nil
}

// Delete soft-deletes a runbook. Execution history stays queryable.
func (s *RunbookService) Delete(ctx context.Context, id, actor string) error {
	rb, err := s.store.Runbooks.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Runbooks.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.audit(actor, models.AuditResourceDeleted, id, rb.Name)
	return nil
}

// Import parses an IaC document and upserts the runbook it describes.
// Import is declarative: a document whose name matches an existing
// runbook updates it in place, anything else creates.
func (s *RunbookService) Import(ctx context.Context, data []byte, actor string) (*models.Runbook, error) {
	doc, err := iac.Parse(data)
	if err != nil {
		return nil, NewValidationError("document", err.Error())
	}
	rb := doc.ToRunbook()

	existing, err := s.store.Runbooks.GetByName(ctx, rb.Name)
	switch {
	case err == nil:
		rb.ID = existing.ID
		rb.Version = existing.Version
		rb.CreatedBy = existing.CreatedBy
		return s.Update(ctx, rb, actor)
	case errors.Is(err, store.ErrNotFound):
		return s.Create(ctx, rb, actor)
	default:
		return nil, err
	}
}

// ImportURL fetches an IaC document from an allowlisted URL and imports
// it.
func (s *RunbookService) ImportURL(ctx context.Context, url, actor string) (*models.Runbook, error) {
	if s.fetcher == nil {
		return nil, NewValidationError("url", "import from URL is not configured")
	}
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, NewValidationError("url", err.Error())
	}
	return s.Import(ctx, data, actor)
}

// Export renders a runbook as an IaC document.
func (s *RunbookService) Export(ctx context.Context, id string) ([]byte, error) {
	rb, err := s.store.Runbooks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return iac.Render(iac.FromRunbook(rb))
}

func (s *RunbookService) audit(actor, action, id, name string) {
	if s.recorder == nil {
		return
	}
	s.recorder.EmitActor(actor, action, "runbook", id, models.AnyMap{"name": name})
}

// validateRunbook rejects definitions the orchestrator or the trigger
// matcher could not act on. Defaults are already applied.
func validateRunbook(rb *models.Runbook) error {
	if rb.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if !rb.TargetOS.IsValid() {
		return NewValidationError("target_os", fmt.Sprintf("unknown target OS %q", rb.TargetOS))
	}
	if rb.MaxExecutionsPerHour < 0 {
		return NewValidationError("max_executions_per_hour", "must not be negative")
	}
	if rb.CooldownMinutes < 0 {
		return NewValidationError("cooldown_minutes", "must not be negative")
	}
	if rb.ApprovalTimeoutMinutes <= 0 {
		return NewValidationError("approval_timeout_minutes", "must be positive")
	}
	if len(rb.Steps) == 0 {
		return NewValidationError("steps", "at least one step is required")
	}

	for i := range rb.Steps {
		if err := validateStep(&rb.Steps[i], i); err != nil {
			return err
		}
	}
	for i := range rb.Triggers {
		if err := validateTrigger(&rb.Triggers[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *models.RunbookStep, i int) error {
	field := func(name string) string { return fmt.Sprintf("steps[%d].%s", i, name) }

	if st.Name == "" {
		return NewValidationError(field("name"), "name is required")
	}
	if !st.Type.IsValid() {
		return NewValidationError(field("step_type"), fmt.Sprintf("unknown step type %q", st.Type))
	}
	if st.TimeoutSeconds <= 0 {
		return NewValidationError(field("timeout_seconds"), "must be positive")
	}
	if st.RetryCount < 0 {
		return NewValidationError(field("retry_count"), "must not be negative")
	}

	switch st.Type {
	case models.StepCommand:
		if st.CommandLinux == "" && st.CommandWindows == "" {
			return NewValidationError(field("command_linux"), "command steps need a command for at least one platform")
		}
		if !st.TargetOS.IsValid() {
			return NewValidationError(field("target_os"), fmt.Sprintf("unknown target OS %q", st.TargetOS))
		}
	case models.StepAPI:
		if st.APIEndpoint == "" {
			return NewValidationError(field("api_endpoint"), "api steps need an endpoint")
		}
		if st.APIBodyType != "" && !st.APIBodyType.IsValid() {
			return NewValidationError(field("api_body_type"), fmt.Sprintf("unknown body type %q", st.APIBodyType))
		}
	}

	if st.ExpectedOutput != "" {
		if _, err := regexp.Compile(st.ExpectedOutput); err != nil {
			return NewValidationError(field("expected_output_pattern"), err.Error())
		}
	}
	if st.OutputExtract != "" {
		re, err := regexp.Compile(st.OutputExtract)
		if err != nil {
			return NewValidationError(field("output_extract_pattern"), err.Error())
		}
		if re.NumSubexp() < 1 {
			return NewValidationError(field("output_extract_pattern"), "extraction pattern needs a capture group")
		}
	}
	return nil
}

func validateTrigger(tr *models.RunbookTrigger, i int) error {
	field := func(name string) string { return fmt.Sprintf("triggers[%d].%s", i, name) }

	patterns := []struct{ name, pattern string }{
		{"alert_name_pattern", tr.AlertNamePattern},
		{"severity_pattern", tr.SeverityPattern},
		{"instance_pattern", tr.InstancePattern},
		{"job_pattern", tr.JobPattern},
	}
	for _, p := range patterns {
		if _, err := rules.MatchPattern(p.pattern, "probe"); err != nil {
			return NewValidationError(field(p.name), err.Error())
		}
	}
	for key, pattern := range tr.LabelMatchers {
		if _, err := rules.MatchPattern(pattern, "probe"); err != nil {
			return NewValidationError(field("label_matchers."+key), err.Error())
		}
	}
	for key, pattern := range tr.AnnotationMatchers {
		if _, err := rules.MatchPattern(pattern, "probe"); err != nil {
			return NewValidationError(field("annotation_matchers."+key), err.Error())
		}
	}
	if tr.MinOccurrences < 1 {
		return NewValidationError(field("min_occurrences"), "must be at least 1")
	}
	if tr.MinDurationSeconds < 0 {
		return NewValidationError(field("min_duration_seconds"), "must not be negative")
	}
	if tr.CooldownSeconds < 0 {
		return NewValidationError(field("cooldown_seconds"), "must not be negative")
	}
	return nil
}
