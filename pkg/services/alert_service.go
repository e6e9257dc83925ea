package services

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// AlertService reads stored alerts and re-runs LLM analysis on demand.
// Ingest itself lives in pkg/intake; by the time a caller is here the
// alert row already exists.
type AlertService struct {
	store    *store.Store
	analyzer *llm.Client
	recorder *audit.Recorder
}

// NewAlertService creates an alert service. analyzer and recorder may be
// nil.
func NewAlertService(st *store.Store, analyzer *llm.Client, recorder *audit.Recorder) *AlertService {
	if st == nil {
		panic("NewAlertService: store must not be nil")
	}
	return &AlertService{store: st, analyzer: analyzer, recorder: recorder}
}

// List returns alerts matching the filter, newest first.
func (s *AlertService) List(ctx context.Context, filter store.AlertFilter) ([]models.Alert, error) {
	return s.store.Alerts.List(ctx, filter)
}

// Get returns one alert by id.
func (s *AlertService) Get(ctx context.Context, id string) (*models.Alert, error) {
	return s.store.Alerts.Get(ctx, id)
}

// Analyze runs LLM analysis for an alert and persists the result. An
// already analyzed alert is returned as is unless force is set.
func (s *AlertService) Analyze(ctx context.Context, id string, force bool, actor string) (*models.Alert, error) {
	alert, err := s.store.Alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Analyzed && !force {
		return alert, nil
	}
	if !s.analyzer.Enabled() {
		return nil, NewValidationError("analysis", "LLM analysis is not configured")
	}

	analysis, err := s.analyzer.Analyze(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("analyzing alert: %w", err)
	}
	if err := s.store.Alerts.SetAnalysis(ctx, id, analysis, true); err != nil {
		return nil, fmt.Errorf("persisting analysis: %w", err)
	}

	if s.recorder != nil {
		s.recorder.EmitActor(actor, models.AuditAlertAnalyzed, "alert", id, models.AnyMap{
			"alert_name":      alert.Name,
			"forced":          force,
			"recommendations": len(analysis.Recommendations),
		})
	}
	slog.Info("Alert analyzed", "alert_id", id, "alert_name", alert.Name, "forced", force)

	return s.store.Alerts.Get(ctx, id)
}
