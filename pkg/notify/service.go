// Package notify delivers execution lifecycle notifications to Slack.
// Notifications are strictly best-effort: a Slack outage must never stall
// or fail a remediation, so every method is fail-open and the whole
// service is nil-safe for deployments without Slack.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// ExecutionStartedInput contains data for an execution start notification.
type ExecutionStartedInput struct {
	ExecutionID string
	RunbookName string
	AlertName   string
	DryRun      bool
}

// ExecutionFinishedInput contains data for a terminal execution
// notification.
type ExecutionFinishedInput struct {
	ExecutionID  string
	RunbookName  string
	Status       models.ExecutionStatus
	Duration     time.Duration
	ErrorMessage string
	ThreadTS     string // cached from the start notification
}

// ApprovalPendingInput contains data for a pending-approval notification.
type ApprovalPendingInput struct {
	ExecutionID string
	RunbookName string
	AlertName   string
	DueAt       time.Time
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify"),
	}
}

// NotifyExecutionStarted announces a starting execution and returns the
// message timestamp so the terminal notification can thread onto it.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionStarted(ctx context.Context, input ExecutionStartedInput) string {
	if s == nil {
		return ""
	}
	blocks := BuildStartedMessage(input, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send start notification",
			"execution_id", input.ExecutionID,
			"error", err)
		return ""
	}
	return ts
}

// NotifyExecutionFinished sends a terminal status notification, threaded
// under the start message when its timestamp is known.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionFinished(ctx context.Context, input ExecutionFinishedInput) {
	if s == nil {
		return
	}
	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, input.ThreadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send terminal notification",
			"execution_id", input.ExecutionID,
			"status", input.Status,
			"error", err)
	}
}

// NotifyApprovalPending asks the channel for a human decision.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyApprovalPending(ctx context.Context, input ApprovalPendingInput) {
	if s == nil {
		return
	}
	blocks := BuildApprovalMessage(input, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("Failed to send approval notification",
			"execution_id", input.ExecutionID,
			"error", err)
	}
}
