package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/template"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectKind string
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("name", "missing field"),
			expectCode: http.StatusBadRequest,
			expectKind: KindValidation,
			expectMsg:  "missing field",
		},
		{
			name: "circuit open denial maps to 423",
			err: &safety.DenialError{
				Kind:    safety.DenialCircuitOpen,
				Message: "circuit breaker is open",
				Details: models.AnyMap{"failure_count": 5},
			},
			expectCode: http.StatusLocked,
			expectKind: "CircuitOpen",
			expectMsg:  "circuit breaker is open",
		},
		{
			name: "rate limit denial maps to 423",
			err: fmt.Errorf("gate: %w", &safety.DenialError{
				Kind:    safety.DenialRateLimited,
				Message: "hourly execution limit reached",
			}),
			expectCode: http.StatusLocked,
			expectKind: "RateLimited",
			expectMsg:  "hourly execution limit reached",
		},
		{
			name: "cooldown denial maps to 423",
			err: &safety.DenialError{
				Kind:    safety.DenialInCooldown,
				Message: "runbook ran 2m ago",
			},
			expectCode: http.StatusLocked,
			expectKind: "InCooldown",
			expectMsg:  "runbook ran 2m ago",
		},
		{
			name: "blackout denial maps to 423",
			err: &safety.DenialError{
				Kind:    safety.DenialBlackout,
				Message: "blackout window active",
			},
			expectCode: http.StatusLocked,
			expectKind: "Blackout",
			expectMsg:  "blackout window active",
		},
		{
			name:       "forbidden maps to 403",
			err:        fmt.Errorf("approve: %w", services.ErrForbidden),
			expectCode: http.StatusForbidden,
			expectKind: KindForbidden,
			expectMsg:  "not allowed",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectKind: KindNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "approval expired maps to 504",
			err:        services.ErrApprovalExpired,
			expectCode: http.StatusGatewayTimeout,
			expectKind: KindTimeout,
			expectMsg:  "approval window elapsed",
		},
		{
			name: "template resolution maps to 422",
			err: fmt.Errorf("rendering step: %w", &template.ResolutionError{
				Field: "command",
				Err:   fmt.Errorf("map has no entry for key \"missing\""),
			}),
			expectCode: http.StatusUnprocessableEntity,
			expectKind: KindTemplate,
			expectMsg:  "TemplateResolution",
		},
		{
			name:       "invalid transition maps to 409",
			err:        fmt.Errorf("cancel: %w", store.ErrInvalidTransition),
			expectCode: http.StatusConflict,
			expectKind: KindConflict,
			expectMsg:  "invalid state transition",
		},
		{
			name:       "conflict maps to 409",
			err:        store.ErrConflict,
			expectCode: http.StatusConflict,
			expectKind: KindConflict,
			expectMsg:  "conflict",
		},
		{
			name:       "stale version maps to 409",
			err:        store.ErrStale,
			expectCode: http.StatusConflict,
			expectKind: KindConflict,
			expectMsg:  "stale",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectKind: KindInternal,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, code)
			assert.Equal(t, tt.expectKind, body.Error.Kind)
			assert.Contains(t, body.Error.Message, tt.expectMsg)
		})
	}
}

func TestMapServiceErrorValidationDetails(t *testing.T) {
	code, body := mapServiceError(services.NewValidationError("cron", "invalid cron expression"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cron", body.Error.Details["field"])
}

func TestMapServiceErrorDenialDetails(t *testing.T) {
	_, body := mapServiceError(&safety.DenialError{
		Kind:    safety.DenialCircuitOpen,
		Message: "circuit breaker is open",
		Details: models.AnyMap{"failure_count": 5, "state": "open"},
	})
	assert.Equal(t, 5, body.Error.Details["failure_count"])
	assert.Equal(t, "open", body.Error.Details["state"])
}
