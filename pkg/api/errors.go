package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/template"
)

// Error kinds the API layer emits. Safety-gate denials carry their own
// kind (CircuitOpen, RateLimited, InCooldown, Blackout) straight from
// the gate.
const (
	KindValidation = "ValidationError"
	KindForbidden  = "Forbidden"
	KindNotFound   = "NotFound"
	KindConflict   = "Conflict"
	KindTemplate   = "TemplateResolution"
	KindTimeout    = "Timeout"
	KindInternal   = "InternalError"
)

// ErrorBody is the error envelope every non-2xx response carries.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail identifies the failure. Kind is a stable machine-readable
// string; Message is for humans; Details carries structured context such
// as the failing field or a retry-at timestamp.
type ErrorDetail struct {
	Kind    string        `json:"kind"`
	Message string        `json:"message"`
	Details models.AnyMap `json:"details,omitempty"`
}

// mapServiceError maps service-layer errors to an HTTP status and error
// envelope.
func mapServiceError(err error) (int, ErrorBody) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, ErrorBody{Error: ErrorDetail{
			Kind:    KindValidation,
			Message: validErr.Message,
			Details: models.AnyMap{"field": validErr.Field},
		}}
	}
	if denial, ok := safety.AsDenial(err); ok {
		return http.StatusLocked, ErrorBody{Error: ErrorDetail{
			Kind:    string(denial.Kind),
			Message: denial.Message,
			Details: denial.Details,
		}}
	}
	if errors.Is(err, services.ErrForbidden) {
		return http.StatusForbidden, ErrorBody{Error: ErrorDetail{
			Kind:    KindForbidden,
			Message: "caller is not allowed to perform this operation",
		}}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, ErrorBody{Error: ErrorDetail{
			Kind:    KindNotFound,
			Message: "resource not found",
		}}
	}
	if errors.Is(err, services.ErrApprovalExpired) {
		return http.StatusGatewayTimeout, ErrorBody{Error: ErrorDetail{
			Kind:    KindTimeout,
			Message: "approval window elapsed",
		}}
	}
	if template.IsResolutionError(err) {
		return http.StatusUnprocessableEntity, ErrorBody{Error: ErrorDetail{
			Kind:    KindTemplate,
			Message: err.Error(),
		}}
	}
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrStale) {
		return http.StatusConflict, ErrorBody{Error: ErrorDetail{
			Kind:    KindConflict,
			Message: err.Error(),
		}}
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
		Kind:    KindInternal,
		Message: "internal server error",
	}}
}

// respondError writes the mapped envelope for a service error.
func respondError(c *gin.Context, err error) {
	status, body := mapServiceError(err)
	c.JSON(status, body)
}

// badRequest writes a 400 validation envelope with the given message.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: ErrorDetail{
		Kind:    KindValidation,
		Message: message,
	}})
}
