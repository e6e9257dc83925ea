package services

import (
	"errors"
	"fmt"
)

// Sentinels the service layer adds on top of the store's. Not-found,
// conflict and invalid-transition conditions pass through from pkg/store
// untranslated; these cover what only a service can know.
var (
	// ErrForbidden is returned when the caller's roles do not allow the operation
	ErrForbidden = errors.New("forbidden")

	// ErrApprovalExpired is returned when an approval arrives after the window elapsed
	ErrApprovalExpired = errors.New("approval window elapsed")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
