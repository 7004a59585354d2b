package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrAlreadyRegistered    = errors.New("already_registered")
	ErrAlreadyCancelled     = errors.New("registration is already cancelled")
	ErrNotActive            = errors.New("registration is not active")
	ErrNotConfirmed         = errors.New("registration is not confirmed")
	ErrNotWaitlisted        = errors.New("registration is not waitlisted")
	ErrSessionNotOpen       = errors.New("session is not open for registration")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInternalError        = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrRegistrationNotFound)
}

// ValidationError carries a field-level message for write-time validation
// failures. Invalid input is rejected synchronously, never coerced.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a field-level validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
