package quotes

import (
	"errors"
	"fmt"
)

// ErrCountNotFound is returned when no count entry exists for a parent/quote pair
var ErrCountNotFound = errors.New("quote count not found")

// ValidationError represents a malformed quote
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid quote (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if error is a quote validation error
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
