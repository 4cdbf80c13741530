package replies

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"errors"
	"fmt"
)

var (
	// ErrReplyNotFound indicates the requested reply doesn't exist
	ErrReplyNotFound = errors.New("reply not found")

	// ErrParentNotFound indicates the parent post/reply doesn't exist
	ErrParentNotFound = errors.New("parent post or reply not found")

	// ErrRootNotFound indicates the root post of the thread doesn't exist
	ErrRootNotFound = errors.New("root post not found")

	// ErrTextEmpty indicates reply text is blank
	ErrTextEmpty = errors.New("reply text is required")
)

// ValidationError represents invalid reply input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError represents a missing reply or parent
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// PersistenceError wraps a storage failure. When returned from CreateReply
// none of the reply's writes are visible.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) ||
		errors.Is(err, ErrReplyNotFound) ||
		errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrRootNotFound)
}

// IsValidationError checks if an error is a validation error, including
// malformed quotes and cursors
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr) ||
		errors.Is(err, ErrTextEmpty) ||
		quotes.IsValidationError(err) ||
		pagination.IsCursorFormatError(err)
}

// IsPersistenceError checks if an error is a storage failure
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
