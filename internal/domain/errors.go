package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a caller-assigned identifier already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrRunInProgress is returned when a calculation run is already executing. Callers may retry.
	ErrRunInProgress = errors.New("calculation run already in progress")
	// ErrRunTimeout is returned when a calculation run exceeds its deadline. Nothing is committed.
	ErrRunTimeout = errors.New("calculation run timed out")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a reference to an unknown record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ComputationError marks a single batch that could not be priced.
type ComputationError struct {
	InventoryID string
	Err         error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("price batch %s: %v", e.InventoryID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ComputationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
