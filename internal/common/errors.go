package common

import (
	"errors"
	"net/http"

	"github.com/noah-isme/expiry-discount/internal/domain"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// FromError classifies err into the API error taxonomy. Unknown errors map
// to a generic 500 without leaking their message.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return &AppError{
			Code:       "VALIDATION_FAILED",
			Message:    validation.Error(),
			HTTPStatus: http.StatusBadRequest,
			Err:        err,
			Details:    map[string]string{"field": validation.Field},
		}
	}
	var computation *domain.ComputationError
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &computation):
		return &AppError{
			Code:       "UNPRICEABLE",
			Message:    computation.Error(),
			HTTPStatus: http.StatusUnprocessableEntity,
			Err:        err,
			Details:    map[string]string{"inventory_id": computation.InventoryID},
		}
	case errors.As(err, &notFound):
		return &AppError{
			Code:       "NOT_FOUND",
			Message:    notFound.Error(),
			HTTPStatus: http.StatusNotFound,
			Err:        err,
			Details:    map[string]string{"resource": notFound.Resource, "id": notFound.ID},
		}
	case errors.Is(err, domain.ErrNotFound):
		return NewAppError("NOT_FOUND", "resource not found", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrRunInProgress):
		return NewAppError("RUN_IN_PROGRESS", "a discount calculation is already running, retry shortly", http.StatusConflict, err)
	case errors.Is(err, domain.ErrRunTimeout):
		return NewAppError("RUN_TIMEOUT", "discount calculation timed out, previous prices are unchanged", http.StatusGatewayTimeout, err)
	case errors.Is(err, domain.ErrDuplicate):
		return NewAppError("CONFLICT", err.Error(), http.StatusConflict, err)
	}
	return NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
}

// WriteError renders err using the canonical error shape.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	appErr := FromError(err)
	if appErr.HTTPStatus == http.StatusConflict && errors.Is(err, domain.ErrRunInProgress) {
		w.Header().Set("Retry-After", "5")
	}
	JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
}
