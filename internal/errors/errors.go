package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Sift error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrModelNotFound      ErrorCode = "MODEL_NOT_FOUND"     // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrUpstream           ErrorCode = "UPSTREAM"            // 502
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE" // 503
)

// SiftError represents a structured error with code, status, and details.
type SiftError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SiftError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SiftError {
	return &SiftError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing resource of the given kind.
func NewNotFound(kind, identifier string) *SiftError {
	return &SiftError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewModelNotFound creates a 404 error when a model file is not installed locally.
func NewModelNotFound(filename string) *SiftError {
	return &SiftError{
		Code:    ErrModelNotFound,
		Status:  404,
		Message: fmt.Sprintf("model file not found: %s", filename),
		Details: map[string]any{"filename": filename},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *SiftError {
	return &SiftError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUpstream creates a 502 error when the model hub fails or rejects a request.
func NewUpstream(err error) *SiftError {
	msg := "upstream error"
	if err != nil {
		msg = err.Error()
	}
	return &SiftError{
		Code:    ErrUpstream,
		Status:  502,
		Message: msg,
	}
}

// NewBackendUnavailable creates a 503 error when the inference backend cannot serve a request.
func NewBackendUnavailable(err error) *SiftError {
	msg := "inference backend unavailable"
	if err != nil {
		msg = err.Error()
	}
	return &SiftError{
		Code:    ErrBackendUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *SiftError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SiftError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or any error it wraps) is a SiftError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SiftError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
