package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Compass error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrInvalidMode         ErrorCode = "INVALID_MODE"         // 400
	ErrInvalidTrigger      ErrorCode = "INVALID_TRIGGER"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrCalendarUnavailable ErrorCode = "CALENDAR_UNAVAILABLE" // 503
	ErrCancelled           ErrorCode = "CANCELLED"            // 499
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// CompassError represents a structured error with code, status, and details.
type CompassError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CompassError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CompassError {
	return &CompassError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidMode creates a 400 error for an unknown mode name.
func NewInvalidMode(name string) *CompassError {
	return &CompassError{
		Code:    ErrInvalidMode,
		Status:  400,
		Message: fmt.Sprintf("unknown mode %q (want capture, prep, synthesis or neutral)", name),
		Details: map[string]any{"mode": name},
	}
}

// NewInvalidTrigger creates a 400 error for an unknown trigger name.
// Unknown triggers are wiring bugs, not runtime conditions.
func NewInvalidTrigger(name string) *CompassError {
	return &CompassError{
		Code:    ErrInvalidTrigger,
		Status:  400,
		Message: fmt.Sprintf("unknown evaluation trigger %q", name),
		Details: map[string]any{"trigger": name},
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(what, identifier string) *CompassError {
	return &CompassError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", what, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *CompassError {
	return &CompassError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCalendarUnavailable creates a 503 error when no calendar view could be obtained.
// The scheduler never returns it; one-shot callers that require a calendar do.
func NewCalendarUnavailable(err error) *CompassError {
	msg := "calendar unavailable"
	if err != nil {
		msg = fmt.Sprintf("calendar unavailable: %v", err)
	}
	return &CompassError{
		Code:    ErrCalendarUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when ctx is cancelled mid-operation.
func NewCancelled(operation string) *CompassError {
	return &CompassError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *CompassError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &CompassError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is a CompassError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CompassError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}
