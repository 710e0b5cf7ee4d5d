package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an evlens error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrInvalidState      ErrorCode = "INVALID_STATE"      // 409
	ErrDocumentTooLarge  ErrorCode = "DOCUMENT_TOO_LARGE" // 413
	ErrMalformedDocument ErrorCode = "MALFORMED_DOCUMENT" // 422
	ErrSubmitFailed      ErrorCode = "SUBMIT_FAILED"      // 502
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// LensError represents a structured error with code, status, and details.
type LensError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *LensError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *LensError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LensError {
	return &LensError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. kind names what was looked up ("session", "prediction", "span").
func NewNotFound(kind, identifier string) *LensError {
	return &LensError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewInvalidState creates a 409 error for an operation the review state machine
// does not accept in its current state.
func NewInvalidState(op, state string) *LensError {
	return &LensError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("%s not allowed in state %s", op, state),
		Details: map[string]any{"operation": op, "state": state},
	}
}

// NewDocumentTooLarge creates a 413 error when an analysis document exceeds the size limit.
func NewDocumentTooLarge(max, actual int) *LensError {
	return &LensError{
		Code:    ErrDocumentTooLarge,
		Status:  413,
		Message: fmt.Sprintf("document exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewMalformedDocument creates a 422 error for analysis documents that cannot be decoded.
func NewMalformedDocument(err error) *LensError {
	msg := "malformed document"
	if err != nil {
		msg = fmt.Sprintf("malformed document: %v", err)
	}
	return &LensError{
		Code:    ErrMalformedDocument,
		Status:  422,
		Message: msg,
		cause:   err,
	}
}

// NewSubmitFailed creates a 502 error when the feedback sink rejects a submission.
// The local ledger is left untouched so the caller can retry.
func NewSubmitFailed(err error) *LensError {
	msg := "feedback submission failed"
	if err != nil {
		msg = fmt.Sprintf("feedback submission failed: %v", err)
	}
	return &LensError{
		Code:    ErrSubmitFailed,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *LensError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &LensError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a LensError with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LensError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}

// As returns the LensError in err's chain, if there is one.
func As(err error) (*LensError, bool) {
	var lErr *LensError
	if stderrors.As(err, &lErr) {
		return lErr, true
	}
	return nil, false
}
