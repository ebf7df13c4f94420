package domain

import (
	"errors"
	"fmt"
)

// Code is the machine-readable error code sent to clients.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeUnknownAction        Code = "UNKNOWN_ACTION"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Store-level sentinels. Backends return (or wrap) these.
var (
	ErrNotFound         = errors.New("not found")
	ErrFingerprintTaken = errors.New("fingerprint already stored for owner")
	ErrIDTaken          = errors.New("item id already in use")
)

// Error is an error reported to the caller of a protocol operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a VALIDATION_ERROR.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

// Conflict builds a CONFLICT error wrapping cause.
func Conflict(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Internal wraps a storage failure.
func Internal(cause error, msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: cause}
}

// CodeOf maps any error to the code reported on the wire.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrFingerprintTaken), errors.Is(err, ErrIDTaken):
		return CodeConflict
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message. Internal details are hidden.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if CodeOf(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
