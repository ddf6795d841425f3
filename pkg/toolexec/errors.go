package toolexec

import (
	"context"
	"errors"
	"fmt"
)

// Error codes form the stable vocabulary crossing the executor boundary
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodePathDenied           = "DENIED_PATH_ALLOWLIST"
	ErrCodeCommandDenied        = "DENIED_COMMAND_ALLOWLIST"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeExec                 = "EXEC_ERROR"
)

// Error is a categorized tool failure. It crosses the executor boundary
// as data in the result envelope, never as control flow.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with a formatted message
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports input the caller can fix
func Validationf(format string, args ...interface{}) *Error {
	return NewError(ErrCodeValidation, format, args...)
}

// NotFoundf reports a missing target the caller should correct
func NotFoundf(format string, args ...interface{}) *Error {
	return NewError(ErrCodeNotFound, format, args...)
}

// Execf reports an I/O, subprocess, or network failure
func Execf(format string, args ...interface{}) *Error {
	return NewError(ErrCodeExec, format, args...)
}

// ConfirmationRequiredError tells the caller to resubmit with confirm=true
func ConfirmationRequiredError(tool string) *Error {
	return NewError(ErrCodeConfirmationRequired,
		"%s is a mutating operation and requires confirmation: re-run with confirm=true", tool)
}

// PathDeniedError reports a path outside the allowed roots. The
// permissions file location is included so the user knows where policy
// lives.
func PathDeniedError(tool, path, permissionsFile string) *Error {
	return NewError(ErrCodePathDenied,
		"%s: path %q is not in the allowed paths (edit %s to change this)", tool, path, permissionsFile)
}

// CommandDeniedError reports a command missing from allow_commands
func CommandDeniedError(command, permissionsFile string) *Error {
	return NewError(ErrCodeCommandDenied,
		"command %q is not in the allowed commands (edit %s to change this)", command, permissionsFile)
}

// Classify coerces any error into an *Error. Already-classified errors
// pass through unchanged; context deadline becomes a timeout-flavored
// EXEC_ERROR; everything else is EXEC_ERROR verbatim.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Execf("operation timed out: %v", err)
	}
	return &Error{Code: ErrCodeExec, Message: err.Error()}
}
