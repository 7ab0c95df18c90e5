// Package errors provides the coded error type used across cudaredist.
//
// Every failure a run can surface carries a [Code] so that callers (the CLI,
// the HTTP server, the orchestrator's collection policy) can classify it
// without string matching:
//
//   - TRANSPORT_ERROR: non-success HTTP status or connection failure
//   - SCHEMA_ERROR: a manifest, release or package that does not parse, or
//     fails the relative-path self-check
//   - INTEGRITY_VIOLATION: an artifact layout the detectors refuse to guess
//     about (mixed files and directories, duplicate or empty site-packages)
//   - EXTERNAL_TOOL_ERROR: a subprocess exited non-zero
//
// # Usage
//
//	err := errors.New(errors.ErrCodeSchema, "release %q: unknown key %q", name, key)
//	if errors.Is(err, errors.ErrCodeSchema) {
//	    // skip this manifest
//	}
//
//	err := errors.Wrap(errors.ErrCodeTransport, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeInvalidVersion    Code = "INVALID_VERSION"
	ErrCodeInvalidConstraint Code = "INVALID_CONSTRAINT"
	ErrCodeInvalidManifest   Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath       Code = "INVALID_PATH"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Run failures
	ErrCodeTransport          Code = "TRANSPORT_ERROR"
	ErrCodeSchema             Code = "SCHEMA_ERROR"
	ErrCodeIntegrity          Code = "INTEGRITY_VIOLATION"
	ErrCodeExternalTool       Code = "EXTERNAL_TOOL_ERROR"
	ErrCodeResolutionConflict Code = "RESOLUTION_CONFLICT"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code,
// including every branch of an errors.Join aggregate.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok && e.Code == code {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(u.Unwrap(), code)
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Join is errors.Join, re-exported so callers importing this package under
// the name errors keep access to it.
func Join(errs ...error) error { return errors.Join(errs...) }

// AsError is errors.As, re-exported for the same reason as Join.
func AsError(err error, target any) bool { return errors.As(err, target) }
