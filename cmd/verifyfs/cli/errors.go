// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies command errors. The category selects the
// process exit code.
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// bad flags, wrong argument count, an unparseable config or
	// manifest. Exit code 2.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a named file or directory does not
	// exist or cannot be opened. Exit code 1.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryIntegrity indicates content failed verification. Exit
	// code 1.
	CategoryIntegrity ErrorCategory = "integrity"

	// CategoryInternal indicates an unexpected failure: I/O errors,
	// mount failures, bugs. Exit code 1.
	CategoryInternal ErrorCategory = "internal"
)

// CommandError is a categorized error returned by commands. It wraps
// an inner error, preserving the chain for errors.Is and errors.As.
// Use the category-specific constructors rather than constructing it
// directly.
type CommandError struct {
	// Category classifies the error.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message.
func (e *CommandError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode maps the category to the process exit code.
func (e *CommandError) ExitCode() int {
	if e.Category == CategoryValidation {
		return 2
	}
	return 1
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a named path does not exist.
func NotFound(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Integrity creates an integrity error: content failed verification.
func Integrity(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryIntegrity, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure.
func Internal(format string, args ...any) *CommandError {
	return &CommandError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}
