// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNotFound is returned for paths that do not resolve, are
	// refused by the manifest for listing or directory access, or fail
	// verification. Digest mismatches are deliberately
	// indistinguishable from absence.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned for non-read-only opens, opens of
	// paths with no manifest entry, and reads against handles that
	// have no verified content.
	ErrAccessDenied = errors.New("access denied")

	// ErrSourceUnavailable is returned when the source directory
	// cannot be pinned at construction, and by every operation after
	// Close.
	ErrSourceUnavailable = errors.New("source directory unavailable")

	// ErrInvalidOffset is returned by ReadFile for negative offsets.
	ErrInvalidOffset = errors.New("invalid offset")
)

// requestError attaches an operation and path to one of the sentinel
// errors and, when there is one, the underlying system call error.
// Both are visible to errors.Is and errors.As.
func requestError(op, requestPath string, kind, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s %s: %w", op, requestPath, kind)
	}
	return fmt.Errorf("%s %s: %w: %w", op, requestPath, kind, cause)
}

// Errno translates an overlay error into the errno reported to the
// kernel. Underlying system call errors are not passed through: a
// failed resolution is ENOENT no matter why it failed.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrAccessDenied):
		return syscall.EACCES
	case errors.Is(err, ErrInvalidOffset):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
