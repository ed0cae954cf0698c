// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// DebugEnvironmentVariable forces debug logging when set to any
// non-empty value.
const DebugEnvironmentVariable = "VERIFYFS_DEBUG"

// NewCommandLogger creates the structured logger for a command. Format
// "text" and "json" select a handler; "auto" (or "") uses
// slog.TextHandler when stderr is a terminal and slog.JSONHandler when
// it is piped or redirected.
func NewCommandLogger(level slog.Level, format string) *slog.Logger {
	if os.Getenv(DebugEnvironmentVariable) != "" {
		level = slog.LevelDebug
	}
	terminal := term.IsTerminal(int(os.Stderr.Fd()))
	return newLogger(os.Stderr, level, format, terminal)
}

func newLogger(w io.Writer, level slog.Level, format string, terminal bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	switch {
	case format == "json":
		return slog.New(slog.NewJSONHandler(w, options))
	case format == "text" || terminal:
		return slog.New(slog.NewTextHandler(w, options))
	default:
		return slog.New(slog.NewJSONHandler(w, options))
	}
}
