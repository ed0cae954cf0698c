// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import "log/slog"

// Stats is a point-in-time snapshot of overlay counters.
type Stats struct {
	// VerifiedOpens counts OpenFile calls that produced a handle.
	VerifiedOpens int64

	// VerificationFailures counts trusted files that could not be
	// read in full or whose digest did not match.
	VerificationFailures int64

	// AccessDenials counts OpenFile calls refused for their access
	// mode or for having no manifest entry.
	AccessDenials int64

	// HiddenEntries counts directory entries omitted from listings.
	HiddenEntries int64

	OpenDirectories int
	OpenFiles       int
}

// Stats returns the current counters.
func (o *Overlay) Stats() Stats {
	o.mu.RLock()
	openDirectories := len(o.directories)
	openFiles := len(o.files)
	o.mu.RUnlock()

	return Stats{
		VerifiedOpens:        o.verifiedOpens.Load(),
		VerificationFailures: o.verificationFailures.Load(),
		AccessDenials:        o.accessDenials.Load(),
		HiddenEntries:        o.hiddenEntries.Load(),
		OpenDirectories:      openDirectories,
		OpenFiles:            openFiles,
	}
}

// LogValue renders the snapshot as a slog group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("verified_opens", s.VerifiedOpens),
		slog.Int64("verification_failures", s.VerificationFailures),
		slog.Int64("access_denials", s.AccessDenials),
		slog.Int64("hidden_entries", s.HiddenEntries),
		slog.Int("open_directories", s.OpenDirectories),
		slog.Int("open_files", s.OpenFiles),
	)
}
