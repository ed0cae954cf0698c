// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"context"
	"strings"
	"syscall"

	"github.com/bureau-foundation/verifyfs/lib/syscallfs"
)

// AuditFailure is one path that could not be listed or verified.
type AuditFailure struct {
	Path string
	Err  error
}

// AuditReport summarizes an Audit.
type AuditReport struct {
	// Verified lists manifest entries that opened and verified.
	Verified []string

	// Failed lists manifest entries that did not verify and
	// directories that could not be listed.
	Failed []AuditFailure

	// Unlisted lists manifest entries that verified but were not
	// reached by listing from the root, for example because a parent
	// directory is missing from the source.
	Unlisted []string

	// Directories is the number of directories listed.
	Directories int

	// Hidden is the number of source entries omitted from listings.
	Hidden int64
}

// OK reports whether every manifest entry verified.
func (r *AuditReport) OK() bool { return len(r.Failed) == 0 }

// Audit exercises the overlay the way a mounted reader would: it lists
// every visible directory starting at the root, then opens and
// verifies every manifest entry. It stops early only if ctx is
// cancelled.
func Audit(ctx context.Context, o *Overlay) (*AuditReport, error) {
	report := &AuditReport{}
	hiddenBefore := o.Stats().HiddenEntries

	listed := make(map[string]bool)
	pending := []string{"/"}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		directoryPath := pending[0]
		pending = pending[1:]

		entries, err := o.listAll(directoryPath)
		if err != nil {
			report.Failed = append(report.Failed, AuditFailure{Path: directoryPath, Err: err})
			continue
		}
		report.Directories++
		for _, entry := range entries {
			childPath := strings.TrimSuffix(directoryPath, "/") + "/" + entry.Name
			switch entry.Type {
			case syscallfs.EntryDirectory:
				pending = append(pending, childPath)
			case syscallfs.EntryRegular:
				listed[childPath[1:]] = true
			}
		}
	}

	for _, entry := range o.manifest.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		handle, err := o.OpenFile("/"+entry.Path, syscall.O_RDONLY)
		if err != nil {
			report.Failed = append(report.Failed, AuditFailure{Path: entry.Path, Err: err})
			continue
		}
		o.ReleaseFile(handle)
		report.Verified = append(report.Verified, entry.Path)
		if !listed[entry.Path] {
			report.Unlisted = append(report.Unlisted, entry.Path)
		}
	}

	report.Hidden = o.Stats().HiddenEntries - hiddenBefore
	return report, nil
}

func (o *Overlay) listAll(directoryPath string) ([]syscallfs.DirEntry, error) {
	handle, err := o.OpenDirectory(directoryPath)
	if err != nil {
		return nil, err
	}
	defer o.ReleaseDirectory(handle)
	return o.ListDirectory(handle)
}
