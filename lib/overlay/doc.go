// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay implements the verifying read-only view of an
// untrusted source directory.
//
// An [Overlay] pins a descriptor to the source directory once, at
// construction, and resolves every later request relative to that
// descriptor. A renamed or re-pointed ancestor of the source therefore
// cannot redirect a request after the overlay has started.
//
// Content is gated by a [manifest.Manifest]. [Overlay.OpenFile] reads
// a trusted file in full, checks its digest, and keeps the verified
// bytes under a fresh [FileHandle]; [Overlay.ReadFile] serves only
// from that buffer. Unverified bytes are never returned to a caller.
// A file whose digest does not match is reported as [ErrNotFound],
// the same as a missing file, so a caller cannot probe for tampering.
// The mismatch is logged at Warn for operators.
//
// [Overlay.ListDirectory] hides every entry the manifest does not
// trust: regular files without a manifest entry, untrusted
// directories, and every other file type. Metadata lookups through
// [Overlay.Stat] are not gated.
//
// Every state transition is keyed by a per-open handle, so concurrent
// opens of the same path never share a buffer and a release affects
// only its own open.
package overlay
