// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes an [overlay.Overlay] as a read-only FUSE
// filesystem.
//
// The node tree is a thin dispatcher: lookups and attribute requests
// go to [overlay.Overlay.Stat], directory listings to
// OpenDirectory/ListDirectory/ReleaseDirectory, and opens, reads, and
// releases to the overlay's per-handle file operations. Overlay errors
// are translated with [overlay.Errno]. Every reported mode has its
// write bits cleared and the mount is made with the "ro" option.
package fuse
