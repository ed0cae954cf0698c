// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest implements the trusted digest manifest: an
// immutable mapping from a relative file path to the digest its
// content must have.
//
// # Text format
//
// The canonical form is the output of sha256sum (or b3sum for the
// BLAKE3 algorithm), one entry per line:
//
//	<64 hex digits><2 separator characters><relative/path>\n
//
// The separator is two spaces (text mode) or space-asterisk (binary
// mode). Paths are relative, slash-separated, and clean: no leading
// slash, no "." or ".." components, no empty components. A single
// leading "./" is stripped for compatibility with `find . -type f`
// pipelines. Lines beginning with a backslash use the GNU escaping
// convention for file names containing newlines or backslashes. A
// later entry for the same path replaces an earlier one.
//
// # Containers
//
// [Parse] sniffs its input and peels any of these layers before
// decoding entries:
//
//   - age encryption (binary or ASCII-armored), decrypted with the
//     identities in [Options]
//   - zstd or lz4 frame compression
//   - the binary form: a deterministic CBOR map produced by
//     [Manifest.MarshalBinary]
//
// Anything else is parsed as text.
//
// # Trust predicates
//
// [Manifest.IsFileTrusted] is true exactly for paths with an entry.
// [Manifest.IsDirectoryTrusted] is always true unless the manifest was
// built with StrictDirectories, in which case only the root and the
// ancestors of manifest entries are trusted. Lookups never normalize:
// callers pass paths in the same relative form the manifest uses.
package manifest
