// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest provides the 32-byte content digests that verifyfs
// manifests record and the overlay checks file content against.
//
// Two algorithms are supported: SHA-256 (the default, matching
// sha256sum output) and BLAKE3-256 (matching b3sum output). Both
// produce 32-byte digests whose canonical text form is 64 lowercase
// hex characters, so a manifest line has the same shape regardless of
// algorithm. The algorithm is a property of the whole manifest, never
// of an individual entry.
package digest
