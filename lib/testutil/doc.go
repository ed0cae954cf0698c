// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for verifyfs packages.
//
// [WriteTree] materializes a map of relative paths to contents under a
// directory, creating parents as needed. [ManifestText] renders the
// sha256sum-style manifest for such a map, so tests can build a source
// tree and its trusted manifest from one literal.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) for concurrency
// tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
