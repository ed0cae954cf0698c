// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/verifyfs/lib/digest"
)

// RootPath is the path the manifest uses for the root of the tree.
const RootPath = "."

// ErrFormat is matched by every error that reports an unreadable or
// malformed manifest.
var ErrFormat = errors.New("manifest format error")

// FormatError describes why a manifest could not be loaded. Line is
// the 1-based line number for text manifests and zero otherwise.
type FormatError struct {
	Source string
	Line   int
	Err    error
}

func (e *FormatError) Error() string {
	source := e.Source
	if source == "" {
		source = "manifest"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", source, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", source, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is reports ErrFormat so callers can classify without a type
// assertion.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Entry is one manifest line.
type Entry struct {
	Path   string
	Digest digest.Digest
}

// Options configures how a manifest is built or parsed.
type Options struct {
	// Algorithm is the digest algorithm the entries were computed
	// with. Empty selects digest.Default. A binary manifest records
	// its own algorithm; a conflicting non-empty value here is a
	// format error.
	Algorithm digest.Algorithm

	// StrictDirectories restricts IsDirectoryTrusted to the root and
	// the ancestors of manifest entries.
	StrictDirectories bool

	// Identities decrypt age-encrypted manifests. Parsing an
	// encrypted manifest without identities fails.
	Identities []age.Identity

	// Source names the manifest in error messages, typically the
	// file path.
	Source string
}

// Manifest is an immutable path to digest mapping. All methods are
// safe for concurrent use.
type Manifest struct {
	algorithm         digest.Algorithm
	digests           map[string]digest.Digest
	directories       map[string]struct{}
	strictDirectories bool
}

// New builds a manifest from entries. Paths are normalized with the
// same rules the text parser applies; an invalid path is a
// *FormatError. Later entries for a duplicate path win.
func New(entries []Entry, options Options) (*Manifest, error) {
	builder, err := newBuilder(options)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := builder.add(entry.Path, entry.Digest); err != nil {
			return nil, &FormatError{Source: options.Source, Err: err}
		}
	}
	return builder.build(), nil
}

// Algorithm returns the digest algorithm the manifest was built for.
func (m *Manifest) Algorithm() digest.Algorithm { return m.algorithm }

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.digests) }

// Lookup returns the expected digest for path. The path must already
// be in manifest form; no normalization happens here.
func (m *Manifest) Lookup(filePath string) (digest.Digest, bool) {
	expected, ok := m.digests[filePath]
	return expected, ok
}

// IsFileTrusted reports whether path has a manifest entry.
func (m *Manifest) IsFileTrusted(filePath string) bool {
	_, ok := m.digests[filePath]
	return ok
}

// IsDirectoryTrusted reports whether the directory at path may be
// opened and listed. Directory structure is trusted implicitly unless
// StrictDirectories was set.
func (m *Manifest) IsDirectoryTrusted(directoryPath string) bool {
	if !m.strictDirectories || directoryPath == RootPath {
		return true
	}
	_, ok := m.directories[directoryPath]
	return ok
}

// Verify reports whether data is the content the manifest expects at
// path. Paths without an entry never verify.
func (m *Manifest) Verify(filePath string, data []byte) bool {
	expected, ok := m.digests[filePath]
	if !ok {
		return false
	}
	return m.algorithm.Sum(data) == expected
}

// Entries returns every entry sorted by path.
func (m *Manifest) Entries() []Entry {
	entries := make([]Entry, 0, len(m.digests))
	for entryPath, entryDigest := range m.digests {
		entries = append(entries, Entry{Path: entryPath, Digest: entryDigest})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// builder accumulates entries and derives the directory set.
type builder struct {
	manifest *Manifest
}

func newBuilder(options Options) (*builder, error) {
	algorithm, err := digest.ParseAlgorithm(string(options.Algorithm))
	if err != nil {
		return nil, &FormatError{Source: options.Source, Err: err}
	}
	return &builder{manifest: &Manifest{
		algorithm:         algorithm,
		digests:           make(map[string]digest.Digest),
		directories:       make(map[string]struct{}),
		strictDirectories: options.StrictDirectories,
	}}, nil
}

func (b *builder) add(rawPath string, entryDigest digest.Digest) error {
	cleaned, err := normalizePath(rawPath)
	if err != nil {
		return err
	}
	b.manifest.digests[cleaned] = entryDigest
	for parent := path.Dir(cleaned); parent != RootPath; parent = path.Dir(parent) {
		b.manifest.directories[parent] = struct{}{}
	}
	return nil
}

func (b *builder) build() *Manifest {
	return b.manifest
}

// normalizePath converts a manifest path to its canonical form or
// reports why it cannot be one.
func normalizePath(rawPath string) (string, error) {
	cleaned := rawPath
	for strings.HasPrefix(cleaned, "./") {
		cleaned = cleaned[2:]
	}
	switch {
	case cleaned == "":
		return "", fmt.Errorf("empty path")
	case strings.HasPrefix(cleaned, "/"):
		return "", fmt.Errorf("absolute path %q", rawPath)
	case cleaned == "." || cleaned == "..":
		return "", fmt.Errorf("path %q names a directory", rawPath)
	case path.Clean(cleaned) != cleaned || strings.HasPrefix(cleaned, "../"):
		return "", fmt.Errorf("path %q is not clean", rawPath)
	}
	return cleaned, nil
}
