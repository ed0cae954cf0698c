// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/bureau-foundation/verifyfs/lib/digest"
)

// WriteTree writes files under root. Keys are slash-separated relative
// paths; a key ending in "/" creates an empty directory.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				t.Fatalf("MkdirAll(%s): %v", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("MkdirAll(%s): %v", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", target, err)
		}
	}
}

// ManifestText returns the manifest text for files, sorted by path,
// with digests computed by algorithm. Directory keys (ending in "/")
// are skipped.
func ManifestText(algorithm digest.Algorithm, files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		if !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		fmt.Fprintf(&builder, "%s  %s\n", algorithm.Sum([]byte(files[name])), name)
	}
	return builder.String()
}

// WriteManifest writes ManifestText for files to path.
func WriteManifest(t testing.TB, path string, algorithm digest.Algorithm, files map[string]string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(ManifestText(algorithm, files)), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
