// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/verifyfs/lib/digest"
)

func TestInfo(t *testing.T) {
	originalCommit, originalDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = originalCommit, originalDirty })

	GitCommit = "abc1234"
	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want the dirty commit", got)
	}
	if got := Full(); !strings.HasPrefix(got, Info()) || !strings.Contains(got, "Go: ") {
		t.Errorf("Full() = %q", got)
	}
	if Short() != Version || Commit() != GitCommit {
		t.Errorf("Short/Commit = %q/%q", Short(), Commit())
	}
}

func TestSelfDigest(t *testing.T) {
	sum, executable, err := SelfDigest(digest.SHA256)
	if err != nil {
		t.Fatalf("SelfDigest: %v", err)
	}
	if !filepath.IsAbs(executable) {
		t.Errorf("executable path %q is not absolute", executable)
	}
	if _, err := os.Stat(executable); err != nil {
		t.Fatalf("Stat(%s): %v", executable, err)
	}
	want, err := digest.SHA256.HashFile(executable)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if sum != want {
		t.Errorf("SelfDigest = %s, want %s", sum, want)
	}
}
