// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/bureau-foundation/verifyfs/lib/testutil"
)

// helloDigest is the SHA-256 of "hello".
const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func mustParseText(t *testing.T, text string, options Options) *Manifest {
	t.Helper()
	parsed, err := Parse(strings.NewReader(text), options)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return parsed
}

func TestParseTextLookup(t *testing.T) {
	m := mustParseText(t, helloDigest+"  docs/readme.txt\n", Options{})

	got, ok := m.Lookup("docs/readme.txt")
	if !ok {
		t.Fatal("Lookup(docs/readme.txt) missing")
	}
	if got.String() != helloDigest {
		t.Errorf("Lookup = %s, want %s", got, helloDigest)
	}
	if !m.IsFileTrusted("docs/readme.txt") {
		t.Error("docs/readme.txt should be trusted")
	}
	if m.IsFileTrusted("docs/secret.txt") {
		t.Error("docs/secret.txt should not be trusted")
	}
	if !m.Verify("docs/readme.txt", []byte("hello")) {
		t.Error("hello should verify")
	}
	if m.Verify("docs/readme.txt", []byte("hellx")) {
		t.Error("hellx should not verify")
	}
	if m.Verify("docs/secret.txt", []byte("hello")) {
		t.Error("a path without an entry should never verify")
	}
	if m.Algorithm() != digest.SHA256 {
		t.Errorf("Algorithm = %s, want sha256", m.Algorithm())
	}
}

func TestLookupDoesNotNormalize(t *testing.T) {
	m := mustParseText(t, helloDigest+"  docs/readme.txt\n", Options{})
	for _, variant := range []string{"/docs/readme.txt", "./docs/readme.txt", "docs//readme.txt"} {
		if _, ok := m.Lookup(variant); ok {
			t.Errorf("Lookup(%q) should miss", variant)
		}
	}
}

func TestParseDuplicateLastWins(t *testing.T) {
	other := digest.SHA256.Sum([]byte("other")).String()
	m := mustParseText(t, helloDigest+"  a.txt\n"+other+"  a.txt\n", Options{})
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	got, _ := m.Lookup("a.txt")
	if got.String() != other {
		t.Errorf("Lookup = %s, want the later digest %s", got, other)
	}
}

func TestParseAcceptedForms(t *testing.T) {
	text := strings.Join([]string{
		helloDigest + " *binary-mode.bin",
		"",
		helloDigest + "  ./dot-prefixed.txt",
		strings.ToUpper(helloDigest) + "  upper.txt",
		helloDigest + "  name with  spaces.txt",
		"\\" + helloDigest + "  back\\\\slash\\nnewline",
	}, "\n") + "\n"

	m := mustParseText(t, text, Options{})
	for _, name := range []string{"binary-mode.bin", "dot-prefixed.txt", "upper.txt", "name with  spaces.txt", "back\\slash\nnewline"} {
		if !m.IsFileTrusted(name) {
			t.Errorf("%q should be trusted", name)
		}
	}
	if m.Len() != 5 {
		t.Errorf("Len = %d, want 5", m.Len())
	}
}

func TestParseRejectsMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"short", "abc"},
		{"digest only", helloDigest},
		{"no path", helloDigest + "  "},
		{"bad hex", strings.Repeat("g", 64) + "  a.txt"},
		{"bad separator", helloDigest + "\t\ta.txt"},
		{"absolute", helloDigest + "  /etc/passwd"},
		{"parent", helloDigest + "  ../escape"},
		{"inner parent", helloDigest + "  a/../../escape"},
		{"double slash", helloDigest + "  a//b"},
		{"trailing slash", helloDigest + "  a/"},
		{"dot", helloDigest + "  ."},
		{"bad escape", "\\" + helloDigest + "  a\\tb"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			text := helloDigest + "  fine.txt\n" + test.line + "\n"
			_, err := Parse(strings.NewReader(text), Options{Source: "test.sha256"})
			if err == nil {
				t.Fatal("Parse should fail")
			}
			if !errors.Is(err, ErrFormat) {
				t.Errorf("error %v should match ErrFormat", err)
			}
			var formatError *FormatError
			if !errors.As(err, &formatError) {
				t.Fatalf("error %T should be *FormatError", err)
			}
			if formatError.Line != 2 {
				t.Errorf("Line = %d, want 2", formatError.Line)
			}
			if !strings.HasPrefix(err.Error(), "test.sha256:2:") {
				t.Errorf("error %q should name source and line", err)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	m := mustParseText(t, "", Options{})
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestDirectoryTrust(t *testing.T) {
	text := helloDigest + "  docs/guide/intro.txt\n" + helloDigest + "  top.txt\n"

	relaxed := mustParseText(t, text, Options{})
	for _, directory := range []string{".", "docs", "unrelated", "docs/other"} {
		if !relaxed.IsDirectoryTrusted(directory) {
			t.Errorf("relaxed: %q should be trusted", directory)
		}
	}

	strict := mustParseText(t, text, Options{StrictDirectories: true})
	for _, directory := range []string{".", "docs", "docs/guide"} {
		if !strict.IsDirectoryTrusted(directory) {
			t.Errorf("strict: %q should be trusted", directory)
		}
	}
	for _, directory := range []string{"unrelated", "docs/other", "top.txt", "docs/guide/intro.txt"} {
		if strict.IsDirectoryTrusted(directory) {
			t.Errorf("strict: %q should not be trusted", directory)
		}
	}
}

func TestNewNormalizesAndRejects(t *testing.T) {
	sum := digest.SHA256.Sum([]byte("hello"))
	m, err := New([]Entry{{Path: "./a/b.txt", Digest: sum}}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !m.IsFileTrusted("a/b.txt") {
		t.Error("a/b.txt should be trusted after ./ stripping")
	}

	if _, err := New([]Entry{{Path: "/abs", Digest: sum}}, Options{}); !errors.Is(err, ErrFormat) {
		t.Errorf("New(/abs) error = %v, want ErrFormat", err)
	}
	if _, err := New(nil, Options{Algorithm: "md5"}); !errors.Is(err, ErrFormat) {
		t.Errorf("New with unknown algorithm error = %v, want ErrFormat", err)
	}
}

func TestBLAKE3Manifest(t *testing.T) {
	files := map[string]string{"a.txt": "alpha", "dir/b.txt": "beta"}
	m := mustParseText(t, testutil.ManifestText(digest.BLAKE3, files), Options{Algorithm: digest.BLAKE3})
	if !m.Verify("a.txt", []byte("alpha")) {
		t.Error("alpha should verify under BLAKE3")
	}

	sha := mustParseText(t, testutil.ManifestText(digest.BLAKE3, files), Options{})
	if sha.Verify("a.txt", []byte("alpha")) {
		t.Error("a BLAKE3 manifest read as SHA-256 must not verify")
	}
}

func TestLoadFile(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "manifest.sha256")
	testutil.WriteManifest(t, path, digest.SHA256, map[string]string{"x": "y"})

	m, err := LoadFile(path, Options{})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !m.Verify("x", []byte("y")) {
		t.Error("x should verify")
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing"), Options{})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v should wrap os.ErrNotExist", err)
	}
}

func TestEntriesSorted(t *testing.T) {
	m := mustParseText(t, testutil.ManifestText(digest.SHA256, map[string]string{"b": "1", "a": "2", "c/d": "3"}), Options{})
	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, want := range []string{"a", "b", "c/d"} {
		if entries[i].Path != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Path, want)
		}
	}
}
