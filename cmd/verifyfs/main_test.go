// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/config"
	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/bureau-foundation/verifyfs/lib/testutil"
	"github.com/bureau-foundation/verifyfs/lib/version"
)

var testFiles = map[string]string{
	"README":         "hello\n",
	"bin/tool":       "#!/bin/sh\necho tool\n",
	"share/doc/note": "note\n",
}

// execute runs the CLI without a config file and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvironmentVariable, "")
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func requireCategory(t *testing.T, err error, category cli.ErrorCategory, exitCode int) {
	t.Helper()
	var commandErr *cli.CommandError
	if !errors.As(err, &commandErr) {
		t.Fatalf("error = %v (%T), want *cli.CommandError", err, err)
	}
	if commandErr.Category != category {
		t.Errorf("category = %q, want %q (error: %v)", commandErr.Category, category, err)
	}
	if commandErr.ExitCode() != exitCode {
		t.Errorf("ExitCode() = %d, want %d", commandErr.ExitCode(), exitCode)
	}
}

func TestManifestToStdoutMatchesSha256sum(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testFiles)

	output, err := execute(t, "manifest", root)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if want := testutil.ManifestText(digest.SHA256, testFiles); output != want {
		t.Errorf("manifest output:\n%s\nwant:\n%s", output, want)
	}
}

func TestManifestThenCheck(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testFiles)
	manifestPath := filepath.Join(t.TempDir(), "SHA256SUMS")

	if _, err := execute(t, "manifest", root, "-o", manifestPath); err != nil {
		t.Fatalf("manifest: %v", err)
	}

	output, err := execute(t, "check", root, manifestPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, output)
	}
	if !strings.Contains(output, "3 verified, 0 failed, 0 unlisted") {
		t.Errorf("check output missing summary:\n%s", output)
	}
	if !strings.Contains(output, "bin/tool: OK") {
		t.Errorf("check output missing bin/tool:\n%s", output)
	}
}

func TestCheckReportsTampering(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testFiles)
	manifestPath := filepath.Join(t.TempDir(), "SHA256SUMS")
	testutil.WriteManifest(t, manifestPath, digest.SHA256, testFiles)

	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("#!/bin/sh\nrm -rf ~\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "check", "--quiet", root, manifestPath)
	requireCategory(t, err, cli.CategoryIntegrity, 1)
	if !strings.Contains(output, "bin/tool: FAILED") {
		t.Errorf("check output missing failure:\n%s", output)
	}
	if strings.Contains(output, "README: OK") {
		t.Errorf("--quiet printed verified entries:\n%s", output)
	}
}

func TestCheckJSON(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testFiles)
	testutil.WriteTree(t, root, map[string]string{"stray": "not in manifest"})
	manifestPath := filepath.Join(t.TempDir(), "SHA256SUMS")
	testutil.WriteManifest(t, manifestPath, digest.SHA256, testFiles)

	output, err := execute(t, "check", "--json", root, manifestPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var result checkResult
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if !result.OK || len(result.Verified) != 3 || len(result.Failed) != 0 {
		t.Errorf("result = %+v, want 3 verified and none failed", result)
	}
	if result.Hidden != 1 {
		t.Errorf("Hidden = %d, want 1 (stray)", result.Hidden)
	}
}

func TestEncryptedCompressedBinaryManifest(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	keyDir := t.TempDir()
	identityPath := filepath.Join(keyDir, "key.txt")
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	testutil.WriteTree(t, root, testFiles)
	manifestPath := filepath.Join(keyDir, "release.manifest")

	if _, err := execute(t, "manifest", root,
		"--digest", "blake3", "--format", "binary", "--compress", "zstd",
		"--recipient", identity.Recipient().String(), "--armor",
		"-o", manifestPath); err != nil {
		t.Fatalf("manifest: %v", err)
	}

	output, err := execute(t, "check", "--digest", "blake3", "--identity", identityPath, root, manifestPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, output)
	}
	if !strings.Contains(output, "3 verified, 0 failed") {
		t.Errorf("check output:\n%s", output)
	}

	// Without the identity the manifest cannot be read at all.
	_, err = execute(t, "check", "--digest", "blake3", root, manifestPath)
	requireCategory(t, err, cli.CategoryValidation, 2)
}

func TestCheckUsageErrors(t *testing.T) {
	root := t.TempDir()

	_, err := execute(t, "check", root)
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "check", root, filepath.Join(root, "missing"))
	requireCategory(t, err, cli.CategoryNotFound, 1)

	_, err = execute(t, "check", "--digest", "md5", root, "SUMS")
	requireCategory(t, err, cli.CategoryValidation, 2)
}

func TestManifestUsageErrors(t *testing.T) {
	root := t.TempDir()

	_, err := execute(t, "manifest", "--armor", root)
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "manifest", "--compress", "gzip", root)
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "manifest", "--recipient", "not-a-recipient", root)
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "manifest", filepath.Join(root, "missing"))
	requireCategory(t, err, cli.CategoryNotFound, 1)
}

func TestMountValidatesBeforeMounting(t *testing.T) {
	root := t.TempDir()

	_, err := execute(t, "mount", root, "SUMS")
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "mount", root, "SUMS", root)
	requireCategory(t, err, cli.CategoryValidation, 2)

	_, err = execute(t, "mount", "--entry-timeout", "-1s", root, "SUMS", filepath.Join(root, "mnt"))
	requireCategory(t, err, cli.CategoryValidation, 2)
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	configPath := filepath.Join(t.TempDir(), "verifyfs.yaml")
	if err := os.WriteFile(configPath, []byte(`
source: /srv/untrusted
manifest: /srv/SUMS
mountpoint: /mnt/verified
digest: blake3
max_file_size: 4096
mount:
  allow_other: true
`), 0o644); err != nil {
		t.Fatal(err)
	}

	var params mountParams
	flagSet := params.flags()
	if err := flagSet.Parse([]string{"--config", configPath}); err != nil {
		t.Fatal(err)
	}
	cfg, err := params.resolve(flagSet, flagSet.Args())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Digest != "blake3" || cfg.MaxFileSize != 4096 || !cfg.Mount.AllowOther {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Mount.EntryTimeout != config.Default().Mount.EntryTimeout {
		t.Errorf("EntryTimeout = %v, want default", cfg.Mount.EntryTimeout)
	}

	params = mountParams{}
	flagSet = params.flags()
	if err := flagSet.Parse([]string{
		"--config", configPath, "--digest", "sha256", "--max-file-size", "10",
		"/a", "/b", "/c",
	}); err != nil {
		t.Fatal(err)
	}
	cfg, err = params.resolve(flagSet, flagSet.Args())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Digest != "sha256" || cfg.MaxFileSize != 10 {
		t.Errorf("flags did not override file: digest=%q max=%d", cfg.Digest, cfg.MaxFileSize)
	}
	if cfg.Source != "/a" || cfg.Manifest != "/b" || cfg.Mountpoint != "/c" {
		t.Errorf("positional paths not applied: %+v", cfg)
	}
	if !cfg.Mount.AllowOther {
		t.Error("unset --allow-other overrode the file")
	}
}

func TestVersion(t *testing.T) {
	output, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(output, version.Version) {
		t.Errorf("output %q missing version %q", output, version.Version)
	}

	output, err = execute(t, "version", "--self-digest", "sha256")
	if err != nil {
		t.Fatalf("version --self-digest: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 2 {
		t.Fatalf("self digest line = %q", lines[len(lines)-1])
	}
	if _, err := digest.Parse(fields[0]); err != nil {
		t.Errorf("self digest %q: %v", fields[0], err)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "chek")
	requireCategory(t, err, cli.CategoryValidation, 2)
}
