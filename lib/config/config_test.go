// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Digest != "sha256" {
		t.Errorf("expected digest=sha256, got %s", cfg.Digest)
	}
	if cfg.MaxFileSize != 1<<30 {
		t.Errorf("expected max_file_size=1GiB, got %d", cfg.MaxFileSize)
	}
	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("expected entry_timeout=1s, got %s", cfg.Mount.EntryTimeout)
	}
	if cfg.Log.Format != FormatAuto {
		t.Errorf("expected log.format=auto, got %s", cfg.Log.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when VERIFYFS_CONFIG not set, got nil")
	}

	expectedMsg := "VERIFYFS_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	configPath := writeConfig(t, "verifyfs.yaml", `
source: /srv/untrusted
manifest: /etc/verifyfs/manifest.sha256
`)
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Source != "/srv/untrusted" {
		t.Errorf("expected source=/srv/untrusted, got %s", cfg.Source)
	}
	if cfg.Digest != "sha256" {
		t.Errorf("unset digest should keep the default, got %s", cfg.Digest)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "verifyfs.yaml", `
source: /srv/untrusted
manifest: /etc/verifyfs/manifest.b3
mountpoint: /mnt/verified
digest: blake3
strict_directories: true
identity_file: /etc/verifyfs/key.txt
max_file_size: 1048576

mount:
  allow_other: true
  debug: true
  entry_timeout: 5s
  attr_timeout: 2s
  negative_timeout: 0s

log:
  level: debug
  format: json
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Mountpoint != "/mnt/verified" {
		t.Errorf("expected mountpoint=/mnt/verified, got %s", cfg.Mountpoint)
	}
	if cfg.Digest != "blake3" {
		t.Errorf("expected digest=blake3, got %s", cfg.Digest)
	}
	if !cfg.StrictDirectories {
		t.Error("expected strict_directories=true")
	}
	if cfg.IdentityFile != "/etc/verifyfs/key.txt" {
		t.Errorf("expected identity_file=/etc/verifyfs/key.txt, got %s", cfg.IdentityFile)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Errorf("expected max_file_size=1048576, got %d", cfg.MaxFileSize)
	}
	if !cfg.Mount.AllowOther || !cfg.Mount.Debug {
		t.Errorf("expected allow_other and debug, got %+v", cfg.Mount)
	}
	if cfg.Mount.EntryTimeout != 5*time.Second {
		t.Errorf("expected entry_timeout=5s, got %s", cfg.Mount.EntryTimeout)
	}
	if cfg.Mount.AttrTimeout != 2*time.Second {
		t.Errorf("expected attr_timeout=2s, got %s", cfg.Mount.AttrTimeout)
	}
	if cfg.Mount.NegativeTimeout != 0 {
		t.Errorf("expected negative_timeout=0, got %s", cfg.Mount.NegativeTimeout)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v (%v)", level, err)
	}
	if err := cfg.ValidateMount(); err != nil {
		t.Errorf("ValidateMount: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	configPath := writeConfig(t, "verifyfs.jsonc", `{
  // Untrusted input.
  "source": "/srv/untrusted",
  "manifest": "/etc/verifyfs/manifest.sha256",
  "mount": {
    "attr_timeout": "3s", /* shorter than default */
  },
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Source != "/srv/untrusted" {
		t.Errorf("expected source=/srv/untrusted, got %s", cfg.Source)
	}
	if cfg.Mount.AttrTimeout != 3*time.Second {
		t.Errorf("expected attr_timeout=3s, got %s", cfg.Mount.AttrTimeout)
	}
	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("unset entry_timeout should keep the default, got %s", cfg.Mount.EntryTimeout)
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile(empty) failed: %v", err)
	}
	if cfg.Digest != "sha256" {
		t.Errorf("expected defaults from an empty file, got digest=%s", cfg.Digest)
	}
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "typo.yaml", "sourse: /srv\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve without any config: %v", err)
	}
	if cfg.Source != "" || cfg.Digest != "sha256" {
		t.Errorf("expected Default(), got %+v", cfg)
	}

	envPath := writeConfig(t, "env.yaml", "source: /from/env\n")
	flagPath := writeConfig(t, "flag.yaml", "source: /from/flag\n")
	t.Setenv(EnvironmentVariable, envPath)

	cfg, err = Resolve("")
	if err != nil || cfg.Source != "/from/env" {
		t.Errorf("Resolve with env = %v, %v; want source /from/env", cfg, err)
	}
	cfg, err = Resolve(flagPath)
	if err != nil || cfg.Source != "/from/flag" {
		t.Errorf("Resolve with flag = %v, %v; want source /from/flag", cfg, err)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("VERIFYFS_TEST_ROOT", "/data")

	configPath := writeConfig(t, "verifyfs.yaml", `
source: ${VERIFYFS_TEST_ROOT}/untrusted
manifest: ${HOME}/manifest.sha256
mountpoint: ${VERIFYFS_TEST_UNSET:-/mnt/default}
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Source != "/data/untrusted" {
		t.Errorf("expected source=/data/untrusted, got %s", cfg.Source)
	}
	if cfg.Manifest != "/home/tester/manifest.sha256" {
		t.Errorf("expected manifest=/home/tester/manifest.sha256, got %s", cfg.Manifest)
	}
	if cfg.Mountpoint != "/mnt/default" {
		t.Errorf("expected mountpoint=/mnt/default, got %s", cfg.Mountpoint)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unknown digest", func(c *Config) { c.Digest = "md5" }, "digest"},
		{"negative size", func(c *Config) { c.MaxFileSize = -1 }, "max_file_size"},
		{"negative timeout", func(c *Config) { c.Mount.AttrTimeout = -time.Second }, "mount.attr_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not mention %q", err, test.wantErr)
			}
		})
	}
}

func TestValidateMount(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateMount()
	if err == nil {
		t.Fatal("expected error for missing paths")
	}
	for _, field := range []string{"source", "manifest", "mountpoint"} {
		if !strings.Contains(err.Error(), field+" is required") {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}

	cfg.Source = "/srv/data"
	cfg.Manifest = "/etc/manifest"
	cfg.Mountpoint = "/srv/data/"
	if err := cfg.ValidateMount(); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Errorf("expected error for mountpoint equal to source, got %v", err)
	}
}
