// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "VERIFYFS_CONFIG"

// Config is the complete verifyfs configuration.
type Config struct {
	// Source is the untrusted directory exposed through the mount.
	Source string `yaml:"source"`

	// Manifest is the path of the trusted digest manifest.
	Manifest string `yaml:"manifest"`

	// Mountpoint is where the verified view is mounted.
	Mountpoint string `yaml:"mountpoint"`

	// Digest is the manifest digest algorithm: sha256 or blake3.
	// Binary manifests record their own algorithm and must agree.
	// Default: sha256
	Digest string `yaml:"digest"`

	// StrictDirectories trusts only the root and the ancestors of
	// manifest entries instead of every directory.
	StrictDirectories bool `yaml:"strict_directories"`

	// IdentityFile holds age identities for decrypting an encrypted
	// manifest. Empty means the manifest must not be encrypted.
	IdentityFile string `yaml:"identity_file"`

	// MaxFileSize is the largest file, in bytes, that is read for
	// verification. Larger files are reported as not found.
	// Default: 1 GiB
	MaxFileSize int64 `yaml:"max_file_size"`

	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount"`

	// Log configures process logging.
	Log LogConfig `yaml:"log"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	// Debug logs every FUSE request.
	Debug bool `yaml:"debug"`

	// Kernel cache lifetimes, as Go durations ("1s", "250ms").
	EntryTimeout    time.Duration `yaml:"entry_timeout"`
	AttrTimeout     time.Duration `yaml:"attr_timeout"`
	NegativeTimeout time.Duration `yaml:"negative_timeout"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is auto, text, or json. Auto selects text when stderr is
	// a terminal and JSON otherwise.
	// Default: auto
	Format string `yaml:"format"`
}

// Log formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Default returns the default configuration. Paths are empty: they
// come from the config file or the command line.
func Default() *Config {
	return &Config{
		Digest:      string(digest.Default),
		MaxFileSize: 1 << 30,
		Mount: MountConfig{
			EntryTimeout:    1 * time.Second,
			AttrTimeout:     1 * time.Second,
			NegativeTimeout: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatAuto,
		},
	}
}

// Load loads configuration from the VERIFYFS_CONFIG environment
// variable. If it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your verifyfs.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// Resolve returns the configuration a command should start from: the
// file named by flagPath if set, else the file named by
// VERIFYFS_CONFIG if set, else Default.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	return Default(), nil
}

// LoadFile loads configuration from a specific file path, on top of
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// loadFile decodes a single configuration file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Source = expandVars(c.Source, vars)
	c.Manifest = expandVars(c.Manifest, vars)
	c.Mountpoint = expandVars(c.Mountpoint, vars)
	c.IdentityFile = expandVars(c.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Paths are not
// required here; commands check the ones they use.
func (c *Config) Validate() error {
	var errs []error

	if _, err := digest.ParseAlgorithm(c.Digest); err != nil {
		errs = append(errs, fmt.Errorf("digest: %w", err))
	}

	if c.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("max_file_size must not be negative, got %d", c.MaxFileSize))
	}

	if c.Mount.EntryTimeout < 0 {
		errs = append(errs, fmt.Errorf("mount.entry_timeout must not be negative"))
	}
	if c.Mount.AttrTimeout < 0 {
		errs = append(errs, fmt.Errorf("mount.attr_timeout must not be negative"))
	}
	if c.Mount.NegativeTimeout < 0 {
		errs = append(errs, fmt.Errorf("mount.negative_timeout must not be negative"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	formats := []string{FormatAuto, FormatText, FormatJSON}
	if !contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateMount checks the fields the mount command needs on top of
// Validate.
func (c *Config) ValidateMount() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Source == "" {
		errs = append(errs, fmt.Errorf("source is required"))
	}
	if c.Manifest == "" {
		errs = append(errs, fmt.Errorf("manifest is required"))
	}
	if c.Mountpoint == "" {
		errs = append(errs, fmt.Errorf("mountpoint is required"))
	}
	if c.Source != "" && c.Mountpoint != "" && filepath.Clean(c.Source) == filepath.Clean(c.Mountpoint) {
		errs = append(errs, fmt.Errorf("mountpoint must differ from source"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
