// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/config"
	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/bureau-foundation/verifyfs/lib/manifest"
	"github.com/bureau-foundation/verifyfs/lib/overlay"
)

// commonParams are the flags every command that loads configuration
// accepts.
type commonParams struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (p *commonParams) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.configPath, "config", "", "configuration file (default $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&p.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&p.logFormat, "log-format", config.FormatAuto, "log format: auto, text, json")
}

// verifyParams are the flags that control how a manifest is loaded
// and enforced.
type verifyParams struct {
	digest            string
	strictDirectories bool
	identityFile      string
	maxFileSize       int64
}

func (p *verifyParams) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.digest, "digest", string(digest.Default), "manifest digest algorithm: sha256, blake3")
	flagSet.BoolVar(&p.strictDirectories, "strict-directories", false, "trust only directories that contain manifest entries")
	flagSet.StringVar(&p.identityFile, "identity", "", "age identity file for an encrypted manifest")
	flagSet.Int64Var(&p.maxFileSize, "max-file-size", overlay.DefaultMaxFileSize, "largest file, in bytes, read for verification")
}

// resolveConfig loads the configuration file (if any) and applies the
// flags the user set explicitly. Flags left at their defaults never
// override the file. verify may be nil for commands that do not load
// a manifest.
func resolveConfig(flagSet *pflag.FlagSet, common *commonParams, verify *verifyParams) (*config.Config, error) {
	cfg, err := config.Resolve(common.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cli.NotFound("%w", err)
		}
		return nil, cli.Validation("%w", err)
	}

	if flagSet.Changed("log-level") {
		cfg.Log.Level = common.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = common.logFormat
	}
	if verify != nil {
		if flagSet.Changed("digest") {
			cfg.Digest = verify.digest
		}
		if flagSet.Changed("strict-directories") {
			cfg.StrictDirectories = verify.strictDirectories
		}
		if flagSet.Changed("identity") {
			cfg.IdentityFile = verify.identityFile
		}
		if flagSet.Changed("max-file-size") {
			cfg.MaxFileSize = verify.maxFileSize
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration: %w", err)
	}
	return cfg, nil
}

// commandLogger builds the logger for a validated configuration.
func commandLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Log.SlogLevel()
	return cli.NewCommandLogger(level, cfg.Log.Format)
}

// loadManifest loads the manifest named by manifestPath with the
// algorithm, directory policy, and identities from cfg.
func loadManifest(cfg *config.Config, manifestPath string, logger *slog.Logger) (*manifest.Manifest, error) {
	algorithm, err := digest.ParseAlgorithm(cfg.Digest)
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	options := manifest.Options{
		Algorithm:         algorithm,
		StrictDirectories: cfg.StrictDirectories,
		Source:            manifestPath,
	}
	if cfg.IdentityFile != "" {
		identities, err := manifest.LoadIdentities(cfg.IdentityFile)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, cli.NotFound("%w", err)
			}
			return nil, cli.Validation("%w", err)
		}
		options.Identities = identities
	}

	trusted, err := manifest.LoadFile(manifestPath, options)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cli.NotFound("%w", err)
		}
		return nil, cli.Validation("%w", err)
	}
	logger.Info("manifest loaded",
		"path", manifestPath,
		"entries", trusted.Len(),
		"algorithm", trusted.Algorithm(),
		"strict_directories", cfg.StrictDirectories,
	)
	return trusted, nil
}

// openOverlay pins source and returns the overlay enforcing trusted.
func openOverlay(cfg *config.Config, source string, trusted *manifest.Manifest, logger *slog.Logger) (*overlay.Overlay, error) {
	view, err := overlay.New(overlay.Options{
		Source:      source,
		Manifest:    trusted,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})
	if err != nil {
		if errors.Is(err, overlay.ErrSourceUnavailable) {
			return nil, cli.NotFound("%w", err)
		}
		return nil, cli.Internal("%w", err)
	}
	return view, nil
}
