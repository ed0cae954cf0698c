// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/bureau-foundation/verifyfs/lib/manifest"
)

type manifestParams struct {
	commonParams

	output      string
	digest      string
	format      string
	compression string
	recipients  []string
	armor       bool
}

func (p *manifestParams) flags() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("manifest", pflag.ContinueOnError)
	p.commonParams.register(flagSet)
	flagSet.StringVarP(&p.output, "output", "o", "-", "file to write, - for stdout")
	flagSet.StringVar(&p.digest, "digest", string(digest.Default), "digest algorithm: sha256, blake3")
	flagSet.StringVar(&p.format, "format", string(manifest.EncodingText), "encoding: text (sha256sum/b3sum), binary (CBOR)")
	flagSet.StringVar(&p.compression, "compress", string(manifest.CompressionNone), "compression: none, zstd, lz4")
	flagSet.StringArrayVar(&p.recipients, "recipient", nil, "encrypt to this age recipient (repeatable)")
	flagSet.BoolVar(&p.armor, "armor", false, "ASCII-armor encrypted output")
	return flagSet
}

func manifestCommand(stdout io.Writer) *cli.Command {
	var (
		params  manifestParams
		flagSet *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "manifest",
		Summary: "Generate a manifest for a directory",
		Description: `Hash every regular file under <directory> and write a manifest of
them. Symlinks and special files are skipped because the mount never
serves them.

Text output is compatible with sha256sum -c (or b3sum -c for BLAKE3)
when run from <directory>. Binary output is deterministic CBOR. Either
form can be compressed and encrypted to age recipients; mount and
check read every combination.`,
		Usage: "verifyfs manifest [flags] <directory>",
		Examples: []cli.Example{
			{
				Description: "Write a sha256sum-compatible manifest",
				Command:     "verifyfs manifest ./release -o SHA256SUMS",
			},
			{
				Description: "Write a compressed, encrypted BLAKE3 manifest",
				Command:     "verifyfs manifest ./release --digest blake3 --format binary --compress zstd --recipient age1... -o release.manifest",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = params.flags()
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("manifest takes exactly one <directory>, got %d arguments", len(args))
			}
			return runManifest(&params, flagSet, args[0], stdout)
		},
	}
}

func runManifest(params *manifestParams, flagSet *pflag.FlagSet, root string, stdout io.Writer) error {
	cfg, err := resolveConfig(flagSet, &params.commonParams, nil)
	if err != nil {
		return err
	}
	logger := commandLogger(cfg)

	algorithm, err := digest.ParseAlgorithm(params.digest)
	if err != nil {
		return cli.Validation("%w", err)
	}
	encoding, err := manifest.ParseEncoding(params.format)
	if err != nil {
		return cli.Validation("%w", err)
	}
	compression, err := manifest.ParseCompression(params.compression)
	if err != nil {
		return cli.Validation("%w", err)
	}
	recipients, err := manifest.ParseRecipients(params.recipients)
	if err != nil {
		return cli.Validation("%w", err)
	}
	if params.armor && len(recipients) == 0 {
		return cli.Validation("--armor requires at least one --recipient")
	}

	info, err := os.Stat(root)
	if err != nil {
		return cli.NotFound("%w", err)
	}
	if !info.IsDir() {
		return cli.Validation("%s is not a directory", root)
	}

	generated, err := manifest.Generate(root, manifest.Options{Algorithm: algorithm})
	if err != nil {
		return cli.Internal("%w", err)
	}

	options := manifest.EncodeOptions{
		Encoding:    encoding,
		Compression: compression,
		Recipients:  recipients,
		Armor:       params.armor,
	}
	if params.output == "-" {
		if err := generated.Encode(stdout, options); err != nil {
			return cli.Internal("writing manifest: %w", err)
		}
	} else if err := writeManifestFile(params.output, generated, options); err != nil {
		return cli.Internal("%w", err)
	}

	logger.Info("manifest generated",
		"root", root,
		"entries", generated.Len(),
		"algorithm", algorithm,
		"encoding", encoding,
		"compression", compression,
		"encrypted", len(recipients) > 0,
		"output", params.output,
	)
	return nil
}

// writeManifestFile writes the manifest to a temporary file beside
// path and renames it into place, so a reader never sees a partial
// manifest.
func writeManifestFile(path string, m *manifest.Manifest, options manifest.EncodeOptions) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating manifest file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if err := m.Encode(temporary, options); err != nil {
		temporary.Close()
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := os.Chmod(temporary.Name(), 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("installing manifest %s: %w", path, err)
	}
	return nil
}
