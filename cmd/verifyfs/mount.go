// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/config"
	"github.com/bureau-foundation/verifyfs/lib/overlay/fuse"
)

type mountParams struct {
	commonParams
	verifyParams

	allowOther      bool
	debug           bool
	entryTimeout    time.Duration
	attrTimeout     time.Duration
	negativeTimeout time.Duration
}

func (p *mountParams) flags() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	p.commonParams.register(flagSet)
	p.verifyParams.register(flagSet)
	flagSet.BoolVar(&p.allowOther, "allow-other", false, "allow other users to access the mount (needs user_allow_other)")
	flagSet.BoolVar(&p.debug, "debug", false, "log every FUSE request")
	flagSet.DurationVar(&p.entryTimeout, "entry-timeout", fuse.DefaultEntryTimeout, "kernel cache lifetime for lookups")
	flagSet.DurationVar(&p.attrTimeout, "attr-timeout", fuse.DefaultAttrTimeout, "kernel cache lifetime for attributes")
	flagSet.DurationVar(&p.negativeTimeout, "negative-timeout", fuse.DefaultNegativeTimeout, "kernel cache lifetime for failed lookups")
	return flagSet
}

// resolve builds the mount configuration from the config file, the
// flags, and the positional arguments, in increasing precedence.
func (p *mountParams) resolve(flagSet *pflag.FlagSet, args []string) (*config.Config, error) {
	switch len(args) {
	case 0, 3:
	default:
		return nil, cli.Validation("mount takes <source> <manifest> <mountpoint> or none (paths from --config), got %d arguments", len(args))
	}

	cfg, err := resolveConfig(flagSet, &p.commonParams, &p.verifyParams)
	if err != nil {
		return nil, err
	}
	if len(args) == 3 {
		cfg.Source, cfg.Manifest, cfg.Mountpoint = args[0], args[1], args[2]
	}
	if flagSet.Changed("allow-other") {
		cfg.Mount.AllowOther = p.allowOther
	}
	if flagSet.Changed("debug") {
		cfg.Mount.Debug = p.debug
	}
	if flagSet.Changed("entry-timeout") {
		cfg.Mount.EntryTimeout = p.entryTimeout
	}
	if flagSet.Changed("attr-timeout") {
		cfg.Mount.AttrTimeout = p.attrTimeout
	}
	if flagSet.Changed("negative-timeout") {
		cfg.Mount.NegativeTimeout = p.negativeTimeout
	}

	if err := cfg.ValidateMount(); err != nil {
		return nil, cli.Validation("invalid configuration: %w", err)
	}
	return cfg, nil
}

func mountCommand() *cli.Command {
	var (
		params  mountParams
		flagSet *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "mount",
		Summary: "Mount the verified view of a directory",
		Description: `Mount a read-only FUSE view of <source> at <mountpoint>. Only
directories and files trusted by <manifest> are listed. Opening a file
reads it completely, hashes it, and serves the verified bytes only if
the digest matches; any mismatch makes the file appear missing.

The mount runs in the foreground until SIGINT or SIGTERM, or until it
is unmounted externally (fusermount3 -u).`,
		Usage: "verifyfs mount [flags] <source> <manifest> <mountpoint>",
		Examples: []cli.Example{
			{
				Description: "Serve a downloaded tree verified against a sha256sum manifest",
				Command:     "verifyfs mount ./downloads ./SHA256SUMS /mnt/verified",
			},
			{
				Description: "Mount from a config file with an encrypted BLAKE3 manifest",
				Command:     "verifyfs mount --config verifyfs.yaml --digest blake3 --identity key.txt",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = params.flags()
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := params.resolve(flagSet, args)
			if err != nil {
				return err
			}
			logger := commandLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMount(ctx, cfg, logger)
		},
	}
}

// runMount serves the mount until ctx is cancelled or the filesystem
// is unmounted from outside.
func runMount(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	trusted, err := loadManifest(cfg, cfg.Manifest, logger)
	if err != nil {
		return err
	}

	view, err := openOverlay(cfg, cfg.Source, trusted, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := view.Close(); err != nil {
			logger.Error("closing overlay", "error", err)
		}
		logger.Info("overlay closed", "stats", view.Stats())
	}()

	server, err := fuse.Mount(fuse.Options{
		Mountpoint:      cfg.Mountpoint,
		Overlay:         view,
		AllowOther:      cfg.Mount.AllowOther,
		Debug:           cfg.Mount.Debug,
		EntryTimeout:    cfg.Mount.EntryTimeout,
		AttrTimeout:     cfg.Mount.AttrTimeout,
		NegativeTimeout: cfg.Mount.NegativeTimeout,
		Logger:          logger,
	})
	if err != nil {
		return cli.Internal("%w", err)
	}

	served := make(chan struct{})
	go func() {
		server.Wait()
		close(served)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "mountpoint", cfg.Mountpoint)
		if err := server.Unmount(); err != nil {
			return cli.Internal("unmounting %s: %w", cfg.Mountpoint, err)
		}
		<-served
		logger.Info("FUSE filesystem unmounted", "mountpoint", cfg.Mountpoint)
	case <-served:
		logger.Info("FUSE filesystem unmounted externally", "mountpoint", cfg.Mountpoint)
	}
	return nil
}
