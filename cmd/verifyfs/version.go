// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/digest"
	"github.com/bureau-foundation/verifyfs/lib/version"
)

func versionCommand(stdout io.Writer) *cli.Command {
	var (
		full       bool
		selfDigest string
	)
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Description: `Print the verifyfs version. With --self-digest, also print the
digest of the running binary in manifest form, so the verifier can be
listed in a manifest of trusted tools.`,
		Usage: "verifyfs version [--full] [--self-digest sha256|blake3]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&full, "full", false, "include commit and build details")
			flagSet.StringVar(&selfDigest, "self-digest", "", "print the running binary's digest with this algorithm")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("version takes no arguments")
			}
			if full {
				fmt.Fprintln(stdout, version.Full())
			} else {
				fmt.Fprintln(stdout, version.Info())
			}
			if selfDigest == "" {
				return nil
			}

			algorithm, err := digest.ParseAlgorithm(selfDigest)
			if err != nil {
				return cli.Validation("%w", err)
			}
			sum, executable, err := version.SelfDigest(algorithm)
			if err != nil {
				return cli.Internal("%w", err)
			}
			fmt.Fprintf(stdout, "%s  %s\n", sum, executable)
			return nil
		},
	}
}
