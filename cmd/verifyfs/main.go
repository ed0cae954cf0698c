// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// verifyfs mounts a read-only view of an untrusted directory in which
// only files whose content matches a trusted digest manifest are
// visible and readable.
//
// Usage:
//
//	verifyfs mount [flags] <source> <manifest> <mountpoint>
//	verifyfs manifest [flags] <directory>
//	verifyfs check [flags] <directory> <manifest>
//	verifyfs version
package main

import (
	"io"
	"os"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/process"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	return rootCommand(stdout, stderr).Execute(args)
}

func rootCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "verifyfs",
		Summary: "Serve only manifest-verified files from an untrusted directory",
		Description: `verifyfs exposes an untrusted directory through a read-only FUSE
mount. A file is listed and readable only if the trusted manifest has
an entry for it and its content hashes to that entry's digest.
Tampered files are reported as missing.`,
		Output: stderr,
		Subcommands: []*cli.Command{
			mountCommand(),
			manifestCommand(stdout),
			checkCommand(stdout),
			versionCommand(stdout),
		},
	}
}
