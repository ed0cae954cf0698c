// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/verifyfs/cmd/verifyfs/cli"
	"github.com/bureau-foundation/verifyfs/lib/overlay"
)

type checkParams struct {
	commonParams
	verifyParams
	cli.JSONOutput

	quiet bool
}

func (p *checkParams) flags() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	p.commonParams.register(flagSet)
	p.verifyParams.register(flagSet)
	p.RegisterJSON(flagSet)
	flagSet.BoolVarP(&p.quiet, "quiet", "q", false, "print only failures")
	return flagSet
}

// checkFailure is the JSON form of an overlay.AuditFailure.
type checkFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type checkResult struct {
	OK          bool           `json:"ok"`
	Verified    []string       `json:"verified"`
	Failed      []checkFailure `json:"failed"`
	Unlisted    []string       `json:"unlisted"`
	Directories int            `json:"directories"`
	Hidden      int64          `json:"hidden"`
}

func newCheckResult(report *overlay.AuditReport) checkResult {
	result := checkResult{
		OK:          report.OK(),
		Verified:    append([]string{}, report.Verified...),
		Failed:      make([]checkFailure, 0, len(report.Failed)),
		Unlisted:    append([]string{}, report.Unlisted...),
		Directories: report.Directories,
		Hidden:      report.Hidden,
	}
	for _, failure := range report.Failed {
		result.Failed = append(result.Failed, checkFailure{Path: failure.Path, Error: failure.Err.Error()})
	}
	return result
}

func checkCommand(stdout io.Writer) *cli.Command {
	var (
		params  checkParams
		flagSet *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "check",
		Summary: "Verify a directory against a manifest without mounting",
		Description: `Walk <directory> through the same verifying overlay the mount uses:
list every trusted directory from the root, then open and verify every
manifest entry. Reports which entries verified, which failed, and how
many source entries the listings hid.

Exits 1 if any manifest entry fails verification.`,
		Usage: "verifyfs check [flags] <directory> <manifest>",
		Examples: []cli.Example{
			{
				Description: "Check a tree against a sha256sum manifest",
				Command:     "verifyfs check ./downloads ./SHA256SUMS",
			},
			{
				Description: "Machine-readable report",
				Command:     "verifyfs check --json ./downloads ./SHA256SUMS",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = params.flags()
			return flagSet
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCheck(ctx, &params, flagSet, args, stdout)
		},
	}
}

func runCheck(ctx context.Context, params *checkParams, flagSet *pflag.FlagSet, args []string, stdout io.Writer) error {
	cfg, err := resolveConfig(flagSet, &params.commonParams, &params.verifyParams)
	if err != nil {
		return err
	}
	switch len(args) {
	case 0:
	case 2:
		cfg.Source, cfg.Manifest = args[0], args[1]
	default:
		return cli.Validation("check takes <directory> <manifest> or none (paths from --config), got %d arguments", len(args))
	}
	if cfg.Source == "" || cfg.Manifest == "" {
		return cli.Validation("check needs a source directory and a manifest")
	}
	logger := commandLogger(cfg)

	trusted, err := loadManifest(cfg, cfg.Manifest, logger)
	if err != nil {
		return err
	}
	view, err := openOverlay(cfg, cfg.Source, trusted, logger)
	if err != nil {
		return err
	}
	defer view.Close()

	report, err := overlay.Audit(ctx, view)
	if err != nil {
		return cli.Internal("auditing %s: %w", cfg.Source, err)
	}
	logger.Debug("audit complete", "stats", view.Stats())

	result := newCheckResult(report)
	if done, err := params.EmitJSON(stdout, result); done {
		if err != nil {
			return err
		}
	} else {
		printCheckResult(stdout, result, params.quiet)
	}

	if !result.OK {
		return cli.Integrity("%d of %d manifest entries failed verification",
			len(result.Failed), trusted.Len())
	}
	return nil
}

// printCheckResult writes one line per entry in sha256sum -c style.
// Status words are colored only when w is a color-capable terminal.
func printCheckResult(w io.Writer, result checkResult, quiet bool) {
	renderer := lipgloss.NewRenderer(w)
	okStyle := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle := renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle := renderer.NewStyle().Foreground(lipgloss.Color("3"))

	if !quiet {
		for _, entryPath := range result.Verified {
			fmt.Fprintf(w, "%s: %s\n", entryPath, okStyle.Render("OK"))
		}
	}
	for _, failure := range result.Failed {
		fmt.Fprintf(w, "%s: %s (%s)\n", failure.Path, failedStyle.Render("FAILED"), failure.Error)
	}
	if !quiet {
		for _, entryPath := range result.Unlisted {
			fmt.Fprintf(w, "%s: %s\n", entryPath, warnStyle.Render("not reachable by listing"))
		}
	}
	fmt.Fprintf(w, "%d verified, %d failed, %d unlisted, %d directories, %d hidden entries\n",
		len(result.Verified), len(result.Failed), len(result.Unlisted), result.Directories, result.Hidden)
}
