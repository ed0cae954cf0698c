// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for verifyfs.
//
// Configuration is loaded from a single file specified by either the
// VERIFYFS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. Without either, commands run on
// [Default] plus their flags.
//
// Files are YAML. Files named *.json or *.jsonc are also accepted:
// comments and trailing commas are stripped before decoding. Unknown
// keys are rejected.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
package config
