// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the verifyfs
// binary: a tree of [Command] values with pflag flag sets, generated
// help, typo suggestions, categorized errors that select the exit
// code, and the command logger.
package cli
