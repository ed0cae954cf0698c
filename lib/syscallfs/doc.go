// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syscallfs is the narrow system-call surface the verifying
// overlay performs all of its filesystem I/O through: open, open
// relative to a directory descriptor, read, fstat, fstatat, close, and
// directory streams with rewind.
//
// Two implementations exist. [OS] calls the kernel through
// golang.org/x/sys/unix; relative opens use openat2 with
// RESOLVE_BENEATH where the kernel supports it, so a name can never
// resolve outside the directory descriptor it is relative to. [Fake]
// is an in-memory tree with failure injection, descriptor accounting,
// and a call log, used to drive the overlay through short reads,
// size mismatches, and failing syscalls deterministically.
//
// Descriptors are plain integers ([Fd]) rather than *os.File so that
// ownership is explicit: whoever opens a descriptor closes it, except
// that [FileSystem.OpenDirStream] takes ownership of its descriptor on
// success and releases it when the stream is closed.
package syscallfs
