// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// Generate hashes every regular file under root and returns a manifest
// of them. Symlinks, devices, sockets and other non-regular entries are
// skipped, matching what the overlay is willing to serve. Paths in the
// result are relative to root.
func Generate(root string, options Options) (*Manifest, error) {
	builder, err := newBuilder(options)
	if err != nil {
		return nil, err
	}
	algorithm := builder.manifest.algorithm

	err = filepath.WalkDir(root, func(walkPath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, walkPath)
		if err != nil {
			return err
		}
		sum, err := algorithm.HashFile(walkPath)
		if err != nil {
			return err
		}
		return builder.add(filepath.ToSlash(relative), sum)
	})
	if err != nil {
		return nil, fmt.Errorf("generating manifest for %s: %w", root, err)
	}
	return builder.build(), nil
}
