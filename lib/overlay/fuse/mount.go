// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/bureau-foundation/verifyfs/lib/overlay"
	"github.com/bureau-foundation/verifyfs/lib/syscallfs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	DefaultEntryTimeout    = 1 * time.Second
	DefaultAttrTimeout     = 1 * time.Second
	DefaultNegativeTimeout = 100 * time.Millisecond
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Overlay serves every request. Required. The mount does not
	// close it.
	Overlay *overlay.Overlay

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request and response to stderr.
	Debug bool

	// EntryTimeout, AttrTimeout, and NegativeTimeout control kernel
	// caching of lookups, attributes, and failed lookups. Zero uses
	// the package defaults.
	EntryTimeout    time.Duration
	AttrTimeout     time.Duration
	NegativeTimeout time.Duration

	// Logger receives diagnostic messages. If nil, defaults to an
	// error-level text handler on stderr.
	Logger *slog.Logger
}

// Mount mounts the overlay at the configured mountpoint. The caller
// must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Overlay == nil {
		return nil, fmt.Errorf("overlay is required")
	}
	if options.EntryTimeout == 0 {
		options.EntryTimeout = DefaultEntryTimeout
	}
	if options.AttrTimeout == 0 {
		options.AttrTimeout = DefaultAttrTimeout
	}
	if options.NegativeTimeout == 0 {
		options.NegativeTimeout = DefaultNegativeTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, path: "/"}

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &options.EntryTimeout,
		AttrTimeout:     &options.AttrTimeout,
		NegativeTimeout: &options.NegativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.Overlay.Source(),
			Name:       "verifyfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("verifyfs mounted",
		"mountpoint", options.Mountpoint,
		"source", options.Overlay.Source(),
	)
	return server, nil
}

// dirNode is a directory. path is the request path in overlay form:
// "/" for the root, "/docs" below it.
type dirNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	requestPath := childPath(d.path, name)
	metadata, err := d.options.Overlay.Stat(requestPath)
	if err != nil {
		return nil, overlay.Errno(err)
	}

	// Inode numbers are left to go-fuse: a hard link in the source
	// must not alias two manifest paths onto one node.
	var child gofuse.InodeEmbedder
	switch metadata.Type() {
	case syscallfs.EntryDirectory:
		child = &dirNode{options: d.options, path: requestPath}
	case syscallfs.EntryRegular:
		child = &fileNode{options: d.options, path: requestPath}
	default:
		return nil, syscall.ENOENT
	}

	fillAttr(&out.Attr, metadata)
	return d.NewInode(ctx, child, gofuse.StableAttr{Mode: metadata.Mode & syscall.S_IFMT}), 0
}

func (d *dirNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	metadata, err := d.options.Overlay.Stat(d.path)
	if err != nil {
		return overlay.Errno(err)
	}
	fillAttr(&out.Attr, metadata)
	return 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	handle, err := d.options.Overlay.OpenDirectory(d.path)
	if err != nil {
		d.options.Logger.Debug("opendir refused", "path", d.path, "error", err)
		return nil, overlay.Errno(err)
	}
	entries, err := d.options.Overlay.ListDirectory(handle)
	if err != nil {
		d.options.Overlay.ReleaseDirectory(handle)
		d.options.Logger.Error("listing directory", "path", d.path, "error", err)
		return nil, overlay.Errno(err)
	}

	stream := &handleDirStream{overlay: d.options.Overlay, handle: handle}
	for _, entry := range entries {
		mode := uint32(syscall.S_IFREG)
		if entry.Type == syscallfs.EntryDirectory {
			mode = syscall.S_IFDIR
		}
		stream.entries = append(stream.entries, fuse.DirEntry{Name: entry.Name, Mode: mode})
	}
	return stream, 0
}

// fileNode is a regular file. Its attributes come from the source
// until it is opened; an open handle reports the verified size.
type fileNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	metadata, err := f.options.Overlay.Stat(f.path)
	if err != nil {
		return overlay.Errno(err)
	}
	fillAttr(&out.Attr, metadata)
	return 0
}

// Open verifies the file. The kernel page cache is kept across opens:
// any content the overlay serves for a path hashes to that path's
// manifest digest, so cached pages can never be stale.
func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	handle, err := f.options.Overlay.OpenFile(f.path, int(flags))
	if err != nil {
		return nil, 0, overlay.Errno(err)
	}
	return &verifiedHandle{
		overlay: f.options.Overlay,
		handle:  handle,
		node:    f,
	}, fuse.FOPEN_KEEP_CACHE, 0
}

// verifiedHandle is the FUSE file handle for one successful open.
type verifiedHandle struct {
	overlay *overlay.Overlay
	handle  overlay.FileHandle
	node    *fileNode
}

var _ gofuse.FileReader = (*verifiedHandle)(nil)
var _ gofuse.FileGetattrer = (*verifiedHandle)(nil)
var _ gofuse.FileReleaser = (*verifiedHandle)(nil)

func (h *verifiedHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.overlay.ReadFile(h.handle, dest, off)
	if err != nil {
		return nil, overlay.Errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *verifiedHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	if errno := h.node.Getattr(ctx, h, out); errno != 0 {
		return errno
	}
	size, err := h.overlay.FileSize(h.handle)
	if err != nil {
		return overlay.Errno(err)
	}
	out.Size = uint64(size)
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (h *verifiedHandle) Release(ctx context.Context) syscall.Errno {
	h.overlay.ReleaseFile(h.handle)
	return 0
}

// handleDirStream serves a listing taken at open and releases the
// overlay directory handle when the kernel closes the directory.
type handleDirStream struct {
	overlay *overlay.Overlay
	handle  overlay.DirHandle
	entries []fuse.DirEntry
	index   int
}

func (s *handleDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *handleDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *handleDirStream) Close() {
	s.overlay.ReleaseDirectory(s.handle)
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// fillAttr copies source metadata into a FUSE attribute with every
// write permission bit cleared.
func fillAttr(out *fuse.Attr, metadata syscallfs.Metadata) {
	out.Mode = metadata.Mode &^ 0o222
	out.Size = uint64(metadata.Size)
	out.Blocks = uint64(metadata.Blocks)
	out.Blksize = uint32(metadata.Blksize)
	out.Nlink = uint32(metadata.Nlink)
	out.Uid = metadata.Uid
	out.Gid = metadata.Gid
	out.Rdev = uint32(metadata.Rdev)
	out.SetTimes(&metadata.Atime, &metadata.Mtime, &metadata.Ctime)
}
