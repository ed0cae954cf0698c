// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bureau-foundation/verifyfs/lib/manifest"
	"github.com/bureau-foundation/verifyfs/lib/syscallfs"
)

// DefaultMaxFileSize is the largest file OpenFile buffers when
// Options.MaxFileSize is zero.
const DefaultMaxFileSize = 1 << 30

// DirHandle identifies one successful OpenDirectory.
type DirHandle uint64

// FileHandle identifies one successful OpenFile.
type FileHandle uint64

// Options configures an Overlay.
type Options struct {
	// Source is the untrusted directory the overlay exposes. It is
	// opened once by New.
	Source string

	// Manifest decides which paths are trusted and what their content
	// must hash to. Required.
	Manifest *manifest.Manifest

	// FileSystem performs all system calls. If nil, defaults to
	// syscallfs.OS().
	FileSystem syscallfs.FileSystem

	// MaxFileSize bounds the declared size of a file OpenFile will
	// buffer. Larger files are refused as not found. Zero uses
	// DefaultMaxFileSize.
	MaxFileSize int64

	// Logger receives verification failures, hidden listing entries,
	// and lifecycle events. If nil, defaults to an error-level text
	// handler on stderr.
	Logger *slog.Logger
}

// Overlay is the verifying view of a source directory. All methods
// are safe for concurrent use.
type Overlay struct {
	fileSystem  syscallfs.FileSystem
	manifest    *manifest.Manifest
	logger      *slog.Logger
	source      string
	maxFileSize int64

	// root is the pinned source descriptor. Every resolution is
	// relative to it. Closed exactly once by Close.
	root syscallfs.Fd

	mu          sync.RWMutex
	closed      bool
	nextHandle  uint64
	directories map[DirHandle]*openDirectory
	files       map[FileHandle]*verifiedFile

	verifiedOpens        atomic.Int64
	verificationFailures atomic.Int64
	accessDenials        atomic.Int64
	hiddenEntries        atomic.Int64
}

// openDirectory is the state behind a DirHandle. mu serializes use of
// the stream, which is not safe for concurrent rewinds and reads.
type openDirectory struct {
	mu       sync.Mutex
	path     string
	stream   syscallfs.DirStream
	released bool
}

// verifiedFile is the state behind a FileHandle. data is immutable
// once the handle is published.
type verifiedFile struct {
	path string
	data []byte
}

// New pins the source directory and returns an Overlay. Failure to
// open the source is returned wrapped in ErrSourceUnavailable; there
// is no degraded mode.
func New(options Options) (*Overlay, error) {
	if options.Manifest == nil {
		return nil, errors.New("overlay: manifest is required")
	}
	if options.Source == "" {
		return nil, errors.New("overlay: source directory is required")
	}

	fileSystem := options.FileSystem
	if fileSystem == nil {
		fileSystem = syscallfs.OS()
	}
	maxFileSize := options.MaxFileSize
	if maxFileSize == 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if maxFileSize < 0 {
		return nil, fmt.Errorf("overlay: max file size must not be negative, got %d", maxFileSize)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	root, err := fileSystem.Open(options.Source, syscallfs.ReadOnly|syscallfs.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: pinning %s: %w", ErrSourceUnavailable, options.Source, err)
	}

	logger.Info("overlay source pinned",
		"source", options.Source,
		"entries", options.Manifest.Len(),
		"algorithm", options.Manifest.Algorithm(),
	)

	return &Overlay{
		fileSystem:  fileSystem,
		manifest:    options.Manifest,
		logger:      logger,
		source:      options.Source,
		maxFileSize: maxFileSize,
		root:        root,
		directories: make(map[DirHandle]*openDirectory),
		files:       make(map[FileHandle]*verifiedFile),
	}, nil
}

// Source returns the source directory path as given to New.
func (o *Overlay) Source() string { return o.source }

// Manifest returns the manifest the overlay enforces.
func (o *Overlay) Manifest() *manifest.Manifest { return o.manifest }

// Close releases every open directory and file handle and closes the
// pinned source descriptor. Calls after the first return nil. Every
// other operation fails with ErrSourceUnavailable after Close.
func (o *Overlay) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	directories := o.directories
	o.directories = make(map[DirHandle]*openDirectory)
	o.files = make(map[FileHandle]*verifiedFile)
	o.mu.Unlock()

	var errs []error
	for _, directory := range directories {
		if err := directory.release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.fileSystem.Close(o.root); err != nil {
		errs = append(errs, fmt.Errorf("closing source %s: %w", o.source, err))
	}
	return errors.Join(errs...)
}

// Stat returns the metadata of requestPath without consulting the
// manifest. Symlinks are not followed.
func (o *Overlay) Stat(requestPath string) (syscallfs.Metadata, error) {
	relative, ok := correctPath(requestPath)
	if !ok {
		return syscallfs.Metadata{}, requestError("stat", requestPath, ErrNotFound, nil)
	}
	if err := o.checkOpen("stat", requestPath); err != nil {
		return syscallfs.Metadata{}, err
	}
	metadata, err := o.fileSystem.FstatAt(o.root, relative)
	if err != nil {
		return syscallfs.Metadata{}, requestError("stat", requestPath, ErrNotFound, err)
	}
	return metadata, nil
}

// OpenDirectory opens a trusted directory for listing.
func (o *Overlay) OpenDirectory(requestPath string) (DirHandle, error) {
	relative, ok := correctPath(requestPath)
	if !ok || !o.manifest.IsDirectoryTrusted(relative) {
		return 0, requestError("opendir", requestPath, ErrNotFound, nil)
	}
	if err := o.checkOpen("opendir", requestPath); err != nil {
		return 0, err
	}

	fd, err := o.fileSystem.OpenAt(o.root, relative, syscallfs.ReadOnly|syscallfs.Directory)
	if err != nil {
		return 0, requestError("opendir", requestPath, ErrNotFound, err)
	}
	stream, err := o.fileSystem.OpenDirStream(fd)
	if err != nil {
		o.closeDescriptor(fd, relative)
		return 0, requestError("opendir", requestPath, ErrNotFound, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		if err := stream.Close(); err != nil {
			o.logger.Warn("closing directory stream", "path", relative, "error", err)
		}
		return 0, requestError("opendir", requestPath, ErrSourceUnavailable, nil)
	}
	o.nextHandle++
	handle := DirHandle(o.nextHandle)
	o.directories[handle] = &openDirectory{path: relative, stream: stream}
	return handle, nil
}

// ListDirectory returns the trusted entries of an open directory. The
// stream is rewound first, so every call lists the directory's current
// contents from the beginning.
func (o *Overlay) ListDirectory(handle DirHandle) ([]syscallfs.DirEntry, error) {
	o.mu.RLock()
	directory, ok := o.directories[handle]
	o.mu.RUnlock()
	if !ok {
		return nil, requestError("readdir", fmt.Sprintf("handle %d", handle), ErrNotFound, nil)
	}

	directory.mu.Lock()
	defer directory.mu.Unlock()
	if directory.released {
		return nil, requestError("readdir", directory.path, ErrNotFound, nil)
	}
	if err := directory.stream.Rewind(); err != nil {
		return nil, fmt.Errorf("readdir %s: rewinding: %w", directory.path, err)
	}

	var entries []syscallfs.DirEntry
	for {
		entry, err := directory.stream.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("readdir %s: %w", directory.path, err)
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		fullPath := joinPath(directory.path, entry.Name)
		if entry.Type == syscallfs.EntryUnknown {
			if metadata, err := o.fileSystem.FstatAt(o.root, fullPath); err == nil {
				entry.Type = metadata.Type()
			}
		}
		if !o.entryVisible(fullPath, entry.Type) {
			o.hiddenEntries.Add(1)
			o.logger.Info("entry hidden from listing",
				"path", fullPath,
				"type", entry.Type.String(),
			)
			continue
		}
		entries = append(entries, entry)
	}
}

func (o *Overlay) entryVisible(fullPath string, entryType syscallfs.EntryType) bool {
	switch entryType {
	case syscallfs.EntryDirectory:
		return o.manifest.IsDirectoryTrusted(fullPath)
	case syscallfs.EntryRegular:
		return o.manifest.IsFileTrusted(fullPath)
	default:
		return false
	}
}

// ReleaseDirectory closes an open directory. Unknown handles are
// ignored.
func (o *Overlay) ReleaseDirectory(handle DirHandle) error {
	o.mu.Lock()
	directory, ok := o.directories[handle]
	delete(o.directories, handle)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if err := directory.release(); err != nil {
		o.logger.Warn("closing directory stream", "path", directory.path, "error", err)
	}
	return nil
}

func (d *openDirectory) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	return d.stream.Close()
}

// OpenFile verifies a trusted file and returns a handle to its
// verified content. flags carries the open(2) access mode; anything
// other than O_RDONLY is refused before the manifest is consulted.
func (o *Overlay) OpenFile(requestPath string, flags int) (FileHandle, error) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		o.accessDenials.Add(1)
		return 0, requestError("open", requestPath, ErrAccessDenied, nil)
	}
	relative, ok := correctPath(requestPath)
	if !ok {
		return 0, requestError("open", requestPath, ErrNotFound, nil)
	}
	if !o.manifest.IsFileTrusted(relative) {
		o.accessDenials.Add(1)
		return 0, requestError("open", requestPath, ErrAccessDenied, nil)
	}
	if err := o.checkOpen("open", requestPath); err != nil {
		return 0, err
	}

	data, err := o.readWhole(relative)
	if err != nil {
		o.verificationFailures.Add(1)
		o.logger.Warn("reading file for verification failed", "path", relative, "error", err)
		return 0, requestError("open", requestPath, ErrNotFound, err)
	}
	if !o.manifest.Verify(relative, data) {
		o.verificationFailures.Add(1)
		expected, _ := o.manifest.Lookup(relative)
		o.logger.Warn("file failed verification",
			"path", relative,
			"expected", expected.String(),
			"actual", o.manifest.Algorithm().Sum(data).String(),
			"size", len(data),
		)
		return 0, requestError("open", requestPath, ErrNotFound, nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, requestError("open", requestPath, ErrSourceUnavailable, nil)
	}
	o.nextHandle++
	handle := FileHandle(o.nextHandle)
	o.files[handle] = &verifiedFile{path: relative, data: data}
	o.verifiedOpens.Add(1)
	o.logger.Debug("file verified", "path", relative, "size", len(data), "handle", handle)
	return handle, nil
}

// readWhole opens relative beneath the pinned root and reads its full
// declared size. The descriptor is closed before returning.
func (o *Overlay) readWhole(relative string) ([]byte, error) {
	fd, err := o.fileSystem.OpenAt(o.root, relative, syscallfs.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer o.closeDescriptor(fd, relative)

	metadata, err := o.fileSystem.Fstat(fd)
	if err != nil {
		return nil, err
	}
	if !metadata.IsRegular() {
		return nil, fmt.Errorf("not a regular file (%s)", metadata.Type())
	}
	if metadata.Size < 0 || metadata.Size > o.maxFileSize {
		return nil, fmt.Errorf("size %d exceeds limit %d", metadata.Size, o.maxFileSize)
	}

	data := make([]byte, metadata.Size)
	total := 0
	for total < len(data) {
		n, err := o.fileSystem.Read(fd, data[total:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(data) {
		return nil, fmt.Errorf("short read: %d of %d bytes", total, len(data))
	}
	return data, nil
}

// closeDescriptor closes a descriptor opened for a single request. The
// request's outcome does not depend on it, so a failure is only logged.
func (o *Overlay) closeDescriptor(fd syscallfs.Fd, relative string) {
	if err := o.fileSystem.Close(fd); err != nil {
		o.logger.Warn("closing descriptor", "path", relative, "error", err)
	}
}

// ReadFile copies verified content starting at offset into dest and
// returns the number of bytes copied. An offset at or beyond the end
// of the content returns zero bytes and no error.
func (o *Overlay) ReadFile(handle FileHandle, dest []byte, offset int64) (int, error) {
	o.mu.RLock()
	file, ok := o.files[handle]
	o.mu.RUnlock()
	if !ok {
		return 0, requestError("read", fmt.Sprintf("handle %d", handle), ErrAccessDenied, nil)
	}
	if offset < 0 {
		return 0, requestError("read", file.path, ErrInvalidOffset, nil)
	}
	if offset >= int64(len(file.data)) {
		return 0, nil
	}
	return copy(dest, file.data[offset:]), nil
}

// FileSize returns the length of the verified content behind handle.
func (o *Overlay) FileSize(handle FileHandle) (int64, error) {
	o.mu.RLock()
	file, ok := o.files[handle]
	o.mu.RUnlock()
	if !ok {
		return 0, requestError("getattr", fmt.Sprintf("handle %d", handle), ErrAccessDenied, nil)
	}
	return int64(len(file.data)), nil
}

// ReleaseFile drops the verified content behind handle. Unknown
// handles are ignored.
func (o *Overlay) ReleaseFile(handle FileHandle) error {
	o.mu.Lock()
	delete(o.files, handle)
	o.mu.Unlock()
	return nil
}

func (o *Overlay) checkOpen(op, requestPath string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return requestError(op, requestPath, ErrSourceUnavailable, nil)
	}
	return nil
}

// correctPath maps a request path to the manifest's relative form.
// "/" and "" name the root. Otherwise a single leading slash is
// removed and the remainder must be clean and stay beneath the root.
func correctPath(requestPath string) (string, bool) {
	if requestPath == "" || requestPath == "/" {
		return manifest.RootPath, true
	}
	relative := strings.TrimPrefix(requestPath, "/")
	if relative == "" || relative == "." || relative == ".." ||
		strings.HasPrefix(relative, "/") ||
		strings.HasPrefix(relative, "../") ||
		path.Clean(relative) != relative {
		return "", false
	}
	return relative, true
}

func joinPath(parent, name string) string {
	if parent == manifest.RootPath {
		return name
	}
	return parent + "/" + name
}
