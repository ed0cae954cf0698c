// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package syscallfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// dirStreamBatch is how many entries a directory stream reads from the
// kernel per getdents call.
const dirStreamBatch = 128

type osFileSystem struct {
	// openat2Unsupported latches once the kernel reports ENOSYS for
	// openat2 (pre-5.6 kernels), after which plain openat is used.
	openat2Unsupported atomic.Bool
}

// OS returns the FileSystem backed by the running kernel.
func OS() FileSystem {
	return &osFileSystem{}
}

func (f *osFileSystem) Open(path string, flags int) (Fd, error) {
	fd, err := ignoringEINTR(func() (int, error) {
		return unix.Open(path, flags|unix.O_CLOEXEC, 0)
	})
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return Fd(fd), nil
}

func (f *osFileSystem) OpenAt(dir Fd, name string, flags int) (Fd, error) {
	fd, err := f.openBeneath(int(dir), name, flags)
	if err != nil {
		return -1, &os.PathError{Op: "openat", Path: name, Err: err}
	}
	return Fd(fd), nil
}

// openBeneath opens name relative to dir without ever resolving outside
// it. openat2 enforces this in the kernel. Without openat2 (pre-5.6
// kernels) the path is walked one component at a time and every
// symlink is refused, including beneath-root ones openat2 would follow.
func (f *osFileSystem) openBeneath(dir int, name string, flags int) (int, error) {
	if !f.openat2Unsupported.Load() {
		how := unix.OpenHow{
			Flags:   uint64(flags | unix.O_CLOEXEC),
			Resolve: unix.RESOLVE_BENEATH | unix.RESOLVE_NO_MAGICLINKS,
		}
		fd, err := ignoringEINTR(func() (int, error) {
			return unix.Openat2(dir, name, &how)
		})
		if !errors.Is(err, unix.ENOSYS) {
			return fd, err
		}
		f.openat2Unsupported.Store(true)
	}
	return walkBeneath(dir, name, flags)
}

// walkBeneath resolves name from dir with one openat per component.
// Intermediate components are opened O_PATH|O_DIRECTORY|O_NOFOLLOW, so
// a symlinked directory fails with ENOTDIR; the final component gets
// O_NOFOLLOW. Absolute names and ".." fail with EXDEV, as under
// RESOLVE_BENEATH.
func walkBeneath(dir int, name string, flags int) (int, error) {
	if strings.HasPrefix(name, "/") {
		return -1, unix.EXDEV
	}
	var components []string
	for _, component := range strings.Split(name, "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			return -1, unix.EXDEV
		}
		components = append(components, component)
	}
	if len(components) == 0 {
		components = []string{"."}
	}

	current := dir
	release := func() {
		if current != dir {
			unix.Close(current)
		}
	}
	for _, component := range components[:len(components)-1] {
		next, err := ignoringEINTR(func() (int, error) {
			return unix.Openat(current, component, unix.O_PATH|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		})
		release()
		if err != nil {
			return -1, err
		}
		current = next
	}
	last := components[len(components)-1]
	fd, err := ignoringEINTR(func() (int, error) {
		return unix.Openat(current, last, flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	})
	release()
	return fd, err
}

func (f *osFileSystem) Close(fd Fd) error {
	if err := unix.Close(int(fd)); err != nil {
		return &os.PathError{Op: "close", Path: "fd", Err: err}
	}
	return nil
}

func (f *osFileSystem) Read(fd Fd, buf []byte) (int, error) {
	n, err := ignoringEINTR(func() (int, error) {
		return unix.Read(int(fd), buf)
	})
	if err != nil {
		return 0, &os.PathError{Op: "read", Path: "fd", Err: err}
	}
	return n, nil
}

func (f *osFileSystem) Fstat(fd Fd) (Metadata, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(fd), &stat); err != nil {
		return Metadata{}, &os.PathError{Op: "fstat", Path: "fd", Err: err}
	}
	return metadataFromStat(&stat), nil
}

// FstatAt reports lstat-style metadata for name beneath dir. The name
// is resolved with the same beneath-root rules as OpenAt: an O_PATH
// descriptor is opened for the final component without following it,
// then fstat'd, so a symlink anywhere along the path cannot redirect
// the lookup outside dir.
func (f *osFileSystem) FstatAt(dir Fd, name string) (Metadata, error) {
	fd, err := f.openBeneath(int(dir), name, unix.O_PATH|unix.O_NOFOLLOW)
	if err != nil {
		return Metadata{}, &os.PathError{Op: "fstatat", Path: name, Err: err}
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return Metadata{}, &os.PathError{Op: "fstatat", Path: name, Err: err}
	}
	return metadataFromStat(&stat), nil
}

func (f *osFileSystem) OpenDirStream(fd Fd) (DirStream, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(fd), &stat); err != nil {
		return nil, &os.PathError{Op: "fdopendir", Path: "fd", Err: err}
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, &os.PathError{Op: "fdopendir", Path: "fd", Err: unix.ENOTDIR}
	}
	return &osDirStream{file: os.NewFile(uintptr(fd), "dirstream")}, nil
}

// osDirStream reads entries through *os.File, which issues getdents64
// and fills entry types from d_type (falling back to lstat when the
// filesystem reports DT_UNKNOWN). Seeking to zero discards the file's
// cached directory state so a rewind sees current contents.
type osDirStream struct {
	file    *os.File
	pending []fs.DirEntry
}

func (s *osDirStream) Next() (DirEntry, error) {
	if len(s.pending) == 0 {
		batch, err := s.file.ReadDir(dirStreamBatch)
		if len(batch) == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return DirEntry{}, io.EOF
			}
			return DirEntry{}, err
		}
		s.pending = batch
	}

	entry := s.pending[0]
	s.pending = s.pending[1:]

	result := DirEntry{Name: entry.Name(), Type: entryTypeFromFileMode(entry.Type())}
	return result, nil
}

func (s *osDirStream) Rewind() error {
	s.pending = nil
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

func (s *osDirStream) Close() error {
	s.pending = nil
	return s.file.Close()
}

func entryTypeFromFileMode(mode fs.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return EntryRegular
	case mode.IsDir():
		return EntryDirectory
	case mode&fs.ModeSymlink != 0:
		return EntrySymlink
	default:
		return EntryOther
	}
}

func metadataFromStat(stat *unix.Stat_t) Metadata {
	return Metadata{
		Mode:    stat.Mode,
		Size:    stat.Size,
		Ino:     stat.Ino,
		Nlink:   uint64(stat.Nlink),
		Uid:     stat.Uid,
		Gid:     stat.Gid,
		Rdev:    uint64(stat.Rdev),
		Blksize: int64(stat.Blksize),
		Blocks:  stat.Blocks,
		Atime:   time.Unix(stat.Atim.Unix()),
		Mtime:   time.Unix(stat.Mtim.Unix()),
		Ctime:   time.Unix(stat.Ctim.Unix()),
	}
}

// ignoringEINTR retries a system call interrupted by a signal. The Go
// runtime installs signal handlers with SA_RESTART, but FUSE and
// network filesystems can still surface EINTR.
func ignoringEINTR(call func() (int, error)) (int, error) {
	for {
		n, err := call()
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}
