// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syscallfs

import (
	"syscall"
	"time"
)

// Fd is an open file descriptor.
type Fd int

// Open flags accepted by Open and OpenAt. Values are the kernel's.
const (
	ReadOnly  = syscall.O_RDONLY
	Directory = syscall.O_DIRECTORY
)

// FileSystem is the set of system calls the overlay depends on.
// Implementations must be safe for concurrent use.
type FileSystem interface {
	// Open opens an absolute or working-directory-relative path.
	Open(path string, flags int) (Fd, error)

	// OpenAt opens name relative to the directory descriptor dir.
	// Resolution must stay beneath dir: absolute names, ".." escapes
	// and symlinks leading outside fail.
	OpenAt(dir Fd, name string, flags int) (Fd, error)

	// Close closes a descriptor.
	Close(fd Fd) error

	// Read reads up to len(buf) bytes at the descriptor's current
	// offset. As with read(2), zero bytes and a nil error is end of
	// file.
	Read(fd Fd, buf []byte) (int, error)

	// Fstat returns the metadata of an open descriptor.
	Fstat(fd Fd) (Metadata, error)

	// FstatAt returns the metadata of name relative to the directory
	// descriptor dir without following a final symlink. Resolution
	// follows the same beneath-dir rule as OpenAt.
	FstatAt(dir Fd, name string) (Metadata, error)

	// OpenDirStream turns a directory descriptor into an entry
	// stream. On success the stream owns fd and closes it on Close;
	// on failure the caller still owns fd.
	OpenDirStream(fd Fd) (DirStream, error)
}

// DirStream enumerates a directory. The "." and ".." entries are never
// returned.
type DirStream interface {
	// Next returns the next entry, or io.EOF after the last one.
	Next() (DirEntry, error)

	// Rewind restarts enumeration from the beginning. Entries
	// returned after a rewind reflect the directory's current
	// contents.
	Rewind() error

	// Close releases the stream and its descriptor.
	Close() error
}

// EntryType is the file type reported for a directory entry.
type EntryType uint8

const (
	EntryUnknown EntryType = iota
	EntryRegular
	EntryDirectory
	EntrySymlink
	EntryOther
)

func (t EntryType) String() string {
	switch t {
	case EntryRegular:
		return "regular"
	case EntryDirectory:
		return "directory"
	case EntrySymlink:
		return "symlink"
	case EntryOther:
		return "other"
	default:
		return "unknown"
	}
}

// EntryTypeFromMode maps the S_IFMT bits of a mode to an EntryType.
func EntryTypeFromMode(mode uint32) EntryType {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFREG:
		return EntryRegular
	case syscall.S_IFDIR:
		return EntryDirectory
	case syscall.S_IFLNK:
		return EntrySymlink
	case 0:
		return EntryUnknown
	default:
		return EntryOther
	}
}

// DirEntry is one directory entry.
type DirEntry struct {
	Name string
	Type EntryType
	Ino  uint64
}

// Metadata is the subset of struct stat the overlay exposes.
type Metadata struct {
	// Mode carries both the S_IFMT type bits and the permission bits.
	Mode    uint32
	Size    int64
	Ino     uint64
	Nlink   uint64
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Blksize int64
	Blocks  int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Type returns the file type encoded in Mode.
func (m Metadata) Type() EntryType { return EntryTypeFromMode(m.Mode) }

// IsDir reports whether the metadata describes a directory.
func (m Metadata) IsDir() bool { return m.Mode&syscall.S_IFMT == syscall.S_IFDIR }

// IsRegular reports whether the metadata describes a regular file.
func (m Metadata) IsRegular() bool { return m.Mode&syscall.S_IFMT == syscall.S_IFREG }
