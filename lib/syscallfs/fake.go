// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syscallfs

import (
	"io"
	"os"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Op names a FileSystem or DirStream operation for failure injection
// and the call log.
type Op string

const (
	OpOpen          Op = "open"
	OpOpenAt        Op = "openat"
	OpClose         Op = "close"
	OpRead          Op = "read"
	OpFstat         Op = "fstat"
	OpFstatAt       Op = "fstatat"
	OpOpenDirStream Op = "fdopendir"
	OpNext          Op = "readdir"
	OpRewind        Op = "rewinddir"
	OpCloseDir      Op = "closedir"
)

// Call is one recorded operation. Path is the absolute path within the
// fake of the file the operation acted on.
type Call struct {
	Op   Op
	Path string
}

// FakeTime is the timestamp every fake node reports.
var FakeTime = time.Unix(1735689600, 0)

// Fake is an in-memory FileSystem. Paths given to the mutators are
// absolute and slash-separated ("/src/docs/readme.txt"); "/" always
// exists. A descriptor pins the node it was opened on, so replacing or
// removing a path after it is opened does not affect the open
// descriptor, matching kernel semantics.
//
// Relative opens refuse ".." components and absolute names with EXDEV,
// mirroring openat2(RESOLVE_BENEATH).
type Fake struct {
	mu          sync.Mutex
	root        *fakeNode
	descriptors map[Fd]*fakeDescriptor
	nextFd      Fd
	nextIno     uint64
	failures    map[Call]error
	sizes       map[string]int64
	readChunk   int
	calls       []Call
}

type fakeNode struct {
	mode     uint32
	data     []byte
	children map[string]*fakeNode
	ino      uint64
}

type fakeDescriptor struct {
	node   *fakeNode
	path   string
	offset int
}

// NewFake returns an empty Fake containing only "/".
func NewFake() *Fake {
	fake := &Fake{
		descriptors: make(map[Fd]*fakeDescriptor),
		nextFd:      3,
		failures:    make(map[Call]error),
		sizes:       make(map[string]int64),
	}
	fake.root = fake.newNode(syscall.S_IFDIR | 0o755)
	return fake
}

var _ FileSystem = (*Fake)(nil)

func (f *Fake) newNode(mode uint32) *fakeNode {
	f.nextIno++
	node := &fakeNode{mode: mode, ino: f.nextIno}
	if mode&syscall.S_IFMT == syscall.S_IFDIR {
		node.children = make(map[string]*fakeNode)
	}
	return node
}

// AddDir creates a directory and any missing parents.
func (f *Fake) AddDir(dirPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(dirPath)
}

// AddFile creates or replaces a regular file, creating parents. The
// replacement is a new node: descriptors open on the old content keep
// reading the old content.
func (f *Fake) AddFile(filePath string, content []byte) {
	f.add(filePath, syscall.S_IFREG|0o644, content)
}

// AddSpecial creates a node of an arbitrary type, such as
// syscall.S_IFIFO or syscall.S_IFLNK, with no content.
func (f *Fake) AddSpecial(nodePath string, mode uint32) {
	f.add(nodePath, mode, nil)
}

func (f *Fake) add(nodePath string, mode uint32, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := f.mkdirAll(path.Dir(cleanFakePath(nodePath)))
	node := f.newNode(mode)
	node.data = append([]byte(nil), content...)
	parent.children[path.Base(nodePath)] = node
}

// Remove deletes a path and everything below it.
func (f *Fake) Remove(nodePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodePath = cleanFakePath(nodePath)
	parent, err := f.walk(f.root, strings.TrimPrefix(path.Dir(nodePath), "/"))
	if err != nil {
		return
	}
	delete(parent.children, path.Base(nodePath))
}

// Fail makes every subsequent op on filePath return err until cleared
// with a nil err.
func (f *Fake) Fail(op Op, filePath string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Call{Op: op, Path: cleanFakePath(filePath)}
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

// SetDeclaredSize makes fstat report size for filePath instead of its
// content length, simulating a file that changes between fstat and
// read.
func (f *Fake) SetDeclaredSize(filePath string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[cleanFakePath(filePath)] = size
}

// SetReadChunk limits every Read to at most n bytes. Zero removes the
// limit.
func (f *Fake) SetReadChunk(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readChunk = n
}

// OpenDescriptors returns the number of descriptors currently open,
// including those owned by directory streams.
func (f *Fake) OpenDescriptors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors)
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) Open(filePath string, flags int) (Fd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filePath = cleanFakePath(filePath)
	if err := f.record(OpOpen, filePath); err != nil {
		return -1, err
	}
	node, err := f.walk(f.root, strings.TrimPrefix(filePath, "/"))
	if err != nil {
		return -1, &os.PathError{Op: string(OpOpen), Path: filePath, Err: err}
	}
	return f.openNode(node, filePath, flags)
}

func (f *Fake) OpenAt(dir Fd, name string, flags int) (Fd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.descriptors[dir]
	if !ok {
		return -1, &os.PathError{Op: string(OpOpenAt), Path: name, Err: syscall.EBADF}
	}
	target := path.Join(parent.path, name)
	if err := f.record(OpOpenAt, target); err != nil {
		return -1, err
	}
	node, err := f.walk(parent.node, name)
	if err != nil {
		return -1, &os.PathError{Op: string(OpOpenAt), Path: name, Err: err}
	}
	return f.openNode(node, target, flags)
}

func (f *Fake) openNode(node *fakeNode, nodePath string, flags int) (Fd, error) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return -1, &os.PathError{Op: string(OpOpen), Path: nodePath, Err: syscall.EROFS}
	}
	if flags&syscall.O_DIRECTORY != 0 && node.children == nil {
		return -1, &os.PathError{Op: string(OpOpen), Path: nodePath, Err: syscall.ENOTDIR}
	}
	fd := f.nextFd
	f.nextFd++
	f.descriptors[fd] = &fakeDescriptor{node: node, path: nodePath}
	return fd, nil
}

func (f *Fake) Close(fd Fd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	descriptor, ok := f.descriptors[fd]
	if !ok {
		return &os.PathError{Op: string(OpClose), Path: "fd", Err: syscall.EBADF}
	}
	delete(f.descriptors, fd)
	return f.record(OpClose, descriptor.path)
}

func (f *Fake) Read(fd Fd, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	descriptor, ok := f.descriptors[fd]
	if !ok {
		return 0, &os.PathError{Op: string(OpRead), Path: "fd", Err: syscall.EBADF}
	}
	if err := f.record(OpRead, descriptor.path); err != nil {
		return 0, err
	}
	if descriptor.node.children != nil {
		return 0, &os.PathError{Op: string(OpRead), Path: descriptor.path, Err: syscall.EISDIR}
	}
	if f.readChunk > 0 && len(buf) > f.readChunk {
		buf = buf[:f.readChunk]
	}
	if descriptor.offset >= len(descriptor.node.data) {
		return 0, nil
	}
	n := copy(buf, descriptor.node.data[descriptor.offset:])
	descriptor.offset += n
	return n, nil
}

func (f *Fake) Fstat(fd Fd) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	descriptor, ok := f.descriptors[fd]
	if !ok {
		return Metadata{}, &os.PathError{Op: string(OpFstat), Path: "fd", Err: syscall.EBADF}
	}
	if err := f.record(OpFstat, descriptor.path); err != nil {
		return Metadata{}, err
	}
	return f.metadata(descriptor.node, descriptor.path), nil
}

func (f *Fake) FstatAt(dir Fd, name string) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.descriptors[dir]
	if !ok {
		return Metadata{}, &os.PathError{Op: string(OpFstatAt), Path: name, Err: syscall.EBADF}
	}
	target := path.Join(parent.path, name)
	if err := f.record(OpFstatAt, target); err != nil {
		return Metadata{}, err
	}
	node, err := f.walk(parent.node, name)
	if err != nil {
		return Metadata{}, &os.PathError{Op: string(OpFstatAt), Path: name, Err: err}
	}
	return f.metadata(node, target), nil
}

func (f *Fake) OpenDirStream(fd Fd) (DirStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	descriptor, ok := f.descriptors[fd]
	if !ok {
		return nil, &os.PathError{Op: string(OpOpenDirStream), Path: "fd", Err: syscall.EBADF}
	}
	if err := f.record(OpOpenDirStream, descriptor.path); err != nil {
		return nil, err
	}
	if descriptor.node.children == nil {
		return nil, &os.PathError{Op: string(OpOpenDirStream), Path: descriptor.path, Err: syscall.ENOTDIR}
	}
	stream := &fakeDirStream{fake: f, fd: fd, descriptor: descriptor}
	stream.snapshot()
	return stream, nil
}

func (f *Fake) metadata(node *fakeNode, nodePath string) Metadata {
	size := int64(len(node.data))
	if declared, ok := f.sizes[nodePath]; ok {
		size = declared
	}
	nlink := uint64(1)
	if node.children != nil {
		nlink = 2
		size = 4096
	}
	return Metadata{
		Mode:    node.mode,
		Size:    size,
		Ino:     node.ino,
		Nlink:   nlink,
		Blksize: 4096,
		Blocks:  (size + 511) / 512,
		Atime:   FakeTime,
		Mtime:   FakeTime,
		Ctime:   FakeTime,
	}
}

// record appends to the call log and returns any injected failure.
// The caller holds f.mu.
func (f *Fake) record(op Op, nodePath string) error {
	call := Call{Op: op, Path: nodePath}
	f.calls = append(f.calls, call)
	if err, ok := f.failures[call]; ok {
		return &os.PathError{Op: string(op), Path: nodePath, Err: err}
	}
	return nil
}

// walk resolves a relative, slash-separated name from start. The
// caller holds f.mu.
func (f *Fake) walk(start *fakeNode, name string) (*fakeNode, error) {
	components := strings.Split(name, "/")
	if strings.HasPrefix(name, "/") || slices.Contains(components, "..") {
		return nil, syscall.EXDEV
	}
	node := start
	for _, component := range components {
		if component == "" || component == "." {
			continue
		}
		if node.children == nil {
			return nil, syscall.ENOTDIR
		}
		child, ok := node.children[component]
		if !ok {
			return nil, syscall.ENOENT
		}
		node = child
	}
	return node, nil
}

// mkdirAll returns the directory at dirPath, creating it and its
// parents. The caller holds f.mu.
func (f *Fake) mkdirAll(dirPath string) *fakeNode {
	node := f.root
	for _, component := range strings.Split(strings.TrimPrefix(cleanFakePath(dirPath), "/"), "/") {
		if component == "" {
			continue
		}
		child, ok := node.children[component]
		if !ok || child.children == nil {
			child = f.newNode(syscall.S_IFDIR | 0o755)
			node.children[component] = child
		}
		node = child
	}
	return node
}

func cleanFakePath(nodePath string) string {
	return path.Clean("/" + nodePath)
}

type fakeDirStream struct {
	fake       *Fake
	fd         Fd
	descriptor *fakeDescriptor
	entries    []DirEntry
	position   int
	closed     bool
}

// snapshot captures the directory's current children. The caller holds
// fake.mu.
func (s *fakeDirStream) snapshot() {
	names := make([]string, 0, len(s.descriptor.node.children))
	for name := range s.descriptor.node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	s.entries = s.entries[:0]
	for _, name := range names {
		child := s.descriptor.node.children[name]
		s.entries = append(s.entries, DirEntry{Name: name, Type: EntryTypeFromMode(child.mode), Ino: child.ino})
	}
	s.position = 0
}

func (s *fakeDirStream) Next() (DirEntry, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if s.closed {
		return DirEntry{}, &os.PathError{Op: string(OpNext), Path: s.descriptor.path, Err: syscall.EBADF}
	}
	if err := s.fake.record(OpNext, s.descriptor.path); err != nil {
		return DirEntry{}, err
	}
	if s.position >= len(s.entries) {
		return DirEntry{}, io.EOF
	}
	entry := s.entries[s.position]
	s.position++
	return entry, nil
}

func (s *fakeDirStream) Rewind() error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if s.closed {
		return &os.PathError{Op: string(OpRewind), Path: s.descriptor.path, Err: syscall.EBADF}
	}
	if err := s.fake.record(OpRewind, s.descriptor.path); err != nil {
		return err
	}
	s.snapshot()
	return nil
}

func (s *fakeDirStream) Close() error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if s.closed {
		return &os.PathError{Op: string(OpCloseDir), Path: s.descriptor.path, Err: syscall.EBADF}
	}
	s.closed = true
	delete(s.fake.descriptors, s.fd)
	return s.fake.record(OpCloseDir, s.descriptor.path)
}
