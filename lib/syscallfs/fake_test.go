// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syscallfs

import (
	"errors"
	"io"
	"slices"
	"syscall"
	"testing"
)

func TestFakeOpenAtAndRead(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/src/docs/readme.txt", []byte("hello"))

	rootFd, err := fake.Open("/src", ReadOnly|Directory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fd, err := fake.OpenAt(rootFd, "docs/readme.txt", ReadOnly)
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}

	metadata, err := fake.Fstat(fd)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if !metadata.IsRegular() || metadata.Size != 5 {
		t.Errorf("Fstat = %+v, want regular of size 5", metadata)
	}
	if !metadata.Mtime.Equal(FakeTime) {
		t.Errorf("Mtime = %v, want %v", metadata.Mtime, FakeTime)
	}

	buf := make([]byte, 16)
	n, err := fake.Read(fd, buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if n, err := fake.Read(fd, buf); n != 0 || err != nil {
		t.Fatalf("Read at EOF = %d, %v; want 0, nil", n, err)
	}

	if got := fake.OpenDescriptors(); got != 2 {
		t.Errorf("OpenDescriptors = %d, want 2", got)
	}
	fake.Close(fd)
	fake.Close(rootFd)
	if got := fake.OpenDescriptors(); got != 0 {
		t.Errorf("OpenDescriptors after close = %d, want 0", got)
	}
	if err := fake.Close(fd); !errors.Is(err, syscall.EBADF) {
		t.Errorf("double Close error = %v, want EBADF", err)
	}
}

func TestFakeRefusesEscape(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/outside", []byte("secret"))
	fake.AddDir("/src")

	rootFd, err := fake.Open("/src", ReadOnly|Directory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, name := range []string{"../outside", "/outside", "a/../../outside"} {
		if _, err := fake.OpenAt(rootFd, name, ReadOnly); !errors.Is(err, syscall.EXDEV) {
			t.Errorf("OpenAt(%q) error = %v, want EXDEV", name, err)
		}
	}
}

func TestFakeRejectsWrites(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/file", nil)
	if _, err := fake.Open("/file", syscall.O_RDWR); !errors.Is(err, syscall.EROFS) {
		t.Fatalf("Open(O_RDWR) error = %v, want EROFS", err)
	}
}

func TestFakeReplacementKeepsOpenDescriptor(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/file", []byte("old"))

	fd, err := fake.Open("/file", ReadOnly)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fake.AddFile("/file", []byte("new content"))

	buf := make([]byte, 32)
	n, _ := fake.Read(fd, buf)
	if string(buf[:n]) != "old" {
		t.Errorf("Read after replace = %q, want %q", buf[:n], "old")
	}
}

func TestFakeFailureInjection(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/src/file", []byte("data"))
	fake.Fail(OpFstat, "/src/file", syscall.EIO)

	rootFd, _ := fake.Open("/src", ReadOnly|Directory)
	fd, err := fake.OpenAt(rootFd, "file", ReadOnly)
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	if _, err := fake.Fstat(fd); !errors.Is(err, syscall.EIO) {
		t.Fatalf("Fstat error = %v, want EIO", err)
	}

	fake.Fail(OpFstat, "/src/file", nil)
	if _, err := fake.Fstat(fd); err != nil {
		t.Fatalf("Fstat after clearing failure: %v", err)
	}
}

func TestFakeDeclaredSizeAndReadChunk(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/file", []byte("abcdef"))
	fake.SetDeclaredSize("/file", 100)
	fake.SetReadChunk(2)

	fd, _ := fake.Open("/file", ReadOnly)
	metadata, _ := fake.Fstat(fd)
	if metadata.Size != 100 {
		t.Errorf("declared size = %d, want 100", metadata.Size)
	}
	buf := make([]byte, 10)
	n, _ := fake.Read(fd, buf)
	if n != 2 {
		t.Errorf("chunked Read = %d bytes, want 2", n)
	}
}

func TestFakeSpecialNodes(t *testing.T) {
	fake := NewFake()
	fake.AddSpecial("/src/pipe", syscall.S_IFIFO|0o644)
	fake.AddSpecial("/src/link", syscall.S_IFLNK|0o777)

	rootFd, _ := fake.Open("/src", ReadOnly|Directory)
	metadata, err := fake.FstatAt(rootFd, "pipe")
	if err != nil {
		t.Fatalf("FstatAt: %v", err)
	}
	if metadata.Type() != EntryOther {
		t.Errorf("pipe type = %v, want other", metadata.Type())
	}
	if _, err := fake.OpenAt(rootFd, "pipe/x", ReadOnly); !errors.Is(err, syscall.ENOTDIR) {
		t.Errorf("OpenAt through a pipe error = %v, want ENOTDIR", err)
	}
}

func TestFakeDirStream(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/src/b.txt", nil)
	fake.AddDir("/src/a")
	fake.AddSpecial("/src/c", syscall.S_IFLNK|0o777)

	fd, _ := fake.Open("/src", ReadOnly|Directory)
	stream, err := fake.OpenDirStream(fd)
	if err != nil {
		t.Fatalf("OpenDirStream: %v", err)
	}

	var names []string
	var types []EntryType
	for {
		entry, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		names = append(names, entry.Name)
		types = append(types, entry.Type)
	}
	if !slices.Equal(names, []string{"a", "b.txt", "c"}) {
		t.Errorf("names = %v", names)
	}
	if !slices.Equal(types, []EntryType{EntryDirectory, EntryRegular, EntrySymlink}) {
		t.Errorf("types = %v", types)
	}

	fake.Remove("/src/a")
	if err := stream.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	entry, err := stream.Next()
	if err != nil || entry.Name != "b.txt" {
		t.Errorf("first entry after rewind = %q, %v; want b.txt", entry.Name, err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := fake.OpenDescriptors(); got != 0 {
		t.Errorf("OpenDescriptors after stream close = %d, want 0", got)
	}
	if err := stream.Close(); !errors.Is(err, syscall.EBADF) {
		t.Errorf("second Close error = %v, want EBADF", err)
	}
}

func TestFakeCallLog(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/src/file", []byte("x"))

	rootFd, _ := fake.Open("/src", ReadOnly|Directory)
	fd, _ := fake.OpenAt(rootFd, "file", ReadOnly)
	fake.Close(fd)

	want := []Call{
		{OpOpen, "/src"},
		{OpOpenAt, "/src/file"},
		{OpClose, "/src/file"},
	}
	if got := fake.Calls(); !slices.Equal(got, want) {
		t.Errorf("Calls = %v, want %v", got, want)
	}
	fake.ResetCalls()
	if got := fake.Calls(); len(got) != 0 {
		t.Errorf("Calls after reset = %v", got)
	}
}
