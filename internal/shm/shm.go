// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shm provides named shared-memory segments, backed by files of a
// tmpfs directory (/dev/shm by default) mapped into the address space of
// every process opening them.
package shm // import "github.com/go-lpc/rpcbc/internal/shm"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DefaultDir is the directory holding POSIX shared-memory objects on Linux.
const DefaultDir = "/dev/shm"

var (
	errClosed = errors.New("shm: closed")
	errName   = errors.New("shm: invalid segment name")
)

// Segment is a mapped shared-memory segment.
type Segment struct {
	name string
	path string
	data []byte
}

var seq atomic.Uint64

// NewName returns a segment name unique to this process.
func NewName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), seq.Add(1))
}

func path(dir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return "", fmt.Errorf("%w %q", errName, name)
	}
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, name), nil
}

// Create creates and maps a new segment of exactly size bytes.
// Create fails if a segment with the same name already exists.
func Create(dir, name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid segment size %d", size)
	}
	fname, err := path(dir, name)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(fname, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: could not create segment %q: %w", name, err)
	}
	defer unix.Close(fd)

	err = unix.Ftruncate(fd, int64(size))
	if err != nil {
		_ = unix.Unlink(fname)
		return nil, fmt.Errorf("shm: could not resize segment %q: %w", name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(fname)
		return nil, fmt.Errorf("shm: could not mmap segment %q: %w", name, err)
	}

	return newSegment(name, fname, data), nil
}

// Open maps an existing segment.
func Open(dir, name string) (*Segment, error) {
	fname, err := path(dir, name)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(fname, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: could not open segment %q: %w", name, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	err = unix.Fstat(fd, &st)
	if err != nil {
		return nil, fmt.Errorf("shm: could not stat segment %q: %w", name, err)
	}
	if st.Size <= 0 {
		return nil, fmt.Errorf("shm: segment %q is empty", name)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: could not mmap segment %q: %w", name, err)
	}

	return newSegment(name, fname, data), nil
}

func newSegment(name, path string, data []byte) *Segment {
	seg := &Segment{name: name, path: path, data: data}
	runtime.SetFinalizer(seg, (*Segment).Close)
	return seg
}

// Unlink removes the named segment. Existing mappings stay valid.
func Unlink(dir, name string) error {
	fname, err := path(dir, name)
	if err != nil {
		return err
	}
	err = unix.Unlink(fname)
	if err != nil {
		return fmt.Errorf("shm: could not unlink segment %q: %w", name, err)
	}
	return nil
}

// Name returns the name of the segment.
func (seg *Segment) Name() string { return seg.name }

// Len returns the size in bytes of the mapping.
func (seg *Segment) Len() int { return len(seg.data) }

// Bytes returns the mapped memory.
// The slice must not be used after Close.
func (seg *Segment) Bytes() []byte { return seg.data }

// Close unmaps the segment. The segment itself is not removed.
func (seg *Segment) Close() error {
	if seg == nil {
		return os.ErrInvalid
	}

	if seg.data == nil {
		return nil
	}
	data := seg.data
	seg.data = nil
	runtime.SetFinalizer(seg, nil)

	return unix.Munmap(data)
}

// Unlink removes the segment from its directory.
func (seg *Segment) Unlink() error {
	if seg == nil {
		return os.ErrInvalid
	}
	err := unix.Unlink(seg.path)
	if err != nil {
		return fmt.Errorf("shm: could not unlink segment %q: %w", seg.name, err)
	}
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (seg *Segment) ReadAt(p []byte, off int64) (int, error) {
	if seg == nil {
		return 0, os.ErrInvalid
	}

	if seg.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(seg.data)) < off {
		return 0, fmt.Errorf("shm: invalid ReadAt offset %d", off)
	}
	n := copy(p, seg.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Segment)(nil)
	_ io.Closer   = (*Segment)(nil)
)
