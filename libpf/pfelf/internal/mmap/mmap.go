// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmap provides a read-only, bounds-checked view of a memory-mapped
// file. It is inspired by golang.org/x/exp/mmap.
package mmap // import "go.opentelemetry.io/symtrace/libpf/pfelf/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalRequest indicates that the requested data exceeds the available mapped data.
	ErrInvalRequest = errors.New("invalid request")

	errClosed = errors.New("mmap: closed")
)

// ReaderAt reads a memory-mapped file.
//
// Like any io.ReaderAt, clients can execute parallel ReadAt calls, but it is
// not safe to call Close and reading methods concurrently. Slices returned by
// Subslice are only valid until Close.
type ReaderAt struct {
	data   []byte
	mapped bool
}

// Close unmaps the file.
func (r *ReaderAt) Close() error {
	if r.data == nil {
		return nil
	}
	data, mapped := r.data, r.mapped
	r.data, r.mapped = nil, false
	if !mapped {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// ReadAt implements the io.ReaderAt interface.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(r.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Subslice returns length bytes of the mapping starting at offset, without
// copying. Requests reaching outside the mapping fail with ErrInvalRequest.
func (r *ReaderAt) Subslice(offset, length uint64) ([]byte, error) {
	size := uint64(len(r.data))
	if offset > size || length > size-offset {
		return nil, fmt.Errorf("requested %d bytes at 0x%x exceed mapping size %d: %w",
			length, offset, size, ErrInvalRequest)
	}
	return r.data[offset : offset+length : offset+length], nil
}

// Open memory-maps the named file for reading.
func Open(filename string) (*ReaderAt, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("mmap: %q is not a regular file", filename)
	}

	size := fi.Size()
	if size == 0 {
		// mmap(2) rejects a zero length, and there is nothing to unmap later.
		return &ReaderAt{data: []byte{}}, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("mmap: file %q has negative size", filename)
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %q is too large", filename)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: failed to map %q: %w", filename, err)
	}
	r := &ReaderAt{data: data, mapped: true}

	runtime.SetFinalizer(r, (*ReaderAt).Close)
	return r, nil
}
