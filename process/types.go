// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process reads the memory layout of live processes from procfs.
package process // import "go.opentelemetry.io/symtrace/process"

import (
	"debug/elf"
	"strings"
)

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings
	Path string
	// Deleted is set when the mapped file was unlinked or replaced after it
	// was mapped
	Deleted bool
}

// End returns the first address past the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

func (m *Mapping) IsReadable() bool {
	return m.Flags&elf.PF_R == elf.PF_R
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

// IsFileBacked reports whether the mapping is backed by a regular file that
// can be opened by path.
func (m *Mapping) IsFileBacked() bool {
	return m.Inode != 0 && !m.IsAnonymous()
}
