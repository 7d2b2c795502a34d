// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import "debug/elf"

// PageDown aligns v down to a multiple of pageSize, which must be a power of two.
func PageDown(v, pageSize uint64) uint64 {
	return v &^ (pageSize - 1)
}

// LoadRange returns the lowest virtual address and the highest segment end
// over all PT_LOAD segments, as laid out in the file. ok is false for files
// without loadable segments.
func (f *File) LoadRange() (lo, hi uint64, ok bool) {
	lo = ^uint64(0)
	for i := range f.Progs {
		p := &f.Progs[i]
		if p.Type != elf.PT_LOAD {
			continue
		}
		lo = min(lo, p.Vaddr)
		hi = max(hi, p.Vaddr+p.Memsz)
	}
	if lo >= hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// LoadSegmentAt returns the PT_LOAD segment the loader maps at fileOffset,
// which is the segment whose page-aligned file offset equals fileOffset.
func (f *File) LoadSegmentAt(fileOffset, pageSize uint64) (*elf.ProgHeader, bool) {
	for i := range f.Progs {
		p := &f.Progs[i]
		if p.Type == elf.PT_LOAD && PageDown(p.Off, pageSize) == fileOffset {
			return p, true
		}
	}
	return nil, false
}
