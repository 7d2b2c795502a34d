// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "go.opentelemetry.io/symtrace/testsupport"

import (
	"debug/elf"
	"os"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapFile maps the whole file at path read-only into the test process, the
// way a dlopen would bring in a library, and returns the mapping's start
// address. The mapping is removed when the test ends.
func MapFile(t testing.TB, path string) uintptr {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("failed to map %s: %v", path, err)
	}
	t.Cleanup(func() {
		_ = unix.Munmap(data)
	})
	return uintptr(unsafe.Pointer(unsafe.SliceData(data)))
}

// LoadFile maps the PT_LOAD segments of the ELF file at path the way the
// dynamic loader does: one region is reserved inaccessible and each segment
// is mapped into it from its page-aligned file offset. Writable segments are
// mapped private and writable so that neighbouring segments never merge.
// The load bias is returned. The region is removed when the test ends.
func LoadFile(t testing.TB, path string) uintptr {
	t.Helper()
	ef, err := elf.Open(path)
	if err != nil {
		t.Fatalf("failed to parse %s: %v", path, err)
	}
	defer ef.Close()

	pageSize := uint64(os.Getpagesize())
	lo, hi := ^uint64(0), uint64(0)
	var loads []*elf.Prog
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, p)
		lo = min(lo, p.Vaddr&^(pageSize-1))
		hi = max(hi, p.Vaddr+p.Memsz)
	}
	if len(loads) == 0 {
		t.Fatalf("%s has no loadable segments", path)
	}

	region, err := unix.Mmap(-1, 0, int((hi-lo+pageSize-1)&^(pageSize-1)), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("failed to reserve address space for %s: %v", path, err)
	}
	t.Cleanup(func() {
		_ = unix.Munmap(region)
	})
	base := unsafe.Pointer(unsafe.SliceData(region))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	for _, p := range loads {
		if p.Filesz == 0 {
			continue
		}
		off := p.Off &^ (pageSize - 1)
		prot := unix.PROT_READ
		if p.Flags&elf.PF_W != 0 {
			prot |= unix.PROT_WRITE
		}
		addr := unsafe.Add(base, p.Vaddr&^(pageSize-1)-lo)
		if _, err := unix.MmapPtr(int(f.Fd()), int64(off), addr, uintptr(p.Off+p.Filesz-off),
			prot, unix.MAP_PRIVATE|unix.MAP_FIXED); err != nil {
			t.Fatalf("failed to map segment at offset 0x%x of %s: %v", p.Off, path, err)
		}
	}
	return uintptr(base) - uintptr(lo)
}
