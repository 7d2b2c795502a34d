// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package imagemap // import "go.opentelemetry.io/symtrace/imagemap"

import (
	"debug/elf"
	"os"

	"go.opentelemetry.io/symtrace/internal/log"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/libpf/pfelf"
	"go.opentelemetry.io/symtrace/process"
)

// Builder constructs image maps. The zero value reads files from the local
// file system and loads symbols from disk.
type Builder struct {
	// Opener opens ELF files for the self-process path.
	Opener pfelf.ELFOpener
	// Loader is handed to every image created.
	Loader SymbolLoader
}

func (b *Builder) opener() pfelf.ELFOpener {
	if b.Opener == nil {
		return pfelf.SystemOpener
	}
	return b.Opener
}

// Build returns the image map of the calling process when pid is the
// caller's own PID, and of the external process pid otherwise. Failures
// produce an empty map.
func Build(pid libpf.PID) Map {
	var b Builder
	return b.Build(pid)
}

// Build is the Builder equivalent of the package-level Build.
func (b *Builder) Build(pid libpf.PID) Map {
	if pid.IsSelf() {
		return b.FromSelf()
	}
	mappings, numParseErrors, err := process.GetMappings(pid)
	if err != nil {
		log.Warnf("Failed to read mappings of PID %d: %v", pid, err)
		return Map{}
	}
	if numParseErrors > 0 {
		log.Debugf("Skipped %d malformed mapping lines of PID %d", numParseErrors, pid)
	}
	return b.FromMappings(mappings)
}

// imageKey separates the mappings of a deleted file from those of the file
// that now lives at the same path.
type imageKey struct {
	path    string
	deleted bool
}

// groupByPath groups mappings by path in order of first appearance.
func groupByPath(mappings []process.Mapping, keep func(*process.Mapping) bool) (
	keys []imageKey, groups map[imageKey][]*process.Mapping) {
	groups = make(map[imageKey][]*process.Mapping)
	for i := range mappings {
		m := &mappings[i]
		if !keep(m) {
			continue
		}
		key := imageKey{path: m.Path, deleted: m.Deleted}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], m)
	}
	return keys, groups
}

// imageFromMappings covers the lowest to highest mapped address of the
// group. The lowest address is also the bias.
func (b *Builder) imageFromMappings(key imageKey, mappings []*process.Mapping) *Image {
	lo, hi := ^uint64(0), uint64(0)
	for _, m := range mappings {
		lo = min(lo, m.Vaddr)
		hi = max(hi, m.End())
	}
	base := libpf.Address(lo)
	img := NewImage(key.path, base, hi-lo, base, b.Loader)
	img.Deleted = key.deleted
	return img
}

// FromMappings derives an image map from the memory mappings of another
// process. Each file-backed readable path becomes one image covering its
// lowest to highest mapped address; the lowest address is also its bias.
func (b *Builder) FromMappings(mappings []process.Mapping) Map {
	keys, groups := groupByPath(mappings, func(m *process.Mapping) bool {
		return m.Inode != 0 && m.Path != "" && m.IsReadable()
	})

	images := make(Map, 0, len(keys))
	for _, key := range keys {
		images = append(images, b.imageFromMappings(key, groups[key]))
	}
	return images
}

// FromSelf derives the image map of the calling process. Each mapped ELF
// file is located through its program headers, the way the dynamic loader
// placed it, so that the load bias is exact even when the first mapped
// segment does not start at the file's lowest virtual address. Files that
// were deleted since they were mapped cannot be matched against their
// program headers and are reported the way FromMappings does.
func (b *Builder) FromSelf() Map {
	self := libpf.SelfPID()
	mappings, _, err := process.GetMappings(self)
	if err != nil {
		log.Warnf("Failed to read own mappings: %v", err)
		return Map{}
	}

	exe, err := process.GetExe(self)
	if err != nil {
		log.Debugf("Failed to resolve own executable: %v", err)
	}
	mainPath := process.MainExecutablePath(self)
	pageSize := uint64(os.Getpagesize())

	keys, groups := groupByPath(mappings, (*process.Mapping).IsFileBacked)
	images := make(Map, 0, len(keys))
	for _, key := range keys {
		if key.deleted {
			images = append(images, b.imageFromMappings(key, groups[key]))
			continue
		}
		for _, img := range b.imagesFromProgramHeaders(key.path, groups[key], pageSize) {
			if key.path == exe && mainPath != "" {
				img.Path = mainPath
			}
			images = append(images, img)
		}
	}
	return images
}

// imagesFromProgramHeaders returns one image per placement of the file at
// path. A file is usually placed once; dlmopen can place it again.
func (b *Builder) imagesFromProgramHeaders(path string, mappings []*process.Mapping,
	pageSize uint64) []*Image {
	ef, err := b.opener().OpenELF(path)
	if err != nil {
		// Fonts, locale archives and other non-ELF data files end up here.
		log.Debugf("Skipping mapped file %s: %v", path, err)
		return nil
	}
	defer ef.Close()

	lo, hi, ok := ef.LoadRange()
	if !ok {
		return nil
	}
	if ef.Type == elf.ET_EXEC {
		return []*Image{NewImage(path, libpf.Address(lo), hi-lo, 0, b.Loader)}
	}

	biases := placements(ef, mappings, pageSize)
	if len(biases) == 0 {
		log.Debugf("No mapping of %s matches its loadable segments", path)
		return nil
	}
	images := make([]*Image, 0, len(biases))
	for _, bias := range biases {
		images = append(images, NewImage(path, libpf.Address(bias+lo), hi-lo,
			libpf.Address(bias), b.Loader))
	}
	return images
}

// placements returns the load biases at which every PT_LOAD segment of ef is
// mapped. Candidate biases come from mappings starting at a segment's file
// offset. A copy of the file mapped as plain data, such as a whole-file
// mmap, does not reproduce the segment layout and is dropped. If some
// placements map a segment executable, only those are kept.
func placements(ef *pfelf.File, mappings []*process.Mapping, pageSize uint64) []uint64 {
	var complete, executable []uint64
	seen := make(map[uint64]struct{})
	for _, m := range mappings {
		seg, ok := ef.LoadSegmentAt(m.FileOffset, pageSize)
		if !ok {
			continue
		}
		bias := m.Vaddr - pfelf.PageDown(seg.Vaddr, pageSize)
		if _, ok := seen[bias]; ok {
			continue
		}
		seen[bias] = struct{}{}

		matched, exec := matchLayout(ef.Progs, mappings, bias, pageSize)
		if !matched {
			continue
		}
		complete = append(complete, bias)
		if exec {
			executable = append(executable, bias)
		}
	}
	if len(executable) > 0 {
		return executable
	}
	return complete
}

// matchLayout reports whether each file-backed PT_LOAD segment is mapped at
// bias, and whether any mapping serving them is executable.
func matchLayout(progs []elf.ProgHeader, mappings []*process.Mapping, bias,
	pageSize uint64) (matched, exec bool) {
	for i := range progs {
		p := &progs[i]
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		m := mappingAt(mappings, pfelf.PageDown(p.Off, pageSize),
			bias+pfelf.PageDown(p.Vaddr, pageSize))
		if m == nil {
			return false, false
		}
		exec = exec || m.IsExecutable()
	}
	return true, exec
}

// mappingAt returns the mapping that places file offset off at addr.
func mappingAt(mappings []*process.Mapping, off, addr uint64) *process.Mapping {
	for _, m := range mappings {
		if off < m.FileOffset || off-m.FileOffset >= m.Length {
			continue
		}
		if m.Vaddr+(off-m.FileOffset) == addr {
			return m
		}
	}
	return nil
}
