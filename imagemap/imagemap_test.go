// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package imagemap

import (
	"debug/elf"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/process"
	"go.opentelemetry.io/symtrace/testsupport"
)

func TestImageContains(t *testing.T) {
	img := NewImage("/lib/a.so", 0x1000, 0x2000, 0x1000, nil)
	assert.False(t, img.Contains(0xfff))
	assert.True(t, img.Contains(0x1000))
	assert.True(t, img.Contains(0x2fff))
	assert.False(t, img.Contains(0x3000))
	assert.Equal(t, libpf.Address(0x3000), img.End())
	assert.Equal(t, "/lib/a.so [0x1000-0x3000)", img.String())

	empty := NewImage("/lib/empty.so", 0x1000, 0, 0x1000, nil)
	assert.False(t, empty.Contains(0x1000))
}

func TestMapFindFirstWins(t *testing.T) {
	m := Map{
		NewImage("/first", 0x1000, 0x1000, 0, nil),
		NewImage("/second", 0x1800, 0x1000, 0, nil),
	}
	assert.Equal(t, "/first", m.Find(0x1900).Path)
	assert.Equal(t, "/second", m.Find(0x2100).Path)
	assert.Nil(t, m.Find(0x2800))
	assert.Nil(t, Map{}.Find(0x1000))
}

func TestImageSymbolsLoadedOnce(t *testing.T) {
	var calls atomic.Int32
	loader := SymbolLoaderFunc(func(path string, bias libpf.SymbolValue) *libpf.SymbolMap {
		calls.Add(1)
		assert.Equal(t, "/lib/x.so", path)
		assert.Equal(t, libpf.SymbolValue(0x7000), bias)
		symMap := libpf.NewSymbolMap(1)
		symMap.Add(libpf.Symbol{Name: "fn", Address: 0x7100})
		symMap.Finalize()
		return symMap
	})
	img := NewImage("/lib/x.so", 0x7000, 0x1000, 0x7000, loader)
	assert.False(t, img.SymbolsLoaded())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, 1, img.Symbols().Len())
		}()
	}
	wg.Wait()
	assert.True(t, img.SymbolsLoaded())
	assert.Equal(t, int32(1), calls.Load())
}

func TestImageRelocatable(t *testing.T) {
	pie := (&testsupport.ELFBuilder{Type: elf.ET_DYN}).WriteFile(t, "pie")
	fixed := (&testsupport.ELFBuilder{Type: elf.ET_EXEC}).WriteFile(t, "fixed")
	assert.True(t, NewImage(pie, 0, 1, 0, nil).Relocatable())
	assert.False(t, NewImage(fixed, 0, 1, 0, nil).Relocatable())
	assert.False(t, NewImage("/does/not/exist", 0, 1, 0, nil).Relocatable())
}

func TestFromMappings(t *testing.T) {
	mappings := []process.Mapping{
		{Vaddr: 0x10000, Length: 0x1000, Flags: elf.PF_R, Inode: 1, Path: "/usr/lib/libb.so"},
		{Vaddr: 0x20000, Length: 0x3000, Flags: elf.PF_R | elf.PF_X, Inode: 2,
			Path: "/usr/bin/app"},
		// Not readable.
		{Vaddr: 0x5000, Length: 0x1000, Flags: elf.PF_X, Inode: 1, Path: "/usr/lib/libb.so"},
		// Anonymous.
		{Vaddr: 0x30000, Length: 0x1000, Flags: elf.PF_R | elf.PF_W},
		{Vaddr: 0x11000, Length: 0x2000, Flags: elf.PF_R | elf.PF_X, Inode: 1,
			Path: "/usr/lib/libb.so"},
		{Vaddr: 0x18000, Length: 0x1000, Flags: elf.PF_R | elf.PF_W, Inode: 1,
			Path: "/usr/lib/libb.so"},
	}

	var b Builder
	m := b.FromMappings(mappings)
	require.Len(t, m, 2)

	assert.Equal(t, "/usr/lib/libb.so", m[0].Path)
	assert.Equal(t, libpf.Address(0x10000), m[0].Base)
	assert.Equal(t, uint64(0x9000), m[0].Size)
	assert.Equal(t, libpf.Address(0x10000), m[0].Bias)

	assert.Equal(t, "/usr/bin/app", m[1].Path)
	assert.Equal(t, libpf.Address(0x20000), m[1].Base)
	assert.Equal(t, uint64(0x3000), m[1].Size)

	assert.Equal(t, "/usr/lib/libb.so", m.Find(0x13000).Path)
	assert.Nil(t, m.Find(0x5000))

	assert.Empty(t, b.FromMappings(nil))
}

func TestBuildUnknownPID(t *testing.T) {
	assert.Empty(t, Build(libpf.PID(^uint32(0))))
}

func TestFromSelfContainsMainExecutable(t *testing.T) {
	m := Build(libpf.SelfPID())
	require.NotEmpty(t, m)

	pc := libpf.Address(reflect.ValueOf(TestFromSelfContainsMainExecutable).Pointer())
	img := m.Find(pc)
	require.NotNil(t, img, "no image contains own code at %v", pc)
	assert.Equal(t, process.MainExecutablePath(libpf.SelfPID()), img.Path)

	for _, img := range m {
		assert.NotZero(t, img.Size, "image %v", img)
		assert.NotContains(t, img.Path, "[vdso]")
	}
}

func TestFromSelfTracksLateMappedLibrary(t *testing.T) {
	path := (&testsupport.ELFBuilder{
		Type: elf.ET_DYN,
		Segments: []testsupport.ELFSegment{
			{Offset: 0, Vaddr: 0, Memsz: 0x1000, Flags: elf.PF_R},
		},
		Symbols: []testsupport.ELFSymbol{
			{Name: "late_func", Value: 0x100},
		},
		MinSize: 0x1000,
	}).WriteFile(t, "liblate.so")

	var b Builder
	before := b.FromSelf()
	for _, img := range before {
		assert.NotEqual(t, path, img.Path)
	}

	start := libpf.Address(testsupport.MapFile(t, path))
	after := b.FromSelf()
	img := after.Find(start + 0x110)
	require.NotNil(t, img)
	assert.Equal(t, path, img.Path)
	assert.Equal(t, start, img.Base)
	assert.Equal(t, start, img.Bias)
	assert.Equal(t, uint64(0x1000), img.Size)

	sym, ok := img.Symbols().LookupByAddress(libpf.SymbolValue(start + 0x110))
	require.True(t, ok)
	assert.Equal(t, libpf.SymbolName("late_func"), sym.Name)
	assert.Equal(t, libpf.SymbolValue(start+0x100), sym.Address)
}

func TestFromSelfComparedToExternalView(t *testing.T) {
	mappings, _, err := process.GetMappings(libpf.SelfPID())
	require.NoError(t, err)

	var b Builder
	external := b.FromMappings(mappings)
	self := b.FromSelf()

	pc := libpf.Address(reflect.ValueOf(TestFromSelfComparedToExternalView).Pointer())
	require.NotNil(t, external.Find(pc))
	require.NotNil(t, self.Find(pc))
}

// splitLibrary has its second segment shifted one page up in memory, which
// a plain mapping of the whole file does not reproduce.
var splitLibrary = testsupport.ELFBuilder{
	Type: elf.ET_DYN,
	Segments: []testsupport.ELFSegment{
		{Offset: 0, Vaddr: 0, Memsz: 0x1000, Flags: elf.PF_R},
		{Offset: 0x1000, Vaddr: 0x2000, Memsz: 0x1000, Flags: elf.PF_R | elf.PF_W},
	},
	Symbols: []testsupport.ELFSymbol{
		{Name: "head_func", Value: 0x100},
		{Name: "tail_func", Value: 0x2100},
	},
	MinSize: 0x2000,
}

func imagesOf(m Map, path string) []*Image {
	var images []*Image
	for _, img := range m {
		if img.Path == path {
			images = append(images, img)
		}
	}
	return images
}

func TestFromSelfIgnoresPlainCopyOfLoadedFile(t *testing.T) {
	path := splitLibrary.WriteFile(t, "libsplit.so")
	bias := libpf.Address(testsupport.LoadFile(t, path))

	var b Builder
	img := b.FromSelf().Find(bias + 0x2110)
	require.NotNil(t, img)
	assert.Equal(t, bias, img.Bias)

	copyStart := libpf.Address(testsupport.MapFile(t, path))
	m := b.FromSelf()
	img = m.Find(bias + 0x2110)
	require.NotNil(t, img, "loaded image lost after mapping its file again at %v", copyStart)
	assert.Equal(t, path, img.Path)
	assert.Equal(t, bias, img.Base)
	assert.Equal(t, bias, img.Bias)
	assert.Equal(t, uint64(0x3000), img.Size)
	assert.Len(t, imagesOf(m, path), 1)
	assert.Nil(t, m.Find(copyStart+0x110))

	sym, ok := img.Symbols().LookupByAddress(libpf.SymbolValue(bias + 0x2110))
	require.True(t, ok)
	assert.Equal(t, libpf.SymbolName("tail_func"), sym.Name)
}

func TestFromSelfReportsEveryPlacement(t *testing.T) {
	path := splitLibrary.WriteFile(t, "libtwice.so")
	first := libpf.Address(testsupport.LoadFile(t, path))
	second := libpf.Address(testsupport.LoadFile(t, path))

	var b Builder
	m := b.FromSelf()
	assert.Len(t, imagesOf(m, path), 2)
	for _, bias := range []libpf.Address{first, second} {
		img := m.Find(bias + 0x110)
		require.NotNil(t, img, "no image at bias %v", bias)
		assert.Equal(t, bias, img.Bias)
	}

	single := (&testsupport.ELFBuilder{
		Type: elf.ET_DYN,
		Segments: []testsupport.ELFSegment{
			{Offset: 0, Vaddr: 0, Memsz: 0x1000, Flags: elf.PF_R},
		},
		Symbols: []testsupport.ELFSymbol{{Name: "late_func", Value: 0x100}},
		MinSize: 0x1000,
	}).WriteFile(t, "libsingle.so")
	loaded := libpf.Address(testsupport.MapFile(t, single))
	again := libpf.Address(testsupport.MapFile(t, single))

	m = b.FromSelf()
	for _, start := range []libpf.Address{loaded, again} {
		img := m.Find(start + 0x110)
		require.NotNil(t, img, "no image at %v", start)
		assert.Equal(t, single, img.Path)
		assert.Equal(t, start, img.Bias)
	}
}

func TestDeletedFileLoadsNoSymbols(t *testing.T) {
	path := splitLibrary.WriteFile(t, "libgone.so")
	bias := libpf.Address(testsupport.LoadFile(t, path))

	// Replace the file with one whose symbols must not be used.
	replacement := splitLibrary
	replacement.Symbols = []testsupport.ELFSymbol{{Name: "impostor", Value: 0x2000}}
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, replacement.Bytes(), 0o755))

	mappings, _, err := process.GetMappings(libpf.SelfPID())
	require.NoError(t, err)

	var loads atomic.Int32
	b := Builder{Loader: SymbolLoaderFunc(
		func(path string, bias libpf.SymbolValue) *libpf.SymbolMap {
			loads.Add(1)
			return DefaultSymbolLoader.LoadSymbols(path, bias)
		})}
	views := map[string]Map{
		"self":     b.FromSelf(),
		"external": b.FromMappings(mappings),
	}
	for name, m := range views {
		t.Run(name, func(t *testing.T) {
			img := m.Find(bias + 0x2110)
			require.NotNil(t, img)
			assert.True(t, img.Deleted)
			assert.Equal(t, path, img.Path)
			assert.Equal(t, bias, img.Base)
			assert.Zero(t, img.Symbols().Len())
		})
	}
	assert.Zero(t, loads.Load())
}
