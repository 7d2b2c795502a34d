// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagemap discovers the ELF images loaded into a process and where
// each one is mapped.
package imagemap // import "go.opentelemetry.io/symtrace/imagemap"

import (
	"fmt"

	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/libpf/pfelf"
	"go.opentelemetry.io/symtrace/libpf/xsync"
)

// SymbolLoader produces the function symbol table of the ELF file at path,
// relocated by bias for position-independent files. It never fails: an
// unreadable file yields an empty table.
type SymbolLoader interface {
	LoadSymbols(path string, bias libpf.SymbolValue) *libpf.SymbolMap
}

// SymbolLoaderFunc adapts a function to the SymbolLoader interface.
type SymbolLoaderFunc func(path string, bias libpf.SymbolValue) *libpf.SymbolMap

func (f SymbolLoaderFunc) LoadSymbols(path string, bias libpf.SymbolValue) *libpf.SymbolMap {
	return f(path, bias)
}

// DefaultSymbolLoader reads symbols straight from disk on every call.
var DefaultSymbolLoader SymbolLoader = SymbolLoaderFunc(pfelf.LoadFunctionSymbols)

// Image is one loaded ELF file.
type Image struct {
	// Path is the file the image was loaded from.
	Path string
	// Base is the address where the lowest loadable segment is mapped.
	Base libpf.Address
	// Size spans from Base to the end of the highest loadable segment.
	Size uint64
	// Bias is added to on-disk symbol values of position-independent images.
	Bias libpf.Address
	// Deleted is set when the file at Path is no longer the one mapped. Such
	// images resolve to their module but never load symbols.
	Deleted bool

	loader      SymbolLoader
	symbols     xsync.Once[*libpf.SymbolMap]
	relocatable xsync.Once[bool]
}

// NewImage creates an image whose symbols are read through loader on first use.
func NewImage(path string, base libpf.Address, size uint64, bias libpf.Address,
	loader SymbolLoader) *Image {
	if loader == nil {
		loader = DefaultSymbolLoader
	}
	return &Image{
		Path:   path,
		Base:   base,
		Size:   size,
		Bias:   bias,
		loader: loader,
	}
}

// Contains reports whether addr falls inside [Base, Base+Size).
func (img *Image) Contains(addr libpf.Address) bool {
	return addr >= img.Base && uint64(addr-img.Base) < img.Size
}

// End returns the first address past the image.
func (img *Image) End() libpf.Address {
	return img.Base + libpf.Address(img.Size)
}

// Symbols returns the image's function symbols, loading them on first call.
// The table is retained for the lifetime of the image.
func (img *Image) Symbols() *libpf.SymbolMap {
	syms, _ := img.symbols.GetOrInit(func() (*libpf.SymbolMap, error) {
		if img.Deleted {
			return libpf.NewSymbolMap(0), nil
		}
		return img.loader.LoadSymbols(img.Path, libpf.SymbolValue(img.Bias)), nil
	})
	return *syms
}

// SymbolsLoaded reports whether Symbols has already run.
func (img *Image) SymbolsLoaded() bool {
	return img.symbols.Get() != nil
}

// Relocatable reports whether the backing file is position-independent.
func (img *Image) Relocatable() bool {
	rel, _ := img.relocatable.GetOrInit(func() (bool, error) {
		return pfelf.IsRelocatable(img.Path), nil
	})
	return *rel
}

func (img *Image) String() string {
	return fmt.Sprintf("%s [%v-%v)", img.Path, img.Base, img.End())
}

// Map is the ordered list of images of one process at one point in time.
// Lookups scan in order and the first containing image wins.
type Map []*Image

// Find returns the first image containing addr, or nil.
func (m Map) Find(addr libpf.Address) *Image {
	for _, img := range m {
		if img.Contains(addr) {
			return img
		}
	}
	return nil
}
