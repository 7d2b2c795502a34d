// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package symbolizer turns instruction addresses into function names using
// only the ELF symbol tables of the images loaded in a process.
package symbolizer // import "go.opentelemetry.io/symtrace/symbolizer"

import (
	"fmt"

	"go.opentelemetry.io/symtrace/imagemap"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/libpf/freelru"
)

// ResolveWithImages resolves addr against m. The containing image's symbols
// are loaded on first use.
func ResolveWithImages(addr libpf.Address, m imagemap.Map, mode DemangleMode) Frame {
	frame := Frame{AbsAddr: addr}
	img := m.Find(addr)
	if img == nil {
		return frame
	}
	frame.Module = img.Path

	sym, ok := img.Symbols().LookupByAddress(libpf.SymbolValue(addr))
	if !ok {
		return frame
	}
	frame.Function = mode.Demangle(string(sym.Name))
	frame.Offset = uint64(addr) - uint64(sym.Address)
	frame.HasSymbol = true
	return frame
}

// ResolveRawWithImages attributes addr to an image of m without loading any
// symbols.
func ResolveRawWithImages(addr libpf.Address, m imagemap.Map) RawFrame {
	frame := RawFrame{AbsAddr: addr}
	img := m.Find(addr)
	if img == nil {
		return frame
	}
	frame.Module = img.Path
	frame.HasSymbol = true
	if img.Relocatable() {
		frame.Offset = uint64(addr - img.Base)
	} else {
		frame.Offset = uint64(addr)
	}
	return frame
}

// Symbolizer resolves addresses of the calling process through a cached
// image map, and of other processes through a fresh map per call.
//
// A Symbolizer is safe for concurrent use. It must not be used from a
// signal handler: resolution opens files and allocates.
type Symbolizer struct {
	mode    DemangleMode
	builder imagemap.Builder
	modules *ModuleCache
	// symbols is nil when the symbol cache is disabled.
	symbols *SymbolCache
}

// New creates a Symbolizer from cfg.
func New(cfg Config) (*Symbolizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Symbolizer{mode: cfg.Demangle}
	if s.mode == "" {
		s.mode = DemangleFull
	}
	if cfg.SymbolCacheSize > 0 {
		symbols, err := NewSymbolCache(cfg.SymbolCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create symbol cache: %w", err)
		}
		s.symbols = symbols
		s.builder.Loader = symbols
	}
	s.modules = NewModuleCache(s.builder.FromSelf)
	return s, nil
}

// Images returns the cached image map of the calling process.
func (s *Symbolizer) Images() imagemap.Map {
	return s.modules.Images()
}

// ImagesOf returns the image map of pid. The calling process gets the cached
// map, any other process a freshly built one.
func (s *Symbolizer) ImagesOf(pid libpf.PID) imagemap.Map {
	if pid.IsSelf() {
		return s.Images()
	}
	return s.builder.Build(pid)
}

// Invalidate forgets the cached image map of the calling process. Call it
// after libraries were loaded or unloaded.
func (s *Symbolizer) Invalidate() {
	s.modules.Invalidate()
}

// Resolve resolves an address of the calling process.
func (s *Symbolizer) Resolve(addr libpf.Address) Frame {
	return ResolveWithImages(addr, s.Images(), s.mode)
}

// ResolveRaw attributes an address of the calling process to its image.
func (s *Symbolizer) ResolveRaw(addr libpf.Address) RawFrame {
	return ResolveRawWithImages(addr, s.Images())
}

// ResolveOnPID resolves addrs against one image map of pid built for this
// call. The result has one frame per address, in input order.
func (s *Symbolizer) ResolveOnPID(addrs []libpf.Address, pid libpf.PID) []Frame {
	m := s.builder.Build(pid)
	frames := make([]Frame, len(addrs))
	for i, addr := range addrs {
		frames[i] = ResolveWithImages(addr, m, s.mode)
		frames[i].Index = i
	}
	return frames
}

// ResolveRawOnPID is the raw variant of ResolveOnPID.
func (s *Symbolizer) ResolveRawOnPID(addrs []libpf.Address, pid libpf.PID) []RawFrame {
	m := s.builder.Build(pid)
	frames := make([]RawFrame, len(addrs))
	for i, addr := range addrs {
		frames[i] = ResolveRawWithImages(addr, m)
		frames[i].Index = i
	}
	return frames
}

// CacheStatistics returns and resets the symbol cache counters. All zero
// when the cache is disabled.
func (s *Symbolizer) CacheStatistics() freelru.Statistics {
	if s.symbols == nil {
		return freelru.Statistics{}
	}
	return s.symbols.Statistics()
}
