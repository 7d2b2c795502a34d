// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package stacktrace captures the calling goroutine's return addresses and
// resolves them through a symbolizer.Symbolizer.
//
// Capturing is cheap. Resolution reads files and allocates, so it must not
// run in a signal handling context: capture first and resolve later.
package stacktrace // import "go.opentelemetry.io/symtrace/stacktrace"

import (
	"fmt"
	"io"
	"runtime"

	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/symbolizer"
)

// MaxFrames bounds the number of addresses a Snapshot holds.
const MaxFrames = 32

// Snapshot is the list of return addresses of one goroutine at one point in
// time, innermost first.
type Snapshot struct {
	pcs [MaxFrames]uintptr
	n   int
}

// Capture records up to maxFrames return addresses of its caller's stack,
// starting with the caller itself.
func Capture(maxFrames int) Snapshot {
	var s Snapshot
	maxFrames = min(max(maxFrames, 0), MaxFrames)
	// Skip runtime.Callers and Capture.
	s.n = runtime.Callers(2, s.pcs[:maxFrames])
	return s
}

// Len returns the number of captured addresses.
func (s *Snapshot) Len() int {
	return s.n
}

// Addresses returns a copy of the captured addresses.
func (s *Snapshot) Addresses() []libpf.Address {
	addrs := make([]libpf.Address, s.n)
	for i, pc := range s.pcs[:s.n] {
		addrs[i] = libpf.Address(pc)
	}
	return addrs
}

// Frames resolves every address against sym's image map of this process.
func (s *Snapshot) Frames(sym *symbolizer.Symbolizer) []symbolizer.Frame {
	frames := make([]symbolizer.Frame, s.n)
	for i, pc := range s.pcs[:s.n] {
		frames[i] = sym.Resolve(libpf.Address(pc))
		frames[i].Index = i
	}
	return frames
}

// RawFrames attributes every address to an image of this process.
func (s *Snapshot) RawFrames(sym *symbolizer.Symbolizer) []symbolizer.RawFrame {
	frames := make([]symbolizer.RawFrame, s.n)
	for i, pc := range s.pcs[:s.n] {
		frames[i] = sym.ResolveRaw(libpf.Address(pc))
		frames[i].Index = i
	}
	return frames
}

// Print writes one line per resolved frame to w.
func (s *Snapshot) Print(w io.Writer, sym *symbolizer.Symbolizer) error {
	for _, frame := range s.Frames(sym) {
		if _, err := fmt.Fprintln(w, frame.String()); err != nil {
			return err
		}
	}
	return nil
}
