// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "go.opentelemetry.io/symtrace/symbolizer"

import (
	"fmt"

	"go.opentelemetry.io/symtrace/libpf"
)

// Frame is an address resolved to the nearest function symbol at or below it.
type Frame struct {
	// Index is the position of the address in the input or snapshot.
	Index int `json:"index"`
	// AbsAddr is the address that was resolved.
	AbsAddr libpf.Address `json:"addr"`
	// Function is the demangled symbol name. Empty unless HasSymbol.
	Function string `json:"function,omitempty"`
	// Module is the path of the containing image, or empty if none contains
	// AbsAddr.
	Module string `json:"module"`
	// Offset is AbsAddr minus the symbol's address. Zero unless HasSymbol.
	Offset uint64 `json:"offset"`
	// HasSymbol reports whether a symbol was found.
	HasSymbol bool `json:"has_symbol"`
}

func (f Frame) String() string {
	if !f.HasSymbol {
		return fmt.Sprintf("[%d] (no symbol) in %s (%v)", f.Index, f.Module, f.AbsAddr)
	}
	return fmt.Sprintf("[%d] %s+0x%x in %s (%v)", f.Index, f.Function, f.Offset, f.Module,
		f.AbsAddr)
}

// RawFrame attributes an address to an image without looking at symbols,
// so it can be symbolized offline later.
type RawFrame struct {
	// Index is the position of the address in the input or snapshot.
	Index int `json:"index"`
	// AbsAddr is the address that was attributed.
	AbsAddr libpf.Address `json:"addr"`
	// Offset is AbsAddr minus the image base for position-independent images.
	// For fixed-address images it is AbsAddr itself, which is already the
	// file-relative virtual address.
	Offset uint64 `json:"offset"`
	// Module is the path of the containing image, or empty if none contains
	// AbsAddr.
	Module string `json:"module"`
	// HasSymbol reports whether an image contains AbsAddr. No symbol lookup
	// is involved.
	HasSymbol bool `json:"has_symbol"`
}

func (f RawFrame) String() string {
	if !f.HasSymbol {
		return fmt.Sprintf("[%d] (no module) (%v)", f.Index, f.AbsAddr)
	}
	return fmt.Sprintf("[%d] %s+0x%x (%v)", f.Index, f.Module, f.Offset, f.AbsAddr)
}
