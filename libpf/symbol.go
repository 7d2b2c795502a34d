// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/symtrace/libpf"

import (
	"slices"
	"sort"
)

// SymbolValue represents the value associated with a symbol, e.g. either an
// offset or an absolute address
type SymbolValue uint64

// SymbolName represents the name of a symbol
type SymbolName string

// SymbolNameUnknown is the value returned by SymbolMap functions when address has no symbol info.
const SymbolNameUnknown = ""

// Symbol is a single function symbol. Address is already relocated for
// position-independent images.
type Symbol struct {
	Name    SymbolName
	Address SymbolValue
}

// SymbolMap is an address-ordered collection of symbols supporting
// nearest-at-or-below lookups.
//
// A SymbolMap is built with Add calls followed by a single Finalize. After
// Finalize it is immutable and safe for concurrent readers.
type SymbolMap struct {
	addressToSymbol []Symbol
}

func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{
		addressToSymbol: make([]Symbol, 0, capacity),
	}
}

// Add a symbol to the map
func (symmap *SymbolMap) Add(s Symbol) {
	symmap.addressToSymbol = append(symmap.addressToSymbol, s)
}

// Finalize symbol map by sorting ascending by address after all symbols
// are inserted via Add() calls. Symbols sharing an address keep their
// insertion order.
func (symmap *SymbolMap) Finalize() {
	// Adjust the overcommitted capacity
	symmap.addressToSymbol = slices.Clip(symmap.addressToSymbol)

	sort.SliceStable(symmap.addressToSymbol,
		func(i, j int) bool {
			return symmap.addressToSymbol[i].Address < symmap.addressToSymbol[j].Address
		})
}

// LookupByAddress returns the symbol with the greatest address not above val.
// When several symbols share that address, the last one in table order wins.
func (symmap *SymbolMap) LookupByAddress(val SymbolValue) (Symbol, bool) {
	if symmap == nil {
		return Symbol{}, false
	}
	// First index whose address is strictly greater than val.
	i := sort.Search(len(symmap.addressToSymbol),
		func(i int) bool {
			return symmap.addressToSymbol[i].Address > val
		})
	if i == 0 {
		return Symbol{}, false
	}
	return symmap.addressToSymbol[i-1], true
}

// VisitAll calls the provided callback with all the symbols in address order.
func (symmap *SymbolMap) VisitAll(cb func(Symbol)) {
	for _, s := range symmap.addressToSymbol {
		cb(s)
	}
}

// Symbols returns the ordered symbol slice. The caller must not modify it.
func (symmap *SymbolMap) Symbols() []Symbol {
	return symmap.addressToSymbol
}

// Len returns the number of elements in the map.
func (symmap *SymbolMap) Len() int {
	if symmap == nil {
		return 0
	}
	return len(symmap.addressToSymbol)
}
