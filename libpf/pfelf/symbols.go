// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import (
	"debug/elf"
	"fmt"

	"go.opentelemetry.io/symtrace/internal/log"
	"go.opentelemetry.io/symtrace/libpf"
	npsr "go.opentelemetry.io/symtrace/nopanicslicereader"
)

// symbolTable returns the full symbol table if present, falling back to the
// dynamic symbol table of stripped files.
func (f *File) symbolTable() (*Section, error) {
	if err := f.LoadSections(); err != nil {
		return nil, err
	}
	if s := f.SectionByType(elf.SHT_SYMTAB); s != nil {
		return s, nil
	}
	if s := f.SectionByType(elf.SHT_DYNSYM); s != nil {
		return s, nil
	}
	return nil, ErrNoSymbolTable
}

// FunctionSymbols reads all STT_FUNC symbols with a nonzero value. For
// position-independent files (ET_DYN) every address is shifted by bias.
func (f *File) FunctionSymbols(bias libpf.SymbolValue) (*libpf.SymbolMap, error) {
	symTab, err := f.symbolTable()
	if err != nil {
		return nil, err
	}
	if symTab.Link >= uint32(len(f.Sections)) {
		return nil, fmt.Errorf("failed to read %v strtab: link %v out of range",
			symTab.Name, symTab.Link)
	}
	strTab := &f.Sections[symTab.Link]
	strs, err := strTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", strTab.Name, err)
	}
	syms, err := symTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", symTab.Name, err)
	}

	if f.Type != elf.ET_DYN {
		bias = 0
	}

	symMap := libpf.NewSymbolMap(len(syms) / symbolSize)
	for i := 0; i+symbolSize <= len(syms); i += symbolSize {
		// Elf64_Sym: name u32, info u8, other u8, shndx u16, value u64, size u64
		entry := syms[i : i+symbolSize]
		if elf.ST_TYPE(npsr.Uint8(entry, 4)) != elf.STT_FUNC {
			continue
		}
		value := npsr.Uint64(entry, 8)
		if value == 0 {
			continue
		}
		name, ok := getString(strs, int(npsr.Uint32(entry, 0)))
		if !ok {
			continue
		}
		symMap.Add(libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(value) + bias,
		})
	}
	symMap.Finalize()

	return symMap, nil
}

// LoadFunctionSymbols opens the ELF file at path and returns its function
// symbols sorted by address, relocated by bias when the file is
// position-independent. Any failure yields an empty table.
func LoadFunctionSymbols(path string, bias libpf.SymbolValue) *libpf.SymbolMap {
	ef, err := Open(path)
	if err != nil {
		log.Debugf("Failed to open %s for symbols: %v", path, err)
		return emptySymbolMap()
	}
	defer ef.Close()

	symMap, err := ef.FunctionSymbols(bias)
	if err != nil {
		log.Debugf("Failed to load symbols from %s: %v", path, err)
		return emptySymbolMap()
	}
	return symMap
}

func emptySymbolMap() *libpf.SymbolMap {
	symMap := libpf.NewSymbolMap(0)
	symMap.Finalize()
	return symMap
}
