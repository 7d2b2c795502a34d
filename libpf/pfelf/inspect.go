// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import (
	"debug/elf"
	"io"
	"os"
)

// ReadType reads only the file header of the ELF file at path and returns
// its e_type.
func ReadType(path string) (elf.Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return elf.ET_NONE, err
	}
	defer f.Close()

	var buf [fileHeaderSize]byte
	if _, err = io.ReadFull(f, buf[:]); err != nil {
		return elf.ET_NONE, ErrNotELF
	}
	var hdr elf.Header64
	if err = parseFileHeader(buf[:], &hdr); err != nil {
		return elf.ET_NONE, err
	}
	return elf.Type(hdr.Type), nil
}

// IsRelocatable reports whether the ELF file at path is position-independent
// (ET_DYN), meaning its symbol values are relative to the load bias. Files
// that cannot be read or are not ELF report false.
func IsRelocatable(path string) bool {
	typ, err := ReadType(path)
	return err == nil && typ == elf.ET_DYN
}
