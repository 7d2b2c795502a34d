// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader reads little-endian values from a slice at a given
// offset. Out of bounds reads return zero instead of panicking, which lets
// ELF record decoders treat truncated input as zero fields.
package nopanicslicereader // import "go.opentelemetry.io/symtrace/nopanicslicereader"

import "encoding/binary"

// Uint8 reads one 8-bit unsigned integer from given byte slice offset
func Uint8(b []byte, offs uint) uint8 {
	if offs >= uint(len(b)) {
		return 0
	}
	return b[offs]
}

// Uint32 reads one 32-bit unsigned integer from given byte slice offset
func Uint32(b []byte, offs uint) uint32 {
	if offs+4 < offs || offs+4 > uint(len(b)) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[offs:])
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint) uint64 {
	if offs+8 < offs || offs+8 > uint(len(b)) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}
