// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// compressionHeaderSize is sizeof(Elf64_Chdr).
const compressionHeaderSize = 24

// decompressSection inflates the contents of an SHF_COMPRESSED section.
// The data starts with an Elf64_Chdr naming the algorithm and the
// uncompressed size.
func decompressSection(raw []byte, maxSize uint64) ([]byte, error) {
	if len(raw) < compressionHeaderSize {
		return nil, fmt.Errorf("compressed section too short (%d bytes)", len(raw))
	}
	var chdr elf.Chdr64
	if err := binary.Read(bytes.NewReader(raw[:compressionHeaderSize]),
		binary.LittleEndian, &chdr); err != nil {
		return nil, err
	}
	if chdr.Size > maxSize {
		return nil, fmt.Errorf("uncompressed section size %d is too large", chdr.Size)
	}
	payload := raw[compressionHeaderSize:]

	switch elf.CompressionType(chdr.Type) {
	case elf.COMPRESS_ZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to open zlib stream: %w", err)
		}
		defer zr.Close()
		out := make([]byte, chdr.Size)
		if _, err = io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("failed to inflate zlib section: %w", err)
		}
		return out, nil
	case elf.COMPRESS_ZSTD:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxSize))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, make([]byte, 0, chdr.Size))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate zstd section: %w", err)
		}
		if uint64(len(out)) != chdr.Size {
			return nil, fmt.Errorf("zstd section inflated to %d bytes, expected %d",
				len(out), chdr.Size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported section compression %d", chdr.Type)
	}
}
