// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/symtrace/libpf"

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	sha256 "github.com/minio/sha256-simd"
)

// FileID identifies the contents of an executable file independently of
// its path. Two different paths to the same file share a FileID, and a file
// rewritten in place receives a new one.
type FileID struct {
	hi uint64
	lo uint64
}

// FileIDFromBytes parses a 16 byte slice into a FileID.
func FileIDFromBytes(b []byte) (FileID, error) {
	if len(b) != 16 {
		return FileID{}, fmt.Errorf("invalid length for bytes: %d", len(b))
	}
	return FileID{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func (f FileID) Hi() uint64 { return f.hi }
func (f FileID) Lo() uint64 { return f.lo }

func (f FileID) IsZero() bool {
	return f.hi == 0 && f.lo == 0
}

// Bytes returns the big-endian byte representation of the FileID.
func (f FileID) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], f.hi)
	binary.BigEndian.PutUint64(b[8:16], f.lo)
	return b
}

// StringNoQuotes returns the FileID as 32 hex digits.
func (f FileID) StringNoQuotes() string {
	return fmt.Sprintf("%016x%016x", f.hi, f.lo)
}

func (f FileID) String() string {
	return f.StringNoQuotes()
}

// UUIDString renders the FileID in the canonical UUID notation.
func (f FileID) UUIDString() string {
	// The following can't fail: we are guaranteed to get a slice of the correct length.
	id, _ := uuid.FromBytes(f.Bytes())
	return id.String()
}

// FileIDFromExecutableReader hashes portions of the contents of the reader in order to
// generate a system-independent identifier. The file is expected to be an ELF
// file where the header and footer has enough data to make the file unique.
func FileIDFromExecutableReader(reader io.ReadSeeker) (FileID, error) {
	h := sha256.New()

	// Hash algorithm: SHA256 of the following:
	// 1) 4 KiB header: covers the program headers, and usually the GNU Build ID.
	// 2) 4 KiB trailer: in practice covers the section headers.
	// 3) File length (8 bytes, big-endian). ELF files can be appended to without
	//    restrictions, so 1) and 2) alone are too easy to collide.
	if _, err := io.Copy(h, io.LimitReader(reader, 4096)); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file header: %w", err)
	}

	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return FileID{}, fmt.Errorf("failed to seek end of file: %w", err)
	}

	// Small files get part of their content hashed twice.
	tailBytes := min(size, 4096)
	if _, err = reader.Seek(-tailBytes, io.SeekEnd); err != nil {
		return FileID{}, fmt.Errorf("failed to seek file trailer: %w", err)
	}
	if _, err = io.Copy(h, reader); err != nil {
		return FileID{}, fmt.Errorf("failed to hash file trailer: %w", err)
	}

	var lengthArray [8]byte
	binary.BigEndian.PutUint64(lengthArray[:], uint64(size))
	_, _ = h.Write(lengthArray[:])

	return FileIDFromBytes(h.Sum(nil)[0:16])
}

// FileIDFromExecutableFile opens an executable file and calculates the FileID for it.
func FileIDFromExecutableFile(fileName string) (FileID, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return FileID{}, err
	}
	defer f.Close()

	return FileIDFromExecutableReader(f)
}
