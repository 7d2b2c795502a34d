// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pfelf implements an independent ELF parser from debug/elf with a
// narrower purpose:
//   - supports only 64-bit little-endian ELF files
//   - loads only the parts of the file that are actually accessed
//   - reads from a memory mapping and bounds-checks every access, so
//     malformed files produce errors instead of crashes
//   - extracts function symbols and load segments for address symbolization
//
// The Executable and Linking Format (ELF) specification is available at:
//
//	https://refspecs.linuxfoundation.org/elf/elf.pdf
package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/symtrace/libpf/pfelf/internal/mmap"
)

const (
	// maxBytesSmallSection is the maximum section size for small parsed
	// sections (e.g. notes)
	maxBytesSmallSection = 4 * 1024

	// maxBytesLargeSection is the maximum section size for symbol and string
	// tables. Large C++ libraries carry symbol tables of tens of megabytes.
	maxBytesLargeSection = 256 * 1024 * 1024

	// Fixed ELF64 record sizes.
	fileHeaderSize    = 64
	progHeaderSize    = 56
	sectionHeaderSize = 64
	symbolSize        = 24
)

// ErrNotELF is returned when the file is not an ELF
var ErrNotELF = errors.New("not an ELF file")

// ErrNoSymbolTable is returned when a file has neither a .symtab nor a .dynsym section
var ErrNoSymbolTable = errors.New("no symbol table")

// subslicer is implemented by readers that can hand out views of their
// contents without copying.
type subslicer interface {
	Subslice(offset, length uint64) ([]byte, error)
}

// File represents an open ELF file
type File struct {
	// closer is called internally when resources for this File are to be released
	closer io.Closer

	// elfReader is the ReadAt implementation used for this File
	elfReader io.ReaderAt

	// elfHeader is the ELF file header
	elfHeader elf.Header64

	// Progs contains the program headers
	Progs []elf.ProgHeader

	// Sections contains the section headers once LoadSections succeeded
	Sections []Section

	// Type is the ELF file type from the header
	Type elf.Type
}

// Section represents a section header, and data associated with it
type Section struct {
	elf.SectionHeader

	elfReader io.ReaderAt
}

// Open memory-maps the named file and prepares it for use as an ELF binary.
func Open(name string) (*File, error) {
	r, err := mmap.Open(name)
	if err != nil {
		return nil, err
	}
	f, err := newFile(r, r)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return f, nil
}

// NewFile creates a new ELF file object that borrows the given reader.
func NewFile(r io.ReaderAt) (*File, error) {
	return newFile(r, nil)
}

// Close releases the file. Slices obtained from Section.Data must not be
// used afterwards.
func (f *File) Close() (err error) {
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return
}

// parseFileHeader decodes and validates an ELF64 file header.
func parseFileHeader(buf []byte, hdr *elf.Header64) error {
	if len(buf) < fileHeaderSize {
		return ErrNotELF
	}
	if !bytes.Equal(buf[0:4], []byte(elf.ELFMAG)) {
		return ErrNotELF
	}
	if err := binary.Read(bytes.NewReader(buf[:fileHeaderSize]), binary.LittleEndian,
		hdr); err != nil {
		return err
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 ||
		elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB ||
		elf.Version(hdr.Ident[elf.EI_VERSION]) != elf.EV_CURRENT {
		return fmt.Errorf("unsupported ELF file: %v", hdr.Ident)
	}
	return nil
}

func newFile(r io.ReaderAt, closer io.Closer) (*File, error) {
	f := &File{
		elfReader: r,
		closer:    closer,
	}

	var buf [fileHeaderSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotELF
		}
		return nil, err
	}
	hdr := &f.elfHeader
	if err := parseFileHeader(buf[:], hdr); err != nil {
		return nil, err
	}

	f.Type = elf.Type(hdr.Type)

	if hdr.Phnum == 0 {
		// Relocatable objects have no program headers. Symbols are still usable.
		return f, nil
	}
	if hdr.Phentsize != progHeaderSize {
		return nil, fmt.Errorf("unexpected program header size %d", hdr.Phentsize)
	}

	progs := make([]elf.Prog64, hdr.Phnum)
	if err := readStructs(r, int64(hdr.Phoff), progs); err != nil {
		return nil, fmt.Errorf("failed to read program headers: %w", err)
	}
	f.Progs = make([]elf.ProgHeader, len(progs))
	for i, ph := range progs {
		f.Progs[i] = elf.ProgHeader{
			Type:   elf.ProgType(ph.Type),
			Flags:  elf.ProgFlag(ph.Flags),
			Off:    ph.Off,
			Vaddr:  ph.Vaddr,
			Paddr:  ph.Paddr,
			Filesz: ph.Filesz,
			Memsz:  ph.Memsz,
			Align:  ph.Align,
		}
	}
	return f, nil
}

// readStructs reads a contiguous array of fixed-size little-endian records.
func readStructs[T any](r io.ReaderAt, off int64, out []T) error {
	if off < 0 {
		return fmt.Errorf("negative offset %d", off)
	}
	size := binary.Size(out)
	if size < 0 {
		return fmt.Errorf("unsupported record type %T", out)
	}
	sr := io.NewSectionReader(r, off, int64(size))
	return binary.Read(sr, binary.LittleEndian, out)
}

// getString extracts a null terminated string from an ELF string table
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	slen := bytes.IndexByte(section[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(section[start : start+slen]), true
}

// LoadSections loads the ELF file sections
func (f *File) LoadSections() error {
	if f.Sections != nil {
		// Already loaded.
		return nil
	}

	hdr := &f.elfHeader
	if hdr.Shnum == 0 || hdr.Shoff == 0 {
		// No sections, or extended section numbering which is not supported.
		return nil
	}
	if hdr.Shentsize != sectionHeaderSize {
		return fmt.Errorf("unexpected section header size %d", hdr.Shentsize)
	}
	if hdr.Shstrndx >= hdr.Shnum {
		return fmt.Errorf("invalid ELF section string table index (%d / %d)",
			hdr.Shstrndx, hdr.Shnum)
	}

	sections := make([]elf.Section64, hdr.Shnum)
	if err := readStructs(f.elfReader, int64(hdr.Shoff), sections); err != nil {
		return fmt.Errorf("failed to read section headers: %w", err)
	}

	loaded := make([]Section, hdr.Shnum)
	for i, sh := range sections {
		loaded[i] = Section{
			SectionHeader: elf.SectionHeader{
				Type:      elf.SectionType(sh.Type),
				Flags:     elf.SectionFlag(sh.Flags),
				Addr:      sh.Addr,
				Offset:    sh.Off,
				Size:      sh.Size,
				Link:      sh.Link,
				Info:      sh.Info,
				Addralign: sh.Addralign,
				Entsize:   sh.Entsize,
				FileSize:  sh.Size,
			},
			elfReader: f.elfReader,
		}
		if loaded[i].Type == elf.SHT_NOBITS {
			loaded[i].FileSize = 0
		}
	}

	// Load the section name string table
	strtab, err := loaded[hdr.Shstrndx].Data(maxBytesSmallSection * 256)
	if err != nil {
		return fmt.Errorf("failed to read section names: %w", err)
	}
	for i := range loaded {
		sh := &loaded[i]
		var ok bool
		sh.Name, ok = getString(strtab, int(sections[i].Name))
		if !ok {
			return fmt.Errorf("bad section name index (section %d, index %d/%d)",
				i, sections[i].Name, len(strtab))
		}
	}

	f.Sections = loaded
	return nil
}

// Section returns a section with the given name, or nil if no such section exists.
func (f *File) Section(name string) *Section {
	if err := f.LoadSections(); err != nil {
		return nil
	}
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SectionByType returns the first section of the given type, or nil.
func (f *File) SectionByType(typ elf.SectionType) *Section {
	if err := f.LoadSections(); err != nil {
		return nil
	}
	for i := range f.Sections {
		if f.Sections[i].Type == typ {
			return &f.Sections[i]
		}
	}
	return nil
}

// rawData returns the section's bytes as stored in the file.
func (sh *Section) rawData(maxSize uint64) ([]byte, error) {
	if sh.FileSize > maxSize {
		return nil, fmt.Errorf("section size %d is too large", sh.FileSize)
	}
	if ss, ok := sh.elfReader.(subslicer); ok {
		return ss.Subslice(sh.Offset, sh.FileSize)
	}
	p := make([]byte, sh.FileSize)
	if _, err := sh.elfReader.ReadAt(p, int64(sh.Offset)); err != nil {
		return nil, err
	}
	return p, nil
}

// Data returns the section contents, decompressing SHF_COMPRESSED sections.
// For memory-mapped files the returned slice may alias the mapping and is
// only valid until the File is closed.
func (sh *Section) Data(maxSize uint) ([]byte, error) {
	if sh.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("section %q has no file data", sh.Name)
	}
	raw, err := sh.rawData(uint64(maxSize))
	if err != nil {
		return nil, err
	}
	if sh.Flags&elf.SHF_COMPRESSED == 0 {
		return raw, nil
	}
	return decompressSection(raw, uint64(maxSize))
}
