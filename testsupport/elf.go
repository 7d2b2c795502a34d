// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "go.opentelemetry.io/symtrace/testsupport"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ELFSymbol describes a symbol table entry written by ELFBuilder.
type ELFSymbol struct {
	Name  string
	Value uint64
	// Type defaults to STT_FUNC.
	Type elf.SymType
}

// ELFSegment describes a PT_LOAD program header written by ELFBuilder.
type ELFSegment struct {
	Offset uint64
	Vaddr  uint64
	Memsz  uint64
	Flags  elf.ProgFlag
}

// ELFBuilder synthesizes small 64-bit little-endian ELF files, enough to
// exercise symbol extraction and load address computation without a
// toolchain.
type ELFBuilder struct {
	Type     elf.Type
	Segments []ELFSegment
	// Symbols go to .symtab/.strtab.
	Symbols []ELFSymbol
	// DynSymbols go to .dynsym/.dynstr.
	DynSymbols []ELFSymbol
	// CompressStrings stores .strtab as an SHF_COMPRESSED section.
	CompressStrings elf.CompressionType
	// BuildID is stored as a GNU build ID note when set.
	BuildID []byte
	// BuildIDSection names the section holding the build ID note. It
	// defaults to .note.gnu.build-id.
	BuildIDSection string
	// ABITag adds a .note.ABI-tag section in front of the build ID note.
	ABITag bool
	// MinSize pads the file to at least this many bytes.
	MinSize int
}

type builtSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	link    uint32
	entsize uint64
	data    []byte
}

func buildStringsAndSymbols(syms []ELFSymbol) (strtab, symtab []byte) {
	strs := bytes.NewBuffer([]byte{0})
	var tab bytes.Buffer
	// Index 0 is the reserved null symbol.
	_ = binary.Write(&tab, binary.LittleEndian, elf.Sym64{})
	for _, s := range syms {
		typ := s.Type
		if typ == elf.STT_NOTYPE {
			typ = elf.STT_FUNC
		}
		nameOff := uint32(strs.Len())
		strs.WriteString(s.Name)
		strs.WriteByte(0)
		_ = binary.Write(&tab, binary.LittleEndian, elf.Sym64{
			Name:  nameOff,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, typ),
			Shndx: 1,
			Value: s.Value,
		})
	}
	return strs.Bytes(), tab.Bytes()
}

func compressSection(typ elf.CompressionType, raw []byte) []byte {
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, elf.Chdr64{
		Type:      uint32(typ),
		Size:      uint64(len(raw)),
		Addralign: 1,
	})
	switch typ {
	case elf.COMPRESS_ZLIB:
		zw := zlib.NewWriter(&out)
		_, _ = zw.Write(raw)
		_ = zw.Close()
	case elf.COMPRESS_ZSTD:
		enc, _ := zstd.NewWriter(nil)
		out.Write(enc.EncodeAll(raw, nil))
		_ = enc.Close()
	}
	return out.Bytes()
}

func buildNote(noteType uint32, desc []byte) []byte {
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, [3]uint32{4, uint32(len(desc)), noteType})
	out.WriteString("GNU\x00")
	out.Write(desc)
	for out.Len()%4 != 0 {
		out.WriteByte(0)
	}
	return out.Bytes()
}

// Bytes renders the ELF file.
func (b *ELFBuilder) Bytes() []byte {
	sections := []builtSection{{}}
	if len(b.Symbols) > 0 {
		strtab, symtab := buildStringsAndSymbols(b.Symbols)
		strSec := builtSection{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab}
		if b.CompressStrings != 0 {
			strSec.flags = elf.SHF_COMPRESSED
			strSec.data = compressSection(b.CompressStrings, strtab)
		}
		sections = append(sections, strSec, builtSection{
			name: ".symtab", typ: elf.SHT_SYMTAB, data: symtab,
			link: uint32(len(sections)), entsize: 24,
		})
	}
	if len(b.DynSymbols) > 0 {
		dynstr, dynsym := buildStringsAndSymbols(b.DynSymbols)
		sections = append(sections,
			builtSection{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC,
				data: dynstr},
			builtSection{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC,
				data: dynsym, link: uint32(len(sections)), entsize: 24})
	}
	if b.ABITag {
		// NT_GNU_ABI_TAG for Linux 3.2.0.
		sections = append(sections, builtSection{name: ".note.ABI-tag",
			typ: elf.SHT_NOTE, flags: elf.SHF_ALLOC,
			data: buildNote(1, []byte{0, 0, 0, 0, 3, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0})})
	}
	if len(b.BuildID) > 0 {
		name := b.BuildIDSection
		if name == "" {
			name = ".note.gnu.build-id"
		}
		sections = append(sections, builtSection{name: name,
			typ: elf.SHT_NOTE, flags: elf.SHF_ALLOC, data: buildNote(3, b.BuildID)})
	}

	shstrtab := bytes.NewBuffer([]byte{0})
	nameOffsets := make([]uint32, len(sections)+1)
	for i := 1; i < len(sections); i++ {
		nameOffsets[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(sections[i].name)
		shstrtab.WriteByte(0)
	}
	nameOffsets[len(sections)] = uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab\x00")
	sections = append(sections, builtSection{name: ".shstrtab", typ: elf.SHT_STRTAB,
		data: shstrtab.Bytes()})

	phoff := uint64(64)
	dataOff := phoff + uint64(56*len(b.Segments))
	var body bytes.Buffer
	offsets := make([]uint64, len(sections))
	for i := 1; i < len(sections); i++ {
		for (dataOff+uint64(body.Len()))%8 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = dataOff + uint64(body.Len())
		body.Write(sections[i].data)
	}
	for int(dataOff)+body.Len() < b.MinSize {
		body.WriteByte(0)
	}
	for (dataOff+uint64(body.Len()))%8 != 0 {
		body.WriteByte(0)
	}
	shoff := dataOff + uint64(body.Len())

	var out bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(b.Type),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     uint16(len(b.Segments)),
		Shoff:     shoff,
		Shentsize: 64,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(len(sections) - 1),
	}
	if len(b.Segments) > 0 {
		hdr.Phoff = phoff
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	_ = binary.Write(&out, binary.LittleEndian, hdr)

	for _, seg := range b.Segments {
		flags := seg.Flags
		if flags == 0 {
			flags = elf.PF_R | elf.PF_X
		}
		_ = binary.Write(&out, binary.LittleEndian, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(flags),
			Off:    seg.Offset,
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: seg.Memsz,
			Memsz:  seg.Memsz,
			Align:  0x1000,
		})
	}
	out.Write(body.Bytes())

	for i, s := range sections {
		if i == 0 {
			_ = binary.Write(&out, binary.LittleEndian, elf.Section64{})
			continue
		}
		_ = binary.Write(&out, binary.LittleEndian, elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Addralign: 1,
			Entsize:   s.entsize,
		})
	}
	return out.Bytes()
}

// WriteFile renders the ELF file into a new file inside t.TempDir() and
// returns its path.
func (b *ELFBuilder) WriteFile(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b.Bytes(), 0o755); err != nil {
		t.Fatalf("failed to write ELF fixture: %v", err)
	}
	return path
}
