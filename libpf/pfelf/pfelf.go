// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "go.opentelemetry.io/symtrace/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"errors"
	"fmt"

	npsr "go.opentelemetry.io/symtrace/nopanicslicereader"
)

// ErrNoBuildID is returned when a file carries no GNU build ID note.
var ErrNoBuildID = errors.New("no build ID")

// ntGNUBuildID is the note type of the GNU build ID.
const ntGNUBuildID = 3

// GetBuildID returns the hex encoded GNU build ID if present. Files that do
// not name the note section .note.gnu.build-id are searched through all of
// their note sections.
func (f *File) GetBuildID() (string, error) {
	if s := f.Section(".note.gnu.build-id"); s != nil {
		return getBuildIDFromSection(s)
	}
	if err := f.LoadSections(); err != nil {
		return "", err
	}
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Type != elf.SHT_NOTE {
			continue
		}
		if buildID, err := getBuildIDFromSection(s); err == nil {
			return buildID, nil
		}
	}
	return "", ErrNoBuildID
}

func getBuildIDFromSection(s *Section) (string, error) {
	data, err := s.Data(maxBytesSmallSection)
	if err != nil {
		return "", err
	}
	return getBuildIDFromNotes(data)
}

// getBuildIDFromNotes returns the build ID from an ELF notes section data.
func getBuildIDFromNotes(notes []byte) (string, error) {
	desc, found, err := getNoteDescBytes(notes, "GNU", ntGNUBuildID)
	if err != nil {
		return "", fmt.Errorf("could not determine BuildID: %w", err)
	}
	if !found {
		return "", ErrNoBuildID
	}
	return hex.EncodeToString(desc), nil
}

// getNoteDescBytes walks the notes in a note section and returns the
// descriptor of the first note with the given owner name and type.
//
// Each note is laid out as: namesz u32, descsz u32, type u32, name (padded
// to 4 bytes), desc (padded to 4 bytes).
func getNoteDescBytes(section []byte, name string, noteType uint32) (
	desc []byte, found bool, err error) {
	for len(section) > 0 {
		if len(section) < 12 {
			return nil, false, errors.New("truncated note header")
		}
		nameSize := uint64(npsr.Uint32(section, 0))
		descSize := uint64(npsr.Uint32(section, 4))
		typ := npsr.Uint32(section, 8)

		nameEnd := 12 + nameSize
		descStart := alignUp4(nameEnd)
		descEnd := descStart + descSize
		if descEnd > uint64(len(section)) {
			return nil, false, fmt.Errorf("note exceeds section (%d > %d)",
				descEnd, len(section))
		}

		noteName := bytes.TrimRight(section[12:nameEnd], "\x00")
		if typ == noteType && string(noteName) == name {
			return section[descStart:descEnd], true, nil
		}

		next := min(alignUp4(descEnd), uint64(len(section)))
		section = section[next:]
	}
	return nil, false, nil
}

func alignUp4(v uint64) uint64 {
	return (v + 3) &^ 3
}
