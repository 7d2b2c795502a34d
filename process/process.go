// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/symtrace/process"

import (
	"bufio"
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/symtrace/internal/log"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/stringutil"
)

// GetMappings returns this error when no mappings can be extracted.
var ErrNoMappings = errors.New("no mappings")

// mappingParseBufferSize defines the initial buffer size used to store lines from
// /proc/PID/maps during parsing of mappings.
const mappingParseBufferSize = 256

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, mappingParseBufferSize)
		return &buf
	},
}

// trimMappingPath strips the deleted indication from the path and reports
// whether it was present. A deleted file's path may name a different file by
// now.
func trimMappingPath(path string) (string, bool) {
	// See path_with_deleted in linux/fs/d_path.c
	trimmed, deleted := strings.CutSuffix(path, " (deleted)")
	if trimmed == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return "", false
	}
	return trimmed, deleted
}

// parseMappings parses the text format of /proc/PID/maps. Lines that cannot
// be parsed are skipped and counted. Mappings that are neither readable nor
// executable are dropped, as are pseudo-file mappings such as [vdso] or
// [stack].
func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf := bufPool.Get().(*[]byte)
	defer bufPool.Put(scanBuf)

	// Paths can be up to PATH_MAX long.
	scanner.Buffer(*scanBuf, 8192)
	for scanner.Scan() {
		var fields [6]string
		var addrs [2]string
		var devs [2]string

		line := scanner.Text()
		if stringutil.FieldsN(line, fields[:]) < 5 {
			numParseErrors++
			continue
		}
		if stringutil.SplitN(fields[0], "-", addrs[:]) < 2 {
			numParseErrors++
			continue
		}

		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			numParseErrors++
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}

		// Ignore non-readable and non-executable mappings
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}
		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			log.Debugf("inode: failed to convert %s to uint64: %v", fields[4], err)
			numParseErrors++
			continue
		}

		if stringutil.SplitN(fields[3], ":", devs[:]) < 2 {
			numParseErrors++
			continue
		}
		major, err := strconv.ParseUint(devs[0], 16, 64)
		if err != nil {
			log.Debugf("major device: failed to convert %s to uint64: %v", devs[0], err)
			numParseErrors++
			continue
		}
		minor, err := strconv.ParseUint(devs[1], 16, 64)
		if err != nil {
			log.Debugf("minor device: failed to convert %s to uint64: %v", devs[1], err)
			numParseErrors++
			continue
		}
		device := major<<8 + minor

		var path string
		var deleted bool
		if inode == 0 {
			if fields[5] != "" {
				// Ignore pseudo-files like [vdso], [heap] or [stack]
				continue
			}
		} else {
			path, deleted = trimMappingPath(fields[5])
		}

		vaddr, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			log.Debugf("vaddr: failed to convert %s to uint64: %v", addrs[0], err)
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil || vend < vaddr {
			log.Debugf("vend: failed to convert %s: %v", addrs[1], err)
			numParseErrors++
			continue
		}

		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			log.Debugf("fileOffset: failed to convert %s to uint64: %v", fields[2], err)
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     device,
			Inode:      inode,
			Path:       path,
			Deleted:    deleted,
		})
	}
	return mappings, numParseErrors, scanner.Err()
}

// GetMappings reads and parses /proc/PID/maps. The second return value
// counts lines that could not be parsed.
func GetMappings(pid libpf.PID) ([]Mapping, uint32, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, 0, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return mappings, numParseErrors, err
	}
	if len(mappings) == 0 {
		return nil, numParseErrors, ErrNoMappings
	}
	return mappings, numParseErrors, nil
}

// GetExe returns the path of the main executable as seen by the kernel.
func GetExe(pid libpf.PID) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// GetArgv0 returns the first command line argument of the process.
func GetArgv0(pid libpf.PID) (string, error) {
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	return parseArgv0(cmdline), nil
}

func parseArgv0(cmdline []byte) string {
	if end := bytes.IndexByte(cmdline, 0); end >= 0 {
		cmdline = cmdline[:end]
	}
	return string(cmdline)
}

// MainExecutablePath returns the path under which the main program is
// reported: the first command line argument when it names an existing
// regular file, and the /proc/PID/exe target otherwise.
func MainExecutablePath(pid libpf.PID) string {
	if argv0, err := GetArgv0(pid); err == nil && argv0 != "" {
		if fi, err := os.Stat(argv0); err == nil && fi.Mode().IsRegular() {
			return argv0
		}
	}
	exe, err := GetExe(pid)
	if err != nil {
		log.Debugf("Failed to read executable of PID %d: %v", pid, err)
		return ""
	}
	return exe
}
