// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/symtrace/libpf"
)

//nolint:lll
var testMappings = `55fe82710000-55fe8273c000 r--p 00000000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8273c000-55fe827be000 r-xp 0002c000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8283d000-55fe8283e000 rw-p 0012c000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8283e000-55fe8283f000 ---p 0012d000 fd:01 1068432                    /tmp/usr_bin_seahorse
7f63c8c3e000-7f63c8de0000 r-xp 00085000 08:01 1048922                    /tmp/libcrypto.so.1.1 (deleted)
7f63c8ebf000-7f63c8fef000 r-xp 0001c000 1fd:01 1075944                   /tmp/path with spaces/libopensc.so.6
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd:01
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd.01 1075944
7f63c8eef000-7f63c8fdf000 r- 0001c000 1fd:01 1075944
7f63c8eef000 r-xp 0001c000 1fd:01 1075944
7ffd5a3f2000-7ffd5a3f4000 r-xp 00000000 00:00 0                          [vdso]
7ffd5a3c0000-7ffd5a3e1000 rw-p 00000000 00:00 0                          [stack]
7f8b929f0000-7f8b92a00000 r-xp 00000000 00:00 0 `

func TestParseMappings(t *testing.T) {
	mappings, numParseErrors, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	require.Equal(t, uint32(4), numParseErrors)

	expected := []Mapping{
		{
			Vaddr:      0x55fe82710000,
			Device:     0xfd01,
			Flags:      elf.PF_R,
			Inode:      1068432,
			Length:     0x2c000,
			FileOffset: 0,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8273c000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1068432,
			Length:     0x82000,
			FileOffset: 0x2c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8283d000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_W,
			Inode:      1068432,
			Length:     0x1000,
			FileOffset: 0x12c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x7f63c8c3e000,
			Device:     0x0801,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1048922,
			Length:     0x1A2000,
			FileOffset: 0x85000,
			Path:       "/tmp/libcrypto.so.1.1",
			Deleted:    true,
		},
		{
			Vaddr:      0x7f63c8ebf000,
			Device:     0x1fd01,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1075944,
			Length:     0x130000,
			FileOffset: 0x1c000,
			Path:       "/tmp/path with spaces/libopensc.so.6",
		},
		{
			Vaddr:  0x7f8b929f0000,
			Flags:  elf.PF_R + elf.PF_X,
			Length: 0x10000,
		},
	}
	assert.Equal(t, expected, mappings)

	assert.True(t, mappings[0].IsFileBacked())
	assert.False(t, mappings[0].IsExecutable())
	assert.True(t, mappings[1].IsExecutable())
	assert.Equal(t, uint64(0x55fe827be000), mappings[1].End())
	assert.True(t, mappings[5].IsAnonymous())
	assert.False(t, mappings[5].IsFileBacked())
}

func TestTrimMappingPath(t *testing.T) {
	tests := map[string]struct {
		path    string
		deleted bool
	}{
		"/usr/lib/libc.so.6":           {path: "/usr/lib/libc.so.6"},
		"/usr/lib/libc.so.6 (deleted)": {path: "/usr/lib/libc.so.6", deleted: true},
		"/dev/zero":                    {},
		"/dev/zero (deleted)":          {},
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			path, deleted := trimMappingPath(in)
			assert.Equal(t, want.path, path)
			assert.Equal(t, want.deleted, deleted)
		})
	}
}

func TestMappingMemFD(t *testing.T) {
	m := Mapping{Path: "/memfd:jit (deleted)", Inode: 42}
	assert.True(t, m.IsMemFD())
	assert.True(t, m.IsAnonymous())
	assert.False(t, m.IsFileBacked())
}

func TestParseArgv0(t *testing.T) {
	assert.Equal(t, "/usr/bin/demo", parseArgv0([]byte("/usr/bin/demo\x00--flag\x00")))
	assert.Equal(t, "demo", parseArgv0([]byte("demo")))
	assert.Empty(t, parseArgv0(nil))
}

func TestGetMappingsOfSelf(t *testing.T) {
	mappings, numParseErrors, err := GetMappings(libpf.SelfPID())
	require.NoError(t, err)
	require.Equal(t, uint32(0), numParseErrors)
	assert.NotEmpty(t, mappings)

	exe, err := GetExe(libpf.SelfPID())
	require.NoError(t, err)
	found := false
	for _, m := range mappings {
		if m.Path == exe {
			found = true
			break
		}
	}
	assert.True(t, found, "test binary %s not among own mappings", exe)

	path := MainExecutablePath(libpf.SelfPID())
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}
