// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"debug/elf"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/symtrace/imagemap"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/symbolizer"
	"go.opentelemetry.io/symtrace/testsupport"
)

func run(t *testing.T, args ...string) (exitCode, string) {
	t.Helper()
	var out bytes.Buffer
	code := mainWithExitCode(args, &out)
	return code, out.String()
}

func symbolsFixture(t *testing.T) string {
	return (&testsupport.ELFBuilder{
		Type: elf.ET_DYN,
		Symbols: []testsupport.ELFSymbol{
			{Name: "_ZN2ns3addEii", Value: 0x1200},
			{Name: "bar", Value: 0x1130},
			{Name: "table", Value: 0x1300, Type: elf.STT_OBJECT},
		},
	}).WriteFile(t, "libfixture.so")
}

func TestParseAddresses(t *testing.T) {
	addrs, err := parseAddresses([]string{"0x401133", "7f0000001135", "0XFF"})
	require.NoError(t, err)
	assert.Equal(t, []libpf.Address{0x401133, 0x7f0000001135, 0xff}, addrs)

	_, err = parseAddresses([]string{"0x"})
	require.Error(t, err)
	_, err = parseAddresses([]string{"main"})
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	code, out := run(t, "-version")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "dev\n", out)
}

func TestInvalidDemangleMode(t *testing.T) {
	code, _ := run(t, "-demangle", "pretty", "trace")
	assert.Equal(t, exitParseError, code)

	t.Setenv("SYMTRACE_DEMANGLE", "pretty")
	code, _ = run(t, "trace")
	assert.Equal(t, exitParseError, code)
}

func TestSymbolsCommand(t *testing.T) {
	path := symbolsFixture(t)

	code, out := run(t, "symbols", "-bias", "0x1000", path)
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, "0000000000002130 bar\n0000000000002200 ns::add(int, int)\n", out)

	code, _ = run(t, "symbols")
	assert.Equal(t, exitFailure, code)
}

func TestConfigFile(t *testing.T) {
	path := symbolsFixture(t)
	config := filepath.Join(t.TempDir(), "symtrace.conf")
	require.NoError(t, os.WriteFile(config, []byte("demangle none\n"), 0o600))

	code, out := run(t, "-config", config, "symbols", path)
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, "0000000000001130 bar\n0000000000001200 _ZN2ns3addEii\n", out)
}

func TestResolveCommand(t *testing.T) {
	pc := reflect.ValueOf(TestResolveCommand).Pointer()

	code, out := run(t, "resolve", "-json", fmt.Sprintf("%x", pc), "1")
	require.Equal(t, exitSuccess, code)
	var frames []symbolizer.Frame
	require.NoError(t, json.Unmarshal([]byte(out), &frames))
	require.Len(t, frames, 2)
	assert.Equal(t, libpf.Address(pc), frames[0].AbsAddr)
	assert.NotEmpty(t, frames[0].Module)
	assert.Equal(t, 1, frames[1].Index)
	assert.False(t, frames[1].HasSymbol)

	code, out = run(t, "resolve", "-raw", fmt.Sprintf("0x%x", pc))
	require.Equal(t, exitSuccess, code)
	assert.True(t, strings.HasPrefix(out, "[0] "), out)

	code, _ = run(t, "resolve")
	assert.Equal(t, exitFailure, code)
	code, _ = run(t, "resolve", "zz")
	assert.Equal(t, exitFailure, code)
}

func TestModulesCommand(t *testing.T) {
	code, out := run(t, "modules", "-json", "-pid", fmt.Sprint(os.Getpid()))
	require.Equal(t, exitSuccess, code)
	var infos []moduleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.NotEmpty(t, info.Path)
		assert.NotZero(t, info.Size)
	}

	code, out = run(t, "modules")
	require.Equal(t, exitSuccess, code)
	assert.True(t, strings.HasPrefix(out, "BASE"), out)
}

func TestDescribeDeletedImage(t *testing.T) {
	path := symbolsFixture(t)
	img := imagemap.NewImage(path, 0x7f0000000000, 0x4000, 0x7f0000000000, nil)
	img.Deleted = true

	info := describeImage(img, true)
	assert.True(t, info.Deleted)
	assert.Equal(t, elf.ET_NONE.String(), info.Type)
	assert.Empty(t, info.FileID)
	assert.Zero(t, info.NumSymbols)
	assert.False(t, info.Relocatable)

	info = describeImage(imagemap.NewImage(path, 0x7f0000000000, 0x4000, 0x7f0000000000, nil),
		true)
	assert.False(t, info.Deleted)
	assert.Equal(t, elf.ET_DYN.String(), info.Type)
	assert.NotEmpty(t, info.FileID)
	assert.Equal(t, 2, info.NumSymbols)
	assert.True(t, info.Relocatable)
}

func TestTraceCommand(t *testing.T) {
	code, out := run(t, "trace", "-max", "4")
	require.Equal(t, exitSuccess, code)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "[0] "), lines[0])

	code, _ = run(t, "trace", "-max", "33")
	assert.Equal(t, exitFailure, code)
}
