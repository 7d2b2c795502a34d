// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package stacktrace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/symtrace/symbolizer"
)

//go:noinline
func captureHere(maxFrames int) Snapshot {
	return Capture(maxFrames)
}

func newSymbolizer(t *testing.T) *symbolizer.Symbolizer {
	sym, err := symbolizer.New(symbolizer.DefaultConfig())
	require.NoError(t, err)
	return sym
}

func TestCaptureBounds(t *testing.T) {
	s := captureHere(0)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Addresses())

	s = captureHere(-3)
	assert.Equal(t, 0, s.Len())

	s = captureHere(1)
	assert.Equal(t, 1, s.Len())

	s = captureHere(1000)
	assert.LessOrEqual(t, s.Len(), MaxFrames)
	assert.Greater(t, s.Len(), 1)
}

func TestFrames(t *testing.T) {
	sym := newSymbolizer(t)
	s := captureHere(4)
	require.Positive(t, s.Len())

	frames := s.Frames(sym)
	require.Len(t, frames, s.Len())
	addrs := s.Addresses()
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, addrs[i], f.AbsAddr)
		assert.NotEmpty(t, f.Module)
	}
	require.GreaterOrEqual(t, len(frames), 2)
	require.True(t, frames[0].HasSymbol)
	assert.Contains(t, frames[0].Function, "captureHere")
	require.True(t, frames[1].HasSymbol)
	assert.Contains(t, frames[1].Function, "TestFrames")

	raw := s.RawFrames(sym)
	require.Len(t, raw, s.Len())
	for i, f := range raw {
		assert.Equal(t, i, f.Index)
		assert.True(t, f.HasSymbol)
		assert.Equal(t, frames[i].Module, f.Module)
	}
}

func TestPrint(t *testing.T) {
	sym := newSymbolizer(t)
	s := captureHere(3)

	var buf bytes.Buffer
	require.NoError(t, s.Print(&buf, sym))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, s.Len())
	assert.True(t, strings.HasPrefix(lines[0], "[0] "), lines[0])
	assert.Contains(t, lines[0], " in ")
	assert.True(t, strings.HasSuffix(lines[0], ")"), lines[0])
}
