// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "go.opentelemetry.io/symtrace/symbolizer"

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"go.opentelemetry.io/symtrace/internal/log"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/libpf/freelru"
	"go.opentelemetry.io/symtrace/libpf/pfelf"
)

// symbolKey identifies a loaded symbol table. The file is identified by
// content rather than path so a replaced file is never served stale symbols.
type symbolKey struct {
	fileID libpf.FileID
	bias   libpf.SymbolValue
}

func (k symbolKey) Hash32() uint32 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], k.fileID.Hi())
	binary.LittleEndian.PutUint64(buf[8:], k.fileID.Lo())
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.bias))
	return uint32(xxh3.Hash(buf[:]))
}

func (k symbolKey) String() string {
	return fmt.Sprintf("%s@%x", k.fileID.StringNoQuotes(), uint64(k.bias))
}

// SymbolCache keeps recently loaded symbol tables so that rebuilt image maps
// do not parse the same files again. It implements imagemap.SymbolLoader.
type SymbolCache struct {
	tables *freelru.LRU[symbolKey, *libpf.SymbolMap]
	group  singleflight.Group
	load   func(path string, bias libpf.SymbolValue) *libpf.SymbolMap
}

// NewSymbolCache creates a cache holding up to size symbol tables.
func NewSymbolCache(size uint32) (*SymbolCache, error) {
	tables, err := freelru.New[symbolKey, *libpf.SymbolMap](size, symbolKey.Hash32)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol table LRU: %w", err)
	}
	return &SymbolCache{
		tables: tables,
		load:   pfelf.LoadFunctionSymbols,
	}, nil
}

// LoadSymbols returns the symbol table of path relocated by bias, from the
// cache when the same file content was loaded with the same bias before.
// Concurrent loads of the same table run once.
func (c *SymbolCache) LoadSymbols(path string, bias libpf.SymbolValue) *libpf.SymbolMap {
	fileID, err := libpf.FileIDFromExecutableFile(path)
	if err != nil {
		log.Debugf("Failed to compute file ID of %s: %v", path, err)
		return c.load(path, bias)
	}

	key := symbolKey{fileID: fileID, bias: bias}
	if symMap, ok := c.tables.Get(key); ok {
		return symMap
	}

	v, _, _ := c.group.Do(key.String(), func() (any, error) {
		symMap := c.load(path, bias)
		c.tables.Add(key, symMap)
		return symMap, nil
	})
	return v.(*libpf.SymbolMap)
}

// Len returns the number of cached tables.
func (c *SymbolCache) Len() int {
	return c.tables.Len()
}

// Purge drops all cached tables.
func (c *SymbolCache) Purge() {
	c.tables.Purge()
}

// Statistics returns and resets the cache counters.
func (c *SymbolCache) Statistics() freelru.Statistics {
	return c.tables.GetAndResetStatistics()
}
