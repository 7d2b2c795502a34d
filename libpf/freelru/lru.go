// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package freelru wraps go-freelru with hit/miss accounting. The symbol cache
// reports these statistics through the CLI.
package freelru // import "go.opentelemetry.io/symtrace/libpf/freelru"

import (
	"sync"
	"sync/atomic"

	lru "github.com/elastic/go-freelru"
)

// LRU is a go-freelru cache with statistics, safe for concurrent use.
type LRU[K comparable, V any] struct {
	// go-freelru's LRU is not synchronized.
	mu  sync.Mutex
	lru *lru.LRU[K, V]

	hit     atomic.Uint64
	miss    atomic.Uint64
	added   atomic.Uint64
	deleted atomic.Uint64
}

// Statistics holds the counters accumulated since the last reset.
type Statistics struct {
	// Number of times for a hit of a cache entry.
	Hit uint64
	// Number of times for a miss of a cache entry.
	Miss uint64
	// Number of elements that were added to the cache.
	Added uint64
	// Number of elements that were deleted from the cache.
	Deleted uint64
}

func New[K comparable, V any](capacity uint32, hash lru.HashKeyCallback[K]) (*LRU[K, V], error) {
	cache, err := lru.New[K, V](capacity, hash)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{lru: cache}, nil
}

func (c *LRU[K, V]) Add(key K, value V) (evicted bool) {
	c.mu.Lock()
	evicted = c.lru.Add(key, value)
	c.mu.Unlock()
	if evicted {
		c.deleted.Add(1)
	}
	c.added.Add(1)
	return evicted
}

func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	value, ok = c.lru.Get(key)
	c.mu.Unlock()
	if ok {
		c.hit.Add(1)
	} else {
		c.miss.Add(1)
	}
	return value, ok
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	size := c.lru.Len()
	c.lru.Purge()
	c.mu.Unlock()
	c.deleted.Add(uint64(size))
}

// GetAndResetStatistics returns the internal statistics for this LRU and resets all values to 0.
func (c *LRU[K, V]) GetAndResetStatistics() Statistics {
	return Statistics{
		Hit:     c.hit.Swap(0),
		Miss:    c.miss.Swap(0),
		Added:   c.added.Swap(0),
		Deleted: c.deleted.Swap(0),
	}
}
