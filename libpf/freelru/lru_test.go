// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package freelru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashString(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func TestLRUStatistics(t *testing.T) {
	cache, err := New[string, int](2, hashString)
	require.NoError(t, err)

	cache.Add("libc.so.6", 1)
	cache.Add("libm.so.6", 2)

	v, ok := cache.Get("libc.so.6")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = cache.Get("ld-linux-x86-64.so.2")
	assert.False(t, ok)

	// Capacity is two, so the least recently used entry goes.
	assert.True(t, cache.Add("libpthread.so.0", 3))
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("libm.so.6")
	assert.False(t, ok)

	stats := cache.GetAndResetStatistics()
	assert.Equal(t, Statistics{Hit: 1, Miss: 2, Added: 3, Deleted: 1}, stats)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, Statistics{Deleted: 2}, cache.GetAndResetStatistics())
}
