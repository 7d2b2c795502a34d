// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/symtrace/libpf/xsync"

import "sync"

// RWMutex wraps sync.RWMutex and hides the guarded value behind it, so the
// value can only be reached by taking the lock.
//
//	type cache struct {
//		images xsync.RWMutex[map[string]*Image]
//	}
//
//	func (c *cache) lookup(path string) *Image {
//		images := c.images.RLock()
//		defer c.images.RUnlock(&images)
//		return (*images)[path]
//	}
//
// The unlock methods nil out the caller's pointer, so a use after unlock
// crashes in tests instead of racing silently.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex guarding the given value.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{
		guarded: guarded,
	}
}

// RLock locks the mutex for reading, returning a pointer to the protected data.
//
// The caller must not write through the returned pointer, and must not keep
// it beyond the matching RUnlock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock unlocks the mutex after previously being locked by RLock.
//
// Pass a reference to the pointer returned from RLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks the mutex for writing, returning a pointer to the protected data.
//
// The caller must not keep the returned pointer beyond the matching WUnlock.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock unlocks the mutex after previously being locked by WLock.
//
// Pass a reference to the pointer returned from WLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
