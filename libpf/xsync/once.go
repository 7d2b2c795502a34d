// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/symtrace/libpf/xsync"

import (
	"sync"
	"sync/atomic"
)

// Once is a cell whose value is computed at most once, on first demand.
//
// The zero value is ready to use. Readers that observe the initialized state
// never take the mutex.
type Once[T any] struct {
	done atomic.Bool
	mu   sync.Mutex
	data T
}

// GetOrInit returns the cell's value, running init if no call has succeeded yet.
//
// A failing init leaves the cell empty and its error is returned; the next
// GetOrInit retries. Concurrent callers are serialized so init never runs in
// parallel with itself.
func (l *Once[T]) GetOrInit(init func() (T, error)) (*T, error) {
	if !l.done.Load() {
		// Outlined slow-path to allow inlining of the fast-path.
		return l.initSlow(init)
	}
	return &l.data, nil
}

func (l *Once[T]) initSlow(init func() (T, error)) (*T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A contending caller may have finished while we waited for the lock.
	if l.done.Load() {
		return &l.data, nil
	}

	data, err := init()
	if err != nil {
		return nil, err
	}
	l.data = data
	l.done.Store(true)
	return &l.data, nil
}

// Get returns the value if it has been initialized, or nil otherwise.
func (l *Once[T]) Get() *T {
	if !l.done.Load() {
		return nil
	}
	return &l.data
}
