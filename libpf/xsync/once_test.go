// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/symtrace/libpf/xsync"
)

func TestOnceRetriesAfterError(t *testing.T) {
	attempt := 0 // intentionally not atomic, init is serialized
	once := xsync.Once[[]string]{}
	errNotYet := errors.New("not yet")
	numOk := atomic.Uint32{}
	wg := sync.WaitGroup{}

	assert.Nil(t, once.Get())

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := once.GetOrInit(func() ([]string, error) {
				if attempt == 3 {
					time.Sleep(25 * time.Millisecond)
					return []string{"main", "helper"}, nil
				}
				attempt++
				return nil, errNotYet
			})

			switch {
			case errors.Is(err, errNotYet):
				assert.Nil(t, val)
			case err == nil:
				numOk.Add(1)
				assert.Equal(t, []string{"main", "helper"}, *val)
			default:
				assert.Fail(t, "unreachable")
			}
		}()
	}

	wg.Wait()
	require.NotNil(t, once.Get())
	assert.Equal(t, []string{"main", "helper"}, *once.Get())
	assert.Equal(t, uint32(32-3), numOk.Load())
}

func TestOnceRunsInitOnce(t *testing.T) {
	var calls atomic.Uint32
	once := xsync.Once[int]{}
	wg := sync.WaitGroup{}

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := once.GetOrInit(func() (int, error) {
				calls.Add(1)
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, *val)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(1), calls.Load())
	first := once.Get()
	second, err := once.GetOrInit(func() (int, error) { return 0, errors.New("unused") })
	require.NoError(t, err)
	assert.Same(t, first, second)
}
