// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "go.opentelemetry.io/symtrace/symbolizer"

import (
	"go.opentelemetry.io/symtrace/imagemap"
	"go.opentelemetry.io/symtrace/libpf/xsync"
)

// ModuleCache memoizes the image map of the calling process. The map goes
// stale when libraries are loaded or unloaded; call Invalidate afterwards.
type ModuleCache struct {
	build  func() imagemap.Map
	images xsync.RWMutex[imagemap.Map]
}

// NewModuleCache returns a cache that calls build on first use and after
// every Invalidate.
func NewModuleCache(build func() imagemap.Map) *ModuleCache {
	return &ModuleCache{
		build:  build,
		images: xsync.NewRWMutex[imagemap.Map](nil),
	}
}

// Images returns the cached map, building it if necessary.
func (c *ModuleCache) Images() imagemap.Map {
	images := c.images.RLock()
	m := *images
	c.images.RUnlock(&images)
	if m != nil {
		return m
	}

	images = c.images.WLock()
	defer c.images.WUnlock(&images)
	if *images == nil {
		m = c.build()
		if m == nil {
			m = imagemap.Map{}
		}
		*images = m
	}
	return *images
}

// Invalidate drops the cached map. Maps handed out earlier stay usable.
func (c *ModuleCache) Invalidate() {
	images := c.images.WLock()
	*images = nil
	c.images.WUnlock(&images)
}
