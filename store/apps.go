// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package store

import "sync"

// appCache caches the application IDs known to a store, indexed by their
// executable paths. It can safely be accessed simultaneously by multiple go
// routines.
type appCache struct {
	m   sync.Mutex
	ids map[string]int64
}

// ID returns the application ID for the given executable path.
func (c *appCache) ID(path string) (int64, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	id, ok := c.ids[path]
	return id, ok
}

// Set adds an application to the cache.
func (c *appCache) Set(id int64, path string) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.ids == nil {
		c.ids = map[string]int64{}
	}
	c.ids[path] = id
}
