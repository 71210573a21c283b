// Package router implements the Service Router Cache: maps
// a service name to a pre-built sub-router, created lazily on first
// use and evicted by the Reload Supervisor on config change.
package router

import (
	"fmt"
	"sync"

	"github.com/compozy/mcpgate/internal/gateconfig"
	"github.com/compozy/mcpgate/internal/gateerr"
)

// NewRouterFunc builds a fresh ServiceRouter for a named, resolved
// ServerEntry.
type NewRouterFunc func(service string, entry *gateconfig.ServerEntry) *ServiceRouter

// Cache is keyed by service name. It also owns the single
// consistent config snapshot: readers and the Reload
// Supervisor share it under one RWMutex so a lookup never observes an
// intermediate state where the new config is installed but a stale
// router for a changed entry remains.
type Cache struct {
	mu        sync.RWMutex
	snapshot  *gateconfig.Config
	routers   map[string]*ServiceRouter
	newRouter NewRouterFunc
}

// NewCache builds a Cache over the initial config snapshot.
func NewCache(initial *gateconfig.Config, newRouter NewRouterFunc) *Cache {
	return &Cache{
		snapshot:  initial,
		routers:   make(map[string]*ServiceRouter),
		newRouter: newRouter,
	}
}

// Snapshot returns the current config snapshot.
func (c *Cache) Snapshot() *gateconfig.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Get resolves service to its ServiceRouter, building and caching one
// on a miss.
func (c *Cache) Get(service string) (*ServiceRouter, error) {
	c.mu.RLock()
	if r, ok := c.routers[service]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	entry, ok := c.snapshot.Servers[service]
	c.mu.RUnlock()
	if !ok {
		return nil, gateerr.New(gateerr.NotFound, "router.get", fmt.Errorf("service %s not found", service))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.routers[service]; ok { // double-checked: another writer beat us
		return r, nil
	}
	// Re-read under the write lock: a Reload may have swapped the
	// snapshot since the read-locked lookup above.
	entry, ok = c.snapshot.Servers[service]
	if !ok {
		return nil, gateerr.New(gateerr.NotFound, "router.get", fmt.Errorf("service %s not found", service))
	}
	r := c.newRouter(service, entry)
	c.routers[service] = r
	return r, nil
}

// Reload swaps in next and evicts every cache entry that is either
// absent from next or whose ServerEntry changed. It returns the
// evicted service names.
func (c *Cache) Reload(next *gateconfig.Config) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.snapshot
	var evicted []string
	for name := range c.routers {
		newEntry, stillPresent := next.Servers[name]
		oldEntry := prev.Servers[name]
		if !stillPresent || !newEntry.Equal(oldEntry) {
			delete(c.routers, name)
			evicted = append(evicted, name)
		}
	}
	c.snapshot = next
	return evicted
}
