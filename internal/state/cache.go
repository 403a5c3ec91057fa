package state

import (
	"sync"

	"statecraft.ai/internal/vars"
)

// Cache is the local mirror of the authority's tree. Reads are safe from any
// goroutine; all mutation is routed through the engine so the mirror cannot
// diverge silently.
type Cache struct {
	mu   sync.RWMutex
	root *vars.Value
}

func NewCache() *Cache {
	return &Cache{root: vars.NewObject()}
}

// Get returns a deep copy of the value at path, so callers can hold results
// across later commits.
func (c *Cache) Get(path string) (*vars.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := vars.GetPath(c.root, path)
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Root returns a deep copy of the whole tree.
func (c *Cache) Root() *vars.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root.Clone()
}

// TopKeys lists the non-metadata top-level keys.
func (c *Cache) TopKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root.Keys()
}

// Snapshot captures the tree and its top-level key set for the integrity
// guard. Snapshots are never persisted.
type Snapshot struct {
	Tree    *vars.Value
	TopKeys []string
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Tree: c.root.Clone(), TopKeys: c.root.Keys()}
}

// setPath and the replace/reset methods below are engine-internal; outside
// the package the cache is read-only.

func (c *Cache) setPath(path string, v *vars.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return vars.SetPath(c.root, path, v)
}

func (c *Cache) replace(root *vars.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if root.IsObject() {
		c.root = root
	} else {
		c.root = vars.NewObject()
	}
}

func (c *Cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = vars.NewObject()
}
