package geocode

import (
	"context"
	"sync"

	"github.com/sells-group/geocluster/internal/geo"
)

// Cache stores resolved coordinates keyed by LocationQuery.Key. Entries never
// expire; Clear wipes the whole store.
type Cache interface {
	Get(ctx context.Context, key string) (geo.Coordinate, bool, error)
	Put(ctx context.Context, key string, c geo.Coordinate) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryCache is a process-local Cache. State is lost on exit.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]geo.Coordinate
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]geo.Coordinate)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (geo.Coordinate, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, key string, v geo.Coordinate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = v
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]geo.Coordinate)
	return nil
}

// Len implements Cache.
func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m), nil
}
