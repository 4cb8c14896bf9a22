package goslab

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/skywind3000/goslab/internal/nodepool"
)

// registry is the global named-cache directory (spec §3 "global intrusive
// cache registry" / §4.4 ikmem_create/ikmem_get/ikmem_delete). Handles are
// backed by nodepool, the Go stand-in for the original IMEMNODE handle
// table; name uniqueness is resolved via singleflight so concurrent
// duplicate CacheCreate calls race onto a single winner instead of each
// attempting construction, which directly answers spec §9's open question
// about duplicate-name semantics: the existing cache is always returned.
type registry struct {
	mu      sync.RWMutex
	pool    *nodepool.Pool[Cache]
	byName  map[string]int
	creates singleflight.Group
}

func newRegistry() *registry {
	return &registry{
		pool:   nodepool.New[Cache](),
		byName: map[string]int{},
	}
}

// register adds an already-constructed cache (used for the built-in
// size-class array) to the registry under its own name.
func (r *registry) register(c *Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.pool.Alloc(c)
	r.byName[c.name] = h
}

// create returns the cache named name, creating it via newFn if it does
// not yet exist. A duplicate name returns the existing cache.
func (r *registry) create(name string, newFn func() (*Cache, error)) (*Cache, error) {
	if c, ok := r.find(name); ok {
		return c, nil
	}

	v, err, _ := r.creates.Do(name, func() (interface{}, error) {
		if c, ok := r.find(name); ok {
			return c, nil
		}
		c, err := newFn()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		h := r.pool.Alloc(c)
		r.byName[name] = h
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cache), nil
}

func (r *registry) find(name string) (*Cache, bool) {
	r.mu.RLock()
	h, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.pool.Get(h), true
}

// delete destroys c and, if it succeeds, removes it from the registry.
func (r *registry) delete(c *Cache) error {
	if err := c.destroy(); err != nil {
		return err
	}

	r.mu.Lock()
	if h, ok := r.byName[c.name]; ok {
		delete(r.byName, c.name)
		r.pool.Free(h)
	}
	r.mu.Unlock()
	return nil
}

// each calls f for every registered cache.
func (r *registry) each(f func(*Cache) bool) {
	r.pool.Each(func(_ int, c *Cache) bool { return f(c) })
}

func (r *registry) len() int { return r.pool.Len() }
