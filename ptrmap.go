package goslab

import "sync"

// ptrEntry records who owns the page at a given base address: a
// size-class or named cache, or — when cache is nil — a large passthrough
// allocation, in which case size holds the page-rounded byte count
// returned by PtrSize.
type ptrEntry struct {
	cache *Cache
	size  uint64
}

// ptrMap is the pointer→cache reverse lookup of spec §3/§4.4, keyed by
// page base rather than by individual object pointer: one entry covers
// every object in a slab's page, installed once per slab (or once per
// large allocation) rather than once per object. It is protected by its
// own RWMutex, since insertions only happen on new slab creation or large
// alloc — far rarer than the lookups Free/PtrSize perform on every call.
type ptrMap struct {
	mu sync.RWMutex
	m  map[uintptr]*ptrEntry
}

func newPtrMap() *ptrMap { return &ptrMap{m: map[uintptr]*ptrEntry{}} }

func (p *ptrMap) registerCache(base uintptr, c *Cache) {
	p.mu.Lock()
	p.m[base] = &ptrEntry{cache: c}
	p.mu.Unlock()
}

func (p *ptrMap) registerLarge(base uintptr, size uint64) {
	p.mu.Lock()
	p.m[base] = &ptrEntry{size: size}
	p.mu.Unlock()
}

func (p *ptrMap) unregister(base uintptr) {
	p.mu.Lock()
	delete(p.m, base)
	p.mu.Unlock()
}

func (p *ptrMap) get(base uintptr) (*ptrEntry, bool) {
	p.mu.RLock()
	e, ok := p.m[base]
	p.mu.RUnlock()
	return e, ok
}

// hasLarge reports whether any large allocation is still outstanding,
// used by Kmem.Destroy to refuse tearing down while large blocks live.
func (p *ptrMap) hasLarge() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.m {
		if e.cache == nil {
			return true
		}
	}
	return false
}
