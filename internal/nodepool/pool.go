// Package nodepool implements a handle-table node pool, grounded in the
// IMEMNODE/IVECTOR facility of the original C slab allocator
// (imembase.h). The original header treats it as an independent facility
// not used by the slab core itself; here it backs the named-cache
// registry, handing out stable, reusable integer handles for caches
// created through Kmem.CacheCreate.
package nodepool

import "sync"

// Pool hands out integer handles for values of type T, with O(1) reuse via
// an internal free-index stack — the same contract as IMEMNODE's
// node_free list, minus the fixed node_max ceiling: Pool grows its backing
// slice by append, mirroring IVECTOR's doubling growth.
type Pool[T any] struct {
	mu    sync.Mutex
	slots []*T
	free  []int
	live  int
}

// New returns an empty, ready to use pool.
func New[T any]() *Pool[T] { return &Pool[T]{} }

// Alloc stores v and returns a handle that Get will return it for until
// the handle is freed.
func (p *Pool[T]) Alloc(v *T) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[h] = v
		p.live++
		return h
	}

	p.slots = append(p.slots, v)
	p.live++
	return len(p.slots) - 1
}

// Free releases handle, making it eligible for reuse by a later Alloc.
// Freeing an already-free or out-of-range handle is a no-op.
func (p *Pool[T]) Free(handle int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if handle < 0 || handle >= len(p.slots) || p.slots[handle] == nil {
		return
	}
	p.slots[handle] = nil
	p.free = append(p.free, handle)
	p.live--
}

// Get returns the value stored at handle, or nil if it is unallocated or
// out of range.
func (p *Pool[T]) Get(handle int) *T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if handle < 0 || handle >= len(p.slots) {
		return nil
	}
	return p.slots[handle]
}

// Len returns the number of live (allocated) handles.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Each calls f for every live handle, in handle order, stopping early if f
// returns false.
func (p *Pool[T]) Each(f func(handle int, v *T) bool) {
	p.mu.Lock()
	slots := append([]*T(nil), p.slots...)
	p.mu.Unlock()

	for h, v := range slots {
		if v == nil {
			continue
		}
		if !f(h, v) {
			return
		}
	}
}
