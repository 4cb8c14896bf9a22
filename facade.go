// Package goslab implements a user-space slab allocator in the style of
// Jeff Bonwick's 1994 Solaris design: a set of named object caches backed
// by a page supplier, fronted by a size-class multiplexer (Kmem) that
// gives arbitrary-size malloc/realloc/free semantics over the caches plus
// a large-allocation passthrough.
//
// The design is carried over, file for file, from a C slab allocator
// (imembase.h — "application layer slab allocator implementation... 500%
// -1200% vs malloc") translated into the shape an mmap-backed Go
// allocator already takes: pages aligned to a configurable page size,
// slabs carved into fixed-size objects with a free-list, and a lock-light
// magazine layer absorbing the common alloc/free path without touching
// the slab lists.
package goslab

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultWatermarkPages = 16

// Config configures a Kmem instance (spec §6 init).
type Config struct {
	// PageShift sets the supplier's page size to 1<<PageShift. Zero
	// defaults to 16 (64KiB), the original allocator's IDEFAULT_PAGE_SHIFT.
	PageShift uint32
	// UseHostMalloc selects a Go-heap-backed Allocator instead of the
	// default mmap-backed one.
	UseHostMalloc bool
	// Sizes overrides the default size-class list.
	Sizes []uint64
	// Watermark sets the initial reclaim watermark, in pages. Zero
	// defaults to 16.
	Watermark uint64
}

// Kmem is the size-class multiplexer and facade described in spec §4.4:
// it owns one Supplier shared by every size-class and named cache, the
// pointer→cache reverse map, and the named-cache registry.
type Kmem struct {
	supplier *Supplier
	pageSize uint64
	table    *sizeClassTable
	registry *registry
	ptrmap   *ptrMap
	metrics  *metricsSet

	watermarkMu sync.Mutex
	watermark   uint64

	closeOnce sync.Once
}

// New builds a standalone Kmem instance per cfg. Most hosts should use the
// package-level Init/Default convenience instead; New exists for tests and
// anyone who needs more than one independent allocator (spec §9 "Global
// state... factor this as an explicit handle so tests can instantiate
// multiple independent allocators").
func New(cfg Config) (*Kmem, error) {
	pageShift := cfg.PageShift
	if pageShift == 0 {
		pageShift = 16
	}
	pageSize := 1 << pageShift

	var raw Allocator
	if cfg.UseHostMalloc {
		raw = newGoHeapAllocator()
	} else {
		raw = newMmapAllocator()
	}

	supplier, err := NewSupplier(pageSize, raw)
	if err != nil {
		return nil, err
	}

	k := &Kmem{
		supplier: supplier,
		pageSize: uint64(pageSize),
		ptrmap:   newPtrMap(),
		registry: newRegistry(),
		metrics:  newMetricsSet(),
	}

	watermark := cfg.Watermark
	if watermark == 0 {
		watermark = defaultWatermarkPages
	}
	k.watermark = watermark

	sizes := sizesForPage(cfg.Sizes, pageSize)
	classes := make([]*Cache, 0, len(sizes))
	for _, sz := range sizes {
		c, err := newCache(fmt.Sprintf("kmem-%d", sz), sz, supplier, k.ptrmap)
		if err != nil {
			return nil, err
		}
		c.SetHiwater(watermark)
		supplier.Ref()
		classes = append(classes, c)
		k.registry.register(c)
	}
	k.table = newSizeClassTable(classes)

	logger().Infow("kmem initialized", "page_size", pageSize, "classes", len(classes), "use_host_malloc", cfg.UseHostMalloc)
	return k, nil
}

// Malloc allocates size bytes, routing to the smallest size class that
// fits or, above the largest class, directly to the supplier (spec §4.4).
// Malloc(0) returns (nil, nil), matching the teacher's Malloc contract.
func (k *Kmem) Malloc(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	if c := k.table.find(size); c != nil {
		obj, err := c.Alloc()
		if err != nil {
			logger().Errorw("malloc failed", "size", size, "class", c.Name(), "error", err)
			return nil, err
		}
		return obj[:size:cap(obj)], nil
	}

	pages := (size + k.pageSize - 1) / k.pageSize
	total := pages * k.pageSize
	b, err := k.supplier.AllocBytes(int(total))
	if err != nil {
		logger().Errorw("large malloc failed", "size", size, "total", total, "error", err)
		return nil, err
	}
	base := pageBaseOf(b, int(k.pageSize))
	k.ptrmap.registerLarge(base, total)
	k.metrics.observeLargeAlloc(total)
	return b[:size:total], nil
}

// Free releases a pointer returned by Malloc, Realloc, or CacheAlloc on a
// size-class cache. Freeing nil (or any zero-capacity slice) is a no-op.
func (k *Kmem) Free(ptr []byte) error {
	full := ptr[:cap(ptr)]
	if len(full) == 0 {
		return nil
	}

	base := pageBaseOf(full, int(k.pageSize))
	e, ok := k.ptrmap.get(base)
	if !ok {
		return newErr(KindInvalidArgument, "Kmem.Free", "pointer not recognized")
	}

	if e.cache == nil {
		k.ptrmap.unregister(base)
		return k.supplier.ReleaseBytes(full)
	}
	return e.cache.Free(full)
}

// PtrSize returns the usable size of a live pointer: the owning class's
// object size, or the page-rounded total for a large allocation (spec §6
// ptr_size).
func (k *Kmem) PtrSize(ptr []byte) (uint64, error) {
	full := ptr[:cap(ptr)]
	if len(full) == 0 {
		return 0, nil
	}
	base := pageBaseOf(full, int(k.pageSize))
	e, ok := k.ptrmap.get(base)
	if !ok {
		return 0, newErr(KindNotFound, "Kmem.PtrSize", "pointer not recognized")
	}
	if e.cache != nil {
		return e.cache.ObjSize(), nil
	}
	return e.size, nil
}

// Realloc changes the usable size of ptr (spec §4.4 realloc): unchanged
// pointer if the new size still fits the current allocation, otherwise a
// fresh Malloc, copy, and Free of the old pointer.
func (k *Kmem) Realloc(ptr []byte, size uint64) ([]byte, error) {
	if cap(ptr) == 0 {
		return k.Malloc(size)
	}
	if size == 0 {
		return nil, k.Free(ptr)
	}

	oldSize, err := k.PtrSize(ptr)
	if err != nil {
		return nil, err
	}
	if size <= oldSize {
		return ptr[:size:cap(ptr)], nil
	}

	nb, err := k.Malloc(size)
	if err != nil {
		return nil, err
	}
	copy(nb, ptr)
	if err := k.Free(ptr); err != nil {
		return nil, err
	}
	return nb, nil
}

// SetWatermark configures the reclaim threshold, in pages, applied to
// every size-class and named cache (spec §6 set_watermark).
func (k *Kmem) SetWatermark(pages uint64) {
	k.watermarkMu.Lock()
	k.watermark = pages
	k.watermarkMu.Unlock()

	k.registry.each(func(c *Cache) bool {
		c.SetHiwater(pages)
		return true
	})
}

// CacheCreate creates (or, on a duplicate name, returns) a named cache of
// the given object size (spec §4.4 ikmem_create).
func (k *Kmem) CacheCreate(name string, size uint64) (*Cache, error) {
	if len(name) > cacheNameMax {
		return nil, newErr(KindInvalidArgument, "Kmem.CacheCreate", "name %q longer than %d bytes", name, cacheNameMax)
	}
	k.watermarkMu.Lock()
	watermark := k.watermark
	k.watermarkMu.Unlock()

	return k.registry.create(name, func() (*Cache, error) {
		c, err := newCache(name, size, k.supplier, k.ptrmap)
		if err != nil {
			return nil, err
		}
		c.SetHiwater(watermark)
		k.supplier.Ref()
		return c, nil
	})
}

// CacheDelete destroys a cache created by CacheCreate. It fails with a
// Busy error if any object from the cache is outstanding.
func (k *Kmem) CacheDelete(c *Cache) error {
	return k.registry.delete(c)
}

// CacheFind looks up a named cache (spec §4.4 ikmem_get).
func (k *Kmem) CacheFind(name string) (*Cache, error) {
	c, ok := k.registry.find(name)
	if !ok {
		return nil, newErr(KindNotFound, "Kmem.CacheFind", "no cache named %q", name)
	}
	return c, nil
}

// CacheAlloc and CacheFree are thin pass-throughs to a named cache's own
// Alloc/Free, matching the facade's ikmem_cache_alloc/ikmem_cache_free.
func (k *Kmem) CacheAlloc(c *Cache) ([]byte, error) { return c.Alloc() }
func (k *Kmem) CacheFree(c *Cache, ptr []byte) error { return c.Free(ptr) }

// Shrink reclaims every free slab across every registered cache, in
// parallel (each cache's reclaim is independent, per spec §5): errgroup
// fans the per-cache Shrink calls out and collects the first error.
func (k *Kmem) Shrink() error {
	var g errgroup.Group
	k.registry.each(func(c *Cache) bool {
		g.Go(c.Shrink)
		return true
	})
	return g.Wait()
}

// StatsPages returns the supplier-wide (pages_in_use, pages_new,
// pages_del) snapshot (spec §6 stats_pages).
func (k *Kmem) StatsPages() (inUse, newPages, del uint64) {
	inUse, newPages, del = k.supplier.Stats()
	k.metrics.refreshPages(inUse, newPages, del)
	return inUse, newPages, del
}

// StatsCache returns every registered cache's snapshot (spec §6
// stats_cache), in no particular order.
func (k *Kmem) StatsCache() []Stats {
	var out []Stats
	k.registry.each(func(c *Cache) bool {
		s := c.Stats()
		k.metrics.refreshCache(s)
		out = append(out, s)
		return true
	})
	return out
}

// StatsWaste returns (bytes actually occupied by live objects, total bytes
// held by the supplier) (spec §6 stats_waste). "Live" means actually held
// by a caller: objects a cache has pulled out of its slabs but that are
// currently parked, unclaimed, in a magazine (either pre-fetched ahead of
// demand, or freed but not yet drained) are excluded, the same way
// c.freeObjects tracks free slab capacity but not free magazine capacity.
// Pages of large allocations count toward total but not toward inUse.
func (k *Kmem) StatsWaste() (inUse, total uint64) {
	pagesInUse, _, _ := k.supplier.Stats()
	total = pagesInUse * k.pageSize

	k.registry.each(func(c *Cache) bool {
		s := c.Stats()
		totalSlots := (s.CountFull + s.CountPartial + s.CountFree) * c.num
		occupied := totalSlots - s.FreeObjects - c.magazineFreeCount()
		if occupied < 0 {
			occupied = 0
		}
		inUse += uint64(occupied) * s.ObjSize
		return true
	})
	return inUse, total
}

// Destroy tears the instance down. It fails with Busy if any large
// allocation or any cache with outstanding objects remains, leaving every
// cache untouched — it either fully succeeds or mutates nothing, matching
// the all-or-nothing contract Cache.destroy() already honors at the
// single-cache level. Finding the teardown blocked after having already
// released some caches' pages would leave the instance in a state a
// caller has no way to either finish or undo.
func (k *Kmem) Destroy() error {
	if k.ptrmap.hasLarge() {
		return newErr(KindBusy, "Kmem.Destroy", "large allocations still outstanding")
	}

	var caches []*Cache
	k.registry.each(func(c *Cache) bool {
		caches = append(caches, c)
		return true
	})

	for _, c := range caches {
		if c.busy() {
			return newErr(KindBusy, "Kmem.Destroy", "cache %q has outstanding objects", c.name)
		}
	}

	var firstErr error
	for _, c := range caches {
		if err := k.registry.delete(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	logger().Infow("kmem destroyed")
	return nil
}
