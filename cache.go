package goslab

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/skywind3000/goslab/internal/ilist"
)

const (
	minUnitSize  = 8
	cacheNameMax = 32
)

// Cache owns every slab dispensing one object size (spec §3/§4.3): three
// intrusive slab lists keyed by fill state, a rolling color offset, and a
// fixed array of magazines giving cache_alloc/cache_free a fast path that
// only takes one magazine mutex. mu is the "list_lock" guarding the slab
// lists, counters and the page→slab map; per spec §5 it is never held at
// the same time as a magazine's mutex.
type Cache struct {
	name     string
	objSize  uint64
	unitSize int
	pageSize int
	num      int

	colorNext  int
	colorLimit int

	mu           sync.Mutex
	full         ilist.List
	partial      ilist.List
	free         ilist.List
	countFull    int
	countPartial int
	countFree    int
	freeObjects  int
	freeLimit    int
	slabByPage   map[uintptr]*Slab

	pagesHiwater uint64
	pagesNew     uint64
	pagesDel     uint64
	pagesInUse   uint64

	magazines [magazineCount]*magazine
	rr        uint32

	supplier *Supplier
	ptrmap   *ptrMap
}

// newCache builds a cache of objSize-byte objects backed by supplier,
// sized per spec §4.3: unit_size rounded up to 8 bytes, num derived from
// the page size, coloring bounds from the remainder.
func newCache(name string, objSize uint64, supplier *Supplier, pm *ptrMap) (*Cache, error) {
	if len(name) > cacheNameMax {
		return nil, newErr(KindInvalidArgument, "newCache", "name %q longer than %d bytes", name, cacheNameMax)
	}

	pageSize := supplier.PageSize()
	unitSize := roundup(maxInt(int(objSize), minUnitSize), 8)
	num := pageSize / unitSize
	if num < 1 {
		return nil, newErr(KindInvalidArgument, "newCache", "object size %d too large for page size %d", objSize, pageSize)
	}
	colorLimit := pageSize % unitSize

	limit := num * 4
	if limit > magazineArrayLimit {
		limit = magazineArrayLimit
	}
	if limit < 1 {
		limit = 1
	}
	batchcount := num / 2
	if batchcount < 1 {
		batchcount = 1
	}
	if batchcount > limit {
		batchcount = limit
	}

	c := &Cache{
		name:       name,
		objSize:    objSize,
		unitSize:   unitSize,
		pageSize:   pageSize,
		num:        num,
		colorLimit: colorLimit,
		freeLimit:  batchcount * magazineCount,
		slabByPage: map[uintptr]*Slab{},
		supplier:   supplier,
		ptrmap:     pm,
	}
	for i := range c.magazines {
		c.magazines[i] = newMagazine(limit, batchcount)
	}
	return c, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Name returns the cache's identifier.
func (c *Cache) Name() string { return c.name }

// ObjSize returns the user-requested object size for this cache.
func (c *Cache) ObjSize() uint64 { return c.objSize }

func (c *Cache) pickMagazine() *magazine {
	idx := atomic.AddUint32(&c.rr, 1) % magazineCount
	return c.magazines[idx]
}

// Alloc returns one object (spec §4.3 cache_alloc): the magazine fast
// path on a hit, else a refill from the slab lists (creating slabs via
// the page supplier as needed).
func (c *Cache) Alloc() ([]byte, error) {
	mag := c.pickMagazine()
	if obj, ok := mag.pop(); ok {
		return obj, nil
	}

	batch, err := c.refill(mag.batchcount)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, newErr(KindOutOfMemory, "Cache.Alloc", "cache %q exhausted", c.name)
	}

	obj := batch[len(batch)-1]
	mag.fill(batch[:len(batch)-1])
	return obj, nil
}

// Free returns one object (spec §4.3 cache_free): pushed to the magazine
// on the fast path, else the magazine is drained batchcount objects at a
// time back to the owning slabs.
func (c *Cache) Free(obj []byte) error {
	mag := c.pickMagazine()
	if mag.tryPush(obj) {
		return nil
	}

	drained := mag.drain(mag.batchcount)
	if err := c.returnToSlabs(drained); err != nil {
		return err
	}
	if !mag.tryPush(obj) {
		// Another goroutine refilled the magazine between the drain and
		// this push; fall back to returning obj directly rather than
		// looping indefinitely.
		return c.returnToSlabs([][]byte{obj})
	}
	return nil
}

// refill gathers up to n objects from the partial/free slab lists,
// creating new slabs from the supplier as needed, under c.mu. It never
// holds a magazine's mutex while holding c.mu (spec §5 lock ordering).
func (c *Cache) refill(n int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make([][]byte, 0, n)
	for len(batch) < n {
		sl := c.pickAllocSlabLocked()
		if sl == nil {
			sl2, err := c.newSlabLocked()
			if err != nil {
				if len(batch) > 0 {
					break
				}
				return nil, err
			}
			sl = sl2
		}

		obj, ok := sl.AllocOne()
		if !ok {
			continue
		}
		c.afterAllocLocked(sl)
		c.freeObjects--
		batch = append(batch, obj)
	}
	return batch, nil
}

func (c *Cache) pickAllocSlabLocked() *Slab {
	if it := c.partial.Front(); it != nil {
		return it.(*Slab)
	}
	if it := c.free.Front(); it != nil {
		return it.(*Slab)
	}
	return nil
}

func (c *Cache) newSlabLocked() (*Slab, error) {
	page, err := c.supplier.Acquire()
	if err != nil {
		return nil, err
	}

	sl := newSlab(page, c.colorNext, c.unitSize, c.num)
	c.colorNext = (c.colorNext + c.unitSize) % (c.colorLimit + 1)

	c.free.PushBack(sl)
	c.countFree++
	base := pageBaseOf(page, c.pageSize)
	c.slabByPage[base] = sl
	c.ptrmap.registerCache(base, c)

	c.pagesNew++
	c.pagesInUse++
	c.freeObjects += c.num
	return sl, nil
}

func (c *Cache) afterAllocLocked(sl *Slab) {
	switch sl.state {
	case stateFree:
		c.free.Remove(sl)
		c.countFree--
		if sl.IsFull() {
			sl.state = stateFull
			c.full.PushBack(sl)
			c.countFull++
		} else {
			sl.state = statePartial
			c.partial.PushBack(sl)
			c.countPartial++
		}
	case statePartial:
		if sl.IsFull() {
			c.partial.Remove(sl)
			c.countPartial--
			sl.state = stateFull
			c.full.PushBack(sl)
			c.countFull++
		}
	}
}

func (c *Cache) afterFreeLocked(sl *Slab) {
	switch sl.state {
	case stateFull:
		c.full.Remove(sl)
		c.countFull--
		if sl.IsEmpty() {
			sl.state = stateFree
			c.free.PushBack(sl)
			c.countFree++
		} else {
			sl.state = statePartial
			c.partial.PushBack(sl)
			c.countPartial++
		}
	case statePartial:
		if sl.IsEmpty() {
			c.partial.Remove(sl)
			c.countPartial--
			sl.state = stateFree
			c.free.PushBack(sl)
			c.countFree++
		}
	}
}

// returnToSlabs batch-returns objs to their owning slabs under c.mu,
// migrating slab state and releasing pages to the supplier once the
// watermark is crossed (spec §4.3 step 4). freeLimit gates the watermark
// check itself: a cache sitting below its soft cap on retained free
// capacity keeps its pages rather than releasing and immediately
// re-acquiring them on the next refill (spec §9's free_limit/watermark
// open question).
func (c *Cache) returnToSlabs(objs [][]byte) error {
	if len(objs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, obj := range objs {
		base := pageBaseOf(obj, c.pageSize)
		sl, ok := c.slabByPage[base]
		if !ok {
			return newErr(KindInvalidArgument, "Cache.Free", "pointer not owned by cache %q", c.name)
		}
		idx := sl.SlotIndex(obj)
		if err := sl.FreeOne(idx); err != nil {
			logger().Errorw("double free detected", "cache", c.name, "slot", idx)
			return err
		}
		c.afterFreeLocked(sl)
		c.freeObjects++

		if sl.state == stateFree && c.freeObjects > c.freeLimit &&
			uint64(c.countFree)*uint64(c.pageSize) > c.pagesHiwater {
			if err := c.releaseSlabLocked(sl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cache) releaseSlabLocked(sl *Slab) error {
	c.free.Remove(sl)
	c.countFree--
	base := pageBaseOf(sl.page, c.pageSize)
	delete(c.slabByPage, base)
	c.ptrmap.unregister(base)
	c.freeObjects -= sl.num

	err := c.supplier.Release(sl.page)
	c.pagesInUse--
	c.pagesDel++
	return err
}

// Shrink reclaims everything it can: first every magazine is drained back
// to its owning slabs (mirroring kmem_reap's magazine pass — a magazine
// holds objects the cache layer still considers allocated even once the
// caller has freed them, so skipping this step would leave slabs pinned
// and under-report how much memory Shrink actually gives back), then
// every now-free slab's page is released to the supplier (spec §4.3
// "shrink"), resetting count_free to 0.
func (c *Cache) Shrink() error {
	var errs error
	for _, m := range c.magazines {
		if err := c.returnToSlabs(m.drainAll()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var slabs []*Slab
	c.free.Each(func(it ilist.Item) bool {
		slabs = append(slabs, it.(*Slab))
		return true
	})

	for _, sl := range slabs {
		if err := c.releaseSlabLocked(sl); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		logger().Warnw("shrink encountered errors", "cache", c.name, "error", errs)
	}
	return errs
}

// busy reports whether any object of the cache is still held by a caller:
// slab capacity that is neither free in its slab nor parked in a magazine.
// This is the same condition destroy() refuses to tear down over. It
// mutates nothing, so a caller tearing down several caches can check all
// of them for busy-ness before destroying any of them.
func (c *Cache) busy() bool {
	parked := c.magazineFreeCount()
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := (c.countFull + c.countPartial + c.countFree) * c.num
	return slots-c.freeObjects-parked > 0
}

// destroy tears the cache down if it has no outstanding objects (spec
// §4.3 "Destroy"): objects parked in magazines are returned to their
// slabs, then every slab is released and the supplier ref dropped.
func (c *Cache) destroy() error {
	if c.busy() {
		return newErr(KindBusy, "Cache.Destroy", "cache %q has outstanding objects", c.name)
	}

	for _, m := range c.magazines {
		if err := c.returnToSlabs(m.drainAll()); err != nil {
			return err
		}
	}

	c.mu.Lock()
	var slabs []*Slab
	c.free.Each(func(it ilist.Item) bool {
		slabs = append(slabs, it.(*Slab))
		return true
	})
	var errs error
	for _, sl := range slabs {
		if err := c.releaseSlabLocked(sl); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	c.mu.Unlock()

	c.supplier.Unref()
	return errs
}

// SetHiwater configures the reclaim watermark from a count of pages,
// stored as bytes of free-slab capacity (pages*page_size). A just-emptied
// slab is released once count_free*page_size exceeds it and freeObjects
// exceeds freeLimit (see returnToSlabs).
func (c *Cache) SetHiwater(pages uint64) {
	c.mu.Lock()
	c.pagesHiwater = pages * uint64(c.pageSize)
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of a cache's bookkeeping (spec §4.3
// "Reporting").
type Stats struct {
	Name         string
	ObjSize      uint64
	CountFull    int
	CountPartial int
	CountFree    int
	FreeObjects  int
	PagesNew     uint64
	PagesDel     uint64
	PagesInUse   uint64
}

// Stats returns a readable snapshot under the list lock.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:         c.name,
		ObjSize:      c.objSize,
		CountFull:    c.countFull,
		CountPartial: c.countPartial,
		CountFree:    c.countFree,
		FreeObjects:  c.freeObjects,
		PagesNew:     c.pagesNew,
		PagesDel:     c.pagesDel,
		PagesInUse:   c.pagesInUse,
	}
}

// magazineFreeCount sums the objects currently parked, unclaimed, across
// every magazine: capacity the cache has pulled out of its slabs but that
// no caller actually holds, whether pre-fetched by a refill or pushed back
// by a Free that never drained. Callers computing true live-object usage
// (e.g. Kmem.StatsWaste) must exclude this count, the same way Shrink
// excludes it by draining the magazines first.
func (c *Cache) magazineFreeCount() int {
	n := 0
	for _, m := range c.magazines {
		n += m.len()
	}
	return n
}
