package goslab

import "github.com/cznic/mathutil"

// defaultSizes are the power-of-two-ish size classes spec §4.4 lists as
// the default, before filtering out anything too large for the page size.
var defaultSizes = []uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384}

// sizeClassTable is the fixed, ordered sequence of (threshold, cache)
// entries spec §3/§4.4 describes: requests at or below the last threshold
// map to the smallest cache whose obj_size covers them; anything larger
// takes the large passthrough path.
//
// byBitLen mirrors the teacher's own Allocator.lists/pages, which are
// indexed directly by mathutil.BitLen(size-1) rather than scanned: when
// every configured class happens to be an exact power of two (the default
// list, and any custom list a caller bothers to keep that way), find can
// skip straight to the right class instead of walking the slice.
type sizeClassTable struct {
	classes  []*Cache // ascending by ObjSize
	byBitLen map[uint]*Cache
}

func newSizeClassTable(classes []*Cache) *sizeClassTable {
	t := &sizeClassTable{classes: classes, byBitLen: map[uint]*Cache{}}
	for _, c := range classes {
		sz := c.ObjSize()
		if sz == 0 || sz&(sz-1) != 0 { // not a power of two: find scans instead
			t.byBitLen = map[uint]*Cache{}
			break
		}
		t.byBitLen[uint(mathutil.BitLenUint64(sz-1))] = c
	}
	return t
}

// find returns the smallest cache with ObjSize >= size, or nil if size
// exceeds every class (the large-allocation path applies).
func (t *sizeClassTable) find(size uint64) *Cache {
	if size != 0 {
		if c, ok := t.byBitLen[uint(mathutil.BitLenUint64(size-1))]; ok {
			return c
		}
	}
	for _, c := range t.classes {
		if c.ObjSize() >= size {
			return c
		}
	}
	return nil
}

func (t *sizeClassTable) largest() uint64 {
	if len(t.classes) == 0 {
		return 0
	}
	return t.classes[len(t.classes)-1].ObjSize()
}

// sizesForPage filters the requested size classes down to those a cache
// can actually serve: spec §4.3 routes anything >= page_size/2 to the
// large path instead of creating such a cache.
func sizesForPage(sizes []uint64, pageSize int) []uint64 {
	if len(sizes) == 0 {
		sizes = defaultSizes
	}
	threshold := uint64(pageSize / 2)
	out := make([]uint64, 0, len(sizes))
	for _, s := range sizes {
		if s < threshold {
			out = append(out, s)
		}
	}
	return out
}
