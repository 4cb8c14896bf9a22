package goslab

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// minPageSize is the smallest page size a Supplier accepts (spec §4.1:
// "page_size must be a power of two >= 4096").
const minPageSize = 4096

// Supplier is the wholesale, reference-counted page source described in
// spec §3/§4.1. It hands out page_size-aligned blocks built on top of an
// injected Allocator, over-allocating and trimming when the Allocator
// cannot itself guarantee alignment (the teacher's mmap path happens to be
// OS-page aligned already; Go's heap allocator is not, so this path is what
// makes the "use_host_malloc" option safe for any page size).
type Supplier struct {
	mu       sync.Mutex
	pageSize int
	alloc    Allocator
	refcnt   int32

	pagesInUse uint64
	pagesNew   uint64
	pagesDel   uint64

	// orig maps an aligned block's base address back to the full,
	// possibly larger, slice obtained from alloc, so it can be freed.
	orig map[uintptr][]byte
}

// NewSupplier builds a page supplier of the given page size over alloc.
// pageSize must be a power of two >= 4096.
func NewSupplier(pageSize int, alloc Allocator) (*Supplier, error) {
	if pageSize < minPageSize || pageSize&(pageSize-1) != 0 {
		return nil, newErr(KindInvalidArgument, "NewSupplier", "page size %d must be a power of two >= %d", pageSize, minPageSize)
	}
	return &Supplier{pageSize: pageSize, alloc: alloc, orig: map[uintptr][]byte{}}, nil
}

// PageSize returns the supplier's fixed page size.
func (s *Supplier) PageSize() int { return s.pageSize }

// Ref increments the count of caches sharing this supplier.
func (s *Supplier) Ref() { atomic.AddInt32(&s.refcnt, 1) }

// Unref decrements the count of caches sharing this supplier and returns
// the resulting value. Callers may destroy the supplier once it reaches 0.
func (s *Supplier) Unref() int32 { return atomic.AddInt32(&s.refcnt, -1) }

// Acquire returns one page_size-aligned page, incrementing pages_in_use
// and pages_new.
func (s *Supplier) Acquire() ([]byte, error) {
	return s.AllocBytes(s.pageSize)
}

// Release returns a page (or a multi-page large block) to the allocator,
// incrementing pages_del and decrementing pages_in_use.
func (s *Supplier) Release(b []byte) error {
	return s.ReleaseBytes(b)
}

// AllocBytes is like Acquire but for an arbitrary multiple of page_size,
// used by the large-allocation path (spec §4.4) which calls the supplier
// directly for ceil(size/page_size) pages rather than going through a
// cache.
func (s *Supplier) AllocBytes(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.allocAlignedLocked(n)
	if err != nil {
		return nil, newErr(KindOutOfMemory, "Supplier.AllocBytes", "%v", err)
	}

	pages := uint64(n / s.pageSize)
	s.pagesInUse += pages
	s.pagesNew += pages
	return b, nil
}

// ReleaseBytes is the inverse of AllocBytes.
func (s *Supplier) ReleaseBytes(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(b)
	if err := s.releaseAlignedLocked(b); err != nil {
		return err
	}
	pages := uint64(n / s.pageSize)
	s.pagesInUse -= pages
	s.pagesDel += pages
	return nil
}

// allocAlignedLocked over-allocates n+page_size bytes and returns an n-byte slice
// aligned to s.pageSize carved out of it, remembering the original slice
// so releaseAlignedLocked can free the whole thing later. If the Allocator
// already returns s.pageSize-aligned memory (the common case for mmap when
// pageSize == the OS page size) no extra memory is wasted on alignment
// beyond what over-allocation already cost; this is a portability
// trade-off spec §4.1/§9 call out explicitly.
func (s *Supplier) allocAlignedLocked(n int) ([]byte, error) {
	raw, err := s.alloc.Alloc(n + s.pageSize)
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(s.pageSize-1)) &^ uintptr(s.pageSize-1)
	offset := int(aligned - base)
	page := raw[offset : offset+n : offset+n]
	s.orig[aligned] = raw
	return page, nil
}

func (s *Supplier) releaseAlignedLocked(b []byte) error {
	base := uintptr(unsafe.Pointer(&b[0]))
	raw, ok := s.orig[base]
	if !ok {
		return newErr(KindInvalidArgument, "Supplier.Release", "pointer not owned by this supplier")
	}
	delete(s.orig, base)
	return s.alloc.Free(raw)
}

// Stats returns a snapshot of (pages_in_use, pages_new, pages_del).
func (s *Supplier) Stats() (inUse, news, del uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesInUse, s.pagesNew, s.pagesDel
}

// pageBaseOf returns the page-aligned base address of b, given pageSize.
func pageBaseOf(b []byte, pageSize int) uintptr {
	return uintptr(unsafe.Pointer(&b[0])) &^ uintptr(pageSize-1)
}
