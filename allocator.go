package goslab

// Allocator is the pluggable raw-byte source injected at the bottom of the
// page supplier (spec §4.1 / §6). The host may supply an mmap-backed
// allocator (the default), a Go-heap-backed one, or a test double.
type Allocator interface {
	// Alloc returns a freshly allocated, zeroed block of exactly size
	// bytes, or an error if the host is out of memory.
	Alloc(size int) ([]byte, error)
	// Free releases a block previously returned by Alloc. b must be the
	// full slice originally returned (same base and length).
	Free(b []byte) error
}

// mmapAllocator backs pages with anonymous OS mappings, same as the
// teacher's mmap_unix.go/mmap_windows.go. It does not itself guarantee
// alignment beyond the host page size; Supplier handles rounding up to
// its own, possibly larger, page size.
type mmapAllocator struct{}

func newMmapAllocator() Allocator { return mmapAllocator{} }

func (mmapAllocator) Alloc(size int) ([]byte, error) {
	b, err := mmap(size)
	if err != nil {
		return nil, newErr(KindOutOfMemory, "mmapAllocator.Alloc", "%v", err)
	}
	return b, nil
}

func (mmapAllocator) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unmapBytes(b)
}

// goHeapAllocator backs pages with ordinary Go heap allocations, selected
// when Config.UseHostMalloc is true. Free is a no-op: the GC reclaims the
// block once the supplier drops its last reference. This mirrors the
// facade's "use_host_malloc" knob from spec §4.4/§6.
type goHeapAllocator struct{}

func newGoHeapAllocator() Allocator { return goHeapAllocator{} }

func (goHeapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (goHeapAllocator) Free(b []byte) error {
	return nil
}
