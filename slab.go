package goslab

import (
	"unsafe"

	"github.com/bits-and-blooms/bitset"

	"github.com/skywind3000/goslab/internal/ilist"
)

type slabState int

const (
	stateFree slabState = iota
	statePartial
	stateFull
)

// Slab is a contiguous page carved into unit_size objects (spec §3/§4.2).
// Unlike the original C slab, which threads its free-list through the
// payload of free objects themselves (the "bufctl" scheme), this slab
// keeps free-slot bookkeeping in a side array, the safer alternative spec
// §9's Design Notes recommend: "pick (side-array) unless raw speed demands
// the embedded form." A bitset mirrors which slots are checked out, purely
// so FreeOne can catch a double-free as a bookkeeping mismatch (spec §7)
// instead of silently corrupting the free stack.
type Slab struct {
	node ilist.Node
	page []byte // the raw, page_size-aligned page from the Supplier

	membase     []byte // page[colorOffset:], the region objects live in
	colorOffset int
	unitSize    int
	num         int
	inUse       int
	state       slabState

	free []int32        // stack of free slot indices
	used *bitset.BitSet // used[i] set iff slot i is checked out
}

func (s *Slab) Link() *ilist.Node { return &s.node }

// newSlab lays out a slab over page: colorOffset bytes of leading pad,
// then num objects of unitSize bytes each, with every slot initially free.
func newSlab(page []byte, colorOffset, unitSize, num int) *Slab {
	s := &Slab{
		page:        page,
		membase:     page[colorOffset:],
		colorOffset: colorOffset,
		unitSize:    unitSize,
		num:         num,
		state:       stateFree,
		free:        make([]int32, num),
		used:        bitset.New(uint(num)),
	}
	for i := 0; i < num; i++ {
		s.free[i] = int32(num - 1 - i)
	}
	return s
}

// IsFull reports whether every object in the slab is checked out.
func (s *Slab) IsFull() bool { return s.inUse == s.num }

// IsEmpty reports whether every object in the slab is free.
func (s *Slab) IsEmpty() bool { return s.inUse == 0 }

// AllocOne pops a free slot and returns its object-sized sub-slice.
func (s *Slab) AllocOne() (obj []byte, ok bool) {
	n := len(s.free)
	if n == 0 {
		return nil, false
	}
	idx := s.free[n-1]
	s.free = s.free[:n-1]
	s.used.Set(uint(idx))
	s.inUse++
	off := int(idx) * s.unitSize
	return s.membase[off : off+s.unitSize : off+s.unitSize], true
}

// FreeOne returns the object at slot idx to the free stack. It reports an
// invalid-argument error if idx is out of range or already free, the
// bookkeeping-mismatch signal spec §7 calls a detected double-free.
func (s *Slab) FreeOne(idx int) error {
	if idx < 0 || idx >= s.num || !s.used.Test(uint(idx)) {
		return newErr(KindInvalidArgument, "Slab.FreeOne", "slot %d not checked out (double free?)", idx)
	}
	s.used.Clear(uint(idx))
	s.free = append(s.free, int32(idx))
	s.inUse--
	return nil
}

// Contains reports whether obj's first byte lies within this slab's
// object area.
func (s *Slab) Contains(obj []byte) bool {
	if len(obj) == 0 || len(s.membase) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&s.membase[0]))
	p := uintptr(unsafe.Pointer(&obj[0]))
	return p >= base && p < base+uintptr(len(s.membase))
}

// SlotIndex returns the slot number obj occupies within the slab. The
// caller must have already verified Contains(obj).
func (s *Slab) SlotIndex(obj []byte) int {
	base := uintptr(unsafe.Pointer(&s.membase[0]))
	p := uintptr(unsafe.Pointer(&obj[0]))
	return int((p - base) / uintptr(s.unitSize))
}

// freeCount returns the number of free (unallocated) slots.
func (s *Slab) freeCount() int { return s.num - s.inUse }
