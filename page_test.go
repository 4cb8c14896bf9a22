package goslab

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupplierRejectsBadPageSize(t *testing.T) {
	_, err := NewSupplier(4095, newMmapAllocator())
	require.Error(t, err)

	_, err = NewSupplier(4096+1024, newMmapAllocator())
	require.Error(t, err)
}

func TestSupplierAcquireReleaseMmap(t *testing.T) {
	s, err := NewSupplier(1<<16, newMmapAllocator())
	require.NoError(t, err)

	p, err := s.Acquire()
	require.NoError(t, err)
	require.Len(t, p, 1<<16)

	base := uintptr(unsafe.Pointer(&p[0]))
	assert.Zero(t, base&uintptr(s.PageSize()-1), "page must be page_size-aligned")

	inUse, new_, del := s.Stats()
	assert.EqualValues(t, 1, inUse)
	assert.EqualValues(t, 1, new_)
	assert.EqualValues(t, 0, del)

	require.NoError(t, s.Release(p))
	inUse, new_, del = s.Stats()
	assert.EqualValues(t, 0, inUse)
	assert.EqualValues(t, 1, new_)
	assert.EqualValues(t, 1, del)
}

func TestSupplierAcquireReleaseGoHeap(t *testing.T) {
	// The Go heap allocator gives no alignment guarantee on its own;
	// Supplier must still hand back a page_size-aligned block.
	s, err := NewSupplier(1<<16, newGoHeapAllocator())
	require.NoError(t, err)

	p, err := s.Acquire()
	require.NoError(t, err)
	require.Len(t, p, 1<<16)

	base := uintptr(unsafe.Pointer(&p[0]))
	assert.Zero(t, base&uintptr(s.PageSize()-1))

	require.NoError(t, s.Release(p))
}

func TestSupplierAllocBytesMultiPage(t *testing.T) {
	s, err := NewSupplier(1<<16, newMmapAllocator())
	require.NoError(t, err)

	b, err := s.AllocBytes(4 * (1 << 16))
	require.NoError(t, err)
	require.Len(t, b, 4*(1<<16))

	inUse, new_, _ := s.Stats()
	assert.EqualValues(t, 4, inUse)
	assert.EqualValues(t, 4, new_)

	require.NoError(t, s.ReleaseBytes(b))
	inUse, _, del := s.Stats()
	assert.EqualValues(t, 0, inUse)
	assert.EqualValues(t, 4, del)
}

func TestSupplierRefcount(t *testing.T) {
	s, err := NewSupplier(1<<16, newMmapAllocator())
	require.NoError(t, err)

	s.Ref()
	s.Ref()
	assert.EqualValues(t, 1, s.Unref())
	assert.EqualValues(t, 0, s.Unref())
}
