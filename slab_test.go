package goslab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabAllocOneExhaustsAllSlots(t *testing.T) {
	const unitSize, num = 16, 4
	page := make([]byte, unitSize*num)
	sl := newSlab(page, 0, unitSize, num)

	require.True(t, sl.IsEmpty())
	require.False(t, sl.IsFull())

	seen := map[int]bool{}
	for i := 0; i < num; i++ {
		obj, ok := sl.AllocOne()
		require.True(t, ok)
		require.True(t, sl.Contains(obj))
		idx := sl.SlotIndex(obj)
		assert.False(t, seen[idx], "slot %d handed out twice", idx)
		seen[idx] = true
	}
	assert.True(t, sl.IsFull())

	_, ok := sl.AllocOne()
	assert.False(t, ok, "a full slab must refuse a further AllocOne")
}

func TestSlabFreeOneRoundTrip(t *testing.T) {
	const unitSize, num = 16, 4
	page := make([]byte, unitSize*num)
	sl := newSlab(page, 0, unitSize, num)

	obj, ok := sl.AllocOne()
	require.True(t, ok)
	idx := sl.SlotIndex(obj)

	require.NoError(t, sl.FreeOne(idx))
	assert.True(t, sl.IsEmpty())
}

func TestSlabFreeOneDetectsDoubleFree(t *testing.T) {
	const unitSize, num = 16, 4
	page := make([]byte, unitSize*num)
	sl := newSlab(page, 0, unitSize, num)

	obj, ok := sl.AllocOne()
	require.True(t, ok)
	idx := sl.SlotIndex(obj)

	require.NoError(t, sl.FreeOne(idx))
	err := sl.FreeOne(idx)
	require.Error(t, err)

	var slabErr *Error
	require.ErrorAs(t, err, &slabErr)
	assert.Equal(t, KindInvalidArgument, slabErr.Kind)
}

func TestSlabFreeOneRejectsOutOfRange(t *testing.T) {
	const unitSize, num = 16, 4
	page := make([]byte, unitSize*num)
	sl := newSlab(page, 0, unitSize, num)

	assert.Error(t, sl.FreeOne(-1))
	assert.Error(t, sl.FreeOne(num))
}

func TestSlabContainsRespectsColorOffset(t *testing.T) {
	const unitSize, num, color = 16, 4, 8
	page := make([]byte, color+unitSize*num)
	sl := newSlab(page, color, unitSize, num)

	obj, ok := sl.AllocOne()
	require.True(t, ok)
	assert.True(t, sl.Contains(obj))

	before := page[:color]
	assert.False(t, sl.Contains(before), "bytes before the color pad are not part of the slab's object area")
}
