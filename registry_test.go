package goslab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDuplicateCreateReturnsExistingCache(t *testing.T) {
	k, err := New(Config{UseHostMalloc: true, PageShift: 12})
	require.NoError(t, err)
	defer k.Destroy()

	a, err := k.CacheCreate("widgets", 32)
	require.NoError(t, err)
	b, err := k.CacheCreate("widgets", 9999) // size is ignored on a duplicate name
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.EqualValues(t, 32, b.ObjSize())
}

func TestRegistryConcurrentDuplicateCreateConverges(t *testing.T) {
	k, err := New(Config{UseHostMalloc: true, PageShift: 12})
	require.NoError(t, err)
	defer k.Destroy()

	const n = 16
	results := make([]*Cache, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := k.CacheCreate("shared", 48)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRegistryDeleteRefusesBusyCache(t *testing.T) {
	k, err := New(Config{UseHostMalloc: true, PageShift: 12})
	require.NoError(t, err)
	defer k.Destroy()

	c, err := k.CacheCreate("busy", 32)
	require.NoError(t, err)
	obj, err := c.Alloc()
	require.NoError(t, err)

	err = k.CacheDelete(c)
	require.Error(t, err)
	var kErr *Error
	require.ErrorAs(t, err, &kErr)
	assert.Equal(t, KindBusy, kErr.Kind)

	require.NoError(t, c.Free(obj))
	require.NoError(t, k.CacheDelete(c))

	_, err = k.CacheFind("busy")
	require.Error(t, err)
}

func TestRegistryFindMissingReturnsNotFound(t *testing.T) {
	k, err := New(Config{UseHostMalloc: true, PageShift: 12})
	require.NoError(t, err)
	defer k.Destroy()

	_, err = k.CacheFind("nope")
	require.Error(t, err)
	var kErr *Error
	require.ErrorAs(t, err, &kErr)
	assert.Equal(t, KindNotFound, kErr.Kind)
}
