package goslab

import "sync"

// defaultMu guards the package-level convenience instance (spec §9
// "Global state... keep a default global instance as a convenience").
var (
	defaultMu   sync.Mutex
	defaultKmem *Kmem
)

// Init creates the package-level default Kmem instance. Calling it twice
// without an intervening Destroy returns an AlreadyInitialized error (spec
// §6 init: "ok | already_initialized").
func Init(cfg Config) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultKmem != nil {
		return errAlreadyInitialized
	}
	k, err := New(cfg)
	if err != nil {
		return err
	}
	defaultKmem = k
	return nil
}

// Destroy tears down the default instance (spec §6 destroy).
func Destroy() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultKmem == nil {
		return errUninitialized
	}
	if err := defaultKmem.Destroy(); err != nil {
		return err
	}
	defaultKmem = nil
	return nil
}

// Default returns the package-level instance, or nil if Init has not been
// called.
func Default() *Kmem {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultKmem
}

func withDefault(op string) (*Kmem, error) {
	k := Default()
	if k == nil {
		return nil, newErr(KindUninitialized, op, "Init has not been called")
	}
	return k, nil
}

// Malloc, Realloc, Free, PtrSize, SetWatermark, CacheCreate, CacheDelete,
// CacheAlloc, CacheFree and CacheFind are convenience wrappers over the
// default instance, matching the original C facade's ikmem_* free
// functions (spec §6).

func Malloc(size uint64) ([]byte, error) {
	k, err := withDefault("Malloc")
	if err != nil {
		return nil, err
	}
	return k.Malloc(size)
}

func Realloc(ptr []byte, size uint64) ([]byte, error) {
	k, err := withDefault("Realloc")
	if err != nil {
		return nil, err
	}
	return k.Realloc(ptr, size)
}

func Free(ptr []byte) error {
	k, err := withDefault("Free")
	if err != nil {
		return err
	}
	return k.Free(ptr)
}

func PtrSize(ptr []byte) (uint64, error) {
	k, err := withDefault("PtrSize")
	if err != nil {
		return 0, err
	}
	return k.PtrSize(ptr)
}

func SetWatermark(pages uint64) error {
	k, err := withDefault("SetWatermark")
	if err != nil {
		return err
	}
	k.SetWatermark(pages)
	return nil
}

func CacheCreate(name string, size uint64) (*Cache, error) {
	k, err := withDefault("CacheCreate")
	if err != nil {
		return nil, err
	}
	return k.CacheCreate(name, size)
}

func CacheDelete(c *Cache) error {
	k, err := withDefault("CacheDelete")
	if err != nil {
		return err
	}
	return k.CacheDelete(c)
}

func CacheAlloc(c *Cache) ([]byte, error) { return c.Alloc() }

func CacheFree(c *Cache, ptr []byte) error { return c.Free(ptr) }

func CacheFind(name string) (*Cache, error) {
	k, err := withDefault("CacheFind")
	if err != nil {
		return nil, err
	}
	return k.CacheFind(name)
}
