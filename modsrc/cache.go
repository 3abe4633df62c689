package modsrc

import (
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// Cached keeps the most recently loaded images of another source in memory.
// Misses are not cached. Returned slices are shared between callers and
// must not be modified.
type Cached struct {
	src   Source
	cache *lru.Cache

	hits, misses atomic.Uint64
}

// NewCached wraps src with an LRU cache holding up to size images.
func NewCached(src Source, size int) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cached{src: src, cache: cache}, nil
}

// Image implements Source.
func (c *Cached) Image(name string) ([]byte, error) {
	key := strings.ToLower(name)
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v.([]byte), nil
	}
	c.misses.Add(1)
	data, err := c.src.Image(name)
	if err != nil {
		return nil, err
	}
	if evicted := c.cache.Add(key, data); evicted {
		log.Debugf("module cache full, evicted oldest for %s", name)
	}
	return data, nil
}

// Names implements Lister when the wrapped source does.
func (c *Cached) Names() ([]string, error) {
	if l, ok := c.src.(Lister); ok {
		return l.Names()
	}
	return nil, nil
}

// Invalidate drops a module from the cache.
func (c *Cached) Invalidate(name string) {
	c.cache.Remove(strings.ToLower(name))
}

// Purge empties the cache.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Stats returns the cache hit and miss counts and the number of images held.
func (c *Cached) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}
