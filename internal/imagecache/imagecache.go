// Package imagecache is the bounded image cache the UI-facing data source
// keeps in front of frame-image loads. Searching and browsing results both
// resolve to individual frames inside an encoded video segment; decoding
// the same frame twice for a fast scroll or a repeated query is wasted
// decode work, so this package memoizes the decoded bytes behind a
// capacity- and byte-bounded LRU, following the teacher's general pattern
// of giving every bounded resource (worker queue, WAL directory, log
// rotation) an explicit, configured ceiling rather than letting it grow
// unbounded.
package imagecache

import (
	"container/list"
	"fmt"
	"sync"
)

// Key identifies one decoded frame image: either a (segmentId, timestamp)
// pair or a (videoId, frameIndex) pair, per the data model; callers pick
// whichever they already have on hand and stay consistent within a cache
// instance.
type Key struct {
	A int64
	B int64
}

// Loader decodes and returns the image bytes for a cache miss. It is the
// caller's responsibility to supply one that knows how to extract a single
// frame from its owning video segment; this package only owns eviction.
type Loader func(key Key) ([]byte, error)

type entry struct {
	key  Key
	data []byte
}

// Cache is a bounded, mutex-guarded LRU keyed by Key. Bounded on two axes
// at once (item count and total byte size) because a handful of large
// frames can exhaust a byte budget long before the item-count budget is
// reached.
type Cache struct {
	mu        sync.Mutex
	maxItems  int
	maxBytes  int64
	curBytes  int64
	ll        *list.List
	items     map[Key]*list.Element
	load      Loader
	hits      int64
	misses    int64
}

// New builds a Cache bounded by maxItems and maxBytes. Either limit can be
// zero to disable that axis, but not both (an unbounded cache defeats the
// point).
func New(maxItems int, maxBytes int64, load Loader) (*Cache, error) {
	if maxItems <= 0 && maxBytes <= 0 {
		return nil, fmt.Errorf("imagecache: at least one of maxItems, maxBytes must be positive")
	}
	return &Cache{
		maxItems: maxItems,
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		load:     load,
	}, nil
}

// Get returns the cached image for key, loading and storing it on a miss.
func (c *Cache) Get(key Key) ([]byte, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		data := el.Value.(*entry).data
		c.mu.Unlock()
		return data, nil
	}
	c.misses++
	c.mu.Unlock()

	data, err := c.load(key)
	if err != nil {
		return nil, fmt.Errorf("imagecache: load %v: %w", key, err)
	}

	c.mu.Lock()
	c.insert(key, data)
	c.mu.Unlock()
	return data, nil
}

// Put seeds the cache directly, bypassing the loader (used by a writer
// that already has the bytes in hand, e.g. right after encoding a frame).
func (c *Cache) Put(key Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(key, data)
}

func (c *Cache) insert(key Key, data []byte) {
	if el, ok := c.items[key]; ok {
		c.curBytes += int64(len(data)) - int64(len(el.Value.(*entry).data))
		el.Value.(*entry).data = data
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, data: data})
		c.items[key] = el
		c.curBytes += int64(len(data))
	}
	c.evict()
}

func (c *Cache) evict() {
	for c.overCapacity() {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *Cache) overCapacity() bool {
	if c.maxItems > 0 && c.ll.Len() > c.maxItems {
		return true
	}
	if c.maxBytes > 0 && c.curBytes > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.curBytes -= int64(len(e.data))
}

// Len reports the current item count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative hit/miss counts for health reporting.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
