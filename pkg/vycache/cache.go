// Package vycache implements spec.md §4.5: a per-index cache of
// terminal statements, ordered by key with an LRU eviction list, where
// adjacent entries optionally carry a "chain" flag telling the read
// iterator it can skip disk entirely between them. Grounded on the
// teacher's pkg/cache/lru.go (container/list-backed LRU with a side
// map, hit/miss/eviction counters) generalized from a TTL string cache
// to a byte-quota key-ordered statement cache.
package vycache

import (
	"container/list"
	"sort"
	"sync"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// entry is one cached (key -> statement) pair. leftChain/rightChain
// record whether the entry and its left/right neighbor in key order
// form a chain: no on-disk rows of this index lie strictly between
// them (spec.md §3 "Cache entry").
type entry struct {
	key   []byte
	stmt  *vystmt.Statement
	elem  *list.Element // LRU list position
	bytes int

	leftChain  bool
	rightChain bool
}

// Cache is one LSM's private cache: a key-ordered slice (binary search
// substitutes for the teacher's map since neighbor identification is
// needed for chaining) plus an LRU list bounded by a byte quota.
type Cache struct {
	mu    sync.Mutex
	cmp   func(a, b []byte) int
	order []*entry // sorted by key

	lru      *list.List
	byteSize int
	quota    int

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache bounded to quota bytes of statement+key data.
func New(cmp func(a, b []byte) int, quota int) *Cache {
	return &Cache{cmp: cmp, lru: list.New(), quota: quota}
}

func (c *Cache) find(key []byte) (int, bool) {
	idx := sort.Search(len(c.order), func(i int) bool {
		return c.cmp(c.order[i].key, key) >= 0
	})
	if idx < len(c.order) && c.cmp(c.order[idx].key, key) == 0 {
		return idx, true
	}
	return idx, false
}

// Get returns the cached statement for key, if present, and bumps its
// LRU position. chainedRight/chainedLeft report whether this entry is
// chained to its right/left neighbor — callers use them to decide
// whether the read iterator may stop consulting disk.
func (c *Cache) Get(key []byte) (stmt *vystmt.Statement, chainedRight, chainedLeft bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, found := c.find(key)
	if !found {
		c.misses++
		return nil, false, false, false
	}
	e := c.order[idx]
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.stmt, e.rightChain, e.leftChain, true
}

// Seek returns the first cached entry at or after key (ascending) or
// at or before key (descending), for the read iterator's cache source
// (spec.md §4.7 point 2, "scan sources in priority order ... cache").
// chainedRight/chainedLeft mirror Get's chain flags for the found
// entry.
func (c *Cache) Seek(key []byte, ascending bool) (stmt *vystmt.Statement, chainedRight, chainedLeft bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, found := c.find(key)
	if ascending {
		if idx >= len(c.order) {
			return nil, false, false, false
		}
		e := c.order[idx]
		c.lru.MoveToFront(e.elem)
		return e.stmt, e.rightChain, e.leftChain, true
	}

	if found {
		e := c.order[idx]
		c.lru.MoveToFront(e.elem)
		return e.stmt, e.rightChain, e.leftChain, true
	}
	if idx == 0 {
		return nil, false, false, false
	}
	e := c.order[idx-1]
	c.lru.MoveToFront(e.elem)
	return e.stmt, e.rightChain, e.leftChain, true
}

// Put inserts or replaces the cached entry for stmt.Key. chainLeft/
// chainRight mark the new entry as chained to its current left/right
// neighbor (the read iterator sets these when it has just scanned the
// interval between two keys with nothing skipped).
func (c *Cache) Put(stmt *vystmt.Statement, chainLeft, chainRight bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, found := c.find(stmt.Key)
	size := len(stmt.Key) + len(stmt.Value) + 32

	if found {
		old := c.order[idx]
		c.byteSize += size - old.bytes
		old.stmt = stmt
		old.bytes = size
		old.leftChain = old.leftChain && chainLeft
		old.rightChain = old.rightChain && chainRight
		c.lru.MoveToFront(old.elem)
		c.evictIfNeeded()
		return
	}

	e := &entry{key: append([]byte(nil), stmt.Key...), stmt: stmt, bytes: size}
	e.elem = c.lru.PushFront(e)
	c.order = append(c.order, nil)
	copy(c.order[idx+1:], c.order[idx:])
	c.order[idx] = e
	c.byteSize += size

	if idx > 0 {
		left := c.order[idx-1]
		left.rightChain = chainLeft
		e.leftChain = chainLeft
	}
	if idx+1 < len(c.order) {
		right := c.order[idx+1]
		right.leftChain = chainRight
		e.rightChain = chainRight
	}

	c.evictIfNeeded()
}

func (c *Cache) evictIfNeeded() {
	for c.byteSize > c.quota && c.lru.Len() > 0 {
		back := c.lru.Back()
		e := back.Value.(*entry)
		c.removeLocked(e)
		c.evictions++
	}
}

func (c *Cache) removeLocked(e *entry) {
	idx, found := c.find(e.key)
	if found && c.order[idx] == e {
		c.unchainLocked(idx)
		c.order = append(c.order[:idx], c.order[idx+1:]...)
	}
	c.lru.Remove(e.elem)
	c.byteSize -= e.bytes
}

func (c *Cache) unchainLocked(idx int) {
	e := c.order[idx]
	if idx > 0 {
		c.order[idx-1].rightChain = false
	}
	if idx+1 < len(c.order) {
		c.order[idx+1].leftChain = false
	}
	e.leftChain, e.rightChain = false, false
}

// OnWrite invalidates the cache entry for key and unchains its
// neighbors (spec.md §4.5 "cache.on_write(stmt) invalidates the entry
// for stmt's key and unchains its neighbors").
func (c *Cache) OnWrite(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, found := c.find(key)
	if !found {
		// Still unchain: a write between two chained entries breaks
		// the "nothing in between" guarantee even without its own
		// cache entry.
		if idx > 0 {
			c.order[idx-1].rightChain = false
		}
		if idx < len(c.order) {
			c.order[idx].leftChain = false
		}
		return
	}
	c.removeLocked(c.order[idx])
}

// Stats returns hit/miss/eviction counters for observability.
func (c *Cache) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
