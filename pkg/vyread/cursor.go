// Package vyread implements spec.md §4.7: the user-facing ordered
// read iterator that merges the transaction's own write set, the
// cache, the active/sealed MEMs, and on-disk run slices into one
// MVCC-consistent scan, restoring itself when the LSM's structure
// changes underneath it and tracking reads for conflict detection.
// Grounded on the teacher's pkg/lsm/lsm.go Scan path (priority-merge
// of memtable + sstables with a version check per step) generalized to
// the five-source, range-aware, cache-chained merge spec.md describes.
package vyread

import (
	"github.com/tarantool/vinyl/pkg/vycache"
	"github.com/tarantool/vinyl/pkg/vymem"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// cursor is one merge source: it surfaces the newest-visible statement
// at or past the scan's current position, can be advanced past its
// current key entirely, and can walk older versions of the same key
// for UPSERT squash (spec.md §4.7 "next_lsn").
type cursor interface {
	Peek() (*vystmt.Statement, bool, error)
	Advance() error
	OlderVersion() (*vystmt.Statement, bool, error)
}

// --- MEM cursor -------------------------------------------------------

type memCursor struct {
	mem     *vymem.Mem
	it      *vymem.Iterator
	cur     *vystmt.Statement
	curOK   bool
	fetched bool
}

func newMemCursor(mem *vymem.Mem, typ vystmt.IterType, key []byte, rv *vystmt.ReadView) *memCursor {
	return &memCursor{mem: mem, it: mem.NewIterator(typ, key, rv)}
}

func (c *memCursor) fetch() {
	if c.fetched {
		return
	}
	c.cur, c.curOK = c.it.Next()
	c.fetched = true
}

func (c *memCursor) Peek() (*vystmt.Statement, bool, error) {
	c.fetch()
	return c.cur, c.curOK, nil
}

func (c *memCursor) Advance() error {
	c.fetched = false
	return nil
}

func (c *memCursor) OlderVersion() (*vystmt.Statement, bool, error) {
	if !c.curOK {
		return nil, false, nil
	}
	s, ok := c.mem.OlderLSN(c.cur.Key, c.cur.LSN)
	return s, ok, nil
}

// --- Run slice cursor ---------------------------------------------------

type sliceCursor struct {
	it      *vyrun.Iterator
	rv      *vystmt.ReadView
	cmp     func(a, b []byte) int
	queued  *vystmt.Statement
	haveQ   bool
	curKey  []byte
	haveCur bool
}

func newSliceCursor(slice *vyrun.Slice, typ vystmt.IterType, key []byte, rv *vystmt.ReadView, cmp func(a, b []byte) int) *sliceCursor {
	return &sliceCursor{it: slice.NewIterator(typ, key, cmp), rv: rv, cmp: cmp}
}

func (c *sliceCursor) pull() (*vystmt.Statement, bool, error) {
	if c.haveQ {
		return c.queued, true, nil
	}
	s, ok, err := c.it.Next()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	c.queued, c.haveQ = s, true
	return s, true, nil
}

func (c *sliceCursor) consume() { c.haveQ = false }

// Peek returns the newest version visible under rv for the next
// not-yet-surfaced key, skipping any older same-key rows left behind
// by a prior OlderVersion() walk that the caller didn't fully consume.
func (c *sliceCursor) Peek() (*vystmt.Statement, bool, error) {
	for {
		s, ok, err := c.pull()
		if err != nil || !ok {
			return nil, false, err
		}
		if c.haveCur && c.cmp(s.Key, c.curKey) == 0 {
			c.consume()
			continue
		}
		if !c.rv.Visible(s.LSN) {
			c.consume()
			continue
		}
		c.curKey, c.haveCur = s.Key, true
		return s, true, nil
	}
}

func (c *sliceCursor) Advance() error {
	c.consume()
	return nil
}

func (c *sliceCursor) OlderVersion() (*vystmt.Statement, bool, error) {
	if !c.haveCur {
		return nil, false, nil
	}
	s, ok, err := c.pull()
	if err != nil || !ok {
		return nil, false, err
	}
	if c.cmp(s.Key, c.curKey) != 0 {
		return nil, false, nil
	}
	c.consume()
	return s, true, nil
}

// --- Transaction write-set cursor --------------------------------------

type txwCursor struct {
	stmts []*vystmt.Statement // sorted ascending by key
	typ   vystmt.IterType
	cmp   func(a, b []byte) int
	idx   int
	armed bool
}

func newTxwCursor(stmts []*vystmt.Statement, typ vystmt.IterType, key []byte, cmp func(a, b []byte) int) *txwCursor {
	c := &txwCursor{stmts: stmts, typ: typ, cmp: cmp}
	c.idx = c.seek(key)
	return c
}

func (c *txwCursor) seek(key []byte) int {
	if key == nil {
		if c.typ.Ascending() {
			return 0
		}
		return len(c.stmts) - 1
	}
	lo, hi := 0, len(c.stmts)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.cmp(c.stmts[mid].Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if c.typ.Ascending() {
		return lo
	}
	if lo < len(c.stmts) && c.cmp(c.stmts[lo].Key, key) == 0 {
		return lo
	}
	return lo - 1
}

func (c *txwCursor) Peek() (*vystmt.Statement, bool, error) {
	if c.idx < 0 || c.idx >= len(c.stmts) {
		return nil, false, nil
	}
	return c.stmts[c.idx], true, nil
}

func (c *txwCursor) Advance() error {
	if c.typ.Ascending() {
		c.idx++
	} else {
		c.idx--
	}
	return nil
}

// OlderVersion: a transaction's own write set carries at most one
// pending statement per key (later writes overwrite earlier ones in
// place), so there is never an older version to walk.
func (c *txwCursor) OlderVersion() (*vystmt.Statement, bool, error) { return nil, false, nil }

// --- Cache cursor -------------------------------------------------------

type cacheCursor struct {
	cache     *vycache.Cache
	ascending bool
	cur       *vystmt.Statement
	haveCur   bool
}

func newCacheCursor(cache *vycache.Cache, ascending bool, key []byte) *cacheCursor {
	c := &cacheCursor{cache: cache, ascending: ascending}
	if cache != nil {
		c.cur, _, _, c.haveCur = cache.Seek(key, ascending)
	}
	return c
}

func (c *cacheCursor) Peek() (*vystmt.Statement, bool, error) {
	return c.cur, c.haveCur, nil
}

func (c *cacheCursor) Advance() error {
	if !c.haveCur {
		return nil
	}
	nextKey := nextProbeKey(c.cur.Key, c.ascending)
	c.cur, _, _, c.haveCur = c.cache.Seek(nextKey, c.ascending)
	return nil
}

// The cache stores only terminal statements, so there is never an
// older version of a cached key to walk.
func (c *cacheCursor) OlderVersion() (*vystmt.Statement, bool, error) { return nil, false, nil }

// nextProbeKey returns a key strictly past key in dir's direction, for
// re-seeking the cache past an already-surfaced entry. Appending a
// zero byte (ascending) or truncating (descending, approximated by
// appending 0xff which sorts after any extension) keeps the probe
// simple without needing key-space successor/predecessor machinery.
func nextProbeKey(key []byte, ascending bool) []byte {
	if ascending {
		out := make([]byte, len(key)+1)
		copy(out, key)
		return out
	}
	out := make([]byte, len(key))
	copy(out, key)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out[:i+1]
		}
	}
	return nil
}
