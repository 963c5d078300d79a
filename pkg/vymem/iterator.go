package vymem

import "github.com/tarantool/vinyl/pkg/vystmt"

// Iterator walks a MEM in the direction dictated by its IterType,
// surfacing every statement visible under rv (not deduped across LSNs —
// callers such as the read/point iterators decide how much per-key
// history to pull). It implements spec.md §4.1's invalidation contract:
// "MEM iterators are invalidated by any concurrent insert. They snapshot
// mem.version and, before each advance, if version changed, re-seek
// using the last emitted key. On re-seek they skip duplicates of the
// last emitted key."
type Iterator struct {
	mem     *Mem
	typ     vystmt.IterType
	rv      *vystmt.ReadView
	snapVer uint64
	cur     *node
	lastKey []byte
	haveKey bool
	started bool
}

// NewIterator opens a MEM iterator positioned at the first visible key
// in the direction of typ, starting from key (spec.md §4.1
// "iterator(type, key, rv)").
func (m *Mem) NewIterator(typ vystmt.IterType, key []byte, rv *vystmt.ReadView) *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := &Iterator{mem: m, typ: typ, rv: rv, snapVer: m.version}
	it.cur = it.seek(key)
	return it
}

// seek must be called with m.mu held (read lock is sufficient since the
// skip list structure itself isn't mutated by seeks).
func (it *Iterator) seek(key []byte) *node {
	sl := it.mem.list
	switch it.typ {
	case vystmt.IterEQ, vystmt.IterGE, vystmt.IterALL:
		return sl.seekGE(key)
	case vystmt.IterGT:
		return sl.seekGT(key)
	case vystmt.IterREQ, vystmt.IterLE:
		return sl.seekLE(key)
	case vystmt.IterLT:
		return sl.seekLT(key)
	default:
		return sl.seekGE(key)
	}
}

func (it *Iterator) advanceNode(n *node) *node {
	if it.typ.Ascending() {
		return n.forward[0]
	}
	return n.prev0()
}

// reseek re-acquires a cursor after a concurrent write invalidated the
// snapshot, continuing past everything with key == lastKey so already
// emitted versions of that key aren't repeated.
func (it *Iterator) reseek() {
	if !it.haveKey {
		return
	}
	n := it.seek(it.lastKey)
	for n != nil && it.mem.cmp.KeyCmp(n.stmt.Key, it.lastKey) == 0 {
		n = it.advanceNode(n)
	}
	it.cur = n
}

// Next returns the next visible statement, or (nil, false) at end.
func (it *Iterator) Next() (*vystmt.Statement, bool) {
	it.mem.mu.RLock()
	defer it.mem.mu.RUnlock()

	if it.mem.version != it.snapVer {
		it.reseek()
		it.snapVer = it.mem.version
	} else if it.started {
		it.cur = it.advanceNode(it.cur)
	}
	it.started = true

	for it.cur != nil {
		stmt := it.cur.stmt
		if !it.rv.Visible(stmt.LSN) {
			it.cur = it.advanceNode(it.cur)
			continue
		}
		it.lastKey = stmt.Key
		it.haveKey = true
		return stmt, true
	}
	return nil, false
}

// StreamIterator is a plain linear forward walk over every entry in
// (key asc, lsn desc) order, used as write-iterator input (spec.md
// §4.1 "stream()"). It does not apply read-view filtering or
// invalidation handling: the write iterator consumes a consistent
// snapshot of sealed/about-to-be-dumped MEMs which by construction are
// no longer concurrently written.
type StreamIterator struct {
	cur *node
}

func (m *Mem) Stream() *StreamIterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &StreamIterator{cur: m.list.first()}
}

func (s *StreamIterator) Next() (*vystmt.Statement, bool) {
	if s.cur == nil {
		return nil, false
	}
	stmt := s.cur.stmt
	s.cur = s.cur.forward[0]
	return stmt, true
}
