// Package vymem implements spec.md §4.1, the in-memory level (MEM): an
// ordered, append-only multiset of statements with version-based
// iterator invalidation and pin/unpin for dump safety. Adapted from the
// teacher's pkg/lsm/memtable.go (wrapper struct around a skip list,
// tracking size/maxSize) generalized to track generation, dump_lsn, a
// version counter bumped on every write, and a condvar-backed pin count
// per spec.md §9 "pin count is a separate integer with a condvar".
package vymem

import (
	"sync"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Mem is one in-memory level of an LSM tree.
type Mem struct {
	mu         sync.RWMutex
	list       *skipList
	cmp        *vystmt.CmpDef
	generation uint64
	dumpLSN    uint64
	version    uint64
	format     string // simplistic stand-in for tuple_format identity
	nUpserts   map[string]uint32

	pinMu    sync.Mutex
	pinCond  *sync.Cond
	pinCount int
}

// New creates an empty MEM tagged with the given allocation generation
// (spec.md §3 "Generation").
func New(generation uint64, cmp *vystmt.CmpDef, format string) *Mem {
	if cmp == nil {
		cmp = vystmt.DefaultCmpDef()
	}
	m := &Mem{
		list:       newSkipList(cmp),
		cmp:        cmp,
		generation: generation,
		format:     format,
		nUpserts:   make(map[string]uint32),
	}
	m.pinCond = sync.NewCond(&m.pinMu)
	return m
}

func (m *Mem) Generation() uint64 { return m.generation }

func (m *Mem) Format() string { return m.format }

func (m *Mem) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.count
}

func (m *Mem) DumpLSN() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dumpLSN
}

func (m *Mem) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Insert places entry in the tree, per spec.md §4.1 "insert(entry)".
func (m *Mem) Insert(entry *vystmt.Statement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list.insert(entry)
	m.version++
	if entry.LSN > m.dumpLSN {
		m.dumpLSN = entry.LSN
	}
	if entry.Type != vystmt.Upsert {
		delete(m.nUpserts, string(entry.Key))
	}
}

// InsertUpsert is like Insert but tracks the target key's n-upserts
// counter, used by the UPSERT squashing logic in pkg/vylsm (spec.md
// §4.1 "insert_upsert(entry)").
func (m *Mem) InsertUpsert(entry *vystmt.Statement) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list.insert(entry)
	m.version++
	if entry.LSN > m.dumpLSN {
		m.dumpLSN = entry.LSN
	}
	k := string(entry.Key)
	m.nUpserts[k]++
	entry.NUpserts = m.nUpserts[k]
	return m.nUpserts[k]
}

// NUpserts returns the current upsert-chain length for key.
func (m *Mem) NUpserts(key []byte) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nUpserts[string(key)]
}

// OlderLSN returns the next key-equal entry with strictly smaller LSN
// than (key, lsn), or (nil, false) (spec.md §4.1 "older_lsn(entry)").
func (m *Mem) OlderLSN(key []byte, lsn uint64) (*vystmt.Statement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.list.seekGE(key)
	for n != nil && m.cmp.KeyCmp(n.stmt.Key, key) == 0 {
		if n.stmt.LSN < lsn {
			return n.stmt, true
		}
		n = n.forward[0]
	}
	return nil, false
}

// Mem has no Delete method: pkg/vylsm.DeleteMem drops the *Mem
// reference entirely once a dump completes (spec.md §4.4
// "delete_mem(mem)").

// Pin increments the pin count (spec.md §4.2/§9): a pinned MEM cannot be
// dumped while an iterator is using it across a suspension point.
func (m *Mem) Pin() {
	m.pinMu.Lock()
	m.pinCount++
	m.pinMu.Unlock()
}

// Unpin decrements the pin count and wakes any WaitPinned waiters.
func (m *Mem) Unpin() {
	m.pinMu.Lock()
	m.pinCount--
	if m.pinCount < 0 {
		m.pinCount = 0
	}
	if m.pinCount == 0 {
		m.pinCond.Broadcast()
	}
	m.pinMu.Unlock()
}

// WaitPinned blocks until pin count drops to zero (spec.md §4.1
// "wait_pinned()").
func (m *Mem) WaitPinned() {
	m.pinMu.Lock()
	for m.pinCount > 0 {
		m.pinCond.Wait()
	}
	m.pinMu.Unlock()
}

func (m *Mem) PinCount() int {
	m.pinMu.Lock()
	defer m.pinMu.Unlock()
	return m.pinCount
}
