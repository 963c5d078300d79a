// Package vywrite implements spec.md §4.6: the write iterator that
// drives dump and compaction output. It merges a set of sources (MEMs
// and run slices) into one key-ordered, read-view-partitioned stream,
// applying the fold/drop/inherit optimizations spec.md describes.
// Grounded on the teacher's pkg/lsm memtable/sstable merge pattern
// (iterate sources in lock-step, newest wins) generalized to a proper
// container/heap-based k-way merge ordered by (key asc, lsn desc),
// since multiple historical read views mean more than one version of
// a key can legitimately survive into the new run.
package vywrite

import (
	"container/heap"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Source is anything the write iterator can merge: a MEM iterator or
// a run-slice iterator, both already exposing statements in (key asc,
// lsn desc) order.
type Source interface {
	Next() (*vystmt.Statement, bool, error)
}

// DeferredDeleteHandler receives (old, new) pairs for statements
// carrying the DEFERRED_DELETE flag during a primary-index compaction
// (spec.md §4.6 point 4). Implementations forward these to the
// transaction layer so it can insert deferred DELETEs into secondary
// indexes.
type DeferredDeleteHandler func(old, newer *vystmt.Statement)

// Config configures one write-iterator run.
type Config struct {
	CmpDef *vystmt.CmpDef

	// ReadViews lists the vlsn caps of currently open read views,
	// descending (newest first), NOT including the implicit "current"
	// (∞) view — the merge always also computes the latest state.
	ReadViews []uint64

	// IsLastLevel is true when no older levels remain beneath this
	// output (the bottom of the LSM, or a full compaction): enables
	// dropping a trailing DELETE and fully resolving a leading UPSERT
	// with no older base.
	IsLastLevel bool

	// OldestIsInsert reports, for a key, whether the oldest known
	// version across all sources (not just the ones visible to this
	// writer) is an INSERT — driving the "first-INSERT inheritance"
	// rule. Nil means "unknown", treated as false.
	OldestIsInsert func(key []byte) bool

	DeferredDelete DeferredDeleteHandler
}

type heapItem struct {
	stmt   *vystmt.Statement
	source int
}

type mergeHeap struct {
	items []heapItem
	cmp   *vystmt.CmpDef
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return vystmt.Less(h.cmp, h.items[i].stmt.Key, h.items[i].stmt.LSN, h.items[j].stmt.Key, h.items[j].stmt.LSN)
}
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)         { h.items = append(h.items, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// Iterator merges sources and emits one statement per (key, surviving
// read view), in key-ascending, then newest-read-view-first order.
type Iterator struct {
	cfg     Config
	sources []Source
	h       *mergeHeap
	pending []*vystmt.Statement
}

// New builds a write iterator over sources.
func New(cfg Config, sources []Source) (*Iterator, error) {
	it := &Iterator{cfg: cfg, sources: sources, h: &mergeHeap{cmp: cfg.CmpDef}}
	heap.Init(it.h)
	for i, s := range sources {
		if err := it.pull(i, s); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) pull(idx int, s Source) error {
	stmt, ok, err := s.Next()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	heap.Push(it.h, heapItem{stmt: stmt, source: idx})
	return nil
}

// Next returns the next output statement, or ok=false when the merge
// is exhausted.
func (it *Iterator) Next() (*vystmt.Statement, bool, error) {
	for len(it.pending) == 0 {
		if it.h.Len() == 0 {
			return nil, false, nil
		}
		if err := it.fillNextKey(); err != nil {
			return nil, false, err
		}
	}
	s := it.pending[0]
	it.pending = it.pending[1:]
	return s, true, nil
}

// fillNextKey pops every heap entry sharing the current minimum key
// (already lsn-descending since the heap orders ties that way),
// processes the resulting frontier, and appends its output statements
// to the pending queue.
func (it *Iterator) fillNextKey() error {
	first := it.h.items[0]
	key := first.stmt.Key

	var history []*vystmt.Statement // newest first
	for it.h.Len() > 0 && it.cfg.CmpDef.KeyCmp(it.h.items[0].stmt.Key, key) == 0 {
		top := heap.Pop(it.h).(heapItem)
		history = append(history, top.stmt)
		if err := it.pull(top.source, it.sources[top.source]); err != nil {
			return err
		}
	}

	it.pending = append(it.pending, it.resolveFrontier(key, history)...)
	return nil
}

// resolveFrontier implements spec.md §4.6's per-key frontier algorithm.
func (it *Iterator) resolveFrontier(key []byte, history []*vystmt.Statement) []*vystmt.Statement {
	buckets := partitionByReadView(history, it.cfg.ReadViews)

	var out []*vystmt.Statement
	var resolvedOlder *vystmt.Statement

	oldestIsInsert := false
	if it.cfg.OldestIsInsert != nil {
		oldestIsInsert = it.cfg.OldestIsInsert(key)
	} else if len(history) > 0 {
		oldestIsInsert = history[len(history)-1].Type == vystmt.Insert
	}

	firstEmitted := true

	// Process oldest bucket to newest, so each bucket can resolve a
	// leading UPSERT against the previous (older) bucket's result.
	for i := len(buckets) - 1; i >= 0; i-- {
		b := buckets[i]
		if len(b.stmts) == 0 {
			continue
		}
		isOldestBucket := i == len(buckets)-1 && it.cfg.IsLastLevel

		resolved := foldBucket(b.stmts, resolvedOlder, isOldestBucket, it.cfg.CmpDef)
		resolvedOlder = resolved
		if resolved == nil {
			continue // fully resolved away (e.g. dropped trailing delete)
		}

		emit := resolved
		if firstEmitted {
			if oldestIsInsert && emit.Type == vystmt.Replace {
				emit = withType(emit, vystmt.Insert)
			} else if !oldestIsInsert && emit.Type == vystmt.Insert {
				emit = withType(emit, vystmt.Replace)
			}
			firstEmitted = false
		}

		if it.cfg.DeferredDelete != nil && emit.Flags&vystmt.FlagDeferredDelete != 0 {
			it.cfg.DeferredDelete(b.stmts[0], emit)
		}

		out = append(out, emit)
	}

	// Output newest-bucket-first (reverse what we built oldest-first).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	// Clear DEFERRED_DELETE on every output except the single youngest
	// one, which must remain until the next dump (spec.md §4.6 closing
	// paragraph).
	for i := 1; i < len(out); i++ {
		out[i].Flags &^= vystmt.FlagDeferredDelete
	}

	return out
}

func withType(s *vystmt.Statement, t vystmt.Type) *vystmt.Statement {
	c := s.Clone()
	c.Type = t
	return c
}

type bucket struct {
	vlsn  uint64 // upper bound (InfLSN for the newest bucket)
	stmts []*vystmt.Statement // newest first within the bucket
}

// partitionByReadView splits history (newest-first) into buckets
// bounded by the read-view vlsns (descending), plus an implicit
// newest bucket capped at InfLSN (spec.md §4.6 point 2).
func partitionByReadView(history []*vystmt.Statement, readViews []uint64) []bucket {
	bounds := append([]uint64{vystmt.InfLSN}, readViews...)
	buckets := make([]bucket, len(bounds))
	for i, b := range bounds {
		buckets[i].vlsn = b
	}

	for _, s := range history {
		idx := len(bounds) - 1
		for i := 0; i < len(bounds)-1; i++ {
			if s.LSN > bounds[i+1] {
				idx = i
				break
			}
		}
		buckets[idx].stmts = append(buckets[idx].stmts, s)
	}
	return buckets
}

// foldBucket resolves one read-view bucket's statements (newest
// first) into a single terminal statement, folding consecutive
// UPSERTs and applying the "skip obsolete versions before a
// DELETE/REPLACE" and "drop trailing DELETE" rules. olderResolved is
// the next-older bucket's final result (nil if none).
func foldBucket(stmts []*vystmt.Statement, olderResolved *vystmt.Statement, isOldestBucket bool, cmp *vystmt.CmpDef) *vystmt.Statement {
	// Only the youngest terminal (or unresolved upsert chain) survives;
	// walk from newest, stop at the first REPLACE/INSERT/DELETE.
	var upserts []*vystmt.Statement // newest first
	var terminal *vystmt.Statement
	for _, s := range stmts {
		if s.Type == vystmt.Upsert {
			upserts = append(upserts, s)
			continue
		}
		terminal = s
		break
	}

	// Fold the upsert chain (oldest-of-the-bucket first) against
	// terminal, or against olderResolved if the bucket is all UPSERTs.
	base := terminal
	if base == nil {
		base = olderResolved
	}

	var resolved *vystmt.Statement
	if base == nil {
		// No base anywhere: leave the newest UPSERT unresolved, except
		// in the oldest bucket of the last level, where nothing older
		// exists and the oldest UPSERT's own value becomes a REPLACE.
		if len(upserts) > 0 {
			resolved = upserts[len(upserts)-1]
			if isOldestBucket {
				resolved = withType(resolved, vystmt.Replace)
				resolved.Ops = nil
				resolved.NUpserts = 0
			}
			for i := len(upserts) - 2; i >= 0; i-- {
				if r, ok := vystmt.ApplyUpsert(upserts[i], resolved, cmp); ok {
					resolved = r
				}
			}
		}
	} else {
		resolved = base
		for i := len(upserts) - 1; i >= 0; i-- {
			if r, ok := vystmt.ApplyUpsert(upserts[i], resolved, cmp); ok {
				resolved = r
			} else {
				break
			}
		}
	}

	if resolved == nil {
		return nil
	}

	if isOldestBucket && resolved.Type == vystmt.Delete && terminal != nil {
		// Drop trailing DELETE: no older levels remain to need the
		// tombstone.
		return nil
	}

	return resolved
}
