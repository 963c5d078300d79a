package vyread

import (
	"github.com/tarantool/vinyl/pkg/vylsm"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
	"github.com/tarantool/vinyl/pkg/vytx"
)

// Config configures one read iterator invocation.
type Config struct {
	Tree *vylsm.Tree
	Type vystmt.IterType
	Key  []byte
	RV   *vystmt.ReadView

	// TxWrites and Tracker, if non-nil, make this a transaction-scoped read: its own
	// write set is consulted first, and conflict tracking records the
	// scanned interval against TxID (spec.md §4.7 point 6, §4.9).
	TxID      uint64
	TxWrites  []*vystmt.Statement // sorted ascending by key
	Tracker   *vytx.Tracker
	TxWroteFn func(key []byte) bool // reads-own-writes: skip tracking already-written keys
}

// Iterator is spec.md §4.7's user-facing ordered scan.
type Iterator struct {
	cfg Config
	typ vystmt.IterType // mapped: ALL->GE, REQ->LE
	needCheckEQ bool

	lastStmt *vystmt.Statement
	haveLast bool

	// skippedTxwDelete is set mid-Next() when a DELETE skipped on the
	// way to the tuple about to be emitted came from the transaction's
	// own write set rather than a committed source (original_source/
	// src/box/vy_read_iterator.c:974,1000-1001,1041-1049's
	// skipped_txw_delete). It suppresses the chain link to the
	// previously emitted tuple in maybeCache, since the committed
	// database may still hold a real row there that only this
	// transaction's uncommitted delete hides.
	skippedTxwDelete bool

	curRange *vyrange.Range
	pinned   []*vyrun.Slice

	snap vylsm.Snapshot

	sources   []cursor
	frontIDs  []int // which source contributed in the previous round, by index (-1 none)
	prevFront int

	stopped bool
	done    bool
}

// New builds a read iterator and performs its initial source
// acquisition (spec.md §4.7 step 1).
func New(cfg Config) (*Iterator, error) {
	mapped, needCheckEQ := vystmt.MappedType(cfg.Type)
	it := &Iterator{cfg: cfg, typ: mapped, needCheckEQ: needCheckEQ, prevFront: -1}
	if err := it.restore(cfg.Key); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) ascending() bool { return it.typ.Ascending() }

// restore implements step 1: close all source iterators, reacquire
// them (txw, cache, active MEM, sealed MEMs, slices of the range
// containing seekKey), and snapshot the version counters again.
func (it *Iterator) restore(seekKey []byte) error {
	it.unpinAll()
	it.sources = nil

	tree := it.cfg.Tree
	cmp := tree.CmpDef().Compare

	r := tree.RangeTree().FindByKey(it.typ, seekKey)
	it.curRange = r

	if it.cfg.TxWrites != nil {
		it.sources = append(it.sources, newTxwCursor(it.cfg.TxWrites, it.typ, seekKey, cmp))
	}
	it.sources = append(it.sources, newCacheCursor(tree.Cache(), it.ascending(), seekKey))
	it.sources = append(it.sources, newMemCursor(tree.Active(), it.typ, seekKey, it.cfg.RV))
	for _, m := range tree.Sealed() {
		it.sources = append(it.sources, newMemCursor(m, it.typ, seekKey, it.cfg.RV))
	}
	if r != nil {
		for _, s := range r.Slices() {
			s.Pin()
			it.pinned = append(it.pinned, s)
			it.sources = append(it.sources, newSliceCursor(s, it.typ, seekKey, it.cfg.RV, cmp))
			tree.RecordDiskRead()
		}
	}

	it.frontIDs = make([]int, len(it.sources))
	for i := range it.frontIDs {
		it.frontIDs[i] = -1
	}
	it.prevFront = -1
	it.snap = tree.Snapshot()
	return nil
}

func (it *Iterator) unpinAll() {
	for _, s := range it.pinned {
		s.Unpin()
	}
	it.pinned = nil
}

// Close releases pinned slices; callers must call it once done.
func (it *Iterator) Close() { it.unpinAll() }

// Next returns the next terminal (post-UPSERT-squash) statement
// visible under the configured read view, or ok=false at end of scan.
func (it *Iterator) Next() (*vystmt.Statement, bool, error) {
	if it.done {
		return nil, false, nil
	}
	it.skippedTxwDelete = false
	for {
		stmt, ok, err := it.nextKey()
		if err != nil || !ok {
			it.done = true
			return nil, false, err
		}

		resolved, visible, err := it.squash(stmt)
		if err != nil {
			return nil, false, err
		}
		if !visible {
			if isTxwSource(it.lastContributingSource()) {
				it.skippedTxwDelete = true
			}
			continue // squashed to a DELETE: invisible, keep scanning
		}

		it.track(resolved.Key)
		it.maybeCache(resolved)
		it.lastStmt, it.haveLast = resolved, true
		return resolved, true, nil
	}
}

// nextKey implements steps 1-5 of spec.md §4.7's next_key algorithm,
// plus range progression.
func (it *Iterator) nextKey() (*vystmt.Statement, error) {
	for {
		if it.cfg.Tree.Changed(it.snap) {
			seek := it.cfg.Key
			if it.haveLast {
				seek = it.lastStmt.Key
			}
			if err := it.restore(seek); err != nil {
				return nil, err
			}
		}

		stmt, err := it.scanRound()
		if err != nil {
			return nil, err
		}
		if stmt == nil {
			if !it.advanceRange() {
				return nil, nil
			}
			continue
		}

		// Step 4: disk sources may have yielded; re-check versions.
		if it.cfg.Tree.Changed(it.snap) {
			continue
		}

		if it.needCheckEQ && it.cfg.Tree.CmpDef().KeyCmp(stmt.Key, it.cfg.Key) != 0 {
			return nil, nil
		}

		if it.outOfRange(stmt.Key) {
			if !it.advanceRange() {
				return nil, nil
			}
			continue
		}

		return stmt, nil
	}
}

// scanRound implements step 2-3: one priority-ordered pass across
// sources picking the iteration-order-minimal candidate. The cache's
// chain flag (step 3) is a pure disk-skipping optimization over a
// merge that, here, always consults every source each round; it does
// not change which statement wins, so it isn't separately modeled.
func (it *Iterator) scanRound() (*vystmt.Statement, error) {
	cmp := it.cfg.Tree.CmpDef()

	cur := make([]*vystmt.Statement, len(it.sources))
	for i, src := range it.sources {
		for {
			s, ok, err := src.Peek()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if it.haveLast && it.laggedBehind(s.Key) {
				if err := src.Advance(); err != nil {
					return nil, err
				}
				continue
			}
			cur[i] = s
			break
		}
	}

	var candidate *vystmt.Statement
	for i, s := range cur {
		if s == nil {
			continue
		}
		if candidate == nil {
			candidate = s
			continue
		}
		c := cmp.KeyCmp(s.Key, candidate.Key)
		earlier := (it.ascending() && c < 0) || (!it.ascending() && c > 0)
		if earlier {
			candidate = s
		}
	}
	if candidate == nil {
		return nil, nil
	}

	// Every source whose current key equals the winner's contributed to
	// this round and is advanced past it.
	for i := range it.frontIDs {
		it.frontIDs[i] = -1
	}
	for i, s := range cur {
		if s == nil {
			continue
		}
		if cmp.KeyCmp(s.Key, candidate.Key) == 0 {
			it.frontIDs[i] = 0
			if err := it.sources[i].Advance(); err != nil {
				return nil, err
			}
		}
	}

	return candidate, nil
}

func (it *Iterator) laggedBehind(key []byte) bool {
	cmp := it.cfg.Tree.CmpDef()
	c := cmp.KeyCmp(key, it.lastStmt.Key)
	if it.ascending() {
		return c < 0
	}
	return c > 0
}

func (it *Iterator) outOfRange(key []byte) bool {
	r := it.curRange
	if r == nil {
		return false
	}
	cmp := it.cfg.Tree.CmpDef().Compare
	if it.ascending() {
		return r.End != nil && cmp(key, r.End) >= 0
	}
	return r.Begin != nil && cmp(key, r.Begin) < 0
}

func (it *Iterator) advanceRange() bool {
	var next *vyrange.Range
	if it.ascending() {
		next = it.cfg.Tree.RangeTree().Next(it.curRange)
	} else {
		next = it.cfg.Tree.RangeTree().Prev(it.curRange)
	}
	if next == nil {
		return false
	}
	seek := next.Begin
	if !it.ascending() {
		seek = next.End
	}
	if err := it.restore(seek); err != nil {
		return false
	}
	return true
}

// squash implements spec.md §4.7's read-time UPSERT squash: walk
// next_lsn from the same source and apply_upsert until a REPLACE/
// INSERT (visible=true) or DELETE (visible=false, caller keeps
// scanning) terminal is reached.
func (it *Iterator) squash(stmt *vystmt.Statement) (*vystmt.Statement, bool, error) {
	if stmt.Type != vystmt.Upsert {
		return stmt, stmt.Type != vystmt.Delete, nil
	}

	resolved := stmt
	src := it.lastContributingSource()
	for resolved.Type == vystmt.Upsert {
		if src == nil {
			break
		}
		older, ok, err := src.OlderVersion()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		r, applied := vystmt.ApplyUpsert(resolved, older, it.cfg.Tree.CmpDef())
		if !applied {
			break
		}
		resolved = r
	}
	return resolved, resolved.Type != vystmt.Delete, nil
}

func (it *Iterator) lastContributingSource() cursor {
	for i, f := range it.frontIDs {
		if f == 0 {
			return it.sources[i]
		}
	}
	return nil
}

// isTxwSource reports whether c is the transaction's own write-set
// cursor. A nil c (no contributing source recorded) safely reports
// false via the type assertion.
func isTxwSource(c cursor) bool {
	_, ok := c.(*txwCursor)
	return ok
}

// track records this read in the conflict tracker, bounded by
// [searchKey, emitted] or [emitted, searchKey] depending on direction
// (spec.md §4.7 point 6, §4.9).
func (it *Iterator) track(emitted []byte) {
	if it.cfg.Tracker == nil || !it.cfg.RV.IsGlobal() {
		return
	}
	if it.cfg.TxWroteFn != nil && it.cfg.TxWroteFn(emitted) {
		return
	}
	if it.ascending() {
		it.cfg.Tracker.Track(it.cfg.TxID, it.lsmID(), it.cfg.Key, true, emitted, true)
	} else {
		it.cfg.Tracker.Track(it.cfg.TxID, it.lsmID(), emitted, true, it.cfg.Key, true)
	}
}

func (it *Iterator) lsmID() uint64 {
	return it.cfg.Tree.SpaceID()<<32 | it.cfg.Tree.IndexID()
}

// maybeCache inserts the resolved statement into the cache, chained to
// the previously emitted key, only when reading at vlsn=∞ (spec.md
// §4.7 "observability contract"). The chain link to the previous entry
// is withheld when a DELETE from the transaction's own write set was
// skipped to reach this tuple (it.skippedTxwDelete): the cache is
// shared across every transaction on this LSM, and the gap that DELETE
// appears to create is only real for this transaction, not for the
// committed database other readers see.
func (it *Iterator) maybeCache(stmt *vystmt.Statement) {
	if !it.cfg.RV.IsGlobal() {
		return
	}
	chainLeft, chainRight := false, false
	if it.haveLast && !it.skippedTxwDelete {
		if it.ascending() {
			chainLeft = true
		} else {
			chainRight = true
		}
	}
	it.cfg.Tree.Cache().Put(stmt, chainLeft, chainRight)
}
