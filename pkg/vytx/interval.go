// Package vytx implements spec.md §4.9: the transaction manager and
// its MVCC conflict tracker. Grounded on the teacher's pkg/mvcc
// (Transaction/TransactionManager lifecycle, optimistic conflict
// detection at commit, version-store garbage collection by minimum
// active read version) generalized from per-key version numbers to
// per-LSM read-interval tracking.
package vytx

import "sort"

// ReadInterval is one [Left, Right] key-range a transaction has read
// from a particular LSM, with inclusivity flags on each bound (spec.md
// §4.9 "Read-interval"). Unbounded sides are represented with a nil
// key (−∞ / +∞, matching the rest of the module's convention).
type ReadInterval struct {
	TxID  uint64
	LSMID uint64

	Left       []byte
	LeftInclu  bool
	Right      []byte
	RightInclu bool
}

// Tracker holds read intervals in two indexes (spec.md §4.9): one per
// transaction (to find and merge overlapping intervals cheaply when a
// new read arrives) and one per LSM (to answer "which intervals
// contain point s" when a writer commits). The per-LSM index is a
// slice sorted by Left (binary search on insert), the per-transaction
// one an unsorted slice; neither is a true red-black tree — the augmentation spec.md describes (subtree
// max-right) is approximated here by scanning the per-LSM slice, which
// stays correct and is simple to reason about at the interval counts a
// single LSM accumulates between commits.
type Tracker struct {
	cmp func(a, b []byte) int

	perTx  map[uint64][]*ReadInterval // txID -> intervals, unsorted (small per-tx count)
	perLSM map[uint64][]*ReadInterval // lsmID -> intervals sorted by Left
}

func NewTracker(cmp func(a, b []byte) int) *Tracker {
	return &Tracker{
		cmp:    cmp,
		perTx:  make(map[uint64][]*ReadInterval),
		perLSM: make(map[uint64][]*ReadInterval),
	}
}

func (t *Tracker) leftLess(a, b []byte) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return t.cmp(a, b) < 0
}

// rightLess compares two (key,inclusive) right-bound-style endpoints:
// returns true if endpoint a is strictly below endpoint b. Used to
// decide whether one interval's right edge extends past another's.
func (t *Tracker) rightLess(aKey []byte, aIncl bool, bKey []byte, bIncl bool) bool {
	if bKey == nil { // b is +∞
		return aKey != nil
	}
	if aKey == nil {
		return false
	}
	c := t.cmp(aKey, bKey)
	if c != 0 {
		return c < 0
	}
	// equal keys: exclusive < inclusive (smaller reach)
	return !aIncl && bIncl
}

// overlaps reports whether [left,li,right,ri] intersects an existing
// interval e.
func (t *Tracker) overlaps(left []byte, li bool, right []byte, ri bool, e *ReadInterval) bool {
	// no overlap if e entirely left of [left,right) or entirely right
	if e.Right != nil && left != nil {
		c := t.cmp(e.Right, left)
		if c < 0 || (c == 0 && !(e.RightInclu && li)) {
			return false
		}
	}
	if right != nil && e.Left != nil {
		c := t.cmp(right, e.Left)
		if c < 0 || (c == 0 && !(ri && e.LeftInclu)) {
			return false
		}
	}
	return true
}

// contains reports whether e fully contains [left,li,right,ri].
func (t *Tracker) contains(e *ReadInterval, left []byte, li bool, right []byte, ri bool) bool {
	if e.Left != nil {
		if left == nil {
			return false
		}
		c := t.cmp(e.Left, left)
		if c > 0 || (c == 0 && e.LeftInclu != li && !e.LeftInclu) {
			return false
		}
	}
	if e.Right != nil {
		if right == nil {
			return false
		}
		c := t.cmp(right, e.Right)
		if c > 0 || (c == 0 && ri != e.RightInclu && !e.RightInclu) {
			return false
		}
	}
	return true
}

func minBound(t *Tracker, aKey []byte, aIncl bool, bKey []byte, bIncl bool) ([]byte, bool) {
	if aKey == nil || bKey == nil {
		return nil, false
	}
	c := t.cmp(aKey, bKey)
	if c < 0 {
		return aKey, aIncl
	}
	if c > 0 {
		return bKey, bIncl
	}
	return aKey, aIncl || bIncl
}

func maxBound(t *Tracker, aKey []byte, aIncl bool, bKey []byte, bIncl bool) ([]byte, bool) {
	if aKey == nil || bKey == nil {
		return nil, true
	}
	c := t.cmp(aKey, bKey)
	if c > 0 {
		return aKey, aIncl
	}
	if c < 0 {
		return bKey, bIncl
	}
	return aKey, aIncl || bIncl
}

// Track records that txID read [left,right] on lsmID (spec.md §4.9
// "track"). If an existing interval already fully contains the new
// one, it's a no-op; overlapping intervals are merged into one
// (extending endpoints, dropping subsumed intervals from both
// indexes) before the merged interval is (re)inserted.
func (t *Tracker) Track(txID, lsmID uint64, left []byte, li bool, right []byte, ri bool) {
	existing := t.perTx[txID]
	var merged []*ReadInterval
	mLeft, mLi, mRight, mRi := left, li, right, ri

	for _, e := range existing {
		if e.LSMID != lsmID {
			continue
		}
		if t.contains(e, left, li, right, ri) {
			return // fully subsumed, nothing to do
		}
		if t.overlaps(mLeft, mLi, mRight, mRi, e) {
			mLeft, mLi = minBound(t, mLeft, mLi, e.Left, e.LeftInclu)
			mRight, mRi = maxBound(t, mRight, mRi, e.Right, e.RightInclu)
			merged = append(merged, e)
		}
	}

	for _, e := range merged {
		t.removeFromTx(txID, e)
		t.removeFromLSM(lsmID, e)
	}

	ni := &ReadInterval{TxID: txID, LSMID: lsmID, Left: mLeft, LeftInclu: mLi, Right: mRight, RightInclu: mRi}
	t.perTx[txID] = append(t.perTx[txID], ni)
	t.insertLSM(lsmID, ni)
}

// TrackPoint tracks a single-key read, skipped if alreadyWritten (the
// tx already wrote the key — reads-own-writes need no conflict entry)
// (spec.md §4.9 "track_point").
func (t *Tracker) TrackPoint(txID, lsmID uint64, key []byte, alreadyWritten bool) {
	if alreadyWritten {
		return
	}
	t.Track(txID, lsmID, key, true, key, true)
}

func (t *Tracker) insertLSM(lsmID uint64, ni *ReadInterval) {
	list := t.perLSM[lsmID]
	idx := sort.Search(len(list), func(i int) bool {
		return t.leftLess(ni.Left, list[i].Left) || !t.leftLess(list[i].Left, ni.Left)
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = ni
	t.perLSM[lsmID] = list
}

func (t *Tracker) removeFromLSM(lsmID uint64, e *ReadInterval) {
	list := t.perLSM[lsmID]
	for i, have := range list {
		if have == e {
			t.perLSM[lsmID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (t *Tracker) removeFromTx(txID uint64, e *ReadInterval) {
	list := t.perTx[txID]
	for i, have := range list {
		if have == e {
			t.perTx[txID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ConflictingReaders returns every interval on lsmID whose range
// contains key — the readers a writer committing at key must resolve
// (spec.md §4.9 "On tx prepare... query for conflicting readers").
func (t *Tracker) ConflictingReaders(lsmID uint64, key []byte) []*ReadInterval {
	var out []*ReadInterval
	for _, e := range t.perLSM[lsmID] {
		if e.Left != nil && t.cmp(key, e.Left) < 0 {
			continue
		}
		if e.Left != nil && t.cmp(key, e.Left) == 0 && !e.LeftInclu {
			continue
		}
		if e.Right != nil && t.cmp(key, e.Right) > 0 {
			continue
		}
		if e.Right != nil && t.cmp(key, e.Right) == 0 && !e.RightInclu {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ReleaseTx drops every interval belonging to txID from both indexes
// (called on commit or rollback).
func (t *Tracker) ReleaseTx(txID uint64) {
	for _, e := range t.perTx[txID] {
		t.removeFromLSM(e.LSMID, e)
	}
	delete(t.perTx, txID)
}
