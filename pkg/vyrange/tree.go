package vyrange

import (
	"sort"
	"sync"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Tree is the range tree of one LSM: a collection of Ranges ordered by
// range-begin, with −∞ comparing below everything (spec.md §4.3
// "Range tree of an LSM"). Kept as a sorted slice with binary search,
// the same shape as the teacher's SSTableIndex sparse index — ranges
// change only on split/coalesce, an infrequent structural event, so a
// full balanced-tree implementation buys nothing a sorted slice
// doesn't already give.
type Tree struct {
	mu     sync.RWMutex
	ranges []*Range
	cmp    func(a, b []byte) int
}

// NewTree builds an empty range tree. Callers must AddRange a single
// range spanning (−∞, +∞) before using it, per spec.md §8's
// range-tree-cover invariant.
func NewTree(cmp func(a, b []byte) int) *Tree {
	return &Tree{cmp: cmp}
}

func (t *Tree) beginLess(a, b []byte) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return t.cmp(a, b) < 0
}

// AddRange inserts r keeping ranges ordered by begin.
func (t *Tree) AddRange(r *Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := sort.Search(len(t.ranges), func(i int) bool {
		return t.beginLess(r.Begin, t.ranges[i].Begin) || !t.beginLess(t.ranges[i].Begin, r.Begin)
	})
	t.ranges = append(t.ranges, nil)
	copy(t.ranges[idx+1:], t.ranges[idx:])
	t.ranges[idx] = r
}

// RemoveRange deletes r from the tree.
func (t *Tree) RemoveRange(r *Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, have := range t.ranges {
		if have == r {
			t.ranges = append(t.ranges[:i], t.ranges[i+1:]...)
			return
		}
	}
}

// Ranges returns a snapshot of all ranges, ordered by begin.
func (t *Tree) Ranges() []*Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Range, len(t.ranges))
	copy(out, t.ranges)
	return out
}

// FindByKey returns the first range in which scanning typ from key
// could find a match (spec.md §4.3 find_by_key). An empty key behaves
// as ±∞ for the purpose of selecting extremes.
func (t *Tree) FindByKey(typ vystmt.IterType, key []byte) *Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.ranges) == 0 {
		return nil
	}
	if typ.Ascending() {
		if key == nil {
			return t.ranges[0]
		}
		// The range whose [begin,end) contains key; a key equal to a
		// range's begin selects that range.
		idx := sort.Search(len(t.ranges), func(i int) bool {
			return t.beginLess(key, t.ranges[i].Begin)
		})
		if idx == 0 {
			return t.ranges[0]
		}
		return t.ranges[idx-1]
	}
	if key == nil {
		return t.ranges[len(t.ranges)-1]
	}
	idx := sort.Search(len(t.ranges), func(i int) bool {
		return !t.beginLess(t.ranges[i].Begin, key)
	})
	if idx >= len(t.ranges) {
		return t.ranges[len(t.ranges)-1]
	}
	if idx > 0 && (t.ranges[idx].Begin == nil || t.cmp(t.ranges[idx].Begin, key) != 0) {
		idx--
	}
	return t.ranges[idx]
}

// Next returns the range immediately following r in begin order, or
// nil if r is the rightmost range.
func (t *Tree) Next(r *Range) *Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, have := range t.ranges {
		if have == r {
			if i+1 < len(t.ranges) {
				return t.ranges[i+1]
			}
			return nil
		}
	}
	return nil
}

// Prev returns the range immediately preceding r in begin order, or
// nil if r is the leftmost range.
func (t *Tree) Prev(r *Range) *Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, have := range t.ranges {
		if have == r {
			if i > 0 {
				return t.ranges[i-1]
			}
			return nil
		}
	}
	return nil
}
