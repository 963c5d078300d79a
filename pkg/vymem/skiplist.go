package vymem

import (
	"math/rand"
	"time"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Adapted from the teacher's pkg/lsm/skiplist.go: same level/probability
// constants and forward-pointer shape, generalized to (1) store whole
// statements rather than a single value per key, since a MEM is a
// multiset ordered by (key, lsn desc) per spec.md §3, and (2) keep a
// level-0 backward pointer so descending iterators (LE/LT/REQ) don't
// need a second data structure.
const (
	maxLevel    = 16
	probability = 0.25
)

type node struct {
	stmt    *vystmt.Statement
	forward []*node
	prev    *node // level-0 only
}

type skipList struct {
	head   *node
	level  int
	count  int
	rnd    *rand.Rand
	cmp    *vystmt.CmpDef
}

func newSkipList(cmp *vystmt.CmpDef) *skipList {
	return &skipList{
		head:  &node{forward: make([]*node, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cmp:   cmp,
	}
}

func (sl *skipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && sl.rnd.Float32() < probability {
		lvl++
	}
	return lvl
}

// less orders by (key asc, lsn desc) — spec.md §3 "MEM" ordering and the
// §8 "MEM ordering" invariant.
func (sl *skipList) less(key []byte, lsn uint64, n *node) bool {
	return vystmt.Less(sl.cmp, key, lsn, n.stmt.Key, n.stmt.LSN)
}

// insert places stmt in the list, overwriting an existing node with an
// identical (key, lsn) pair (spec.md §4.1 "insert(entry)"). Returns true
// if a new node was created (as opposed to an overwrite).
func (sl *skipList) insert(stmt *vystmt.Statement) bool {
	update := make([]*node, maxLevel)
	cur := sl.head

	for i := sl.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && vystmt.Less(sl.cmp, cur.forward[i].stmt.Key, cur.forward[i].stmt.LSN, stmt.Key, stmt.LSN) {
			cur = cur.forward[i]
		}
		update[i] = cur
	}

	next := cur.forward[0]
	if next != nil && sl.cmp.KeyCmp(next.stmt.Key, stmt.Key) == 0 && next.stmt.LSN == stmt.LSN {
		next.stmt = stmt
		return false
	}

	lvl := sl.randomLevel()
	if lvl > sl.level {
		for i := sl.level; i < lvl; i++ {
			update[i] = sl.head
		}
		sl.level = lvl
	}

	n := &node{stmt: stmt, forward: make([]*node, lvl)}
	for i := 0; i < lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	n.prev = cur
	if n.forward[0] != nil {
		n.forward[0].prev = n
	}
	sl.count++
	return true
}

// seekGE returns the first node whose key is >= key (nil at end).
func (sl *skipList) seekGE(key []byte) *node {
	cur := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && sl.cmp.KeyCmp(cur.forward[i].stmt.Key, key) < 0 {
			cur = cur.forward[i]
		}
	}
	return cur.forward[0]
}

// seekGT returns the first node whose key is > key.
func (sl *skipList) seekGT(key []byte) *node {
	n := sl.seekGE(key)
	for n != nil && sl.cmp.KeyCmp(n.stmt.Key, key) == 0 {
		n = n.forward[0]
	}
	return n
}

// seekLE returns the last node whose key is <= key (nil if none).
func (sl *skipList) seekLE(key []byte) *node {
	n := sl.seekGT(key)
	if n == nil {
		return sl.last()
	}
	return n.prev0()
}

// seekLT returns the last node whose key is < key.
func (sl *skipList) seekLT(key []byte) *node {
	n := sl.seekGE(key)
	if n == nil {
		return sl.last()
	}
	return n.prev0()
}

func (n *node) prev0() *node {
	if n == nil {
		return nil
	}
	p := n.prev
	if p != nil && p.stmt == nil {
		return nil // reached head sentinel
	}
	return p
}

func (sl *skipList) last() *node {
	cur := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil {
			cur = cur.forward[i]
		}
	}
	if cur == sl.head {
		return nil
	}
	return cur
}

func (sl *skipList) first() *node {
	return sl.head.forward[0]
}
