package vyrange

import (
	"bytes"
	"testing"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

func cmpBytes(a, b []byte) int { return bytes.Compare(a, b) }

func TestTreeFindByKeyAscending(t *testing.T) {
	tree := NewTree(cmpBytes)
	r1 := NewRange(1, nil, []byte{10})
	r2 := NewRange(2, []byte{10}, []byte{20})
	r3 := NewRange(3, []byte{20}, nil)
	tree.AddRange(r1)
	tree.AddRange(r2)
	tree.AddRange(r3)

	if got := tree.FindByKey(vystmt.IterGE, []byte{5}); got != r1 {
		t.Fatalf("expected r1 for key 5, got %+v", got)
	}
	if got := tree.FindByKey(vystmt.IterGE, []byte{10}); got != r2 {
		t.Fatalf("expected r2 for key 10 (exact begin match), got %+v", got)
	}
	if got := tree.FindByKey(vystmt.IterGE, []byte{25}); got != r3 {
		t.Fatalf("expected r3 for key 25, got %+v", got)
	}
	if got := tree.FindByKey(vystmt.IterGE, nil); got != r1 {
		t.Fatalf("expected leftmost range for nil key, got %+v", got)
	}
}

func TestTreeFindByKeyDescending(t *testing.T) {
	tree := NewTree(cmpBytes)
	r1 := NewRange(1, nil, []byte{10})
	r2 := NewRange(2, []byte{10}, []byte{20})
	tree.AddRange(r1)
	tree.AddRange(r2)

	if got := tree.FindByKey(vystmt.IterLE, []byte{15}); got != r2 {
		t.Fatalf("expected r2 for LE 15, got %+v", got)
	}
	if got := tree.FindByKey(vystmt.IterLE, []byte{5}); got != r1 {
		t.Fatalf("expected r1 for LE 5, got %+v", got)
	}
}

func TestTreeNextPrev(t *testing.T) {
	tree := NewTree(cmpBytes)
	r1 := NewRange(1, nil, []byte{10})
	r2 := NewRange(2, []byte{10}, []byte{20})
	r3 := NewRange(3, []byte{20}, nil)
	tree.AddRange(r2)
	tree.AddRange(r1)
	tree.AddRange(r3)

	if tree.Next(r1) != r2 || tree.Next(r2) != r3 || tree.Next(r3) != nil {
		t.Fatalf("Next ordering wrong")
	}
	if tree.Prev(r3) != r2 || tree.Prev(r2) != r1 || tree.Prev(r1) != nil {
		t.Fatalf("Prev ordering wrong")
	}
}

func TestCompactionHeapOrdering(t *testing.T) {
	h := NewCompactionHeap()
	r1 := NewRange(1, nil, nil)
	r2 := NewRange(2, nil, nil)
	r3 := NewRange(3, nil, nil)
	r1.compactionPrio = 1
	r2.compactionPrio = 5
	r3.compactionPrio = 3
	h.Push(r1)
	h.Push(r2)
	h.Push(r3)

	if top := h.Top(); top != r2 {
		t.Fatalf("expected r2 (priority 5) on top, got %+v", top)
	}

	r1.compactionPrio = 10
	h.Fix(r1)
	if top := h.Top(); top != r1 {
		t.Fatalf("expected r1 on top after Fix, got %+v", top)
	}

	h.Remove(r1)
	if top := h.Top(); top != r2 {
		t.Fatalf("expected r2 on top after removing r1, got %+v", top)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", h.Len())
	}
}

func TestDumpHeapOrdering(t *testing.T) {
	h := NewDumpHeap()
	a := &DumpEntry{IsDumping: false, Generation: 2, IndexID: 1}
	b := &DumpEntry{IsDumping: false, Generation: 1, IndexID: 5}
	c := &DumpEntry{IsDumping: true, Generation: 0, IndexID: 0}
	h.Push(a)
	h.Push(b)
	h.Push(c)

	if top := h.Top(); top != b {
		t.Fatalf("expected lowest generation non-dumping entry on top, got %+v", top)
	}
}

func TestShouldCoalesce(t *testing.T) {
	r1 := NewRange(1, nil, []byte{10})
	r2 := NewRange(2, []byte{10}, nil)
	sizes := map[*Range]int64{r1: 100, r2: 150}
	ok := ShouldCoalesce([]*Range{r1, r2}, func(*Range) bool { return false }, 1000, func(r *Range) int64 { return sizes[r] })
	if !ok {
		t.Fatalf("expected coalesce to be allowed (250 <= 500)")
	}
	ok = ShouldCoalesce([]*Range{r1, r2}, func(*Range) bool { return false }, 400, func(r *Range) int64 { return sizes[r] })
	if ok {
		t.Fatalf("expected coalesce to be rejected (250 > 200)")
	}
}
