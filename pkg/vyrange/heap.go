package vyrange

import (
	"container/heap"
	"sync"
)

// CompactionHeap is a binary heap ordered by descending compaction
// priority; the top is the range most worth compacting (spec.md §4.3
// "Range heap of an LSM"). It stores each range's position so a
// priority change can be applied in place with Fix instead of a full
// rebuild, matching the "in-place node storage... O(1) update/delete"
// requirement of spec.md's REDESIGN FLAGS section.
type CompactionHeap struct {
	mu sync.Mutex
	h  compactionHeapImpl
}

func NewCompactionHeap() *CompactionHeap {
	ch := &CompactionHeap{}
	heap.Init(&ch.h)
	return ch
}

type compactionHeapImpl []*Range

func (h compactionHeapImpl) Len() int { return len(h) }
func (h compactionHeapImpl) Less(i, j int) bool {
	return h[i].Priority() > h[j].Priority() // descending
}
func (h compactionHeapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *compactionHeapImpl) Push(x any) {
	r := x.(*Range)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}
func (h *compactionHeapImpl) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// Push adds r to the heap.
func (c *CompactionHeap) Push(r *Range) {
	c.mu.Lock()
	heap.Push(&c.h, r)
	c.mu.Unlock()
}

// Remove deletes r from the heap, if present.
func (c *CompactionHeap) Remove(r *Range) {
	c.mu.Lock()
	if r.heapIndex >= 0 && r.heapIndex < len(c.h) && c.h[r.heapIndex] == r {
		heap.Remove(&c.h, r.heapIndex)
	}
	c.mu.Unlock()
}

// Fix re-establishes heap order for r after its priority changed.
func (c *CompactionHeap) Fix(r *Range) {
	c.mu.Lock()
	if r.heapIndex >= 0 && r.heapIndex < len(c.h) && c.h[r.heapIndex] == r {
		heap.Fix(&c.h, r.heapIndex)
	}
	c.mu.Unlock()
}

// FixAll reheapifies everything after a policy change (spec.md
// REDESIGN FLAGS "update_all for bulk reheapify after policy change").
func (c *CompactionHeap) FixAll() {
	c.mu.Lock()
	heap.Init(&c.h)
	c.mu.Unlock()
}

// Top returns the range with the highest compaction priority without
// removing it, or nil if the heap is empty.
func (c *CompactionHeap) Top() *Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.h) == 0 {
		return nil
	}
	return c.h[0]
}

// Len reports the number of ranges currently queued.
func (c *CompactionHeap) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.h)
}

// DumpEntry is one index queued for dump (spec.md §4.4 "Scheduler dump
// heap"). Generation, IndexID and the not-dumping/not-pinned flags
// drive ordering; the LSM it names is referenced by callers via
// whatever handle they attach (kept generic here to avoid an import
// cycle with vylsm).
type DumpEntry struct {
	IsDumping  bool
	IsPinned   bool
	Generation uint64
	IndexID    uint64
	IsPrimary  bool

	Handle any

	heapIndex int
}

// DumpHeap orders so that (not-dumping, not-pinned, smallest
// generation, smallest index_id) bubbles to the top, with primary
// indexes dumped last within a space (spec.md §4.4 "Dump heap
// ordering").
type DumpHeap struct {
	mu sync.Mutex
	h  dumpHeapImpl
}

func NewDumpHeap() *DumpHeap {
	dh := &DumpHeap{}
	heap.Init(&dh.h)
	return dh
}

type dumpHeapImpl []*DumpEntry

func (h dumpHeapImpl) Len() int { return len(h) }
func (h dumpHeapImpl) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.IsDumping != b.IsDumping {
		return !a.IsDumping
	}
	if a.IsPinned != b.IsPinned {
		return !a.IsPinned
	}
	if a.Generation != b.Generation {
		return a.Generation < b.Generation
	}
	if a.IsPrimary != b.IsPrimary {
		return !a.IsPrimary
	}
	return a.IndexID < b.IndexID
}
func (h dumpHeapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *dumpHeapImpl) Push(x any) {
	e := x.(*DumpEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *dumpHeapImpl) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

func (d *DumpHeap) Push(e *DumpEntry) {
	d.mu.Lock()
	heap.Push(&d.h, e)
	d.mu.Unlock()
}

func (d *DumpHeap) Remove(e *DumpEntry) {
	d.mu.Lock()
	if e.heapIndex >= 0 && e.heapIndex < len(d.h) && d.h[e.heapIndex] == e {
		heap.Remove(&d.h, e.heapIndex)
	}
	d.mu.Unlock()
}

func (d *DumpHeap) Fix(e *DumpEntry) {
	d.mu.Lock()
	if e.heapIndex >= 0 && e.heapIndex < len(d.h) && d.h[e.heapIndex] == e {
		heap.Fix(&d.h, e.heapIndex)
	}
	d.mu.Unlock()
}

func (d *DumpHeap) Top() *DumpEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.h) == 0 {
		return nil
	}
	return d.h[0]
}

func (d *DumpHeap) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.h)
}
