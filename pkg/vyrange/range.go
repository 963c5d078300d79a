// Package vyrange implements spec.md §4.3: an index's key-space
// partition into Ranges, the range tree ordered by range-begin, and
// the two compaction-decision heaps (dump heap, compaction heap).
// Grounded on the teacher's pkg/lsm sorted-slice-plus-binary-search
// style (mirrored from pkg/lsm/sstable.go's SSTableIndex) for the
// range tree, since no pack example carries a balanced-tree library;
// the heaps use the standard library's container/heap, documented in
// DESIGN.md (no heap/priority queue library appears anywhere in the
// examples pack).
package vyrange

import (
	"math/rand"
	"sync"

	"github.com/tarantool/vinyl/pkg/vyrun"
)

// Range is a half-open key interval [Begin, End) of an index's key
// space (spec.md §3 "Range"). Nil Begin means −∞; nil End means +∞.
// Slices are kept newest-at-head.
type Range struct {
	ID    uint64
	Begin []byte
	End   []byte

	mu     sync.Mutex
	slices []*vyrun.Slice // newest first

	NeedsCompaction bool
	compactionPrio  float64
	heapIndex       int // index into the compaction heap's backing array, -1 if absent

	seed uint32
}

// NewRange creates a range over [begin, end).
func NewRange(id uint64, begin, end []byte) *Range {
	return &Range{ID: id, Begin: begin, End: end, heapIndex: -1, seed: rand.Uint32()}
}

// AddSlice pushes a newly created slice to the head of the range's
// slice list (it is always the newest).
func (r *Range) AddSlice(s *vyrun.Slice) {
	r.mu.Lock()
	r.slices = append([]*vyrun.Slice{s}, r.slices...)
	r.mu.Unlock()
}

// RemoveSlice drops a slice from the range's list (e.g. once its run
// has been compacted away).
func (r *Range) RemoveSlice(s *vyrun.Slice) {
	r.mu.Lock()
	for i, have := range r.slices {
		if have == s {
			r.slices = append(r.slices[:i], r.slices[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// Slices returns a snapshot of the range's slice list, newest first.
func (r *Range) Slices() []*vyrun.Slice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*vyrun.Slice, len(r.slices))
	copy(out, r.slices)
	return out
}

// SliceCount reports how many slices currently belong to the range —
// used both to build the "slices-per-range" histogram (spec.md §4.3
// closing paragraph) and as input to split/coalesce decisions.
func (r *Range) SliceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slices)
}

// CompactionPriority recomputes the range's compaction priority: for
// slices ordered newest→oldest, track a running target size starting
// at the newest slice's byte count and multiplying by sizeRatio at
// each level boundary; a level "fills" when a slice's size exceeds the
// running target, and a level that accumulates more than
// levelSliceCount slices forces compaction of all levels up to and
// including it. More than one slice in the final level always forces
// compaction, to bound space amplification (spec.md §4.3).
func (r *Range) CompactionPriority(sizeRatio float64, levelSliceCount int, sliceSize func(*vyrun.Slice) int64) float64 {
	r.mu.Lock()
	slices := make([]*vyrun.Slice, len(r.slices))
	copy(slices, r.slices)
	r.mu.Unlock()

	if len(slices) == 0 {
		return 0
	}

	target := float64(sliceSize(slices[0]))
	if target <= 0 {
		target = 1
	}
	levelCount := 0
	level := 0
	worst := 0.0
	finalLevelCount := 0

	for i, s := range slices {
		sz := float64(sliceSize(s))
		if sz > target {
			level++
			target *= sizeRatio
			levelCount = 0
		}
		levelCount++
		finalLevelCount = levelCount
		if levelCount > levelSliceCount {
			prio := float64(level+1) + float64(levelCount)/float64(levelSliceCount)
			if prio > worst {
				worst = prio
			}
		}
		_ = i
	}
	if finalLevelCount > 1 {
		// more than one slice survives in the final (oldest) level
		forced := float64(level+1) * 2
		if forced > worst {
			worst = forced
		}
	}

	r.mu.Lock()
	r.compactionPrio = worst
	r.mu.Unlock()
	return worst
}

// Priority returns the last value computed by CompactionPriority.
func (r *Range) Priority() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compactionPrio
}

// Seed returns the random seed drawn when the range was created.
// CompactionPriority does not use it: priorities carry no
// randomization.
func (r *Range) Seed() uint32 { return r.seed }

// InHeap reports whether the range currently sits in a compaction
// heap. A range removed from its heap (picked for an in-flight
// compaction) reports false; used by ShouldCoalesce's scheduled
// predicate to avoid merging with a range mid-task.
func (r *Range) InHeap() bool { return r.heapIndex >= 0 }
