package vysched

import (
	"github.com/tarantool/vinyl/pkg/vylog"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
)

// maintainRangeLocked runs spec.md §4.3's split/coalesce tests against
// rng right after a compaction completed on it, and performs whichever
// applies. Called with s.mu held. Reports whether rng was replaced
// (split or coalesced away), so the caller knows not to push the old
// *vyrange.Range back onto the compaction heap itself.
func (s *Scheduler) maintainRangeLocked(ts *treeState, rng *vyrange.Range) bool {
	if s.trySplitLocked(ts, rng) {
		return true
	}
	return s.tryCoalesceLocked(ts, rng)
}

// trySplitLocked implements spec.md §4.3's "Split test": a range that
// has just been compacted, carrying a single oversized slice, is cut
// at its median page's min_key into two new ranges sharing the old
// slice's run (grounded on the same begin/end sub-range mechanism
// vyrun.Slice already uses for dump-produced slices).
func (s *Scheduler) trySplitLocked(ts *treeState, rng *vyrange.Range) bool {
	slices := rng.Slices()
	if len(slices) != 1 {
		return false
	}
	sl := slices[0]
	cmp := ts.tree.CmpDef().Compare

	splitKey, ok := vyrange.ShouldSplit(rng, true, s.cfg.TargetRangeSize, s.sliceSize, medianPageMinKey, firstPageMinKey, cmp)
	if !ok {
		return false
	}

	left := vyrange.NewRange(s.ids.Next(), rng.Begin, splitKey)
	right := vyrange.NewRange(s.ids.Next(), splitKey, rng.End)

	leftSlice := vyrun.NewSlice(s.ids.Next(), sl.Run, left.Begin, left.End, 0)
	rightSlice := vyrun.NewSlice(s.ids.Next(), sl.Run, right.Begin, right.End, 0)
	left.AddSlice(leftSlice)
	right.AddSlice(rightSlice)
	left.CompactionPriority(s.cfg.RunSizeRatio, s.cfg.RunCountPerLevel, s.sliceSize)
	right.CompactionPriority(s.cfg.RunSizeRatio, s.cfg.RunCountPerLevel, s.sliceSize)

	s.log.WriteAll([]*vylog.Record{
		{Type: vylog.DeleteSlice, SliceID: sl.ID},
		{Type: vylog.DeleteRange, RangeID: rng.ID},
		{Type: vylog.InsertRange, RangeID: left.ID, BeginKey: left.Begin, EndKey: left.End},
		{Type: vylog.InsertSlice, RangeID: left.ID, RunID: sl.Run.ID, SliceID: leftSlice.ID, BeginKey: left.Begin, EndKey: left.End},
		{Type: vylog.InsertRange, RangeID: right.ID, BeginKey: right.Begin, EndKey: right.End},
		{Type: vylog.InsertSlice, RangeID: right.ID, RunID: sl.Run.ID, SliceID: rightSlice.ID, BeginKey: right.Begin, EndKey: right.End},
	})
	s.log.Flush()

	ts.tree.RemoveRange(rng)
	ts.tree.AddRange(left)
	ts.tree.AddRange(right)
	sl.Cut()

	s.logger.Printf("vysched: split range %d of lsm %d into %d and %d", rng.ID, ts.lsmID, left.ID, right.ID)
	return true
}

// tryCoalesceLocked implements spec.md §4.3's "Coalesce test" against
// rng and its immediate right neighbor: if their combined size is
// small enough and neither is mid-task elsewhere, they are merged into
// one range carrying both of their slices (re-sliced to the merged
// bounds, same underlying runs).
func (s *Scheduler) tryCoalesceLocked(ts *treeState, rng *vyrange.Range) bool {
	next := ts.tree.RangeTree().Next(rng)
	if next == nil {
		return false
	}

	scheduled := func(r *vyrange.Range) bool {
		if r == rng {
			// rng just finished its compaction synchronously under
			// s.mu; it looks "not in the heap" for the same reason,
			// not because another task owns it.
			return false
		}
		return !r.InHeap()
	}
	rangeSize := func(r *vyrange.Range) int64 {
		var total int64
		for _, sl := range r.Slices() {
			total += s.sliceSize(sl)
		}
		return total
	}
	if !vyrange.ShouldCoalesce([]*vyrange.Range{rng, next}, scheduled, s.cfg.TargetRangeSize, rangeSize) {
		return false
	}

	merged := vyrange.NewRange(s.ids.Next(), rng.Begin, next.End)
	records := []*vylog.Record{
		{Type: vylog.DeleteRange, RangeID: rng.ID},
		{Type: vylog.DeleteRange, RangeID: next.ID},
	}
	for _, r := range []*vyrange.Range{rng, next} {
		for _, sl := range r.Slices() {
			records = append(records, &vylog.Record{Type: vylog.DeleteSlice, SliceID: sl.ID})
			ns := vyrun.NewSlice(s.ids.Next(), sl.Run, merged.Begin, merged.End, 0)
			merged.AddSlice(ns)
			records = append(records, &vylog.Record{Type: vylog.InsertSlice, RangeID: merged.ID, RunID: sl.Run.ID, SliceID: ns.ID, BeginKey: merged.Begin, EndKey: merged.End})
			sl.Cut()
		}
	}
	records = append(records, &vylog.Record{Type: vylog.InsertRange, RangeID: merged.ID, BeginKey: merged.Begin, EndKey: merged.End})
	merged.CompactionPriority(s.cfg.RunSizeRatio, s.cfg.RunCountPerLevel, s.sliceSize)

	s.log.WriteAll(records)
	s.log.Flush()

	ts.tree.RemoveRange(rng)
	ts.tree.RemoveRange(next)
	ts.tree.AddRange(merged)

	s.logger.Printf("vysched: coalesced ranges %d and %d of lsm %d into %d", rng.ID, next.ID, ts.lsmID, merged.ID)
	return true
}

func medianPageMinKey(sl *vyrun.Slice) []byte {
	pages := sl.Run.Pages
	if len(pages) == 0 {
		return nil
	}
	return pages[len(pages)/2].MinKey
}

func firstPageMinKey(sl *vyrun.Slice) []byte {
	pages := sl.Run.Pages
	if len(pages) == 0 {
		return nil
	}
	return pages[0].MinKey
}
