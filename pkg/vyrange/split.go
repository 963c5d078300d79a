package vyrange

import "github.com/tarantool/vinyl/pkg/vyrun"

// ShouldSplit reports whether r is a candidate for splitting (spec.md
// §4.3 "Split test"): it must have been compacted at least once (so
// sizing is stable), its oldest slice must be at least 4/3× the
// configured target range size, and the median page's min_key must
// differ from the first page's min_key and lie strictly within the
// range's bounds. On a positive result it also returns the split key
// (the median page's min_key).
func ShouldSplit(r *Range, compactedOnce bool, targetRangeSize int64, sliceSize func(*vyrun.Slice) int64, medianPageMinKey func(*vyrun.Slice) []byte, firstPageMinKey func(*vyrun.Slice) []byte, cmp func(a, b []byte) int) (splitKey []byte, ok bool) {
	if !compactedOnce {
		return nil, false
	}
	slices := r.Slices()
	if len(slices) == 0 {
		return nil, false
	}
	oldest := slices[len(slices)-1]
	if sliceSize(oldest) < (targetRangeSize*4)/3 {
		return nil, false
	}

	median := medianPageMinKey(oldest)
	first := firstPageMinKey(oldest)
	if median == nil || cmp(median, first) == 0 {
		return nil, false
	}
	if r.Begin != nil && cmp(median, r.Begin) <= 0 {
		return nil, false
	}
	if r.End != nil && cmp(median, r.End) >= 0 {
		return nil, false
	}
	return median, true
}

// ShouldCoalesce reports whether the neighboring ranges (ordered,
// adjacent, none currently scheduled for compaction/split) can be
// merged: aggregate byte size across them must not exceed half the
// target range size, and the result must span more than one range
// (spec.md §4.3 "Coalesce test").
func ShouldCoalesce(neighbors []*Range, scheduled func(*Range) bool, targetRangeSize int64, rangeSize func(*Range) int64) bool {
	if len(neighbors) < 2 {
		return false
	}
	var total int64
	for _, r := range neighbors {
		if scheduled(r) {
			return false
		}
		total += rangeSize(r)
	}
	return total <= targetRangeSize/2
}
