package vyrun

import (
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Iterator walks the rows of one Slice in key order, decoding pages on
// demand and keeping the two most recently decoded pages cached so a
// backward step or a restart after a short forward peek doesn't force
// a re-read (spec.md §4.2 "two most-recent pages are cached per
// iterator"). EQ lookups consult the run's bloom filter first and
// short-circuit entirely on a negative (spec.md §4.2 "bloom filter
// over keys").
type Iterator struct {
	slice *Slice
	cmp   func(a, b []byte) int
	typ   vystmt.IterType
	key   []byte

	pageCache [2]struct {
		idx  int
		rows []*vystmt.Statement
	}
	nextCacheSlot int

	pageIdx int
	rowIdx  int
	started bool
	done    bool
}

// NewIterator returns an iterator positioned to begin scanning typ
// direction from key within the slice's bounds.
func (s *Slice) NewIterator(typ vystmt.IterType, key []byte, cmp func(a, b []byte) int) *Iterator {
	return &Iterator{slice: s, cmp: cmp, typ: typ, key: key, pageIdx: -1}
}

func (it *Iterator) cachedPage(idx int) ([]*vystmt.Statement, error) {
	for _, c := range it.pageCache {
		if c.rows != nil && c.idx == idx {
			return c.rows, nil
		}
	}
	rows, err := it.slice.Run.DecodePage(idx)
	if err != nil {
		return nil, err
	}
	it.pageCache[it.nextCacheSlot].idx = idx
	it.pageCache[it.nextCacheSlot].rows = rows
	it.nextCacheSlot = (it.nextCacheSlot + 1) % 2
	return rows, nil
}

func (it *Iterator) withinBounds(key []byte) bool {
	if it.slice.Begin != nil && it.cmp(key, it.slice.Begin) < 0 {
		return false
	}
	if it.slice.End != nil && it.cmp(key, it.slice.End) >= 0 {
		return false
	}
	return true
}

// EQ performs a direct equality lookup using the bloom filter and the
// page min_key binary search, bypassing the general scan path (spec.md
// §4.2, §4.4 point-lookup fast path).
func (it *Iterator) EQ(key []byte) (*vystmt.Statement, bool, error) {
	run := it.slice.Run
	if run.Bloom != nil && !run.Bloom.MaybeContains(key) {
		return nil, false, nil
	}
	if !it.withinBounds(key) {
		return nil, false, nil
	}
	pageIdx := run.FindPage(key, it.cmp)
	if pageIdx < 0 {
		return nil, false, nil
	}
	rows, err := it.cachedPage(pageIdx)
	if err != nil {
		return nil, false, err
	}
	for _, row := range rows {
		if it.cmp(row.Key, key) == 0 {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (it *Iterator) seekStart() error {
	run := it.slice.Run
	if len(run.Pages) == 0 {
		it.done = true
		return nil
	}
	switch it.typ {
	case vystmt.IterGE, vystmt.IterGT, vystmt.IterEQ:
		startKey := it.key
		if startKey == nil {
			startKey = it.slice.Begin
		}
		pageIdx := 0
		if startKey != nil {
			if p := run.FindPage(startKey, it.cmp); p >= 0 {
				pageIdx = p
			}
		}
		rows, err := it.cachedPage(pageIdx)
		if err != nil {
			return err
		}
		rowIdx := 0
		if startKey != nil {
			for rowIdx < len(rows) {
				c := it.cmp(rows[rowIdx].Key, startKey)
				if (it.typ == vystmt.IterGT && c > 0) || (it.typ != vystmt.IterGT && c >= 0) {
					break
				}
				rowIdx++
			}
		}
		it.pageIdx, it.rowIdx = pageIdx, rowIdx
		if it.pageIdx >= len(run.Pages) || it.rowIdx >= len(rows) {
			it.advancePage(1)
		}
	case vystmt.IterLE, vystmt.IterLT:
		endKey := it.key
		if endKey == nil {
			endKey = it.slice.End
		}
		pageIdx := len(run.Pages) - 1
		if endKey != nil {
			if p := run.FindPage(endKey, it.cmp); p >= 0 {
				pageIdx = p
			} else {
				it.done = true
				return nil
			}
		}
		rows, err := it.cachedPage(pageIdx)
		if err != nil {
			return err
		}
		rowIdx := len(rows) - 1
		if endKey != nil {
			for rowIdx >= 0 {
				c := it.cmp(rows[rowIdx].Key, endKey)
				if (it.typ == vystmt.IterLT && c < 0) || (it.typ != vystmt.IterLT && c <= 0) {
					break
				}
				rowIdx--
			}
		}
		it.pageIdx, it.rowIdx = pageIdx, rowIdx
		if it.rowIdx < 0 {
			it.advancePage(-1)
		}
	}
	return nil
}

func (it *Iterator) advancePage(dir int) {
	it.pageIdx += dir
	if it.pageIdx < 0 || it.pageIdx >= len(it.slice.Run.Pages) {
		it.done = true
		return
	}
	if dir > 0 {
		it.rowIdx = 0
	} else {
		it.rowIdx = -1 // filled in by caller after decoding the page
	}
}

// Next returns the next statement in scan order, or ok=false when the
// slice's bound has been reached.
func (it *Iterator) Next() (*vystmt.Statement, bool, error) {
	if it.done {
		return nil, false, nil
	}
	dir := 1
	if !it.typ.Ascending() {
		dir = -1
	}

	if !it.started {
		it.started = true
		if err := it.seekStart(); err != nil {
			return nil, false, err
		}
		if it.done {
			return nil, false, nil
		}
	} else {
		it.rowIdx += dir
	}

	for {
		if it.pageIdx < 0 || it.pageIdx >= len(it.slice.Run.Pages) {
			it.done = true
			return nil, false, nil
		}
		rows, err := it.cachedPage(it.pageIdx)
		if err != nil {
			return nil, false, err
		}
		if dir < 0 && it.rowIdx == -1 {
			it.rowIdx = len(rows) - 1
		}
		if it.rowIdx < 0 || it.rowIdx >= len(rows) {
			it.advancePage(dir)
			continue
		}
		row := rows[it.rowIdx]
		if !it.withinBounds(row.Key) {
			it.done = true
			return nil, false, nil
		}
		return row, true, nil
	}
}
