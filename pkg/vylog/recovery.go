package vylog

import (
	"fmt"
	"sort"

	"github.com/tarantool/vinyl/pkg/vylsm"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Context is the in-memory recovery state built by replaying a vylog
// (spec.md §6 "Recovery: replay builds an in-memory recovery context
// keyed by ids"). Apply folds records in; RebuildTree then lets each
// LSM call back over its own slice of that context to rebuild ranges,
// load runs, and attach slices.
type Context struct {
	lsms   map[uint64]*lsmState
	ranges map[uint64]*rangeState
	runs   map[uint64]*runState
	slices map[uint64]*sliceState
}

type lsmState struct {
	spaceID, indexID, groupID uint64
	keyDef                    string
	createLSN, dropLSN        uint64
	dumpLSN                   uint64
	dropped                   bool
}

type rangeState struct {
	id           uint64
	lsmID        uint64
	begin, end   []byte
	deleted      bool
}

type runState struct {
	id                 uint64
	lsmID              uint64
	dumpLSN            uint64
	dumpCount          uint32
	dropped            bool
	confirmed          bool // CREATE_RUN seen, not just PREPARE_RUN
}

type sliceState struct {
	id              uint64
	rangeID, runID  uint64
	begin, end      []byte
	deleted         bool
}

// NewContext creates an empty recovery context.
func NewContext() *Context {
	return &Context{
		lsms:   make(map[uint64]*lsmState),
		ranges: make(map[uint64]*rangeState),
		runs:   make(map[uint64]*runState),
		slices: make(map[uint64]*sliceState),
	}
}

// Apply folds a sequence of records (as read back by Log.Replay) into
// the context, in order.
func (c *Context) Apply(records []*Record) error {
	for _, r := range records {
		if err := c.apply(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) apply(r *Record) error {
	switch r.Type {
	case PrepareLSM:
		c.lsms[r.LSMID] = &lsmState{spaceID: r.SpaceID, indexID: r.IndexID, groupID: r.GroupID, keyDef: r.KeyDef}
	case CreateLSM:
		l, ok := c.lsms[r.LSMID]
		if !ok {
			return fmt.Errorf("vylog: CREATE_LSM for unknown lsm %d", r.LSMID)
		}
		l.createLSN = r.CreateLSN
	case DropLSM:
		l, ok := c.lsms[r.LSMID]
		if !ok {
			return fmt.Errorf("vylog: DROP_LSM for unknown lsm %d", r.LSMID)
		}
		l.dropped = true
		l.dropLSN = r.DropLSN
	case DumpLSM:
		l, ok := c.lsms[r.LSMID]
		if !ok {
			return fmt.Errorf("vylog: DUMP_LSM for unknown lsm %d", r.LSMID)
		}
		l.dumpLSN = r.DumpLSN
	case InsertRange:
		c.ranges[r.RangeID] = &rangeState{id: r.RangeID, lsmID: r.LSMID, begin: r.BeginKey, end: r.EndKey}
	case DeleteRange:
		if rg, ok := c.ranges[r.RangeID]; ok {
			rg.deleted = true
		}
	case PrepareRun:
		c.runs[r.RunID] = &runState{id: r.RunID, lsmID: r.LSMID}
	case CreateRun:
		run, ok := c.runs[r.RunID]
		if !ok {
			run = &runState{id: r.RunID, lsmID: r.LSMID}
			c.runs[r.RunID] = run
		}
		run.dumpLSN, run.dumpCount, run.confirmed = r.DumpLSN, r.DumpCount, true
	case DropRun:
		if run, ok := c.runs[r.RunID]; ok {
			run.dropped = true
		}
	case InsertSlice:
		c.slices[r.SliceID] = &sliceState{id: r.SliceID, rangeID: r.RangeID, runID: r.RunID, begin: r.BeginKey, end: r.EndKey}
	case DeleteSlice:
		if s, ok := c.slices[r.SliceID]; ok {
			s.deleted = true
		}
	default:
		return fmt.Errorf("vylog: unknown record type %d", r.Type)
	}
	return nil
}

// LiveLSMIDs returns the ids of LSMs that were created and never
// dropped, in ascending order.
func (c *Context) LiveLSMIDs() []uint64 {
	var ids []uint64
	for id, l := range c.lsms {
		if !l.dropped {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Context) liveRanges(lsmID uint64) []*rangeState {
	var out []*rangeState
	for _, rg := range c.ranges {
		if rg.lsmID == lsmID && !rg.deleted {
			out = append(out, rg)
		}
	}
	return out
}

func (c *Context) liveSlices(rangeID uint64) []*sliceState {
	var out []*sliceState
	for _, s := range c.slices {
		if s.rangeID == rangeID && !s.deleted {
			out = append(out, s)
		}
	}
	return out
}

// RebuildOptions carries the pieces RebuildTree needs beyond the
// recovery context itself.
type RebuildOptions struct {
	BaseDir    string
	CmpDef     *vystmt.CmpDef
	CacheQuota int
	Format     string
}

// RebuildTree reconstructs one LSM tree from the recovery context: its
// ranges, the runs its slices reference (opened from disk), and the
// slices themselves, then validates the range tree's cover invariant
// (spec.md §6 "Recovery", §8).
func (c *Context) RebuildTree(lsmID uint64, opts RebuildOptions) (*vylsm.Tree, error) {
	l, ok := c.lsms[lsmID]
	if !ok {
		return nil, fmt.Errorf("vylog: rebuild requested for unknown lsm %d", lsmID)
	}
	if l.dropped {
		return nil, fmt.Errorf("vylog: lsm %d was dropped", lsmID)
	}

	tree := vylsm.New(vylsm.Config{
		SpaceID:    l.spaceID,
		IndexID:    l.indexID,
		BaseDir:    opts.BaseDir,
		CmpDef:     opts.CmpDef,
		CacheQuota: opts.CacheQuota,
		Format:     opts.Format,
	})
	tree.SetDumpLSN(l.dumpLSN)

	// Drop the single-range cover vylsm.New seeds and replace it with
	// the one recovered from the log, unless the log itself had none
	// (a freshly created, never-dumped index legitimately has just the
	// implicit whole-space range vylsm.New already installed).
	ranges := c.liveRanges(lsmID)
	if len(ranges) == 0 {
		return tree, nil
	}
	sort.Slice(ranges, func(i, j int) bool { return beginLess(ranges[i].begin, ranges[j].begin, opts.CmpDef.Compare) })
	for _, old := range tree.RangeTree().Ranges() {
		tree.RemoveRange(old)
	}

	openedRuns := make(map[uint64]*vyrun.Run)

	for _, rs := range ranges {
		rng := vyrange.NewRange(rs.id, rs.begin, rs.end)
		slices := c.liveSlices(rs.id)
		sort.Slice(slices, func(i, j int) bool { return slices[i].id < slices[j].id })
		for _, ss := range slices {
			run, ok := openedRuns[ss.runID]
			if !ok {
				rec, ok := c.runs[ss.runID]
				if !ok || rec.dropped || !rec.confirmed {
					return nil, fmt.Errorf("vylog: slice %d references missing/unconfirmed/dropped run %d", ss.id, ss.runID)
				}
				var err error
				run, err = vyrun.Open(opts.BaseDir, l.spaceID, l.indexID, ss.runID)
				if err != nil {
					return nil, fmt.Errorf("vylog: opening run %d: %w", ss.runID, err)
				}
				openedRuns[ss.runID] = run
				tree.AddRun(run)
			}
			slice := vyrun.NewSlice(ss.id, run, ss.begin, ss.end, 0)
			rng.AddSlice(slice)
		}
		tree.AddRange(rng)
	}

	// "Runs still holding only the recovery-held reference are dropped":
	// anything PREPARE_RUN'd (or CREATE_RUN'd) but never attached to a
	// slice is orphaned GC fodder, not part of the live tree. Nothing to
	// do here beyond not having opened/attached them above.

	if err := validateRangeCover(tree.RangeTree().Ranges(), opts.CmpDef.Compare); err != nil {
		return nil, err
	}
	return tree, nil
}

// beginLess orders range-begin keys treating nil as −∞, which always
// sorts first regardless of what cmp does with an empty/nil slice.
func beginLess(a, b []byte, cmp func(x, y []byte) int) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return cmp(a, b) < 0
}

// validateRangeCover checks spec.md §8's range-tree invariant: the
// leftmost range begins at −∞, the rightmost ends at +∞, adjacent
// ranges' end/begin match exactly, and no range is degenerate
// (non-nil begin == non-nil end).
func validateRangeCover(ranges []*vyrange.Range, cmp func(a, b []byte) int) error {
	if len(ranges) == 0 {
		return fmt.Errorf("vylog: recovered range tree is empty")
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Begin == nil {
			return ranges[j].Begin != nil
		}
		if ranges[j].Begin == nil {
			return false
		}
		return cmp(ranges[i].Begin, ranges[j].Begin) < 0
	})
	if ranges[0].Begin != nil {
		return fmt.Errorf("vylog: leftmost range %d does not begin at -inf", ranges[0].ID)
	}
	if ranges[len(ranges)-1].End != nil {
		return fmt.Errorf("vylog: rightmost range %d does not end at +inf", ranges[len(ranges)-1].ID)
	}
	for i := 0; i < len(ranges); i++ {
		if ranges[i].Begin != nil && ranges[i].End != nil && cmp(ranges[i].Begin, ranges[i].End) == 0 {
			return fmt.Errorf("vylog: range %d is degenerate (begin == end)", ranges[i].ID)
		}
		if i+1 < len(ranges) {
			a, b := ranges[i].End, ranges[i+1].Begin
			if a == nil || b == nil || cmp(a, b) != 0 {
				return fmt.Errorf("vylog: ranges %d and %d do not tile the key space exactly", ranges[i].ID, ranges[i+1].ID)
			}
		}
	}
	return nil
}
