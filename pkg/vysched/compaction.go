package vysched

import (
	"time"

	"github.com/tarantool/vinyl/pkg/vylog"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
	"github.com/tarantool/vinyl/pkg/vywrite"
)

// compactJob merges every slice currently in one range into a single
// new run (spec.md §4.10 task lifecycle, compaction branch). Always a
// full-range compaction, never a partial one selected ahead of time;
// the result range is then checked against the split/coalesce tests
// in rangemaint.go once the merge lands (spec.md §4.3).
type compactJob struct {
	ts     *treeState
	rng    *vyrange.Range
	slices []*vyrun.Slice
	runID  uint64
}

type compactResult struct {
	job     *compactJob
	run     *vyrun.Run
	ddPairs [][2]*vystmt.Statement
	elapsed time.Duration
	err     error
}

func (s *Scheduler) runCompaction(job *compactJob) {
	start := time.Now()
	job.runID = s.ids.Next()
	if err := s.log.Write(&vylog.Record{Type: vylog.PrepareRun, LSMID: job.ts.lsmID, RunID: job.runID}); err != nil {
		s.compactResultCh <- compactResult{job: job, err: err}
		return
	}

	for _, sl := range job.slices {
		sl.Pin()
	}
	defer func() {
		for _, sl := range job.slices {
			sl.Unpin()
		}
	}()

	tree := job.ts.tree
	expectedRows := 0
	sources := make([]vywrite.Source, len(job.slices))
	for i, sl := range job.slices {
		sources[i] = vywrite.NewSliceSource(sl, tree.CmpDef().Compare)
		expectedRows += int(sl.Run.Rows)
	}

	w, err := vyrun.NewWriter(tree.BaseDir(), tree.SpaceID(), tree.IndexID(), job.runID, s.cfg.PageSize, expectedRows, s.cfg.ZstdLevel)
	if err != nil {
		s.compactResultCh <- compactResult{job: job, err: err}
		return
	}

	var ddPairs [][2]*vystmt.Statement
	cfg := vywrite.Config{
		CmpDef:      tree.CmpDef(),
		ReadViews:   s.openReadViewLSNs(),
		IsLastLevel: true,
	}
	if job.ts.isPrimary {
		cfg.DeferredDelete = func(old, newer *vystmt.Statement) {
			ddPairs = append(ddPairs, [2]*vystmt.Statement{old, newer})
		}
	}

	it, err := vywrite.New(cfg, sources)
	if err != nil {
		w.Abort()
		s.compactResultCh <- compactResult{job: job, err: err}
		return
	}

	run, err := vywrite.Drain(it, w)
	s.compactResultCh <- compactResult{job: job, run: run, ddPairs: ddPairs, elapsed: time.Since(start), err: err}
}

func (s *Scheduler) completeCompaction(res compactResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := res.job
	ts := job.ts

	if res.err != nil {
		s.metrics.RecordCompaction(res.elapsed, 0, res.err)
		s.logger.Printf("vysched: compaction of lsm %d run %d failed: %v", ts.lsmID, job.runID, res.err)
		s.log.Write(&vylog.Record{Type: vylog.DropRun, RunID: job.runID, GCLSN: 0})
		d := ts.compactBackoff.next()
		rng := job.rng
		time.AfterFunc(d, func() {
			s.mu.Lock()
			ts.tree.CompactionHeap().Push(rng)
			s.mu.Unlock()
			s.Wake()
		})
		return
	}

	if ts.tree.IsDropped() {
		if res.run != nil && res.run.Rows > 0 {
			res.run.Unref()
		}
		s.log.Write(&vylog.Record{Type: vylog.DropRun, RunID: job.runID, GCLSN: 0})
		return
	}
	ts.compactBackoff.reset()
	if res.run != nil {
		s.metrics.RecordCompaction(res.elapsed, s.runSize(res.run), nil)
	}
	ts.tree.RecordCompaction()
	s.checkTooLong("compaction", ts.lsmID, job.runID, res.elapsed)

	consumed := make(map[*vyrun.Slice]bool, len(job.slices))
	for _, sl := range job.slices {
		consumed[sl] = true
	}

	var records []*vylog.Record
	for _, sl := range job.slices {
		records = append(records, &vylog.Record{Type: vylog.DeleteSlice, SliceID: sl.ID})
	}

	// A run becomes garbage once none of its slices, anywhere in the
	// tree, survive this compaction (spec.md §4.10 "compute the set of
	// runs whose slices were all consumed and are now unused").
	checked := make(map[*vyrun.Run]bool)
	var unusedRuns []*vyrun.Run
	for _, sl := range job.slices {
		if checked[sl.Run] {
			continue
		}
		checked[sl.Run] = true
		stillUsed := false
		for _, rr := range ts.tree.RangeTree().Ranges() {
			for _, other := range rr.Slices() {
				if other.Run == sl.Run && !consumed[other] {
					stillUsed = true
				}
			}
		}
		if !stillUsed {
			unusedRuns = append(unusedRuns, sl.Run)
		}
	}
	for _, r := range unusedRuns {
		records = append(records, &vylog.Record{Type: vylog.DropRun, RunID: r.ID, GCLSN: 0})
	}

	var newSlice *vyrun.Slice
	if res.run != nil && res.run.Rows > 0 {
		sliceID := s.ids.Next()
		newSlice = vyrun.NewSlice(sliceID, res.run, job.rng.Begin, job.rng.End, 0)
		records = append(records, &vylog.Record{Type: vylog.CreateRun, LSMID: ts.lsmID, RunID: res.run.ID, DumpLSN: res.run.MaxLSN, DumpCount: uint32(res.run.Rows)})
		records = append(records, &vylog.Record{Type: vylog.InsertSlice, RangeID: job.rng.ID, RunID: res.run.ID, SliceID: sliceID, BeginKey: job.rng.Begin, EndKey: job.rng.End})
	}

	s.log.WriteAll(records)
	s.log.Flush()

	// Swap the consumed slices for the replacement in one step: since
	// a compaction here always drains every slice a range currently
	// holds, "place the new slice at the position of the leftmost
	// consumed slice" collapses to a plain head-insertion — there is
	// no older slice left behind it to preserve ordering against.
	for _, sl := range job.slices {
		job.rng.RemoveSlice(sl)
	}
	if newSlice != nil {
		ts.tree.AddRun(res.run)
		job.rng.AddSlice(newSlice)
	}
	for _, sl := range job.slices {
		sl.Cut()
	}
	for _, r := range unusedRuns {
		ts.tree.RemoveRun(r)
	}

	job.rng.CompactionPriority(s.cfg.RunSizeRatio, s.cfg.RunCountPerLevel, s.sliceSize)
	if !s.maintainRangeLocked(ts, job.rng) {
		ts.tree.CompactionHeap().Push(job.rng)
	}

	if ts.isPrimary && len(res.ddPairs) > 0 && s.cfg.DeferredDeleteSink != nil {
		s.cfg.DeferredDeleteSink(ts.lsmID, res.ddPairs)
	}
}
