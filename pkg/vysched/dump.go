package vysched

import (
	"time"

	"github.com/tarantool/vinyl/pkg/vylog"
	"github.com/tarantool/vinyl/pkg/vymem"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vywrite"
)

// dumpJob carries one MEM through prepare/execute/complete (spec.md
// §4.10 task lifecycle, dump branch).
type dumpJob struct {
	ts    *treeState
	mem   *vymem.Mem
	entry *vyrange.DumpEntry
	runID uint64
}

type dumpResult struct {
	job     *dumpJob
	run     *vyrun.Run
	elapsed time.Duration
	err     error
}

// runDump executes a dump task on a worker goroutine: allocate+log a
// prepared run, drain the MEM through the write iterator into it, and
// report back to the coordinator. Runs entirely off the coordinator
// goroutine; only completeDump touches shared heap/tree state.
func (s *Scheduler) runDump(job *dumpJob) {
	start := time.Now()
	job.runID = s.ids.Next()
	if err := s.log.Write(&vylog.Record{Type: vylog.PrepareRun, LSMID: job.ts.lsmID, RunID: job.runID}); err != nil {
		s.dumpResultCh <- dumpResult{job: job, err: err}
		return
	}

	job.mem.Pin()
	defer job.mem.Unpin()

	tree := job.ts.tree
	w, err := vyrun.NewWriter(tree.BaseDir(), tree.SpaceID(), tree.IndexID(), job.runID, s.cfg.PageSize, job.mem.Count(), s.cfg.ZstdLevel)
	if err != nil {
		s.dumpResultCh <- dumpResult{job: job, err: err}
		return
	}

	it, err := vywrite.New(vywrite.Config{
		CmpDef:      tree.CmpDef(),
		ReadViews:   s.openReadViewLSNs(),
		IsLastLevel: len(tree.Runs()) == 0,
	}, []vywrite.Source{vywrite.NewMemSource(job.mem)})
	if err != nil {
		w.Abort()
		s.dumpResultCh <- dumpResult{job: job, err: err}
		return
	}

	run, err := vywrite.Drain(it, w)
	s.dumpResultCh <- dumpResult{job: job, run: run, elapsed: time.Since(start), err: err}
}

// completeDump runs on the coordinator goroutine: on success it
// attaches the new run's slices to every range it overlaps and retires
// the dumped MEM; on failure it discards the prepared run and schedules
// a backoff retry (spec.md §4.10 step 4/5).
func (s *Scheduler) completeDump(res dumpResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := res.job
	ts := job.ts

	if res.err != nil {
		s.metrics.RecordDump(res.elapsed, 0, res.err)
		s.logger.Printf("vysched: dump of lsm %d run %d failed: %v", ts.lsmID, job.runID, res.err)
		s.log.Write(&vylog.Record{Type: vylog.DropRun, RunID: job.runID, GCLSN: 0})
		d := ts.dumpBackoff.next()
		entry := job.entry
		time.AfterFunc(d, func() {
			s.mu.Lock()
			entry.IsDumping = false
			s.dumpHeap.Fix(entry)
			s.mu.Unlock()
			s.Wake()
		})
		return
	}
	ts.dumpBackoff.reset()

	run := res.run
	s.metrics.RecordDump(res.elapsed, s.runSize(run), nil)
	ts.tree.RecordDump()
	s.checkTooLong("dump", ts.lsmID, job.runID, res.elapsed)
	if run.Rows == 0 {
		// The MEM fully tombstoned at the bottom level: nothing
		// survived to persist.
		run.Unref()
		s.log.Write(&vylog.Record{Type: vylog.DropRun, RunID: job.runID, GCLSN: 0})
	} else {
		ranges := ts.tree.FindRangeIntersection(run.MinKey, run.MaxKey)
		records := []*vylog.Record{{Type: vylog.CreateRun, LSMID: ts.lsmID, RunID: run.ID, DumpLSN: run.MaxLSN, DumpCount: uint32(run.Rows)}}

		type attach struct {
			rng   *vyrange.Range
			slice *vyrun.Slice
		}
		attaches := make([]attach, 0, len(ranges))
		for _, rng := range ranges {
			sliceID := s.ids.Next()
			slice := vyrun.NewSlice(sliceID, run, rng.Begin, rng.End, 0)
			records = append(records, &vylog.Record{Type: vylog.InsertSlice, RangeID: rng.ID, RunID: run.ID, SliceID: sliceID, BeginKey: rng.Begin, EndKey: rng.End})
			attaches = append(attaches, attach{rng, slice})
		}
		records = append(records, &vylog.Record{Type: vylog.DumpLSM, LSMID: ts.lsmID, DumpLSN: run.MaxLSN})

		s.log.WriteAll(records)
		s.log.Flush()

		ts.tree.AddRun(run)
		for _, a := range attaches {
			a.rng.AddSlice(a.slice)
			a.rng.CompactionPriority(s.cfg.RunSizeRatio, s.cfg.RunCountPerLevel, s.sliceSize)
			ts.tree.CompactionHeap().Fix(a.rng)
		}
		if run.MaxLSN > ts.tree.DumpLSN() {
			ts.tree.SetDumpLSN(run.MaxLSN)
		}
	}

	ts.tree.DeleteMem(job.mem)
	s.dumpHeap.Remove(job.entry)
	delete(ts.dumpEntries, job.mem)

	if job.mem == ts.checkpointMem {
		ts.checkpointMem = nil
		s.checkpointWG.Done()
	}

	s.advanceDumpRoundLocked(ts)
}

// advanceDumpRoundLocked fires the memory-release callback once every
// MEM at the round's generation has been dumped, and advances the
// round to the next-oldest remaining generation (spec.md §4.10 "A
// round of dump processes all MEMs whose generation equals
// dump_generation... dump_generation advances to the minimum
// generation of any remaining MEM").
func (s *Scheduler) advanceDumpRoundLocked(ts *treeState) {
	for _, e := range ts.dumpEntries {
		if e.Generation <= ts.dumpGeneration {
			return // round not yet cleared
		}
	}
	next := ts.dumpGeneration
	first := true
	for _, e := range ts.dumpEntries {
		if first || e.Generation < next {
			next = e.Generation
			first = false
		}
	}
	if !first {
		ts.dumpGeneration = next
	} else {
		ts.dumpGeneration = ts.tree.NextMemGeneration()
	}
	ts.tree.FireDumpGenerationDone()
	if s.cfg.DumpQuotaReleased != nil {
		s.cfg.DumpQuotaReleased(ts.lsmID, ts.dumpGeneration)
	}
}
