// Package vylsm wires one index's full LSM tree together (spec.md
// §4.4): the active MEM, the sealed-MEM list, the range tree, the run
// list, the per-index cache, and the version counters iterators
// snapshot to detect structural change. Grounded on the teacher's
// pkg/lsm/lsm.go LSMTree (active/immutable memtable pair, sstables
// list, mutex-guarded Put/Get/Delete, background flush/compaction
// workers) generalized from a single flat sstables slice to the range
// tree and per-index cache spec.md requires.
package vylsm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tarantool/vinyl/pkg/vycache"
	"github.com/tarantool/vinyl/pkg/vymem"
	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Config configures one index's LSM tree.
type Config struct {
	SpaceID    uint64
	IndexID    uint64
	BaseDir    string
	CmpDef     *vystmt.CmpDef
	CacheQuota int
	Format     string
}

// Tree is a single index's LSM tree.
type Tree struct {
	spaceID uint64
	indexID uint64
	baseDir string
	cmpDef  *vystmt.CmpDef
	format  string

	mu         sync.RWMutex
	active     *vymem.Mem
	sealed     []*vymem.Mem // newest-first
	runs       []*vyrun.Run
	rangeTree  *vyrange.Tree
	rangeHeap  *vyrange.CompactionHeap
	cache      *vycache.Cache

	memListVersion   uint64
	rangeTreeVersion uint64

	nextMemGen uint64
	dumpLSN    uint64

	isDropped bool
	isDumping bool
	pinCount  int32

	onDumpGeneration func() // fired when no dump tasks remain and dump_generation advances

	dumpsCompleted       uint64
	compactionsCompleted uint64
	diskReads            uint64
}

// New creates an LSM tree with one initial range spanning the whole
// key space (−∞,+∞), satisfying the range-tree-cover invariant from
// the very first moment (spec.md §8).
func New(cfg Config) *Tree {
	t := &Tree{
		spaceID:   cfg.SpaceID,
		indexID:   cfg.IndexID,
		baseDir:   cfg.BaseDir,
		cmpDef:    cfg.CmpDef,
		format:    cfg.Format,
		rangeTree: vyrange.NewTree(cfg.CmpDef.Compare),
		rangeHeap: vyrange.NewCompactionHeap(),
		cache:     vycache.New(cfg.CmpDef.Compare, cfg.CacheQuota),
	}
	t.active = vymem.New(t.nextMemGen, t.cmpDef, t.format)
	t.nextMemGen++

	whole := vyrange.NewRange(1, nil, nil)
	t.rangeTree.AddRange(whole)
	t.rangeHeap.Push(whole)
	return t
}

// Set inserts entry into the active MEM. Rejects a format mismatch —
// indicating concurrent DDL changed the index's tuple format (spec.md
// §4.4 "set(mem, entry, &region_stmt)").
func (t *Tree) Set(s *vystmt.Statement, format string) error {
	t.mu.RLock()
	mem := t.active
	t.mu.RUnlock()

	if format != "" && mem.Format() != format {
		return fmt.Errorf("vylsm: format mismatch: mem=%s write=%s", mem.Format(), format)
	}
	mem.Insert(s)
	return nil
}

// CommitStmt finalizes an insertion: invalidates the cache entry for
// the key, and for UPSERTs triggers the optional squash described in
// spec.md §4.4's "UPSERT squashing policy".
func (t *Tree) CommitStmt(s *vystmt.Statement) {
	t.cache.OnWrite(s.Key)
	if s.Type != vystmt.Upsert {
		return
	}
	t.maybeSquash(s)
}

// maybeSquash applies a single in-place squash: if the active MEM is
// the sole source for this key in this LSM (no other MEMs, no runs)
// and n_upserts is 0, fold the UPSERT against the immediate older
// statement in the MEM to produce a REPLACE.
func (t *Tree) maybeSquash(s *vystmt.Statement) {
	t.mu.RLock()
	sole := len(t.sealed) == 0 && len(t.runs) == 0
	mem := t.active
	t.mu.RUnlock()

	if !sole || s.NUpserts != 0 {
		return
	}
	older, ok := mem.OlderLSN(s.Key, s.LSN)
	if !ok {
		return
	}
	resolved, applied := vystmt.ApplyUpsert(s, older, t.cmpDef)
	if !applied {
		return
	}
	mem.Insert(resolved)
}

// RollbackStmt invalidates the cache entry for the statement's key. It
// does not remove the statement from the MEM it was inserted into.
func (t *Tree) RollbackStmt(s *vystmt.Statement) {
	t.cache.OnWrite(s.Key)
}

// RotateMem seals the active MEM and creates a fresh one, bumping
// mem_list_version (spec.md §4.4 "rotate_mem()").
func (t *Tree) RotateMem() *vymem.Mem {
	t.mu.Lock()
	defer t.mu.Unlock()
	sealed := t.active
	t.sealed = append([]*vymem.Mem{sealed}, t.sealed...)
	t.active = vymem.New(t.nextMemGen, t.cmpDef, t.format)
	t.nextMemGen++
	atomic.AddUint64(&t.memListVersion, 1)
	return sealed
}

// DeleteMem removes a sealed MEM after it has been dumped, bumping
// mem_list_version (spec.md §4.4 "delete_mem(mem)").
func (t *Tree) DeleteMem(mem *vymem.Mem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.sealed {
		if m == mem {
			t.sealed = append(t.sealed[:i], t.sealed[i+1:]...)
			break
		}
	}
	atomic.AddUint64(&t.memListVersion, 1)
}

// AddRun links a newly created run into the LSM's run list.
func (t *Tree) AddRun(r *vyrun.Run) {
	t.mu.Lock()
	t.runs = append([]*vyrun.Run{r}, t.runs...)
	t.mu.Unlock()
}

// RemoveRun unlinks a run (after compaction has replaced it).
func (t *Tree) RemoveRun(r *vyrun.Run) {
	t.mu.Lock()
	for i, have := range t.runs {
		if have == r {
			t.runs = append(t.runs[:i], t.runs[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// AddRange inserts r into both the range tree and the compaction heap
// (spec.md §4.4 "add_range(r)").
func (t *Tree) AddRange(r *vyrange.Range) {
	t.mu.Lock()
	t.rangeTree.AddRange(r)
	t.rangeHeap.Push(r)
	atomic.AddUint64(&t.rangeTreeVersion, 1)
	t.mu.Unlock()
}

// RemoveRange removes r from both structures (spec.md §4.4
// "remove_range(r)").
func (t *Tree) RemoveRange(r *vyrange.Range) {
	t.mu.Lock()
	t.rangeTree.RemoveRange(r)
	t.rangeHeap.Remove(r)
	atomic.AddUint64(&t.rangeTreeVersion, 1)
	t.mu.Unlock()
}

// ForceCompaction marks every range as needing compaction and
// refreshes the heap (spec.md §4.4 "force_compaction()").
func (t *Tree) ForceCompaction() {
	t.mu.Lock()
	for _, r := range t.rangeTree.Ranges() {
		r.NeedsCompaction = true
	}
	t.rangeHeap.FixAll()
	t.mu.Unlock()
}

// FindRangeIntersection returns every range overlapping [minKey,
// maxKey], used by dump completion to scatter a new run's slices
// across the ranges it spans (spec.md §4.4
// "find_range_intersection").
func (t *Tree) FindRangeIntersection(minKey, maxKey []byte) []*vyrange.Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*vyrange.Range
	for _, r := range t.rangeTree.Ranges() {
		if rangeOverlaps(r, minKey, maxKey, t.cmpDef.Compare) {
			out = append(out, r)
		}
	}
	return out
}

func rangeOverlaps(r *vyrange.Range, minKey, maxKey []byte, cmp func(a, b []byte) int) bool {
	if r.End != nil && cmp(r.End, minKey) <= 0 {
		return false
	}
	if r.Begin != nil && cmp(r.Begin, maxKey) > 0 {
		return false
	}
	return true
}

// Snapshot captures the version counters an iterator must recheck
// after any yield (spec.md §4.7 "snapshot of mem_list_version/
// range_tree_version").
type Snapshot struct {
	MemListVersion   uint64
	RangeTreeVersion uint64
}

func (t *Tree) Snapshot() Snapshot {
	return Snapshot{
		MemListVersion:   atomic.LoadUint64(&t.memListVersion),
		RangeTreeVersion: atomic.LoadUint64(&t.rangeTreeVersion),
	}
}

// Changed reports whether either version counter has advanced past
// snap.
func (t *Tree) Changed(snap Snapshot) bool {
	return atomic.LoadUint64(&t.memListVersion) != snap.MemListVersion ||
		atomic.LoadUint64(&t.rangeTreeVersion) != snap.RangeTreeVersion
}

// Active returns the current active MEM.
func (t *Tree) Active() *vymem.Mem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Sealed returns a snapshot of the sealed-MEM list, newest first.
func (t *Tree) Sealed() []*vymem.Mem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*vymem.Mem, len(t.sealed))
	copy(out, t.sealed)
	return out
}

// Runs returns a snapshot of the run list.
func (t *Tree) Runs() []*vyrun.Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*vyrun.Run, len(t.runs))
	copy(out, t.runs)
	return out
}

// RangeTree exposes the range tree for iterator construction.
func (t *Tree) RangeTree() *vyrange.Tree { return t.rangeTree }

// Cache exposes the per-index cache.
func (t *Tree) Cache() *vycache.Cache { return t.cache }

// CompactionHeap exposes the priority-ordered range heap.
func (t *Tree) CompactionHeap() *vyrange.CompactionHeap { return t.rangeHeap }

// SpaceID and IndexID identify the tree for vylog records and the
// scheduler's dump heap ordering.
func (t *Tree) SpaceID() uint64 { return t.spaceID }
func (t *Tree) IndexID() uint64 { return t.indexID }
func (t *Tree) BaseDir() string { return t.baseDir }
func (t *Tree) CmpDef() *vystmt.CmpDef { return t.cmpDef }

// DumpLSN returns the lsn under which this tree last completed a dump.
func (t *Tree) DumpLSN() uint64 { return atomic.LoadUint64(&t.dumpLSN) }

// SetDumpLSN records the lsn of a just-completed dump.
func (t *Tree) SetDumpLSN(lsn uint64) { atomic.StoreUint64(&t.dumpLSN, lsn) }

// Pin/Unpin track readers that must complete before the tree can be
// dropped (mirrors vymem.Mem's pin/condvar pattern at the LSM level).
func (t *Tree) Pin()   { atomic.AddInt32(&t.pinCount, 1) }
func (t *Tree) Unpin() { atomic.AddInt32(&t.pinCount, -1) }
func (t *Tree) PinCount() int32 { return atomic.LoadInt32(&t.pinCount) }

func (t *Tree) IsDropped() bool { return t.isDropped }
func (t *Tree) SetDropped()     { t.isDropped = true }
func (t *Tree) IsDumping() bool { return t.isDumping }
func (t *Tree) SetDumping(v bool) { t.isDumping = v }

// NextMemGeneration reports the generation the next RotateMem call
// will assign, without rotating (the scheduler uses this to decide
// when a dump round has consumed every MEM up to the current one).
func (t *Tree) NextMemGeneration() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextMemGen
}

// SetOnDumpGeneration installs the callback the scheduler fires once a
// dump round has cleared every MEM at the round's generation and
// memory quota can be released back to the caller (spec.md §4.10
// "a user callback is invoked to release memory quota").
func (t *Tree) SetOnDumpGeneration(f func()) { t.onDumpGeneration = f }

// FireDumpGenerationDone invokes the installed callback, if any.
func (t *Tree) FireDumpGenerationDone() {
	if t.onDumpGeneration != nil {
		t.onDumpGeneration()
	}
}

// RecordDump counts one completed dump task against this tree's
// per-index statistics histogram (original_source/src/box/vy_stat.h's
// vy_stmt_counter/vy_run_histogram, supplemented into the expansion
// since the distillation drops observability).
func (t *Tree) RecordDump() { atomic.AddUint64(&t.dumpsCompleted, 1) }

// RecordCompaction counts one completed compaction task.
func (t *Tree) RecordCompaction() { atomic.AddUint64(&t.compactionsCompleted, 1) }

// RecordDiskRead counts one run slice probed by a point lookup or read
// iterator, the disk leg of vy_stat.h's per-index read counters.
func (t *Tree) RecordDiskRead() { atomic.AddUint64(&t.diskReads, 1) }

// Stats reports this tree's accumulated dump/compaction/disk-read
// counters, mirroring the teacher's LSMTree.Stats() shape
// (pkg/lsm/lsm.go).
func (t *Tree) Stats() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]interface{}{
		"space_id":              t.spaceID,
		"index_id":              t.indexID,
		"num_runs":              len(t.runs),
		"num_sealed_mems":       len(t.sealed),
		"dumps_completed":       atomic.LoadUint64(&t.dumpsCompleted),
		"compactions_completed": atomic.LoadUint64(&t.compactionsCompleted),
		"disk_reads":            atomic.LoadUint64(&t.diskReads),
	}
}
