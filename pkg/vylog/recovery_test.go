package vylog

import (
	"testing"

	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

func buildOnDiskRun(t *testing.T, baseDir string, spaceID, indexID, runID uint64, keys []byte) *vyrun.Run {
	t.Helper()
	w, err := vyrun.NewWriter(baseDir, spaceID, indexID, runID, 256, len(keys), 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i, k := range keys {
		s := &vystmt.Statement{Type: vystmt.Replace, Key: []byte{k}, Value: vystmt.EncodeInt64Value(int64(i)), LSN: uint64(i + 1)}
		if err := w.Add(s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	run, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return run
}

func TestRecoveryRebuildsTreeWithOneRangeAndSlice(t *testing.T) {
	baseDir := t.TempDir()
	buildOnDiskRun(t, baseDir, 1, 1, 1, []byte{1, 2, 3, 4})

	records := []*Record{
		{Type: PrepareLSM, LSMID: 100, SpaceID: 1, IndexID: 1},
		{Type: CreateLSM, LSMID: 100, CreateLSN: 5},
		{Type: InsertRange, LSMID: 100, RangeID: 1, BeginKey: nil, EndKey: nil},
		{Type: PrepareRun, LSMID: 100, RunID: 1},
		{Type: CreateRun, LSMID: 100, RunID: 1, DumpLSN: 5, DumpCount: 4},
		{Type: InsertSlice, RangeID: 1, RunID: 1, SliceID: 1, BeginKey: nil, EndKey: nil},
		{Type: DumpLSM, LSMID: 100, DumpLSN: 5},
	}

	ctx := NewContext()
	if err := ctx.Apply(records); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ids := ctx.LiveLSMIDs()
	if len(ids) != 1 || ids[0] != 100 {
		t.Fatalf("expected lsm 100 live, got %v", ids)
	}

	tree, err := ctx.RebuildTree(100, RebuildOptions{
		BaseDir:    baseDir,
		CmpDef:     vystmt.DefaultCmpDef(),
		CacheQuota: 1 << 20,
		Format:     "fmt1",
	})
	if err != nil {
		t.Fatalf("RebuildTree: %v", err)
	}
	if tree.DumpLSN() != 5 {
		t.Fatalf("expected dump_lsn 5, got %d", tree.DumpLSN())
	}

	ranges := tree.RangeTree().Ranges()
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	slices := ranges[0].Slices()
	if len(slices) != 1 {
		t.Fatalf("expected 1 slice, got %d", len(slices))
	}

	it := slices[0].NewIterator(vystmt.IterGE, nil, vystmt.DefaultCmpDef().Compare)
	count := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 4 {
		t.Fatalf("expected 4 rows recovered, got %d", count)
	}
}

func TestRecoveryRejectsDroppedLSM(t *testing.T) {
	ctx := NewContext()
	records := []*Record{
		{Type: PrepareLSM, LSMID: 1, SpaceID: 1, IndexID: 1},
		{Type: CreateLSM, LSMID: 1, CreateLSN: 1},
		{Type: DropLSM, LSMID: 1, DropLSN: 2},
	}
	if err := ctx.Apply(records); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ids := ctx.LiveLSMIDs(); len(ids) != 0 {
		t.Fatalf("expected no live lsms, got %v", ids)
	}
	if _, err := ctx.RebuildTree(1, RebuildOptions{CmpDef: vystmt.DefaultCmpDef()}); err == nil {
		t.Fatalf("expected error rebuilding a dropped lsm")
	}
}

func TestRecoveryDeletedSliceIsNotAttached(t *testing.T) {
	baseDir := t.TempDir()
	buildOnDiskRun(t, baseDir, 2, 2, 1, []byte{1})

	ctx := NewContext()
	records := []*Record{
		{Type: PrepareLSM, LSMID: 1, SpaceID: 2, IndexID: 2},
		{Type: CreateLSM, LSMID: 1, CreateLSN: 1},
		{Type: InsertRange, LSMID: 1, RangeID: 1},
		{Type: PrepareRun, LSMID: 1, RunID: 1},
		{Type: CreateRun, LSMID: 1, RunID: 1, DumpLSN: 1, DumpCount: 1},
		{Type: InsertSlice, RangeID: 1, RunID: 1, SliceID: 1},
		{Type: DeleteSlice, SliceID: 1},
	}
	if err := ctx.Apply(records); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	tree, err := ctx.RebuildTree(1, RebuildOptions{BaseDir: baseDir, CmpDef: vystmt.DefaultCmpDef(), CacheQuota: 1 << 20})
	if err != nil {
		t.Fatalf("RebuildTree: %v", err)
	}
	ranges := tree.RangeTree().Ranges()
	if len(ranges) != 1 || ranges[0].SliceCount() != 0 {
		t.Fatalf("expected 1 empty range after the slice's deletion, got %+v", ranges)
	}
}
