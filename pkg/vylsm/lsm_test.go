package vylsm

import (
	"testing"

	"github.com/tarantool/vinyl/pkg/vyrange"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return New(Config{
		SpaceID:    1,
		IndexID:    1,
		BaseDir:    t.TempDir(),
		CmpDef:     vystmt.DefaultCmpDef(),
		CacheQuota: 1 << 20,
		Format:     "fmt1",
	})
}

func TestTreeInitialRangeCoversWholeSpace(t *testing.T) {
	tree := newTestTree(t)
	ranges := tree.RangeTree().Ranges()
	if len(ranges) != 1 {
		t.Fatalf("expected 1 initial range, got %d", len(ranges))
	}
	if ranges[0].Begin != nil || ranges[0].End != nil {
		t.Fatalf("expected initial range to span (-inf,+inf), got [%v,%v]", ranges[0].Begin, ranges[0].End)
	}
}

func TestTreeRotateMemBumpsVersion(t *testing.T) {
	tree := newTestTree(t)
	snap := tree.Snapshot()

	old := tree.Active()
	sealed := tree.RotateMem()
	if sealed != old {
		t.Fatalf("expected RotateMem to return the previously active mem")
	}
	if tree.Active() == old {
		t.Fatalf("expected a fresh active mem after rotate")
	}
	if !tree.Changed(snap) {
		t.Fatalf("expected mem_list_version to have advanced")
	}
	if len(tree.Sealed()) != 1 {
		t.Fatalf("expected 1 sealed mem, got %d", len(tree.Sealed()))
	}
}

func TestTreeCommitStmtInvalidatesCache(t *testing.T) {
	tree := newTestTree(t)
	s := &vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), Value: []byte("v"), LSN: 1}
	tree.Cache().Put(s, false, false)
	if tree.Cache().Len() != 1 {
		t.Fatalf("expected 1 cache entry")
	}
	tree.CommitStmt(s)
	if tree.Cache().Len() != 0 {
		t.Fatalf("expected cache entry invalidated on commit, got %d", tree.Cache().Len())
	}
}

func TestTreeSoleSourceUpsertSquash(t *testing.T) {
	tree := newTestTree(t)
	base := &vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), Value: vystmt.EncodeInt64Value(10), LSN: 1}
	tree.Active().Insert(base)

	up := &vystmt.Statement{
		Type:  vystmt.Upsert,
		Key:   []byte("k"),
		Value: vystmt.EncodeInt64Value(0),
		LSN:   2,
		Ops:   []vystmt.UpsertOp{{Field: 0, Delta: 5}},
	}
	tree.Active().Insert(up)
	tree.CommitStmt(up)

	latest, ok := tree.Active().OlderLSN([]byte("k"), 3)
	if !ok {
		t.Fatalf("expected a statement for key k")
	}
	if latest.Type != vystmt.Replace {
		t.Fatalf("expected squash to produce a REPLACE, got %v", latest.Type)
	}
	if got := vystmt.DecodeInt64Value(latest.Value); got != 15 {
		t.Fatalf("expected squashed value 15, got %d", got)
	}
}

func TestTreeFindRangeIntersection(t *testing.T) {
	tree := newTestTree(t)
	whole := tree.RangeTree().Ranges()[0]
	tree.RemoveRange(whole)
	tree.AddRange(vyrange.NewRange(1, nil, []byte{10}))
	tree.AddRange(vyrange.NewRange(2, []byte{10}, nil))

	matches := tree.FindRangeIntersection([]byte{5}, []byte{15})
	if len(matches) != 2 {
		t.Fatalf("expected both ranges to intersect [5,15], got %d", len(matches))
	}
}
