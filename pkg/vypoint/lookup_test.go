package vypoint

import (
	"testing"

	"github.com/tarantool/vinyl/pkg/vylsm"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

func newTestTree(t *testing.T) *vylsm.Tree {
	t.Helper()
	return vylsm.New(vylsm.Config{
		SpaceID:    1,
		IndexID:    1,
		BaseDir:    t.TempDir(),
		CmpDef:     vystmt.DefaultCmpDef(),
		CacheQuota: 1 << 20,
		Format:     "fmt1",
	})
}

func TestLookupHitsPlainTerminal(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})

	stmt, ok, err := Lookup(Config{Tree: tree, Key: []byte("a"), RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || string(stmt.Value) != "1" {
		t.Fatalf("expected a=1, got %v ok=%v", stmt, ok)
	}
}

func TestLookupMissReturnsNotFound(t *testing.T) {
	tree := newTestTree(t)
	_, ok, err := Lookup(Config{Tree: tree, Key: []byte("missing"), RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestLookupSquashesUpsertChainAgainstReplace(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: vystmt.EncodeInt64Value(10), LSN: 1})
	tree.Active().Insert(&vystmt.Statement{
		Type: vystmt.Upsert, Key: []byte("a"), Value: vystmt.EncodeInt64Value(0), LSN: 2,
		Ops: []vystmt.UpsertOp{{Field: 0, Delta: 5}},
	})

	stmt, ok, err := Lookup(Config{Tree: tree, Key: []byte("a"), RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected a hit")
	}
	if stmt.Type != vystmt.Replace {
		t.Fatalf("expected squashed REPLACE, got %v", stmt.Type)
	}
	if got := vystmt.DecodeInt64Value(stmt.Value); got != 15 {
		t.Fatalf("expected squashed value 15, got %d", got)
	}
}

func TestLookupTxWriteTakesPriorityOverMem(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("committed"), LSN: 1})

	stmt, ok, err := Lookup(Config{
		Tree: tree, Key: []byte("a"), RV: vystmt.Global(),
		TxWrites: []*vystmt.Statement{{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("pending"), LSN: vystmt.MaxLSN}},
	})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || string(stmt.Value) != "pending" {
		t.Fatalf("expected tx's own write to win, got %v ok=%v", stmt, ok)
	}
}

func TestLookupDeletedKeyMisses(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Delete, Key: []byte("a"), LSN: 2})

	stmt, ok, err := Lookup(Config{Tree: tree, Key: []byte("a"), RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected a deleted key to miss, got %v", stmt)
	}
}

func TestLookupPopulatesCache(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})

	if _, _, err := Lookup(Config{Tree: tree, Key: []byte("a"), RV: vystmt.Global()}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tree.Cache().Len() != 1 {
		t.Fatalf("expected the hit to be cached, got %d entries", tree.Cache().Len())
	}

	// A second lookup should now be satisfied straight from the cache.
	stmt, ok, err := Lookup(Config{Tree: tree, Key: []byte("a"), RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || string(stmt.Value) != "1" {
		t.Fatalf("expected cached hit, got %v ok=%v", stmt, ok)
	}
}
