package vyread

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

func collectAll(t *testing.T, it *Iterator) []*vystmt.Statement {
	t.Helper()
	defer it.Close()
	var out []*vystmt.Statement
	for {
		s, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

func TestReadIteratorScansActiveMem(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("b"), Value: []byte("2"), LSN: 2})

	it, err := New(Config{Tree: tree, Type: vystmt.IterGE, Key: nil, RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collectAll(t, it)
	if len(out) != 2 || string(out[0].Key) != "a" || string(out[1].Key) != "b" {
		t.Fatalf("expected a,b in order, got %v", out)
	}
}

func TestReadIteratorSkipsDeletedKeys(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Delete, Key: []byte("a"), LSN: 2})
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("b"), Value: []byte("2"), LSN: 3})

	it, err := New(Config{Tree: tree, Type: vystmt.IterGE, Key: nil, RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collectAll(t, it)
	if len(out) != 1 || string(out[0].Key) != "b" {
		t.Fatalf("expected only b to survive the delete, got %v", out)
	}
}

func TestReadIteratorSquashesUpsertAtReadTime(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: vystmt.EncodeInt64Value(10), LSN: 1})
	tree.Active().Insert(&vystmt.Statement{
		Type: vystmt.Upsert, Key: []byte("a"), Value: vystmt.EncodeInt64Value(0), LSN: 2,
		Ops: []vystmt.UpsertOp{{Field: 0, Delta: 7}},
	})

	it, err := New(Config{Tree: tree, Type: vystmt.IterGE, Key: nil, RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collectAll(t, it)
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Type != vystmt.Replace {
		t.Fatalf("expected squashed REPLACE, got %v", out[0].Type)
	}
	if got := vystmt.DecodeInt64Value(out[0].Value); got != 17 {
		t.Fatalf("expected squashed value 17, got %d", got)
	}
}

func TestReadIteratorTxWritesTakePriorityOverMem(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("committed"), LSN: 1})

	it, err := New(Config{
		Tree: tree, Type: vystmt.IterGE, Key: nil, RV: vystmt.Global(),
		TxWrites: []*vystmt.Statement{{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("pending"), LSN: vystmt.MaxLSN}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collectAll(t, it)
	if len(out) != 1 || string(out[0].Value) != "pending" {
		t.Fatalf("expected tx's own write to win, got %v", out)
	}
}

func TestReadIteratorCachesTerminalAtGlobalRV(t *testing.T) {
	tree := newTestTree(t)
	tree.Active().Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), Value: []byte("1"), LSN: 1})

	it, err := New(Config{Tree: tree, Type: vystmt.IterGE, Key: nil, RV: vystmt.Global()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	collectAll(t, it)

	if tree.Cache().Len() != 1 {
		t.Fatalf("expected the scanned statement to be cached, got %d entries", tree.Cache().Len())
	}
}
