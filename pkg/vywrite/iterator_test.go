package vywrite

import (
	"bytes"
	"testing"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

type sliceSrc struct {
	stmts []*vystmt.Statement
	i     int
}

func (s *sliceSrc) Next() (*vystmt.Statement, bool, error) {
	if s.i >= len(s.stmts) {
		return nil, false, nil
	}
	st := s.stmts[s.i]
	s.i++
	return st, true, nil
}

func src(stmts ...*vystmt.Statement) *sliceSrc { return &sliceSrc{stmts: stmts} }

func collect(t *testing.T, it *Iterator) []*vystmt.Statement {
	t.Helper()
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

func TestWriteIteratorMergesAscendingKeyOrder(t *testing.T) {
	a := src(
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("a"), LSN: 1},
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("c"), LSN: 1},
	)
	b := src(
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("b"), LSN: 1},
	)
	it, err := New(Config{CmpDef: vystmt.DefaultCmpDef(), IsLastLevel: true}, []Source{a, b})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 3 || string(out[0].Key) != "a" || string(out[1].Key) != "b" || string(out[2].Key) != "c" {
		t.Fatalf("expected a,b,c order, got %v", out)
	}
}

func TestWriteIteratorDropsTrailingDeleteAtLastLevel(t *testing.T) {
	del := src(&vystmt.Statement{Type: vystmt.Delete, Key: []byte("k"), LSN: 5})
	it, err := New(Config{CmpDef: vystmt.DefaultCmpDef(), IsLastLevel: true}, []Source{del})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 0 {
		t.Fatalf("expected trailing DELETE dropped at last level, got %v", out)
	}
}

func TestWriteIteratorKeepsDeleteWhenNotLastLevel(t *testing.T) {
	del := src(&vystmt.Statement{Type: vystmt.Delete, Key: []byte("k"), LSN: 5})
	it, err := New(Config{CmpDef: vystmt.DefaultCmpDef(), IsLastLevel: false}, []Source{del})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 1 || out[0].Type != vystmt.Delete {
		t.Fatalf("expected DELETE retained when older levels remain, got %v", out)
	}
}

func TestWriteIteratorFoldsUpsertChainAgainstReplace(t *testing.T) {
	s := src(
		&vystmt.Statement{Type: vystmt.Upsert, Key: []byte("k"), LSN: 3, Value: vystmt.EncodeInt64Value(0), Ops: []vystmt.UpsertOp{{Field: 0, Delta: 2}}},
		&vystmt.Statement{Type: vystmt.Upsert, Key: []byte("k"), LSN: 2, Value: vystmt.EncodeInt64Value(0), Ops: []vystmt.UpsertOp{{Field: 0, Delta: 3}}},
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 1, Value: vystmt.EncodeInt64Value(10)},
	)
	it, err := New(Config{CmpDef: vystmt.DefaultCmpDef(), IsLastLevel: true}, []Source{s})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 1 {
		t.Fatalf("expected the upsert chain to fold into a single statement, got %d: %v", len(out), out)
	}
	if out[0].Type != vystmt.Replace {
		t.Fatalf("expected folded result to be REPLACE, got %v", out[0].Type)
	}
	if got := vystmt.DecodeInt64Value(out[0].Value); got != 15 {
		t.Fatalf("expected folded value 10+2+3=15, got %d", got)
	}
}

func TestWriteIteratorPartitionsAcrossReadViews(t *testing.T) {
	s := src(
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 10, Value: []byte("new")},
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 3, Value: []byte("old")},
	)
	it, err := New(Config{CmpDef: vystmt.DefaultCmpDef(), IsLastLevel: true, ReadViews: []uint64{5}}, []Source{s})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving versions (one per read view), got %d", len(out))
	}
	if !bytes.Equal(out[0].Value, []byte("new")) {
		t.Fatalf("expected newest bucket first, got %v", out[0].Value)
	}
	if !bytes.Equal(out[1].Value, []byte("old")) {
		t.Fatalf("expected older read view's version preserved, got %v", out[1].Value)
	}
}

func TestWriteIteratorDeferredDeleteCallbackAndFlagClearing(t *testing.T) {
	var called []*vystmt.Statement
	s := src(
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 10, Flags: vystmt.FlagDeferredDelete},
		&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 3, Flags: vystmt.FlagDeferredDelete},
	)
	it, err := New(Config{
		CmpDef:      vystmt.DefaultCmpDef(),
		IsLastLevel: true,
		ReadViews:   []uint64{5},
		DeferredDelete: func(old, newer *vystmt.Statement) {
			called = append(called, newer)
		},
	}, []Source{s})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := collect(t, it)
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if out[0].Flags&vystmt.FlagDeferredDelete == 0 {
		t.Fatalf("expected youngest output to retain DEFERRED_DELETE")
	}
	if out[1].Flags&vystmt.FlagDeferredDelete != 0 {
		t.Fatalf("expected older output to have DEFERRED_DELETE cleared")
	}
	if len(called) == 0 {
		t.Fatalf("expected deferred-delete callback invoked")
	}
}
