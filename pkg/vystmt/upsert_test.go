package vystmt

import "testing"

func TestApplyUpsertOnReplace(t *testing.T) {
	cmp := DefaultCmpDef()
	base := &Statement{Type: Replace, Key: []byte("k"), Value: EncodeInt64Value(0), LSN: 1}
	up := &Statement{Type: Upsert, Key: []byte("k"), LSN: 2, Ops: []UpsertOp{{Delta: 5}}}

	resolved, ok := ApplyUpsert(up, base, cmp)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if resolved.Type != Replace {
		t.Fatalf("expected REPLACE, got %v", resolved.Type)
	}
	if got := DecodeInt64Value(resolved.Value); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestResolveUpsertChainS2(t *testing.T) {
	// Mirrors spec.md S2: REPLACE(v=0,lsn=1), UPSERT(+=5,lsn=2), UPSERT(+=3,lsn=3) -> v=8
	cmp := DefaultCmpDef()
	history := []*Statement{
		{Type: Replace, Key: []byte("k"), Value: EncodeInt64Value(0), LSN: 1},
		{Type: Upsert, Key: []byte("k"), LSN: 2, Ops: []UpsertOp{{Delta: 5}}},
		{Type: Upsert, Key: []byte("k"), LSN: 3, Ops: []UpsertOp{{Delta: 3}}},
	}
	resolved := ResolveUpsertChain(history, cmp)
	if resolved.Type != Replace {
		t.Fatalf("expected REPLACE, got %v", resolved.Type)
	}
	if got := DecodeInt64Value(resolved.Value); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	if resolved.LSN != 3 {
		t.Fatalf("expected lsn 3, got %d", resolved.LSN)
	}
}

func TestApplyUpsertOnDeleteLeavesUpsert(t *testing.T) {
	cmp := DefaultCmpDef()
	del := &Statement{Type: Delete, Key: []byte("k"), LSN: 1}
	up := &Statement{Type: Upsert, Key: []byte("k"), LSN: 2, Ops: []UpsertOp{{Delta: 5}}}

	_, ok := ApplyUpsert(up, del, cmp)
	if ok {
		t.Fatalf("expected upsert-on-delete to be left unresolved")
	}
}

func TestIterTypeDirectionAndEmptyKey(t *testing.T) {
	if IterGE.Direction() != 1 || IterLT.Direction() != -1 {
		t.Fatalf("unexpected directions")
	}
	if NormalizeEmptyKey(IterEQ, true) != IterGE {
		t.Fatalf("EQ+empty should collapse to GE")
	}
	if NormalizeEmptyKey(IterLT, true) != IterLE {
		t.Fatalf("LT+empty should collapse to LE")
	}
	if NormalizeEmptyKey(IterGT, true) != IterGE {
		t.Fatalf("GT+empty should collapse to GE")
	}
}

func TestMappedType(t *testing.T) {
	if m, eq := MappedType(IterALL); m != IterGE || eq {
		t.Fatalf("ALL should map to GE without eq check")
	}
	if m, eq := MappedType(IterREQ); m != IterLE || !eq {
		t.Fatalf("REQ should map to LE with eq check")
	}
}
