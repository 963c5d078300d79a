package vylog

import (
	"bytes"
	"testing"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := &Record{
		Type:      InsertSlice,
		LSMID:     7,
		RangeID:   3,
		RunID:     9,
		SliceID:   42,
		DumpCount: 5,
		BeginKey:  []byte("alpha"),
		EndKey:    nil,
	}
	frame := r.encode()

	// frame = [4-byte len][body]; decodeBody takes the body only.
	body := frame[4:]
	got, err := decodeBody(body)
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if got.Type != InsertSlice || got.LSMID != 7 || got.RangeID != 3 || got.RunID != 9 || got.SliceID != 42 {
		t.Fatalf("field mismatch: %+v", got)
	}
	if !bytes.Equal(got.BeginKey, []byte("alpha")) {
		t.Fatalf("BeginKey mismatch: %q", got.BeginKey)
	}
	if got.EndKey != nil {
		t.Fatalf("expected nil EndKey, got %q", got.EndKey)
	}
}

func TestRecordEncodeDistinguishesNilFromEmptyKey(t *testing.T) {
	r := &Record{Type: InsertRange, BeginKey: nil, EndKey: []byte{}}
	got, err := decodeBody(r.encode()[4:])
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if got.BeginKey != nil {
		t.Fatalf("expected nil BeginKey, got %v", got.BeginKey)
	}
	if got.EndKey == nil || len(got.EndKey) != 0 {
		t.Fatalf("expected non-nil empty EndKey, got %v", got.EndKey)
	}
}

func TestTypeString(t *testing.T) {
	if CreateRun.String() != "CREATE_RUN" {
		t.Fatalf("expected CREATE_RUN, got %s", CreateRun.String())
	}
}
