package vyrun

import (
	"bytes"
	"os"
	"testing"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

func buildRun(t *testing.T, dir string, keys []byte) *Run {
	t.Helper()
	w, err := NewWriter(dir, 1, 1, 1, 256, len(keys), 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i, k := range keys {
		s := &vystmt.Statement{
			Type:  vystmt.Replace,
			Key:   []byte{k},
			Value: vystmt.EncodeInt64Value(int64(i)),
			LSN:   uint64(i + 1),
		}
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

func cmpBytes(a, b []byte) int { return bytes.Compare(a, b) }

func TestRunWriteAndScan(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	if run.Rows != 8 {
		t.Fatalf("expected 8 rows, got %d", run.Rows)
	}
	if len(run.Pages) == 0 {
		t.Fatalf("expected at least one page")
	}

	slice := NewSlice(1, run, nil, nil, 0)
	it := slice.NewIterator(vystmt.IterGE, []byte{3}, cmpBytes)
	var got []byte
	for {
		s, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, s.Key[0])
	}
	want := []byte{3, 4, 5, 6, 7, 8}
	if !bytes.Equal(got, want) {
		t.Fatalf("GE scan: got %v want %v", got, want)
	}
}

func TestRunEQWithBloom(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, []byte{10, 20, 30})

	slice := NewSlice(1, run, nil, nil, 0)
	it := slice.NewIterator(vystmt.IterEQ, nil, cmpBytes)

	s, ok, err := it.EQ([]byte{20})
	if err != nil || !ok || s.Key[0] != 20 {
		t.Fatalf("expected hit on 20, got %+v ok=%v err=%v", s, ok, err)
	}

	_, ok, err = it.EQ([]byte{99})
	if err != nil {
		t.Fatalf("EQ: %v", err)
	}
	if ok {
		t.Fatalf("expected miss on absent key")
	}
}

func TestRunOpenFromDisk(t *testing.T) {
	dir := t.TempDir()
	built := buildRun(t, dir, []byte{1, 2, 3})
	built.refCount = 0 // detach without deleting files for the reopen test

	reopened, err := Open(dir, 1, 1, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Rows != 3 || len(reopened.Pages) != len(built.Pages) {
		t.Fatalf("reopened run metadata mismatch: %+v", reopened)
	}

	slice := NewSlice(1, reopened, nil, nil, 0)
	it := slice.NewIterator(vystmt.IterGE, nil, cmpBytes)
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
	if count != 3 {
		t.Fatalf("expected 3 rows on reopen scan, got %d", count)
	}
}

func TestSliceCutWaitsForPin(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, []byte{1, 2})
	slice := NewSlice(1, run, nil, nil, 0)
	slice.Pin()

	done := make(chan struct{})
	go func() {
		slice.Cut()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Cut returned before Unpin")
	default:
	}
	slice.Unpin()
	<-done

	if _, err := os.Stat(run.dataPath); !os.IsNotExist(err) {
		t.Fatalf("expected run files removed after cut, stat err=%v", err)
	}
}
