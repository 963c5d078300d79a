package vymem

import (
	"testing"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

func put(m *Mem, k byte, lsn uint64) {
	m.Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte{k}, Value: vystmt.EncodeInt64Value(int64(k)), LSN: lsn})
}

func TestMemScanOrdering(t *testing.T) {
	m := New(1, nil, "fmt1")
	for i := byte(1); i <= 5; i++ {
		put(m, i, uint64(i))
	}
	rv := vystmt.Global()

	it := m.NewIterator(vystmt.IterGE, []byte{2}, rv)
	var got []byte
	for {
		s, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, s.Key[0])
	}
	want := []byte{2, 3, 4, 5}
	if string(got) != string(want) {
		t.Fatalf("GE from 2: got %v want %v", got, want)
	}

	it = m.NewIterator(vystmt.IterLE, []byte{4}, rv)
	got = nil
	for {
		s, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, s.Key[0])
	}
	want = []byte{4, 3, 2, 1}
	if string(got) != string(want) {
		t.Fatalf("LE from 4: got %v want %v", got, want)
	}
}

func TestMemIteratorInvalidationReseek(t *testing.T) {
	m := New(1, nil, "fmt1")
	for i := byte(1); i <= 3; i++ {
		put(m, i, uint64(i))
	}
	rv := vystmt.Global()
	it := m.NewIterator(vystmt.IterGE, []byte{1}, rv)

	s, ok := it.Next()
	if !ok || s.Key[0] != 1 {
		t.Fatalf("expected key 1 first")
	}

	// Concurrent insert invalidates the snapshot; iterator must
	// re-seek past key 1 (already emitted) and continue forward.
	put(m, 0, 10) // inserted before key 1 in key order
	put(m, 4, 11)

	s, ok = it.Next()
	if !ok || s.Key[0] != 2 {
		t.Fatalf("expected key 2 after reseek, got %+v ok=%v", s, ok)
	}
	s, ok = it.Next()
	if !ok || s.Key[0] != 3 {
		t.Fatalf("expected key 3, got %+v", s)
	}
	s, ok = it.Next()
	if !ok || s.Key[0] != 4 {
		t.Fatalf("expected key 4 (inserted during iteration), got %+v", s)
	}
}

func TestMemOlderLSN(t *testing.T) {
	m := New(1, nil, "fmt1")
	m.Insert(&vystmt.Statement{Type: vystmt.Replace, Key: []byte("k"), LSN: 1})
	m.Insert(&vystmt.Statement{Type: vystmt.Upsert, Key: []byte("k"), LSN: 2})
	m.Insert(&vystmt.Statement{Type: vystmt.Upsert, Key: []byte("k"), LSN: 3})

	older, ok := m.OlderLSN([]byte("k"), 3)
	if !ok || older.LSN != 2 {
		t.Fatalf("expected lsn 2, got %+v", older)
	}
	older, ok = m.OlderLSN([]byte("k"), 2)
	if !ok || older.LSN != 1 {
		t.Fatalf("expected lsn 1, got %+v", older)
	}
	_, ok = m.OlderLSN([]byte("k"), 1)
	if ok {
		t.Fatalf("expected no older entry")
	}
}

func TestMemPinWait(t *testing.T) {
	m := New(1, nil, "fmt1")
	m.Pin()
	done := make(chan struct{})
	go func() {
		m.WaitPinned()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("WaitPinned returned while still pinned")
	default:
	}
	m.Unpin()
	<-done
}
