package vytx

import (
	"bytes"
	"testing"
)

func cmpBytes(a, b []byte) int { return bytes.Compare(a, b) }

func TestTrackerMergeOverlapping(t *testing.T) {
	tr := NewTracker(cmpBytes)
	tr.Track(1, 100, []byte{1}, true, []byte{5}, true)
	tr.Track(1, 100, []byte{4}, true, []byte{10}, true)

	list := tr.perLSM[100]
	if len(list) != 1 {
		t.Fatalf("expected intervals to merge into 1, got %d", len(list))
	}
	if !bytes.Equal(list[0].Left, []byte{1}) || !bytes.Equal(list[0].Right, []byte{10}) {
		t.Fatalf("expected merged range [1,10], got [%v,%v]", list[0].Left, list[0].Right)
	}
}

func TestTrackerSubsumedIsNoop(t *testing.T) {
	tr := NewTracker(cmpBytes)
	tr.Track(1, 100, []byte{1}, true, []byte{10}, true)
	tr.Track(1, 100, []byte{3}, true, []byte{5}, true)

	if len(tr.perLSM[100]) != 1 {
		t.Fatalf("expected subsumed read to be a no-op, got %d intervals", len(tr.perLSM[100]))
	}
}

func TestConflictingReaders(t *testing.T) {
	tr := NewTracker(cmpBytes)
	tr.Track(1, 100, []byte{1}, true, []byte{5}, true)
	tr.Track(2, 100, []byte{10}, true, []byte{20}, true)

	readers := tr.ConflictingReaders(100, []byte{3})
	if len(readers) != 1 || readers[0].TxID != 1 {
		t.Fatalf("expected tx 1 to conflict at key 3, got %+v", readers)
	}

	readers = tr.ConflictingReaders(100, []byte{15})
	if len(readers) != 1 || readers[0].TxID != 2 {
		t.Fatalf("expected tx 2 to conflict at key 15, got %+v", readers)
	}

	readers = tr.ConflictingReaders(100, []byte{7})
	if len(readers) != 0 {
		t.Fatalf("expected no conflict at key 7, got %+v", readers)
	}
}

func TestManagerCommitAbortsReadWriteConflictor(t *testing.T) {
	m := NewManager(cmpBytes)
	reader := m.Begin()
	writer := m.Begin()

	m.TrackPointRead(reader, 1, []byte{5})
	m.Write(reader, 1, []byte{99}) // make reader read-write, not read-only

	aborted, err := m.Prepare(writer, 1, [][]byte{{5}})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(aborted) != 1 || aborted[0].ID != reader.ID {
		t.Fatalf("expected reader tx aborted, got %+v", aborted)
	}
	if reader.State != StateAborted {
		t.Fatalf("expected reader state aborted, got %v", reader.State)
	}

	if _, err := m.Commit(writer); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestManagerDemotesReadOnlyConflictorToHistoricalRV(t *testing.T) {
	m := NewManager(cmpBytes)
	reader := m.Begin()
	writer := m.Begin()

	m.TrackPointRead(reader, 1, []byte{5})

	if !reader.RV.IsGlobal() {
		t.Fatalf("expected reader RV to start global")
	}

	aborted, err := m.Prepare(writer, 1, [][]byte{{5}})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(aborted) != 0 {
		t.Fatalf("expected no aborts for a read-only conflictor, got %+v", aborted)
	}
	if reader.RV.IsGlobal() {
		t.Fatalf("expected reader demoted off the global read view")
	}

	lsn, err := m.Commit(writer)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if reader.RV.VLSN() != lsn {
		t.Fatalf("expected reader's historical RV fixed to commit lsn %d, got %d", lsn, reader.RV.VLSN())
	}
}

func TestManagerActiveCountAndReleaseOnCommit(t *testing.T) {
	m := NewManager(cmpBytes)
	tx := m.Begin()
	if m.ActiveCount() != 1 {
		t.Fatalf("expected 1 active tx")
	}
	if _, err := m.Prepare(tx, 1, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := m.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("expected 0 active tx after commit")
	}
}
