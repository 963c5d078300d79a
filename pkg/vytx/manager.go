package vytx

import (
	"sync"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// State is a transaction's lifecycle stage.
type State int

const (
	StateActive State = iota
	StatePrepared
	StateCommitted
	StateAborted
)

// Tx is one in-flight transaction (spec.md §4.9). RV is the read view
// it sees: Begin sets it to vystmt.Global() ("reads ∞", sees everything
// committed so far) until the tx is demoted onto a historical view by a
// conflicting committer.
type Tx struct {
	ID    uint64
	State State
	RV    *vystmt.ReadView

	mu       sync.Mutex
	writes   map[uint64]map[string]struct{} // lsmID -> written keys (reads-own-writes)
	readOnly bool
	psn      uint64
}

func (tx *Tx) hasWritten(lsmID uint64, key []byte) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if m, ok := tx.writes[lsmID]; ok {
		_, ok := m[string(key)]
		return ok
	}
	return false
}

func (tx *Tx) recordWrite(lsmID uint64, key []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.writes[lsmID] == nil {
		tx.writes[lsmID] = make(map[string]struct{})
	}
	tx.writes[lsmID][string(key)] = struct{}{}
	tx.readOnly = false
}

// IsReadOnly reports whether the tx has made no writes. Prepare uses
// it to resolve a conflicting reader: a read-only one is moved onto a
// historical read view, a read-write one is aborted.
func (tx *Tx) IsReadOnly() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.readOnly
}

// Manager is the transaction manager: monotonic lsn/psn counters, the
// conflict tracker, and the set of currently active transactions
// (spec.md §4.9). Grounded on the teacher's TransactionManager
// (pkg/mvcc/transaction.go): Begin/Commit/Abort lifecycle plus
// garbage collection by the minimum active read version, generalized
// from a single global version counter to the lsn/psn pair and
// read-interval conflict tracker spec.md describes.
type Manager struct {
	mu sync.Mutex

	nextTxID uint64
	lsn      uint64 // committed, monotonic
	psn      uint64 // prepare sequence number, monotonic

	active map[uint64]*Tx

	tracker *Tracker

	// historicalRVs caches one read view per psn a conflicting reader
	// was demoted onto, so concurrent conflictors at the same psn
	// share a single view (spec.md §4.9 "created lazily per psn and
	// shared").
	historicalRVs map[uint64]*vystmt.ReadView
}

func NewManager(cmp func(a, b []byte) int) *Manager {
	return &Manager{
		active:        make(map[uint64]*Tx),
		tracker:       NewTracker(cmp),
		historicalRVs: make(map[uint64]*vystmt.ReadView),
	}
}

// Begin starts a new transaction reading at ∞ (sees everything
// committed so far).
func (m *Manager) Begin() *Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	tx := &Tx{
		ID:       m.nextTxID,
		State:    StateActive,
		RV:       vystmt.Global(),
		writes:   make(map[uint64]map[string]struct{}),
		readOnly: true,
	}
	m.active[tx.ID] = tx
	return tx
}

// TrackRead records tx's read of [left,right] on lsmID in the
// conflict tracker, unless tx's RV is no longer ∞ (spec.md §4.9
// "track: if the tx's RV is not ∞, do nothing").
func (m *Manager) TrackRead(tx *Tx, lsmID uint64, left []byte, li bool, right []byte, ri bool) {
	if !tx.RV.IsGlobal() {
		return
	}
	m.mu.Lock()
	m.tracker.Track(tx.ID, lsmID, left, li, right, ri)
	m.mu.Unlock()
}

// TrackPointRead records a single-key read, skipped for keys the tx
// already wrote (spec.md §4.9 "track_point").
func (m *Manager) TrackPointRead(tx *Tx, lsmID uint64, key []byte) {
	if !tx.RV.IsGlobal() {
		return
	}
	already := tx.hasWritten(lsmID, key)
	m.mu.Lock()
	m.tracker.TrackPoint(tx.ID, lsmID, key, already)
	m.mu.Unlock()
}

// Write records that tx wrote key on lsmID (so future reads-own-writes
// checks and conflict scans on other transactions know about it).
func (m *Manager) Write(tx *Tx, lsmID uint64, key []byte) {
	tx.recordWrite(lsmID, key)
}

// Prepare validates tx against the conflict tracker for every key it
// wrote on lsmID, resolving conflicting readers by demoting read-only
// ones onto a historical read view (shared per psn) and aborting
// read-write ones (spec.md §4.9 "On tx prepare").
func (m *Manager) Prepare(tx *Tx, lsmID uint64, writtenKeys [][]byte) ([]*Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.State != StateActive {
		return nil, ErrNotActive
	}

	m.psn++
	psn := m.psn
	var aborted []*Tx

	for _, key := range writtenKeys {
		for _, reader := range m.tracker.ConflictingReaders(lsmID, key) {
			other, ok := m.active[reader.TxID]
			if !ok || other == tx {
				continue
			}
			if other.IsReadOnly() {
				other.mu.Lock()
				if other.State == StateActive && other.RV.IsGlobal() {
					other.RV = m.historicalReadView(psn)
				}
				other.mu.Unlock()
			} else {
				if other.State == StateActive {
					other.State = StateAborted
					m.tracker.ReleaseTx(other.ID)
					delete(m.active, other.ID)
					aborted = append(aborted, other)
				}
			}
		}
	}

	tx.State = StatePrepared
	tx.psn = psn
	return aborted, nil
}

func (m *Manager) historicalReadView(psn uint64) *vystmt.ReadView {
	if rv, ok := m.historicalRVs[psn]; ok {
		rv.Ref()
		return rv
	}
	rv := vystmt.NewReadView(m.lsn)
	rv.SetOnEmpty(func(*vystmt.ReadView) { delete(m.historicalRVs, psn) })
	m.historicalRVs[psn] = rv
	return rv
}

// Commit advances the manager's monotonic lsn and finalizes tx. If tx
// was demoting other readers onto a historical view at its prepare
// psn, that view's vlsn is fixed to the new commit lsn (spec.md §4.9
// "On tx commit").
func (m *Manager) Commit(tx *Tx) (lsn uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.State != StatePrepared {
		return 0, ErrNotPrepared
	}

	m.lsn++
	lsn = m.lsn

	if rv, ok := m.historicalRVs[tx.psn]; ok {
		rv.Fix(lsn)
	}

	tx.State = StateCommitted
	m.tracker.ReleaseTx(tx.ID)
	delete(m.active, tx.ID)
	return lsn, nil
}

// Rollback discards tx's writes and read intervals. Per spec.md §4.9,
// this also aborts concurrent readers of keys this tx wrote (to
// prevent them from having observed data that briefly existed in
// memory): callers pass the set of keys tx wrote on lsmID so those
// readers can be resolved the same way Prepare would.
func (m *Manager) Rollback(tx *Tx, lsmID uint64, writtenKeys [][]byte) []*Tx {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aborted []*Tx
	for _, key := range writtenKeys {
		for _, reader := range m.tracker.ConflictingReaders(lsmID, key) {
			other, ok := m.active[reader.TxID]
			if !ok || other == tx || other.State != StateActive {
				continue
			}
			other.State = StateAborted
			m.tracker.ReleaseTx(other.ID)
			delete(m.active, other.ID)
			aborted = append(aborted, other)
		}
	}

	tx.State = StateAborted
	m.tracker.ReleaseTx(tx.ID)
	delete(m.active, tx.ID)
	return aborted
}

// ActiveCount reports how many transactions are currently active or
// prepared (for garbage-collection and observability, mirroring the
// teacher's GetActiveTransactions).
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// MinActiveLSN returns the commit lsn below which no active
// transaction can still need old versions — used to drive
// garbage-collection the way the teacher's maybeGarbageCollect uses
// the minimum active read version.
func (m *Manager) MinActiveLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := m.lsn
	for _, tx := range m.active {
		if tx.RV.IsGlobal() {
			continue
		}
		if v := tx.RV.VLSN(); v < min {
			min = v
		}
	}
	return min
}
