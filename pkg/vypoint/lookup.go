// Package vypoint implements spec.md §4.8: the full-key point-lookup
// fast path. It scans sources in priority order (transaction write
// set, cache, MEMs, run slices) until a terminal statement is
// accumulated, folding any UPSERTs seen along the way, and caches the
// result when the read is at vlsn=∞. Grounded on the teacher's
// pkg/lsm/lsm.go Get (single-key lookup checking the memtable before
// falling through to sstables) generalized to the full source list and
// MVCC read-view filtering spec.md requires. The disk leg scans each
// slice with a GE iterator from the key; it does not consult the run's
// bloom filter.
package vypoint

import (
	"github.com/tarantool/vinyl/pkg/vylsm"
	"github.com/tarantool/vinyl/pkg/vymem"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
	"github.com/tarantool/vinyl/pkg/vytx"
)

// Config configures one point lookup.
type Config struct {
	Tree *vylsm.Tree
	Key  []byte
	RV   *vystmt.ReadView

	TxID      uint64
	TxWrites  []*vystmt.Statement // sorted ascending by key; at most one entry per key
	Tracker   *vytx.Tracker
	TxWroteFn func(key []byte) bool
}

// Lookup performs the point-lookup fast path, restarting the scan each
// time a concurrent MEM rotation is detected mid-scan (spec.md §4.8 "on
// post-I/O detection of a mem_list_version change, the region is reset
// and the scan restarts").
func Lookup(cfg Config) (*vystmt.Statement, bool, error) {
	for {
		snap := cfg.Tree.Snapshot()
		stmt, ok, err := lookupOnce(cfg)
		if err != nil {
			return nil, false, err
		}
		if cfg.Tree.Changed(snap) {
			continue
		}
		if !ok {
			return nil, false, nil
		}

		if cfg.Tracker != nil && cfg.RV.IsGlobal() && (cfg.TxWroteFn == nil || !cfg.TxWroteFn(cfg.Key)) {
			cfg.Tracker.TrackPoint(cfg.TxID, lsmID(cfg.Tree), cfg.Key, false)
		}
		if cfg.RV.IsGlobal() {
			cfg.Tree.Cache().Put(stmt, false, false)
		}
		if stmt.Type == vystmt.Delete {
			return nil, false, nil
		}
		return stmt, true, nil
	}
}

func lsmID(t *vylsm.Tree) uint64 { return t.SpaceID()<<32 | t.IndexID() }

// lookupOnce performs a single, non-retrying scan pass: txw, then
// cache, then every MEM newest-to-oldest, then every slice of the
// owning range newest-to-oldest, accumulating UPSERTs (newest first)
// until a terminal statement (or nothing at all) is found.
func lookupOnce(cfg Config) (*vystmt.Statement, bool, error) {
	cmp := cfg.Tree.CmpDef()
	var pending []*vystmt.Statement

	if s := findTxWrite(cfg.TxWrites, cfg.Key, cmp); s != nil {
		if s.Type != vystmt.Upsert {
			return s, true, nil
		}
		pending = append(pending, s)
	}

	if s, _, _, ok := cfg.Tree.Cache().Get(cfg.Key); ok {
		return fold(pending, s, cmp), true, nil
	}

	mems := append([]*vymem.Mem{cfg.Tree.Active()}, cfg.Tree.Sealed()...)
	for _, mem := range mems {
		s, ok := memEQ(mem, cfg.Key, cfg.RV, cmp)
		if !ok {
			continue
		}
		for {
			if s.Type != vystmt.Upsert {
				return fold(pending, s, cmp), true, nil
			}
			pending = append(pending, s)
			older, ok := mem.OlderLSN(cfg.Key, s.LSN)
			if !ok {
				break
			}
			s = older
		}
		// This MEM's whole in-memory history for the key is UPSERTs;
		// fall through to older MEMs/slices for a base.
	}

	r := cfg.Tree.RangeTree().FindByKey(vystmt.IterEQ, cfg.Key)
	if r == nil {
		return terminalOrUnresolved(pending)
	}

	for _, slice := range r.Slices() {
		slice.Pin()
		cfg.Tree.RecordDiskRead()
		s, ok, err := sliceEQVisible(slice, cfg.Key, cfg.RV, cmp.Compare)
		if err != nil {
			slice.Unpin()
			return nil, false, err
		}
		if ok {
			for {
				if s.Type != vystmt.Upsert {
					slice.Unpin()
					return fold(pending, s, cmp), true, nil
				}
				pending = append(pending, s)
				older, ok2, err2 := sliceOlderVersion(slice, cfg.Key, s.LSN, cmp.Compare)
				if err2 != nil {
					slice.Unpin()
					return nil, false, err2
				}
				if !ok2 {
					break
				}
				s = older
			}
		}
		slice.Unpin()
	}

	return terminalOrUnresolved(pending)
}

// terminalOrUnresolved is reached when every source consulted is
// exhausted: if only UPSERTs were ever seen, there is no base to fold
// against and the key's oldest known version is returned unresolved.
func terminalOrUnresolved(pending []*vystmt.Statement) (*vystmt.Statement, bool, error) {
	if len(pending) == 0 {
		return nil, false, nil
	}
	return pending[len(pending)-1], true, nil
}

func findTxWrite(stmts []*vystmt.Statement, key []byte, cmp *vystmt.CmpDef) *vystmt.Statement {
	lo, hi := 0, len(stmts)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.KeyCmp(stmts[mid].Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(stmts) && cmp.KeyCmp(stmts[lo].Key, key) == 0 {
		return stmts[lo]
	}
	return nil
}

func memEQ(mem *vymem.Mem, key []byte, rv *vystmt.ReadView, cmp *vystmt.CmpDef) (*vystmt.Statement, bool) {
	it := mem.NewIterator(vystmt.IterEQ, key, rv)
	s, ok := it.Next()
	if !ok || cmp.KeyCmp(s.Key, key) != 0 {
		return nil, false
	}
	return s, true
}

// sliceEQVisible returns the newest rv-visible version of key in
// slice, skipping any versions too new for rv (spec.md §4.7's
// visibility rule applied to the disk leg of a point lookup).
func sliceEQVisible(slice *vyrun.Slice, key []byte, rv *vystmt.ReadView, cmp func(a, b []byte) int) (*vystmt.Statement, bool, error) {
	it := slice.NewIterator(vystmt.IterGE, key, cmp)
	for {
		s, ok, err := it.Next()
		if err != nil || !ok || cmp(s.Key, key) != 0 {
			return nil, false, err
		}
		if rv.Visible(s.LSN) {
			return s, true, nil
		}
	}
}

// sliceOlderVersion returns the next version of key in slice whose lsn
// is strictly below afterLSN, used to walk an UPSERT chain stored in
// one run (spec.md §4.7 "next_lsn").
func sliceOlderVersion(slice *vyrun.Slice, key []byte, afterLSN uint64, cmp func(a, b []byte) int) (*vystmt.Statement, bool, error) {
	it := slice.NewIterator(vystmt.IterGE, key, cmp)
	for {
		s, ok, err := it.Next()
		if err != nil || !ok || cmp(s.Key, key) != 0 {
			return nil, false, err
		}
		if s.LSN < afterLSN {
			return s, true, nil
		}
	}
}

// fold resolves pending (newest-first UPSERTs) against base via
// apply_upsert, oldest first.
func fold(pending []*vystmt.Statement, base *vystmt.Statement, cmp *vystmt.CmpDef) *vystmt.Statement {
	resolved := base
	for i := len(pending) - 1; i >= 0; i-- {
		if r, ok := vystmt.ApplyUpsert(pending[i], resolved, cmp); ok {
			resolved = r
		}
	}
	return resolved
}
