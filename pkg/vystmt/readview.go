package vystmt

import "sync/atomic"

// InfLSN represents the global read view's unbounded visibility cap
// (spec.md §3 "A global RV with vlsn = ∞ represents the latest state").
const InfLSN = ^uint64(0)

// ReadView is spec.md §3's "Read view (RV)": a visibility cap on LSN,
// reference-counted so that when a transaction's ref drops to 0 (and no
// writer keeps it alive) the view's garbage becomes collectible.
type ReadView struct {
	vlsn    uint64
	refs    int32
	onEmpty func(*ReadView) // called once refs hits 0, if non-nil
}

// NewReadView creates an RV pinned at vlsn with one initial ref.
func NewReadView(vlsn uint64) *ReadView {
	return &ReadView{vlsn: vlsn, refs: 1}
}

// Global returns a fresh RV with unbounded visibility.
func Global() *ReadView { return NewReadView(InfLSN) }

// VLSN returns the visibility cap.
func (rv *ReadView) VLSN() uint64 {
	if rv == nil {
		return InfLSN
	}
	return atomic.LoadUint64(&rv.vlsn)
}

// IsGlobal reports whether this RV has unbounded visibility.
func (rv *ReadView) IsGlobal() bool { return rv.VLSN() == InfLSN }

// Visible reports whether a statement with the given LSN is visible
// under this read view (spec.md §3: "All statements with lsn ≤ vlsn are
// visible").
func (rv *ReadView) Visible(lsn uint64) bool {
	return lsn <= rv.VLSN()
}

// Ref increments the reference count; used when a second owner (e.g. a
// historical-RV cache keyed by psn, spec.md §4.9) shares the same view.
func (rv *ReadView) Ref() {
	atomic.AddInt32(&rv.refs, 1)
}

// Unref decrements the reference count; when it reaches zero and
// onEmpty is set, it fires exactly once.
func (rv *ReadView) Unref() {
	if atomic.AddInt32(&rv.refs, -1) == 0 && rv.onEmpty != nil {
		rv.onEmpty(rv)
	}
}

// SetOnEmpty installs a destructor called when refcount reaches zero.
func (rv *ReadView) SetOnEmpty(f func(*ReadView)) {
	rv.onEmpty = f
}

// fix sets vlsn permanently to the commit lsn, used by the tx manager
// when a demoted reader's historical RV is finally resolved (spec.md
// §4.9 "the RV the committer was demoting others onto ... has its vlsn
// fixed to the commit lsn").
func (rv *ReadView) Fix(lsn uint64) {
	atomic.StoreUint64(&rv.vlsn, lsn)
}
