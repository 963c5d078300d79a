// Package vystmt holds the typed write-ahead records ("statements") that
// flow through every layer of the vinyl engine, plus the MVCC read-view
// primitive. Keys and tuple payloads are kept as opaque byte slices: the
// real engine's tuple/tuple_format/key_def machinery is out of scope
// (spec.md §1) and consumed here only through the comparator in CmpDef.
package vystmt

import "bytes"

// Type is the statement variant.
type Type uint8

const (
	Insert Type = iota
	Replace
	Delete
	Upsert
)

func (t Type) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case Replace:
		return "REPLACE"
	case Delete:
		return "DELETE"
	case Upsert:
		return "UPSERT"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitset carried by a statement.
type Flags uint8

const (
	// FlagDeferredDelete marks a REPLACE/DELETE that left secondary
	// indexes requiring a deferred purge (spec.md §3, §4.6 bullet 4).
	FlagDeferredDelete Flags = 1 << iota
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// MaxLSN is used by the transaction manager to offset psn-derived
// provisional LSNs assigned on prepare (spec.md §3 "Transaction").
const MaxLSN uint64 = 1 << 62

// Statement is a single typed write, with optional UPSERT operation
// list. Region/refcount allocation strategy from the original C engine
// (spec.md §9) is modeled simply: Statement values are passed by
// pointer and shared; Go's GC retires them once unreferenced, which is
// the idiomatic replacement for manual region allocation.
type Statement struct {
	Type  Type
	Key   []byte
	Value []byte // full tuple; nil for DELETE
	LSN   uint64
	Flags Flags

	// Ops and NUpserts are meaningful only when Type == Upsert.
	Ops      []UpsertOp
	NUpserts uint32
}

// Clone returns a deep copy so callers may safely retain it across a
// MEM rotation (cf. spec.md §4.4 "dup-to-region allocation").
func (s *Statement) Clone() *Statement {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Key = append([]byte(nil), s.Key...)
	if s.Value != nil {
		cp.Value = append([]byte(nil), s.Value...)
	}
	if s.Ops != nil {
		cp.Ops = append([]UpsertOp(nil), s.Ops...)
	}
	return &cp
}

// CmpDef is the opaque key comparator spec.md §1 says the core receives
// from key_def. Secondary indexes append primary-key parts for
// uniqueness ("cmp_def" in spec.md §3 "LSM"); that's expressed here by
// composing comparators, not by this type itself.
type CmpDef struct {
	Compare func(a, b []byte) int
}

// DefaultCmpDef compares keys with plain lexicographic byte order.
func DefaultCmpDef() *CmpDef {
	return &CmpDef{Compare: bytes.Compare}
}

// KeyCmp is a convenience for CmpDef.Compare with a nil-safe default.
func (c *CmpDef) KeyCmp(a, b []byte) int {
	if c == nil || c.Compare == nil {
		return bytes.Compare(a, b)
	}
	return c.Compare(a, b)
}

// Less reports whether (key1,lsn1) sorts strictly before (key2,lsn2)
// under MEM ordering: ascending key, then descending LSN (spec.md §3
// "MEM", invariant "MEM ordering" in spec.md §8).
func Less(cmp *CmpDef, key1 []byte, lsn1 uint64, key2 []byte, lsn2 uint64) bool {
	c := cmp.KeyCmp(key1, key2)
	if c != 0 {
		return c < 0
	}
	return lsn1 > lsn2
}
