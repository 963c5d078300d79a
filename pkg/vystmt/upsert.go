package vystmt

import "encoding/binary"

// UpsertOp is one entry of an UPSERT's operation list. The real engine
// applies JSON-update-style ops against an arbitrary tuple; since tuple
// format is out of scope (spec.md §1) this models the one concrete
// operation the spec's worked examples need (S2: "UPSERT (k=2, +=5,
// lsn=2)"): a signed delta applied to an int64 value at a byte offset.
type UpsertOp struct {
	Field int64 // offset into the value the delta applies to
	Delta int64
}

// EncodeInt64Value encodes a single int64 tuple payload the way a real
// tuple_format would, for use in tests and demos that exercise UPSERT.
func EncodeInt64Value(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64Value is the inverse of EncodeInt64Value. Returns 0 for a
// nil/short payload (tombstone or absent value).
func DecodeInt64Value(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// applyOps folds an UPSERT's op list onto a base int64 value.
func applyOps(base int64, ops []UpsertOp) int64 {
	for _, op := range ops {
		base += op.Delta
	}
	return base
}

// ApplyUpsert applies newer (an UPSERT) against older, producing the
// resolved statement per spec.md §4.1 "insert_upsert"/§4.6 "Fold
// UPSERTs"/§4.8 "Applies any intervening UPSERTs to the terminal
// statement via apply_upsert". older may itself be an UPSERT (for
// chain-folding of consecutive UPSERTs) or a terminal REPLACE/INSERT/
// DELETE.
//
// Returns the resolved statement and true, or (nil, false) if the
// producer cannot resolve (e.g. older is a DELETE — the upsert against
// a tombstone is a no-op insert of the upsert's own default, which this
// simplified model treats as "leave the UPSERT", matching spec.md §4.4
// "If the producer returns a same-lsn result or none, leave the
// UPSERT").
func ApplyUpsert(newer, older *Statement, cmp *CmpDef) (*Statement, bool) {
	if newer == nil || newer.Type != Upsert {
		return nil, false
	}
	if older == nil {
		return nil, false
	}
	if older.Type == Delete {
		return nil, false
	}

	var resolvedOps []UpsertOp
	base := DecodeInt64Value(older.Value)

	switch older.Type {
	case Upsert:
		// Squash two UPSERTs into one: fold the older ops first, then
		// the newer's, preserving chronological apply order.
		merged := make([]UpsertOp, 0, len(older.Ops)+len(newer.Ops))
		merged = append(merged, older.Ops...)
		merged = append(merged, newer.Ops...)
		return &Statement{
			Type:     Upsert,
			Key:      newer.Key,
			Value:    older.Value,
			LSN:      newer.LSN,
			Flags:    newer.Flags,
			Ops:      merged,
			NUpserts: older.NUpserts + 1,
		}, true
	case Replace, Insert:
		resolvedOps = newer.Ops
		result := applyOps(base, resolvedOps)
		return &Statement{
			Type:  Replace,
			Key:   newer.Key,
			Value: EncodeInt64Value(result),
			LSN:   newer.LSN,
			Flags: newer.Flags,
		}, true
	default:
		return nil, false
	}
}

// ResolveUpsertChain walks a chronological (oldest-first) history of
// statements for one key and folds every UPSERT against its
// predecessor, per spec.md §4.6 bullet 2. The first entry must be a
// terminal statement (INSERT/REPLACE/DELETE) or the chain is left
// unresolved (oldest-known version unavailable).
func ResolveUpsertChain(history []*Statement, cmp *CmpDef) *Statement {
	if len(history) == 0 {
		return nil
	}
	cur := history[0]
	if cur.Type == Upsert {
		// No older base to apply against: emit as-is (spec.md §4.6
		// "if the oldest in the history is UPSERT ... this is the last
		// level" handles resolution at the write-iterator layer; here
		// we simply can't resolve further).
		return cur
	}
	for i := 1; i < len(history); i++ {
		next := history[i]
		if next.Type != Upsert {
			cur = next
			continue
		}
		if resolved, ok := ApplyUpsert(next, cur, cmp); ok {
			cur = resolved
		}
	}
	return cur
}
