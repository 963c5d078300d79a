package vystmt

// IterType is spec.md §6's iterator type. The bitwise/geometric variants
// are carried opaquely (delegated to an index-type adapter outside this
// core) but still need a Direction for iterator bookkeeping.
type IterType int

const (
	IterEQ IterType = iota
	IterREQ
	IterALL
	IterLT
	IterLE
	IterGE
	IterGT
	IterBitsAllSet
	IterBitsAnySet
	IterBitsAllNotSet
	IterOverlaps
	IterNeighbor
)

func (t IterType) String() string {
	switch t {
	case IterEQ:
		return "EQ"
	case IterREQ:
		return "REQ"
	case IterALL:
		return "ALL"
	case IterLT:
		return "LT"
	case IterLE:
		return "LE"
	case IterGE:
		return "GE"
	case IterGT:
		return "GT"
	case IterBitsAllSet:
		return "BITS_ALL_SET"
	case IterBitsAnySet:
		return "BITS_ANY_SET"
	case IterBitsAllNotSet:
		return "BITS_ALL_NOT_SET"
	case IterOverlaps:
		return "OVERLAPS"
	case IterNeighbor:
		return "NEIGHBOR"
	default:
		return "UNKNOWN"
	}
}

// Direction returns -1 for REQ/LT/LE and +1 otherwise (spec.md §6).
func (t IterType) Direction() int {
	switch t {
	case IterREQ, IterLT, IterLE:
		return -1
	default:
		return 1
	}
}

// Ascending reports whether the iterator scans in increasing key order.
func (t IterType) Ascending() bool { return t.Direction() > 0 }

// NormalizeEmptyKey collapses iterator types when the search key is
// empty, per spec.md §8 "Boundary behaviors": EQ with empty key is
// treated as GE; LT/GT with empty key collapses to LE/GE.
func NormalizeEmptyKey(t IterType, keyEmpty bool) IterType {
	if !keyEmpty {
		return t
	}
	switch t {
	case IterEQ:
		return IterGE
	case IterLT:
		return IterLE
	case IterGT:
		return IterGE
	default:
		return t
	}
}

// MappedType maps the user-facing ALL/REQ request types onto the
// read iterator's two underlying scan shapes, per spec.md §4.7 "State":
// ALL→GE; REQ→LE with an equality filter flag.
func MappedType(t IterType) (mapped IterType, needCheckEQ bool) {
	switch t {
	case IterALL:
		return IterGE, false
	case IterREQ:
		return IterLE, true
	default:
		return t, t == IterEQ
	}
}
