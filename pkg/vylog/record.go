// Package vylog implements spec.md §6's vylog record stream: the
// append-only log of range/run/slice lifecycle events that directs
// recovery on startup. spec.md scopes the vylog's own durability
// mechanism out of the core (it says the core only "consumes" the
// stream), but the core is the one *writing* these records as ranges,
// runs, and slices come and go, so a real encoder/decoder/recovery
// path is implemented here end to end. Grounded on the teacher's
// pkg/storage/wal.go (LogRecordType enum, binary.LittleEndian framing,
// append-only os.File, Replay reading records back for recovery)
// generalized from its six generic WAL record types to the eleven
// lifecycle record types spec.md §6 names.
package vylog

import (
	"encoding/binary"
	"fmt"
)

// Type identifies one of spec.md §6's eleven vylog record kinds.
type Type uint8

const (
	PrepareLSM Type = iota
	CreateLSM
	DropLSM
	DumpLSM
	InsertRange
	DeleteRange
	PrepareRun
	CreateRun
	DropRun
	InsertSlice
	DeleteSlice
)

func (t Type) String() string {
	switch t {
	case PrepareLSM:
		return "PREPARE_LSM"
	case CreateLSM:
		return "CREATE_LSM"
	case DropLSM:
		return "DROP_LSM"
	case DumpLSM:
		return "DUMP_LSM"
	case InsertRange:
		return "INSERT_RANGE"
	case DeleteRange:
		return "DELETE_RANGE"
	case PrepareRun:
		return "PREPARE_RUN"
	case CreateRun:
		return "CREATE_RUN"
	case DropRun:
		return "DROP_RUN"
	case InsertSlice:
		return "INSERT_SLICE"
	case DeleteSlice:
		return "DELETE_SLICE"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Record is one vylog entry. Only the fields relevant to its Type are
// meaningful; spec.md §6's field table maps onto this one struct the
// way the teacher's LogRecord carries a superset of fields for every
// LogRecordType.
type Record struct {
	Type Type

	LSMID   uint64
	SpaceID uint64
	IndexID uint64
	GroupID uint64
	KeyDef  string // opaque, consumed as a comparable per spec.md §1

	CreateLSN uint64
	DropLSN   uint64
	DumpLSN   uint64

	RangeID uint64
	RunID   uint64
	SliceID uint64

	DumpCount uint32
	GCLSN     uint64

	BeginKey []byte // nil means −∞
	EndKey   []byte // nil means +∞
}

// encode serializes a record as:
// [1-byte Type][11×8 uint64 fields][4-byte dumpcount]
// [4-byte len][keydef][4-byte len][begin][4-byte len][end], where a
// length of 0xFFFFFFFF marks a nil (absent) key, framed by a 4-byte
// length prefix so decodeBody can read exactly one record at a time
// (mirrors the teacher's length-prefixed-data tail in serializeRecord).
func (r *Record) encode() []byte {
	body := make([]byte, 0, 128)
	var u8 [8]byte

	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u8[:], v)
		body = append(body, u8[:]...)
	}
	putBytes := func(b []byte) {
		var l [4]byte
		if b == nil {
			binary.LittleEndian.PutUint32(l[:], 0xFFFFFFFF) // sentinel: nil, not empty
			body = append(body, l[:]...)
			return
		}
		binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
		body = append(body, l[:]...)
		body = append(body, b...)
	}

	body = append(body, byte(r.Type))
	putU64(r.LSMID)
	putU64(r.SpaceID)
	putU64(r.IndexID)
	putU64(r.GroupID)
	putU64(r.CreateLSN)
	putU64(r.DropLSN)
	putU64(r.DumpLSN)
	putU64(r.RangeID)
	putU64(r.RunID)
	putU64(r.SliceID)
	putU64(r.GCLSN)
	var dc [4]byte
	binary.LittleEndian.PutUint32(dc[:], r.DumpCount)
	body = append(body, dc[:]...)
	putBytes([]byte(r.KeyDef))
	putBytes(r.BeginKey)
	putBytes(r.EndKey)

	framed := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(framed[0:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed
}

func decodeBody(body []byte) (*Record, error) {
	if len(body) < 1+11*8+4 {
		return nil, fmt.Errorf("vylog: record body too short (%d bytes)", len(body))
	}
	r := &Record{Type: Type(body[0])}
	off := 1

	readU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(body[off : off+8])
		off += 8
		return v
	}
	readBytes := func() ([]byte, error) {
		if off+4 > len(body) {
			return nil, fmt.Errorf("vylog: truncated length prefix")
		}
		l := binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		if l == 0xFFFFFFFF {
			return nil, nil
		}
		if off+int(l) > len(body) {
			return nil, fmt.Errorf("vylog: truncated field data")
		}
		b := make([]byte, l)
		copy(b, body[off:off+int(l)])
		off += int(l)
		return b, nil
	}

	r.LSMID = readU64()
	r.SpaceID = readU64()
	r.IndexID = readU64()
	r.GroupID = readU64()
	r.CreateLSN = readU64()
	r.DropLSN = readU64()
	r.DumpLSN = readU64()
	r.RangeID = readU64()
	r.RunID = readU64()
	r.SliceID = readU64()
	r.GCLSN = readU64()
	r.DumpCount = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4

	keyDef, err := readBytes()
	if err != nil {
		return nil, err
	}
	r.KeyDef = string(keyDef)
	if r.BeginKey, err = readBytes(); err != nil {
		return nil, err
	}
	if r.EndKey, err = readBytes(); err != nil {
		return nil, err
	}
	return r, nil
}
