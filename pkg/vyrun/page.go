// Page encoding for on-disk runs. Pages are compressed with
// klauspost/compress's zstd codec (spec.md §4.2 "Pages are compressed
// with a block codec"), grounded in the teacher's own go.mod dependency
// and the shape of pkg/compression/page.go's
// [algorithm][originalSize][compressedSize] header. Row framing itself
// is adapted from pkg/lsm/sstable.go's readEntry/Write.
package vyrun

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// PageInfo describes one page of a run: its location, size, row count,
// the page's minimum key (for the page min_key binary search of spec.md
// §4.2), and the offset of the dense row-index array within the
// decompressed page (spec.md §4.2 "row_index within a page is a dense
// offset array permitting row-wise decoding").
type PageInfo struct {
	Offset         int64
	Size           int32
	UnpackedSize   int32
	RowCount       int32
	MinKey         []byte
	RowIndexOffset int32
}

func encodeRow(buf *bytes.Buffer, s *vystmt.Statement) {
	buf.WriteByte(byte(s.Type))
	buf.WriteByte(byte(s.Flags))
	writeBytes(buf, s.Key)
	writeBytes(buf, s.Value)
	binary.Write(buf, binary.LittleEndian, s.LSN)
	binary.Write(buf, binary.LittleEndian, s.NUpserts)
	binary.Write(buf, binary.LittleEndian, uint32(len(s.Ops)))
	for _, op := range s.Ops {
		binary.Write(buf, binary.LittleEndian, op.Field)
		binary.Write(buf, binary.LittleEndian, op.Delta)
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	if len(b) > 0 {
		buf.Write(b)
	}
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func decodeRow(r io.Reader) (*vystmt.Statement, error) {
	typeByte := make([]byte, 2)
	if _, err := io.ReadFull(r, typeByte); err != nil {
		return nil, err
	}
	key, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	val, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var lsn uint64
	if err := binary.Read(r, binary.LittleEndian, &lsn); err != nil {
		return nil, err
	}
	var nUpserts uint32
	if err := binary.Read(r, binary.LittleEndian, &nUpserts); err != nil {
		return nil, err
	}
	var numOps uint32
	if err := binary.Read(r, binary.LittleEndian, &numOps); err != nil {
		return nil, err
	}
	var ops []vystmt.UpsertOp
	for i := uint32(0); i < numOps; i++ {
		var op vystmt.UpsertOp
		if err := binary.Read(r, binary.LittleEndian, &op.Field); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &op.Delta); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return &vystmt.Statement{
		Type:     vystmt.Type(typeByte[0]),
		Flags:    vystmt.Flags(typeByte[1]),
		Key:      key,
		Value:    val,
		LSN:      lsn,
		NUpserts: nUpserts,
		Ops:      ops,
	}, nil
}

// encodePage packs rows into one compressed page, returning the
// compressed bytes, the unpacked size, and the per-row start offsets
// within the *unpacked* buffer (the dense row index of spec.md §4.2).
func encodePage(rows []*vystmt.Statement, level int) (compressed []byte, unpackedSize int, rowOffsets []uint32, err error) {
	var unpacked bytes.Buffer
	rowOffsets = make([]uint32, 0, len(rows))
	for _, row := range rows {
		rowOffsets = append(rowOffsets, uint32(unpacked.Len()))
		encodeRow(&unpacked, row)
	}
	// Row index trailer: offsets(4 each) + count(4), permits row-wise
	// decoding without re-scanning the whole page; the count comes last
	// so decodePage can find it from the end of the page.
	for _, off := range rowOffsets {
		binary.Write(&unpacked, binary.LittleEndian, off)
	}
	binary.Write(&unpacked, binary.LittleEndian, uint32(len(rowOffsets)))

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("vyrun: new zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed = enc.EncodeAll(unpacked.Bytes(), nil)
	return compressed, unpacked.Len(), rowOffsets, nil
}

// decodePage decompresses a page and decodes every row. Real Vinyl
// decodes rows lazily via the row index; this port decodes the whole
// page eagerly (the index is still written to the wire format and
// could drive lazy decoding later) since pages are capped at page_size
// and the two-most-recent-pages cache (spec.md §4.2) already bounds
// how much work this does per iterator step.
func decodePage(compressed []byte, unpackedSize int) ([]*vystmt.Statement, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("vyrun: new zstd decoder: %w", err)
	}
	defer dec.Close()
	unpacked, err := dec.DecodeAll(compressed, make([]byte, 0, unpackedSize))
	if err != nil {
		return nil, fmt.Errorf("vyrun: decompress page: %w", err)
	}

	// Row index trailer tells us where row data ends.
	if len(unpacked) < 4 {
		return nil, ErrCorruptRun
	}
	tail := unpacked[len(unpacked)-4:]
	count := binary.LittleEndian.Uint32(tail)
	idxBytes := int(count)*4 + 4
	if idxBytes > len(unpacked) {
		return nil, ErrCorruptRun
	}
	rowData := unpacked[:len(unpacked)-idxBytes]

	r := bytes.NewReader(rowData)
	rows := make([]*vystmt.Statement, 0, count)
	for r.Len() > 0 {
		row, err := decodeRow(r)
		if err != nil {
			return nil, fmt.Errorf("vyrun: decode row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
