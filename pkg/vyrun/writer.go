package vyrun

import (
	"fmt"
	"os"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Writer builds a new Run page by page, grounded on the teacher's
// SSTableWriter (pkg/lsm/sstable.go): buffer rows until a size
// threshold, flush a compressed page, track min/max key and lsn, then
// write an index file footer on Finalize. Generalized from the
// teacher's single-file-with-trailing-footer layout to spec.md §6's
// two-file-per-run layout (a data file of pages, a separate index
// file of run_info + page_info + bloom).
type Writer struct {
	baseDir string
	run     *Run

	dataFile *os.File
	offset   int64

	pending     []*vystmt.Statement
	pendingSize int
	pageSize    int

	zstdLevel int
}

// NewWriter creates the run's directory (recursively, ignoring
// EEXIST, per spec.md §6) and opens its data file for writing.
func NewWriter(baseDir string, spaceID, indexID, runID uint64, pageSize int, expectedRows int, zstdLevel int) (*Writer, error) {
	dir := DirFor(baseDir, spaceID, indexID)
	if err := os.MkdirAll(dir, 0777); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("vyrun: mkdir %s: %w", dir, err)
	}
	dataPath, indexPath := runFileNames(dir, runID)
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("vyrun: create data file: %w", err)
	}

	run := &Run{
		ID:        runID,
		SpaceID:   spaceID,
		IndexID:   indexID,
		Bloom:     NewBloom(maxInt(expectedRows, 1), 4),
		dataPath:  dataPath,
		indexPath: indexPath,
	}

	return &Writer{
		baseDir:   baseDir,
		run:       run,
		dataFile:  f,
		pageSize:  pageSize,
		zstdLevel: zstdLevel,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Add appends one statement. Statements must arrive in MEM order (key
// ascending, lsn descending per row) — the writer does not sort.
func (w *Writer) Add(s *vystmt.Statement) error {
	if w.run.MinKey == nil {
		w.run.MinKey = append([]byte(nil), s.Key...)
	}
	w.run.MaxKey = append([]byte(nil), s.Key...)
	if w.run.MinLSN == 0 || s.LSN < w.run.MinLSN {
		w.run.MinLSN = s.LSN
	}
	if s.LSN > w.run.MaxLSN {
		w.run.MaxLSN = s.LSN
	}
	w.run.Bloom.Add(s.Key)
	w.run.Rows++

	w.pending = append(w.pending, s)
	w.pendingSize += len(s.Key) + len(s.Value) + 32
	if w.pendingSize >= w.pageSize {
		return w.flushPage()
	}
	return nil
}

func (w *Writer) flushPage() error {
	if len(w.pending) == 0 {
		return nil
	}
	compressed, unpackedSize, rowOffsets, err := encodePage(w.pending, w.zstdLevel)
	if err != nil {
		return err
	}
	n, err := w.dataFile.Write(compressed)
	if err != nil {
		return fmt.Errorf("vyrun: write page: %w", err)
	}
	w.run.Pages = append(w.run.Pages, PageInfo{
		Offset:         w.offset,
		Size:           int32(n),
		UnpackedSize:   int32(unpackedSize),
		RowCount:       int32(len(w.pending)),
		MinKey:         append([]byte(nil), w.pending[0].Key...),
		RowIndexOffset: int32(unpackedSize - len(rowOffsets)*4 - 4),
	})
	w.offset += int64(n)
	w.pending = w.pending[:0]
	w.pendingSize = 0
	return nil
}

// Finalize flushes any buffered rows, fsyncs and closes the data
// file, and writes the index file footer (spec.md §6).
func (w *Writer) Finalize() (*Run, error) {
	if err := w.flushPage(); err != nil {
		return nil, err
	}
	if err := w.dataFile.Sync(); err != nil {
		return nil, fmt.Errorf("vyrun: sync data file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		return nil, fmt.Errorf("vyrun: close data file: %w", err)
	}
	if err := writeIndexFile(w.run.indexPath, w.run); err != nil {
		return nil, err
	}
	return w.run, nil
}

// Abort discards a partially-written run (e.g. on dump/compaction
// cancellation) and removes any files already created.
func (w *Writer) Abort() error {
	w.dataFile.Close()
	os.Remove(w.run.dataPath)
	os.Remove(w.run.indexPath)
	return nil
}
