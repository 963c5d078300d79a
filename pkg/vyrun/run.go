// Package vyrun implements spec.md §4.2: the immutable on-disk Run and
// its bounded-sub-range Slice view, plus the run iterator. Grounded on
// the teacher's pkg/lsm/sstable.go (sparse index + bloom filter +
// footer-at-end-of-file layout) generalized to spec.md's page_info
// array and the two-file-per-run layout of spec.md §6.
package vyrun

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

// Run is an immutable on-disk sorted file plus its page index and
// bloom filter (spec.md §3 "Run"). Refcounted: each Slice that
// references it holds one ref (a run loaded by Open starts with one
// extra ref for its caller); the run's files are deleted when the
// count drops to zero (spec.md §8 "Run refcount" invariant).
type Run struct {
	ID      uint64
	SpaceID uint64
	IndexID uint64

	MinKey []byte
	MaxKey []byte
	MinLSN uint64
	MaxLSN uint64
	Rows   int64

	Pages []PageInfo
	Bloom *Bloom

	dataPath  string
	indexPath string
	refCount  int32

	fileMu sync.Mutex
	file   *os.File // lazily opened for reads
}

// DirFor returns the per-(space,index) directory the run's files live
// in (spec.md §6 "On-disk run files").
func DirFor(baseDir string, spaceID, indexID uint64) string {
	return filepath.Join(baseDir, fmt.Sprintf("%d", spaceID), fmt.Sprintf("%d", indexID))
}

func runFileNames(dir string, runID uint64) (dataPath, indexPath string) {
	base := fmt.Sprintf("%020d", runID)
	return filepath.Join(dir, base+".run"), filepath.Join(dir, base+".index")
}

// Ref increments the run's reference count.
func (r *Run) Ref() { atomic.AddInt32(&r.refCount, 1) }

// Unref decrements the reference count and, upon reaching zero, closes
// and removes the run's files from disk.
func (r *Run) Unref() error {
	if atomic.AddInt32(&r.refCount, -1) > 0 {
		return nil
	}
	r.fileMu.Lock()
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.fileMu.Unlock()
	if err := os.Remove(r.dataPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(r.indexPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *Run) RefCount() int32 { return atomic.LoadInt32(&r.refCount) }

// findPage returns the index of the page whose min_key range could
// contain key, via binary search over per-page min_key (spec.md §4.2
// "Lookup uses the page min_key array (binary search)").
func (r *Run) findPage(key []byte, cmp func(a, b []byte) int) int {
	idx := sort.Search(len(r.Pages), func(i int) bool {
		return cmp(r.Pages[i].MinKey, key) > 0
	})
	if idx == 0 {
		return -1
	}
	return idx - 1
}

func (r *Run) openFile() (*os.File, error) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if r.file != nil {
		return r.file, nil
	}
	f, err := os.Open(r.dataPath)
	if err != nil {
		return nil, fmt.Errorf("vyrun: open data file: %w", err)
	}
	r.file = f
	return f, nil
}

func (r *Run) readRawPage(i int) ([]byte, error) {
	f, err := r.openFile()
	if err != nil {
		return nil, err
	}
	p := r.Pages[i]
	buf := make([]byte, p.Size)
	if _, err := f.ReadAt(buf, p.Offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("vyrun: read page %d: %w", i, err)
	}
	return buf, nil
}

// DecodePage reads page i off disk and decompresses it into statements.
// Callers (the run iterator) keep their own two-most-recent-pages cache
// around this (spec.md §4.2).
func (r *Run) DecodePage(i int) ([]*vystmt.Statement, error) {
	raw, err := r.readRawPage(i)
	if err != nil {
		return nil, err
	}
	return decodePage(raw, int(r.Pages[i].UnpackedSize))
}

// FindPage exposes the page min_key binary search to the run iterator.
func (r *Run) FindPage(key []byte, cmp func(a, b []byte) int) int {
	return r.findPage(key, cmp)
}

// --- index file (footer) (de)serialization ---

func writeIndexFile(path string, r *Run) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, r.ID)
	binary.Write(&buf, binary.LittleEndian, r.SpaceID)
	binary.Write(&buf, binary.LittleEndian, r.IndexID)
	writeBytes(&buf, r.MinKey)
	writeBytes(&buf, r.MaxKey)
	binary.Write(&buf, binary.LittleEndian, r.MinLSN)
	binary.Write(&buf, binary.LittleEndian, r.MaxLSN)
	binary.Write(&buf, binary.LittleEndian, r.Rows)

	binary.Write(&buf, binary.LittleEndian, uint32(len(r.Pages)))
	for _, p := range r.Pages {
		binary.Write(&buf, binary.LittleEndian, p.Offset)
		binary.Write(&buf, binary.LittleEndian, p.Size)
		binary.Write(&buf, binary.LittleEndian, p.UnpackedSize)
		binary.Write(&buf, binary.LittleEndian, p.RowCount)
		writeBytes(&buf, p.MinKey)
		binary.Write(&buf, binary.LittleEndian, p.RowIndexOffset)
	}

	bloomData := r.Bloom.Marshal()
	writeBytes(&buf, bloomData)

	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readIndexFile(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vyrun: read index file: %w", err)
	}
	r := bytes.NewReader(data)
	run := &Run{}

	if err := binary.Read(r, binary.LittleEndian, &run.ID); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &run.SpaceID); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &run.IndexID); err != nil {
		return nil, err
	}
	if run.MinKey, err = readBytes(r); err != nil {
		return nil, err
	}
	if run.MaxKey, err = readBytes(r); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &run.MinLSN); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &run.MaxLSN); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &run.Rows); err != nil {
		return nil, err
	}

	var numPages uint32
	if err := binary.Read(r, binary.LittleEndian, &numPages); err != nil {
		return nil, err
	}
	run.Pages = make([]PageInfo, numPages)
	for i := range run.Pages {
		p := &run.Pages[i]
		if err := binary.Read(r, binary.LittleEndian, &p.Offset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &p.Size); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &p.UnpackedSize); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &p.RowCount); err != nil {
			return nil, err
		}
		if p.MinKey, err = readBytes(r); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &p.RowIndexOffset); err != nil {
			return nil, err
		}
	}

	bloomData, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	run.Bloom, err = UnmarshalBloom(bloomData)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Open loads an existing run's metadata from its index file. The page
// index is used as stored: Open neither checks it against the data
// file nor rebuilds it. The data file is opened lazily on first page
// read.
func Open(baseDir string, spaceID, indexID, runID uint64) (*Run, error) {
	dir := DirFor(baseDir, spaceID, indexID)
	dataPath, indexPath := runFileNames(dir, runID)
	run, err := readIndexFile(indexPath)
	if err != nil {
		return nil, err
	}
	run.dataPath = dataPath
	run.indexPath = indexPath
	run.refCount = 1
	return run, nil
}
