package vywrite

import (
	"github.com/tarantool/vinyl/pkg/vymem"
	"github.com/tarantool/vinyl/pkg/vyrun"
	"github.com/tarantool/vinyl/pkg/vystmt"
)

// MemSource adapts a sealed MEM's full scan to Source.
type MemSource struct {
	it *vymem.StreamIterator
}

// NewMemSource wraps mem's stream iterator.
func NewMemSource(mem *vymem.Mem) *MemSource {
	return &MemSource{it: mem.Stream()}
}

func (s *MemSource) Next() (*vystmt.Statement, bool, error) {
	stmt, ok := s.it.Next()
	return stmt, ok, nil
}

// SliceSource adapts a run slice's full ascending scan to Source.
type SliceSource struct {
	it *vyrun.Iterator
}

// NewSliceSource wraps slice in a GE-from-nil ascending iterator,
// covering its entire [Begin,End) span.
func NewSliceSource(slice *vyrun.Slice, cmp func(a, b []byte) int) *SliceSource {
	return &SliceSource{it: slice.NewIterator(vystmt.IterGE, slice.Begin, cmp)}
}

func (s *SliceSource) Next() (*vystmt.Statement, bool, error) {
	return s.it.Next()
}
