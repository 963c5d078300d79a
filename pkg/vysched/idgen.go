package vysched

import "github.com/tarantool/vinyl/pkg/concurrent"

// IDAllocator hands out monotonically increasing ids for runs, slices
// and ranges (spec.md §4.10 "constructs a new Run artifact (allocated
// new id)"). Built on the teacher's lock-free Counter rather than a
// fresh atomic field, since it already is exactly this primitive.
type IDAllocator struct {
	c *concurrent.Counter
}

// NewIDAllocator creates an allocator that will hand out start+1 as
// its first id (start is typically the highest id already seen during
// vylog recovery, so freshly allocated ids never collide with ones
// replayed from the log).
func NewIDAllocator(start uint64) *IDAllocator {
	a := &IDAllocator{c: concurrent.NewCounter()}
	if start > 0 {
		a.c.Store(start)
	}
	return a
}

// Next returns the next id.
func (a *IDAllocator) Next() uint64 {
	return a.c.Inc()
}
