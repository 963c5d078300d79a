package vywrite

import "github.com/tarantool/vinyl/pkg/vyrun"

// Drain pulls every statement out of it and adds each one to w,
// finally finalizing w into a run. This is the glue spec.md §4.6
// describes as "a dump or compaction task drives the write iterator
// to completion and finalizes the resulting run".
func Drain(it *Iterator, w *vyrun.Writer) (*vyrun.Run, error) {
	for {
		stmt, ok, err := it.Next()
		if err != nil {
			w.Abort()
			return nil, err
		}
		if !ok {
			break
		}
		if err := w.Add(stmt); err != nil {
			w.Abort()
			return nil, err
		}
	}
	return w.Finalize()
}
