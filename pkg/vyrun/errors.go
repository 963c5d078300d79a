package vyrun

import "errors"

var (
	ErrInvalidBloom  = errors.New("vyrun: invalid bloom filter data")
	ErrRunNotFound   = errors.New("vyrun: run not found")
	ErrCorruptRun    = errors.New("vyrun: corrupt run file")
	ErrEmptySlice    = errors.New("vyrun: empty slice bounds")
)
