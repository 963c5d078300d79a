package vyrun

import (
	"encoding/binary"
	"hash/fnv"
)

// Bloom is a probabilistic membership filter over a run's keys,
// adapted from the teacher's pkg/lsm/bloom.go (double hashing, same
// size/hash-count accounting) and generalized only in naming: spec.md
// §4.2 doesn't redesign the filter, it just asks for "an optional bloom
// filter over keys" used to short-circuit EQ lookups.
type Bloom struct {
	bits      []byte
	size      int
	numHashes int
}

// NewBloom sizes a filter for expectedItems at numHashes hash functions.
func NewBloom(expectedItems, numHashes int) *Bloom {
	if expectedItems < 1 {
		expectedItems = 1
	}
	size := expectedItems * 10
	byteSize := (size + 7) / 8
	return &Bloom{bits: make([]byte, byteSize), size: size, numHashes: numHashes}
}

func (b *Bloom) Add(key []byte) {
	for i := 0; i < b.numHashes; i++ {
		h := b.hash(key, i)
		bit := h % uint64(b.size)
		b.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MaybeContains reports whether key might be present (false positives
// possible, false negatives impossible).
func (b *Bloom) MaybeContains(key []byte) bool {
	for i := 0; i < b.numHashes; i++ {
		h := b.hash(key, i)
		bit := h % uint64(b.size)
		if b.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func (b *Bloom) hash(key []byte, i int) uint64 {
	h := fnv.New64a()
	h.Write(key)
	h1 := h.Sum64()
	h.Reset()
	h.Write(key)
	h.Write([]byte{byte(i)})
	h2 := h.Sum64()
	return h1 + uint64(i)*h2
}

// Marshal serializes the filter for the run's index file.
func (b *Bloom) Marshal() []byte {
	buf := make([]byte, 8+len(b.bits))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(b.size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.numHashes))
	copy(buf[8:], b.bits)
	return buf
}

// UnmarshalBloom is the inverse of Marshal.
func UnmarshalBloom(data []byte) (*Bloom, error) {
	if len(data) < 8 {
		return nil, ErrInvalidBloom
	}
	size := int(binary.LittleEndian.Uint32(data[0:4]))
	numHashes := int(binary.LittleEndian.Uint32(data[4:8]))
	bits := append([]byte(nil), data[8:]...)
	return &Bloom{bits: bits, size: size, numHashes: numHashes}, nil
}
