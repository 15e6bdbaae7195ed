package upbeat

import "math/bits"

type BitSet struct {
	size uint32
	data []uint64
}

type BitIndex uint32

// NoBit is returned by searches that come up empty.
const NoBit = BitIndex(0xffff_ffff)

// NewBitSet returns a bitset with all size bits clear.  Storage is rounded up
// to a whole number of uint64s but bits past size are never reported.
func NewBitSet(size uint32) *BitSet {
	return &BitSet{
		size: size,
		data: make([]uint64, (size+63)>>6),
	}
}

func (b *BitSet) Size() uint32 {
	return b.size
}

func (b *BitSet) On(bit BitIndex) bool {
	mask := uint64(1) << (bit % 64)
	return b.data[bit>>6]&mask != 0
}

func (b *BitSet) Set(bit BitIndex) {
	b.data[bit>>6] |= uint64(1) << (bit % 64)
}

func (b *BitSet) Clear(bit BitIndex) {
	b.data[bit>>6] &^= uint64(1) << (bit % 64)
}

func (b *BitSet) ClearAll() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// FirstClear returns the lowest index that is not set, or NoBit if every bit
// is on.  Whole words are skipped when full.
func (b *BitSet) FirstClear() BitIndex {
	for i, w := range b.data {
		if w == ^uint64(0) {
			continue
		}
		bit := BitIndex(i<<6 + bits.TrailingZeros64(^w))
		if uint32(bit) >= b.size {
			return NoBit
		}
		return bit
	}
	return NoBit
}

// Count returns the number of bits that are on.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.data {
		n += bits.OnesCount64(w)
	}
	return n
}
