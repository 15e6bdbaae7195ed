package joy

import (
	"tranquil/src/lib/upbeat"
)

//
// Memory
//
const PageShift = 12
const TableShift = 9
const SectionShift = PageShift + TableShift
const PageSize = 1 << PageShift
const SectionSize = 1 << SectionShift
const LowMemory = 2 * SectionSize
const HighMemory = 0xFE000000
const PagingMemory = HighMemory - LowMemory
const PagingPages = PagingMemory / PageSize

//
// FrameAllocator hands out single physical pages from [low, low+pages*PageSize).
// Frame i is at low + i*PageSize.  There is no locking, callers that need
// atomicity wrap calls in PreemptDisable/PreemptEnable.
//
type FrameAllocator struct {
	low   uintptr
	inUse *upbeat.BitSet
}

func NewFrameAllocator(low uintptr, pages uint32) *FrameAllocator {
	return &FrameAllocator{
		low:   low,
		inUse: upbeat.NewBitSet(pages),
	}
}

// DefaultFrameAllocator covers everything from LowMemory up to the start of
// the peripherals.
func DefaultFrameAllocator() *FrameAllocator {
	return NewFrameAllocator(LowMemory, PagingPages)
}

// GetFreePage returns the lowest free frame and marks it allocated.
func (f *FrameAllocator) GetFreePage() (uintptr, error) {
	bit := f.inUse.FirstClear()
	if bit == upbeat.NoBit {
		return 0, ErrAllocationFailed
	}
	f.inUse.Set(bit)
	return f.PageAddress(int(bit)), nil
}

// FreePage marks the frame at addr free.  Freeing a frame that is already
// free is not detected.
func (f *FrameAllocator) FreePage(addr uintptr) error {
	page, ok := f.pageOf(addr)
	if !ok {
		return ErrBadPageRequest
	}
	f.inUse.Clear(upbeat.BitIndex(page))
	return nil
}

func (f *FrameAllocator) pageOf(addr uintptr) (int, bool) {
	if addr < f.low || (addr-f.low)%PageSize != 0 {
		return 0, false
	}
	page := (addr - f.low) / PageSize
	if page >= uintptr(f.inUse.Size()) {
		return 0, false
	}
	return int(page), true
}

// IsFree is false for a page outside the pool.
func (f *FrameAllocator) IsFree(page int) bool {
	if page < 0 || page >= f.Pages() {
		return false
	}
	return !f.inUse.On(upbeat.BitIndex(page))
}

func (f *FrameAllocator) PageAddress(page int) uintptr {
	return f.low + uintptr(page)*PageSize
}

// Pages is the size of the pool.
func (f *FrameAllocator) Pages() int {
	return int(f.inUse.Size())
}

// Free is the number of frames not allocated.
func (f *FrameAllocator) Free() int {
	return f.Pages() - f.inUse.Count()
}
