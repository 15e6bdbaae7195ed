package bcm2711

import "sync"

// system timer register offsets, from MMIOBase+SysTimerOffset
const (
	SysTimerCS  = 0x00
	SysTimerCLO = 0x04
	SysTimerCHI = 0x08
	SysTimerC0  = 0x0C
	SysTimerC1  = 0x10
	SysTimerC2  = 0x14
	SysTimerC3  = 0x18
	sysTimerEnd = 0x1C
)

// match bits in CS, write one to clear
const (
	SysTimerM0 = 1 << 0
	SysTimerM1 = 1 << 1
	SysTimerM2 = 1 << 2
	SysTimerM3 = 1 << 3
)

//
// SysTimer is the free running 1MHz counter with four compare channels.  A
// channel fires when the low 32 bits of the counter pass its compare value;
// the match bit is set in CS and the channel's line is raised on the GIC.
// The counter only moves when Advance is called, there is no wall clock.
//
type SysTimer struct {
	mu      sync.Mutex
	base    uintptr
	gic     *GIC400
	counter uint64
	cs      uint32
	compare [4]uint32
	armed   [4]bool
	matches [4]uint64
}

func NewSysTimer(base uintptr, gic *GIC400) *SysTimer {
	return &SysTimer{base: base, gic: gic}
}

func (t *SysTimer) Contains(addr uintptr) bool {
	return addr >= t.base && addr < t.base+sysTimerEnd
}

// Now is the full 64 bit counter.
func (t *SysTimer) Now() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counter
}

// Matches is how many times channel n has fired.
func (t *SysTimer) Matches(n int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matches[n]
}

// Advance moves the counter forward by us microseconds.  A channel that is
// passed more than once in one step only fires once, like missing ticks on
// the real part.
func (t *SysTimer) Advance(us uint32) {
	if us == 0 {
		return
	}
	var fired []int
	t.mu.Lock()
	lo := uint32(t.counter)
	t.counter += uint64(us)
	for n := range t.compare {
		if !t.armed[n] {
			continue
		}
		d := t.compare[n] - lo
		if d == 0 || d > us {
			continue
		}
		t.cs |= 1 << uint(n)
		t.armed[n] = false
		t.matches[n]++
		fired = append(fired, n)
	}
	t.mu.Unlock()
	for _, n := range fired {
		t.gic.Raise(SystemTimerIRQ0 + n)
	}
}

func (t *SysTimer) Read32(addr uintptr) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch off := addr - t.base; off {
	case SysTimerCS:
		return t.cs
	case SysTimerCLO:
		return uint32(t.counter)
	case SysTimerCHI:
		return uint32(t.counter >> 32)
	case SysTimerC0, SysTimerC1, SysTimerC2, SysTimerC3:
		return t.compare[(off-SysTimerC0)/4]
	}
	return 0
}

func (t *SysTimer) Write32(addr uintptr, v uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch off := addr - t.base; off {
	case SysTimerCS:
		t.cs &^= v & 0xF
	case SysTimerC0, SysTimerC1, SysTimerC2, SysTimerC3:
		n := (off - SysTimerC0) / 4
		t.compare[n] = v
		t.armed[n] = true
	}
}
