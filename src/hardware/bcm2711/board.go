package bcm2711

import (
	"io"
	"sync/atomic"
)

// Board is the set of emulated devices the kernel talks to, decoded by
// address.  Accesses that hit no device read as zero and are counted.
type Board struct {
	Model    int
	Base     uintptr
	GIC      *GIC400
	Timer    *SysTimer
	UART     *UART
	unmapped atomic.Uint64
}

// NewBoard builds the peripherals for the given board model.  Console output
// goes to out at the given baud.
func NewBoard(model int, out io.Writer, baud int) *Board {
	base := MMIOBase(model)
	gic := NewGIC400(GICBase)
	return &Board{
		Model: model,
		Base:  base,
		GIC:   gic,
		Timer: NewSysTimer(base+SysTimerOffset, gic),
		UART:  NewUART(base+UART0Offset, gic, out, baud),
	}
}

// GICDistBase is where the kernel finds GICD registers.
func (b *Board) GICDistBase() uintptr { return GICBase + GICDistOffset }

// GICCPUBase is where the kernel finds GICC registers.
func (b *Board) GICCPUBase() uintptr { return GICBase + GICCPUOffset }

// SysTimerBase is where the kernel finds the system timer.
func (b *Board) SysTimerBase() uintptr { return b.Base + SysTimerOffset }

// UARTBase is where the kernel finds UART0.
func (b *Board) UARTBase() uintptr { return b.Base + UART0Offset }

// the GIC is not here, it needs to know the core
func (b *Board) device(addr uintptr) Bus {
	switch {
	case b.Timer.Contains(addr):
		return b.Timer
	case b.UART.Contains(addr):
		return b.UART
	}
	return nil
}

// Read32 and Write32 are accesses from core 0.
func (b *Board) Read32(addr uintptr) uint32 {
	return b.read(0, addr)
}

func (b *Board) Write32(addr uintptr, v uint32) {
	b.write(0, addr, v)
}

// ForCore is the bus as seen from the given core.  Only the GIC cpu
// interface is banked, everything else is shared.
func (b *Board) ForCore(cpu uint8) Bus {
	return coreBus{b: b, cpu: cpu}
}

func (b *Board) read(cpu uint8, addr uintptr) uint32 {
	if b.GIC.Contains(addr) {
		return b.GIC.ReadAs(cpu, addr)
	}
	if d := b.device(addr); d != nil {
		return d.Read32(addr)
	}
	b.unmapped.Add(1)
	return 0
}

func (b *Board) write(cpu uint8, addr uintptr, v uint32) {
	if b.GIC.Contains(addr) {
		b.GIC.WriteAs(cpu, addr, v)
		return
	}
	if d := b.device(addr); d != nil {
		d.Write32(addr, v)
		return
	}
	b.unmapped.Add(1)
}

type coreBus struct {
	b   *Board
	cpu uint8
}

func (c coreBus) Read32(addr uintptr) uint32     { return c.b.read(c.cpu, addr) }
func (c coreBus) Write32(addr uintptr, v uint32) { c.b.write(c.cpu, addr, v) }

// Unmapped is the number of accesses that hit no device.
func (b *Board) Unmapped() uint64 {
	return b.unmapped.Load()
}
