package bcm2711

//This package is for things that are specific to the BCM2711 (Raspberry Pi 4).
//Register layouts follow the BCM2711 ARM Peripherals document and the
//CoreLink GIC-400 TRM.  Every device here is an emulation that sits behind
//the Bus interface so the kernel only ever sees register reads and writes.

// Bus is the MMIO transport.  Addresses are physical.
type Bus interface {
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
}

// CoreCount is the number of Cortex-A72 cores, and of GIC cpu interfaces.
const CoreCount = 4

// Banked is a bus where some registers answer differently depending on the
// core that makes the access.  ForCore is that core's view of it.
type Banked interface {
	Bus
	ForCore(cpu uint8) Bus
}

// MMIOBase is where the peripherals start for a given board model.
func MMIOBase(board int) uintptr {
	switch board {
	case 2, 3:
		return 0x3F000000
	case 4:
		return 0xFE000000
	}
	return 0x20000000
}

// offsets from MMIOBase
const (
	SysTimerOffset = 0x00003000
	UART0Offset    = 0x00201000
)

// GICBase is the GIC-400 in low peripheral mode.
const GICBase = uintptr(0xFF840000)

const (
	GICDistOffset = 0x1000
	GICCPUOffset  = 0x2000
)

// InterruptCount is the number of interrupt ids the distributor implements.
const InterruptCount = 256

// SpuriousInterrupt is what IAR/HPPIR read when nothing is pending.
const SpuriousInterrupt = 1023

// VideoCore interrupts start at 96 on the GIC.
const VCInterruptBase = 96

const (
	SystemTimerIRQ0 = VCInterruptBase + 0
	SystemTimerIRQ1 = VCInterruptBase + 1
	SystemTimerIRQ2 = VCInterruptBase + 2
	SystemTimerIRQ3 = VCInterruptBase + 3
	UARTIRQ         = VCInterruptBase + 57
)
