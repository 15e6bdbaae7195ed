package bcm2711

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMIOBase(t *testing.T) {
	assert.Equal(t, uintptr(0x3F000000), MMIOBase(2))
	assert.Equal(t, uintptr(0x3F000000), MMIOBase(3))
	assert.Equal(t, uintptr(0xFE000000), MMIOBase(4))
	assert.Equal(t, uintptr(0x20000000), MMIOBase(1))
	assert.Equal(t, uintptr(0x20000000), MMIOBase(0))
}

func TestIRQNumbers(t *testing.T) {
	assert.Equal(t, 97, SystemTimerIRQ1)
	assert.Equal(t, 153, UARTIRQ)
}

// gicUp enables both halves of the controller and opens the priority mask
// the way the kernel's router does.
func gicUp(b *Board) {
	b.Write32(b.GICDistBase()+GICD_CTLR, 1)
	b.Write32(b.GICCPUBase()+GICC_CTLR, 1)
	b.Write32(b.GICCPUBase()+GICC_PMR, 0xF0)
}

func enable(b *Board, id int) {
	lane := b.GICDistBase() + GICD_ITARGETSR + uintptr(id&^3)
	shift := 8 * uint(id%4)
	v := b.Read32(lane)
	b.Write32(lane, v|1<<shift)
	b.Write32(b.GICDistBase()+GICD_ISENABLER+uintptr(4*(id/32)), 1<<uint(id%32))
}

func TestGICNothingUntilEnabled(t *testing.T) {
	b := NewBoard(4, nil, 0)
	b.GIC.Raise(SystemTimerIRQ1)
	assert.False(t, b.GIC.Asserted(0))
	assert.EqualValues(t, SpuriousInterrupt, b.Read32(b.GICCPUBase()+GICC_IAR))

	gicUp(b)
	assert.False(t, b.GIC.Asserted(0), "line is not enabled")
	enable(b, SystemTimerIRQ1)
	assert.True(t, b.GIC.Asserted(0))
}

func TestGICTargetRequired(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	b.Write32(b.GICDistBase()+GICD_ISENABLER+12, 1<<(SystemTimerIRQ1%32))
	b.GIC.Raise(SystemTimerIRQ1)
	assert.False(t, b.GIC.Asserted(0))

	enable(b, SystemTimerIRQ1)
	assert.True(t, b.GIC.Asserted(0))
	assert.False(t, b.GIC.Asserted(1))
}

func TestGICCPUInterfaceIsBanked(t *testing.T) {
	b := NewBoard(4, nil, 0)
	core1 := b.ForCore(1)
	b.Write32(b.GICDistBase()+GICD_CTLR, 1)
	core1.Write32(b.GICCPUBase()+GICC_CTLR, 1)
	core1.Write32(b.GICCPUBase()+GICC_PMR, 0xF0)
	assert.Zero(t, b.Read32(b.GICCPUBase()+GICC_PMR), "core 0 mask untouched")

	// the first eight target registers read as the reading core
	assert.EqualValues(t, 0x01010101, b.Read32(b.GICDistBase()+GICD_ITARGETSR))
	assert.EqualValues(t, 0x02020202, core1.Read32(b.GICDistBase()+GICD_ITARGETSR))

	lane := b.GICDistBase() + GICD_ITARGETSR + uintptr(UARTIRQ&^3)
	core1.Write32(lane, 0x02<<(8*uint(UARTIRQ%4)))
	core1.Write32(b.GICDistBase()+GICD_ISENABLER+uintptr(4*(UARTIRQ/32)), 1<<uint(UARTIRQ%32))
	b.GIC.Raise(UARTIRQ)

	assert.False(t, b.GIC.Asserted(0))
	assert.True(t, b.GIC.Asserted(1))
	assert.EqualValues(t, SpuriousInterrupt, b.Read32(b.GICCPUBase()+GICC_HPPIR))
	assert.EqualValues(t, UARTIRQ, core1.Read32(b.GICCPUBase()+GICC_HPPIR))

	iar := core1.Read32(b.GICCPUBase() + GICC_IAR)
	assert.EqualValues(t, UARTIRQ, iar)
	assert.Equal(t, []uint32{UARTIRQ}, b.GIC.ActiveOn(1))
	assert.Empty(t, b.GIC.Active())

	b.Write32(b.GICCPUBase()+GICC_EOIR, iar)
	assert.EqualValues(t, 1, b.GIC.BadEOICount(), "core 0 has nothing active")
	core1.Write32(b.GICCPUBase()+GICC_EOIR, iar)
	assert.Empty(t, b.GIC.ActiveOn(1))
	assert.EqualValues(t, 1, b.GIC.EOICount())

	assert.False(t, b.GIC.Asserted(CoreCount))
	assert.Zero(t, b.ForCore(CoreCount).Read32(b.GICCPUBase()+GICC_IIDR))
}

func TestGICAcknowledgeAndEnd(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	enable(b, SystemTimerIRQ1)
	enable(b, UARTIRQ)
	b.GIC.Raise(UARTIRQ)
	b.GIC.Raise(SystemTimerIRQ1)

	assert.EqualValues(t, SystemTimerIRQ1, b.Read32(b.GICCPUBase()+GICC_HPPIR))
	iar := b.Read32(b.GICCPUBase() + GICC_IAR)
	require.EqualValues(t, SystemTimerIRQ1, iar&InterruptIDMask)
	assert.False(t, b.GIC.Pending(SystemTimerIRQ1))
	assert.Equal(t, []uint32{SystemTimerIRQ1}, b.GIC.Active())

	iar2 := b.Read32(b.GICCPUBase() + GICC_IAR)
	assert.EqualValues(t, UARTIRQ, iar2)
	assert.Equal(t, []uint32{SystemTimerIRQ1, UARTIRQ}, b.GIC.Active())

	b.Write32(b.GICCPUBase()+GICC_EOIR, iar)
	assert.Equal(t, []uint32{UARTIRQ}, b.GIC.Active())
	b.Write32(b.GICCPUBase()+GICC_EOIR, iar2)
	assert.Empty(t, b.GIC.Active())
	assert.EqualValues(t, 2, b.GIC.EOICount())

	b.Write32(b.GICCPUBase()+GICC_EOIR, iar2)
	assert.EqualValues(t, 1, b.GIC.BadEOICount())
	assert.EqualValues(t, SpuriousInterrupt, b.Read32(b.GICCPUBase()+GICC_HPPIR))
}

func TestGICPriorityMask(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	enable(b, UARTIRQ)
	prio := b.GICDistBase() + GICD_IPRIORITYR + uintptr(UARTIRQ&^3)
	b.Write32(prio, 0xF8<<(8*uint(UARTIRQ%4)))
	b.GIC.Raise(UARTIRQ)
	assert.False(t, b.GIC.Asserted(0))

	b.Write32(b.GICCPUBase()+GICC_PMR, 0xFF)
	assert.True(t, b.GIC.Asserted(0))
}

func TestGICDisableAndClearPending(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	enable(b, SystemTimerIRQ1)
	b.Write32(b.GICDistBase()+GICD_ISPENDR+12, 1<<(SystemTimerIRQ1%32))
	assert.True(t, b.GIC.Asserted(0))

	b.Write32(b.GICDistBase()+GICD_ICENABLER+12, 1<<(SystemTimerIRQ1%32))
	assert.False(t, b.GIC.Asserted(0))
	assert.True(t, b.GIC.Pending(SystemTimerIRQ1))

	b.Write32(b.GICDistBase()+GICD_ICPENDR+12, 1<<(SystemTimerIRQ1%32))
	assert.False(t, b.GIC.Pending(SystemTimerIRQ1))
}

func TestGICIdentification(t *testing.T) {
	b := NewBoard(4, nil, 0)
	assert.EqualValues(t, 7, b.Read32(b.GICDistBase()+GICD_TYPER))
	assert.EqualValues(t, 0x01010101, b.Read32(b.GICDistBase()+GICD_ITARGETSR))
}

func TestGICChangedSignals(t *testing.T) {
	b := NewBoard(4, nil, 0)
	b.GIC.Raise(UARTIRQ)
	select {
	case <-b.GIC.Changed():
	default:
		t.Fatal("raise did not signal")
	}
}

func TestSysTimerMatch(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	enable(b, SystemTimerIRQ1)

	base := b.SysTimerBase()
	now := b.Read32(base + SysTimerCLO)
	b.Write32(base+SysTimerC1, now+200000)

	b.Timer.Advance(199999)
	assert.Zero(t, b.Read32(base+SysTimerCS)&SysTimerM1)
	assert.False(t, b.GIC.Asserted(0))

	b.Timer.Advance(1)
	assert.NotZero(t, b.Read32(base+SysTimerCS)&SysTimerM1)
	assert.True(t, b.GIC.Asserted(0))
	assert.EqualValues(t, 1, b.Timer.Matches(1))

	b.Write32(base+SysTimerCS, SysTimerM1)
	assert.Zero(t, b.Read32(base+SysTimerCS)&SysTimerM1)

	// not rearmed, so passing the value again does nothing
	b.Timer.Advance(1 << 31)
	b.Timer.Advance(1 << 31)
	assert.EqualValues(t, 1, b.Timer.Matches(1))
	assert.EqualValues(t, 1, b.Read32(base+SysTimerCHI))
}

func TestSysTimerWraps(t *testing.T) {
	b := NewBoard(4, nil, 0)
	base := b.SysTimerBase()
	b.Timer.Advance(0xFFFFFF00)
	b.Write32(base+SysTimerC3, 0x10)
	b.Timer.Advance(0x100)
	assert.Zero(t, b.Timer.Matches(3))
	b.Timer.Advance(0x10)
	assert.EqualValues(t, 1, b.Timer.Matches(3))
	assert.True(t, b.GIC.Pending(SystemTimerIRQ3))
}

func TestUARTTransmit(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(4, &out, 0)
	for _, c := range []byte("hi") {
		b.Write32(b.UARTBase()+UARTDR, uint32(c))
	}
	assert.Equal(t, "hi", out.String())
	assert.NotZero(t, b.Read32(b.UARTBase()+UARTFR)&UARTFRTXFE)
}

func TestUARTTransmitPaced(t *testing.T) {
	var out bytes.Buffer
	b := NewBoard(4, &out, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b.UART.WithContext(ctx)

	// 100 chars a second with a 16 char fifo, the rest are dropped at the deadline
	for i := 0; i < 40; i++ {
		b.UART.Putc('x')
	}
	assert.GreaterOrEqual(t, out.Len(), uartFIFODepth)
	assert.Less(t, out.Len(), 40)
}

func TestUARTReceive(t *testing.T) {
	b := NewBoard(4, nil, 0)
	gicUp(b)
	enable(b, UARTIRQ)
	u := b.UARTBase()

	assert.NotZero(t, b.Read32(u+UARTFR)&UARTFRRXFE)
	b.UART.Receive('a')
	assert.False(t, b.GIC.Asserted(0), "receive interrupt is masked")

	b.Write32(u+UARTIMSC, UARTIntRX)
	assert.True(t, b.GIC.Asserted(0))
	assert.EqualValues(t, UARTIntRX, b.Read32(u+UARTMIS))

	assert.Zero(t, b.Read32(u+UARTFR)&UARTFRRXFE)
	assert.EqualValues(t, 'a', b.Read32(u+UARTDR))
	assert.NotZero(t, b.Read32(u+UARTFR)&UARTFRRXFE)
	assert.Zero(t, b.Read32(u+UARTRIS)&UARTIntRX)
}

func TestUARTOverrun(t *testing.T) {
	b := NewBoard(4, nil, 0)
	for i := 0; i < uartFIFODepth+3; i++ {
		b.UART.Receive(byte('a' + i))
	}
	assert.EqualValues(t, 3, b.UART.Overruns())
	assert.NotZero(t, b.Read32(b.UARTBase()+UARTRIS)&UARTIntOE)
	b.Write32(b.UARTBase()+UARTICR, UARTIntOE)
	assert.Zero(t, b.Read32(b.UARTBase()+UARTRIS)&UARTIntOE)
}

func TestUnmappedAccess(t *testing.T) {
	b := NewBoard(4, nil, 0)
	assert.Zero(t, b.Read32(0x1000))
	b.Write32(0x2000, 1)
	assert.EqualValues(t, 2, b.Unmapped())
}
