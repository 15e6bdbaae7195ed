package joy

import (
	"tranquil/src/hardware/bcm2711"
)

//
// Console is the PL011 driver: output goes out DR one character at a time
// and received characters arrive by interrupt.  It is a trust.Sink, so the
// kernel's log goes through the same register window as everything else.
//
type Console struct {
	bus   bcm2711.Bus
	base  uintptr
	onKey func(c byte)
}

func NewConsole(bus bcm2711.Bus, base uintptr) *Console {
	return &Console{bus: bus, base: base}
}

// Putc blocks while the transmit fifo is full.  The write to DR is where
// that happens, there is no polling of FR.
func (c *Console) Putc(ch byte) {
	c.bus.Write32(c.base+bcm2711.UARTDR, uint32(ch))
}

func (c *Console) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			c.Putc('\r')
		}
		c.Putc(s[i])
	}
}

// OnKey sets what happens to each received character.  It is called from
// the interrupt handler.
func (c *Console) OnKey(fn func(c byte)) {
	c.onKey = fn
}

// Init unmasks the receive interrupt and hooks Handle up to the router.
func (c *Console) Init(r *Router) error {
	if err := r.Register(bcm2711.UARTIRQ, c.Handle); err != nil {
		return err
	}
	c.bus.Write32(c.base+bcm2711.UARTICR, 0x7FF)
	c.bus.Write32(c.base+bcm2711.UARTIMSC, bcm2711.UARTIntRX)
	return r.Enable(bcm2711.UARTIRQ)
}

// Handle drains the receive fifo.
func (c *Console) Handle() {
	for c.bus.Read32(c.base+bcm2711.UARTFR)&bcm2711.UARTFRRXFE == 0 {
		ch := byte(c.bus.Read32(c.base + bcm2711.UARTDR))
		if c.onKey != nil {
			c.onKey(ch)
		}
	}
	c.bus.Write32(c.base+bcm2711.UARTICR, bcm2711.UARTIntRX)
}
