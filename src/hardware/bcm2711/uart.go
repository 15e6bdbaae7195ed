package bcm2711

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// PL011 register offsets, from MMIOBase+UART0Offset
const (
	UARTDR   = 0x00
	UARTFR   = 0x18
	UARTIBRD = 0x24
	UARTFBRD = 0x28
	UARTLCRH = 0x2C
	UARTCR   = 0x30
	UARTIMSC = 0x38
	UARTRIS  = 0x3C
	UARTMIS  = 0x40
	UARTICR  = 0x44
	uartEnd  = 0x90
)

const (
	UARTFRRXFE = 1 << 4 // receive fifo empty
	UARTFRTXFF = 1 << 5 // transmit fifo full
	UARTFRTXFE = 1 << 7 // transmit fifo empty
)

// interrupt bits shared by IMSC, RIS, MIS and ICR
const (
	UARTIntRX = 1 << 4
	UARTIntRT = 1 << 6
	UARTIntOE = 1 << 10
)

const uartFIFODepth = 16

//
// UART is the subset of a PL011 the kernel uses: a transmit path that drains
// at the configured baud rate into an io.Writer and a receive fifo that raises
// the UART interrupt when unmasked.
//
type UART struct {
	mu      sync.Mutex
	outMu   sync.Mutex
	base    uintptr
	gic     *GIC400
	out     io.Writer
	limiter *rate.Limiter
	ctx     context.Context
	rx      []byte
	cr      uint32
	lcrh    uint32
	ibrd    uint32
	fbrd    uint32
	imsc    uint32
	ris     uint32
	overrun uint64
}

// NewUART wires the transmit side to out.  A baud of zero or less means the
// transmitter never waits.
func NewUART(base uintptr, gic *GIC400, out io.Writer, baud int) *UART {
	limit := rate.Inf
	if baud > 0 {
		// 8N1 is ten bits on the wire per character
		limit = rate.Limit(float64(baud) / 10)
	}
	if out == nil {
		out = io.Discard
	}
	return &UART{
		base:    base,
		gic:     gic,
		out:     out,
		limiter: rate.NewLimiter(limit, uartFIFODepth),
		ctx:     context.Background(),
	}
}

// WithContext makes a blocked transmitter give up when ctx is done.  Characters
// sent after that are dropped.
func (u *UART) WithContext(ctx context.Context) *UART {
	u.mu.Lock()
	u.ctx = ctx
	u.mu.Unlock()
	return u
}

func (u *UART) Contains(addr uintptr) bool {
	return addr >= u.base && addr < u.base+uartEnd
}

// Putc blocks until the transmit fifo has room and then sends c.
func (u *UART) Putc(c byte) {
	u.mu.Lock()
	ctx := u.ctx
	u.mu.Unlock()
	if err := u.limiter.Wait(ctx); err != nil {
		return
	}
	u.outMu.Lock()
	u.out.Write([]byte{c})
	u.outMu.Unlock()
}

// Receive is a character arriving on the wire.  When the fifo is full the
// character is lost and the overrun bit is set.
func (u *UART) Receive(c byte) {
	u.mu.Lock()
	if len(u.rx) >= uartFIFODepth {
		u.overrun++
		u.ris |= UARTIntOE
		u.mu.Unlock()
		return
	}
	u.rx = append(u.rx, c)
	u.ris |= UARTIntRX
	raise := u.imsc&u.ris != 0
	u.mu.Unlock()
	if raise {
		u.gic.Raise(UARTIRQ)
	}
}

// Overruns is the number of received characters dropped on a full fifo.
func (u *UART) Overruns() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.overrun
}

func (u *UART) Read32(addr uintptr) uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch addr - u.base {
	case UARTDR:
		if len(u.rx) == 0 {
			return 0
		}
		c := u.rx[0]
		u.rx = u.rx[1:]
		if len(u.rx) == 0 {
			u.ris &^= UARTIntRX
		}
		return uint32(c)
	case UARTFR:
		fr := uint32(UARTFRTXFE)
		if len(u.rx) == 0 {
			fr |= UARTFRRXFE
		}
		return fr
	case UARTIBRD:
		return u.ibrd
	case UARTFBRD:
		return u.fbrd
	case UARTLCRH:
		return u.lcrh
	case UARTCR:
		return u.cr
	case UARTIMSC:
		return u.imsc
	case UARTRIS:
		return u.ris
	case UARTMIS:
		return u.ris & u.imsc
	}
	return 0
}

func (u *UART) Write32(addr uintptr, v uint32) {
	if addr-u.base == UARTDR {
		u.Putc(byte(v))
		return
	}
	u.mu.Lock()
	raise := false
	switch addr - u.base {
	case UARTIBRD:
		u.ibrd = v
	case UARTFBRD:
		u.fbrd = v
	case UARTLCRH:
		u.lcrh = v
	case UARTCR:
		u.cr = v
	case UARTIMSC:
		u.imsc = v
		raise = u.imsc&u.ris != 0
	case UARTICR:
		u.ris &^= v
	}
	u.mu.Unlock()
	if raise {
		u.gic.Raise(UARTIRQ)
	}
}
