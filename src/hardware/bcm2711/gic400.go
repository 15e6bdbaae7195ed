package bcm2711

import "sync"

// distributor register offsets, from GICDistOffset
const (
	GICD_CTLR       = 0x000
	GICD_TYPER      = 0x004
	GICD_IIDR       = 0x008
	GICD_ISENABLER  = 0x100
	GICD_ICENABLER  = 0x180
	GICD_ISPENDR    = 0x200
	GICD_ICPENDR    = 0x280
	GICD_ISACTIVER  = 0x300
	GICD_IPRIORITYR = 0x400
	GICD_ITARGETSR  = 0x800
	gicdEnd         = 0x1000
)

// cpu interface register offsets, from GICCPUOffset
const (
	GICC_CTLR  = 0x000
	GICC_PMR   = 0x004
	GICC_IAR   = 0x00C
	GICC_EOIR  = 0x010
	GICC_RPR   = 0x014
	GICC_HPPIR = 0x018
	GICC_IIDR  = 0x0FC
	giccEnd    = 0x2000
)

// words per register bank: one bit per id, or one byte lane per id
const (
	bitWords  = InterruptCount / 32
	laneWords = InterruptCount / 4
)

// InterruptIDMask picks the interrupt id out of an IAR value.
const InterruptIDMask = 0x3FF

const gic400IIDR = 0x0202143B

//
// GIC400 is an emulated GIC-400 with one CPU interface per core.  It models
// enable, pending, target and the active stack.  Priorities are stored and
// the priority mask is honored but running priority does not block
// delivery, so a handler that gets preempted by a task switch never wedges
// the line.
//
// The CPU interface is banked: the same addresses reach a different
// interface depending on the core making the access.  Read32 and Write32
// are core 0, ReadAs and WriteAs name the core.
//
type GIC400 struct {
	mu       sync.Mutex
	base     uintptr
	distCtlr uint32
	cpus     [CoreCount]cpuInterface
	enabled  [InterruptCount / 32]uint32
	pending  [InterruptCount / 32]uint32
	priority [InterruptCount]uint8
	targets  [InterruptCount]uint8
	eois     uint64
	badEOIs  uint64
	changed  chan struct{}
}

type cpuInterface struct {
	ctlr   uint32
	pmr    uint32
	active []uint32
}

// NewGIC400 returns a distributor in its reset state: everything disabled,
// priority mask zero (nothing gets through).
func NewGIC400(base uintptr) *GIC400 {
	return &GIC400{
		base:    base,
		changed: make(chan struct{}, 1),
	}
}

// Contains is true if addr falls inside the distributor or cpu interface.
func (g *GIC400) Contains(addr uintptr) bool {
	return addr >= g.base+GICDistOffset && addr < g.base+GICCPUOffset+giccEnd
}

// Changed is signalled (without blocking) every time the line might have
// gone high.  A core waiting for an interrupt selects on it.
func (g *GIC400) Changed() <-chan struct{} {
	return g.changed
}

func (g *GIC400) notify() {
	select {
	case g.changed <- struct{}{}:
	default:
	}
}

// Raise makes id pending, the same as a device asserting its line.
func (g *GIC400) Raise(id int) {
	if id < 0 || id >= InterruptCount {
		return
	}
	g.mu.Lock()
	g.pending[id/32] |= 1 << uint(id%32)
	g.mu.Unlock()
	g.notify()
}

// Asserted reports whether the IRQ line into the given core is high.
func (g *GIC400) Asserted(cpu uint8) bool {
	if int(cpu) >= CoreCount {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highestPending(cpu) != SpuriousInterrupt
}

// Pending reports the raw pending bit of id.
func (g *GIC400) Pending(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[id/32]&(1<<uint(id%32)) != 0
}

// Active returns the ids core 0 acknowledged but has not yet ended, oldest
// first.
func (g *GIC400) Active() []uint32 {
	return g.ActiveOn(0)
}

func (g *GIC400) ActiveOn(cpu uint8) []uint32 {
	if int(cpu) >= CoreCount {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint32(nil), g.cpus[cpu].active...)
}

// EOICount is how many end of interrupt writes matched an active id.
func (g *GIC400) EOICount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eois
}

// BadEOICount is how many end of interrupt writes matched nothing.
func (g *GIC400) BadEOICount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.badEOIs
}

// must hold the lock
func (g *GIC400) deliverable(id int, cpu uint8) bool {
	bit := uint32(1) << uint(id%32)
	if g.enabled[id/32]&bit == 0 || g.pending[id/32]&bit == 0 {
		return false
	}
	if id >= 32 && g.targets[id]&(1<<cpu) == 0 {
		return false
	}
	return uint32(g.priority[id]) < g.cpus[cpu].pmr
}

// must hold the lock
func (g *GIC400) highestPending(cpu uint8) uint32 {
	if g.distCtlr&1 == 0 || g.cpus[cpu].ctlr&1 == 0 {
		return SpuriousInterrupt
	}
	for w := 0; w < len(g.pending); w++ {
		if g.pending[w]&g.enabled[w] == 0 {
			continue
		}
		for b := 0; b < 32; b++ {
			id := w*32 + b
			if g.deliverable(id, cpu) {
				return uint32(id)
			}
		}
	}
	return SpuriousInterrupt
}

func (g *GIC400) Read32(addr uintptr) uint32 {
	return g.ReadAs(0, addr)
}

func (g *GIC400) Write32(addr uintptr, v uint32) {
	g.WriteAs(0, addr, v)
}

// ReadAs is a read made by the given core.  A core the GIC does not have
// reads zero.
func (g *GIC400) ReadAs(cpu uint8, addr uintptr) uint32 {
	if int(cpu) >= CoreCount {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr >= g.base+GICCPUOffset {
		return g.readCPU(cpu, addr-g.base-GICCPUOffset)
	}
	return g.readDist(cpu, addr-g.base-GICDistOffset)
}

// WriteAs is a write made by the given core.
func (g *GIC400) WriteAs(cpu uint8, addr uintptr, v uint32) {
	if int(cpu) >= CoreCount {
		return
	}
	g.mu.Lock()
	if addr >= g.base+GICCPUOffset {
		g.writeCPU(cpu, addr-g.base-GICCPUOffset, v)
	} else {
		g.writeDist(addr-g.base-GICDistOffset, v)
	}
	g.mu.Unlock()
	g.notify()
}

func (g *GIC400) readDist(cpu uint8, off uintptr) uint32 {
	switch {
	case off == GICD_CTLR:
		return g.distCtlr
	case off == GICD_TYPER:
		return InterruptCount/32 - 1
	case off == GICD_IIDR:
		return gic400IIDR
	case inBank(off, GICD_ISENABLER, bitWords):
		return g.enabled[(off-GICD_ISENABLER)/4]
	case inBank(off, GICD_ICENABLER, bitWords):
		return g.enabled[(off-GICD_ICENABLER)/4]
	case inBank(off, GICD_ISPENDR, bitWords):
		return g.pending[(off-GICD_ISPENDR)/4]
	case inBank(off, GICD_ICPENDR, bitWords):
		return g.pending[(off-GICD_ICPENDR)/4]
	case inBank(off, GICD_ISACTIVER, bitWords):
		var v uint32
		for _, id := range g.cpus[cpu].active {
			if int(id/32) == int((off-GICD_ISACTIVER)/4) {
				v |= 1 << (id % 32)
			}
		}
		return v
	case inBank(off, GICD_IPRIORITYR, laneWords):
		return g.bytes(g.priority[:], int(off-GICD_IPRIORITYR))
	case inBank(off, GICD_ITARGETSR, laneWords):
		n := int(off - GICD_ITARGETSR)
		if n < 32 {
			// banked, reads as the reading core
			return 0x01010101 << cpu
		}
		return g.bytes(g.targets[:], n)
	}
	return 0
}

func (g *GIC400) writeDist(off uintptr, v uint32) {
	switch {
	case off == GICD_CTLR:
		g.distCtlr = v & 1
	case inBank(off, GICD_ISENABLER, bitWords):
		g.enabled[(off-GICD_ISENABLER)/4] |= v
	case inBank(off, GICD_ICENABLER, bitWords):
		g.enabled[(off-GICD_ICENABLER)/4] &^= v
	case inBank(off, GICD_ISPENDR, bitWords):
		g.pending[(off-GICD_ISPENDR)/4] |= v
	case inBank(off, GICD_ICPENDR, bitWords):
		g.pending[(off-GICD_ICPENDR)/4] &^= v
	case inBank(off, GICD_IPRIORITYR, laneWords):
		g.setBytes(g.priority[:], int(off-GICD_IPRIORITYR), v)
	case inBank(off, GICD_ITARGETSR, laneWords):
		n := int(off - GICD_ITARGETSR)
		if n >= 32 {
			g.setBytes(g.targets[:], n, v)
		}
	}
}

func (g *GIC400) readCPU(cpu uint8, off uintptr) uint32 {
	c := &g.cpus[cpu]
	switch off {
	case GICC_CTLR:
		return c.ctlr
	case GICC_PMR:
		return c.pmr
	case GICC_IAR:
		id := g.highestPending(cpu)
		if id != SpuriousInterrupt {
			g.pending[id/32] &^= 1 << (id % 32)
			c.active = append(c.active, id)
		}
		return id
	case GICC_RPR:
		if len(c.active) == 0 {
			return 0xFF
		}
		return uint32(g.priority[c.active[len(c.active)-1]])
	case GICC_HPPIR:
		return g.highestPending(cpu)
	case GICC_IIDR:
		return gic400IIDR
	}
	return 0
}

func (g *GIC400) writeCPU(cpu uint8, off uintptr, v uint32) {
	c := &g.cpus[cpu]
	switch off {
	case GICC_CTLR:
		c.ctlr = v & 1
	case GICC_PMR:
		c.pmr = v & 0xFF
	case GICC_EOIR:
		id := v & InterruptIDMask
		for i := len(c.active) - 1; i >= 0; i-- {
			if c.active[i] == id {
				c.active = append(c.active[:i], c.active[i+1:]...)
				g.eois++
				return
			}
		}
		g.badEOIs++
	}
}

func inBank(off uintptr, start uintptr, words int) bool {
	return off >= start && off < start+uintptr(words*4) && off%4 == 0
}

// four byte lanes, lowest id in the low byte
func (g *GIC400) bytes(lanes []uint8, n int) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(lanes[n+i])
	}
	return v
}

func (g *GIC400) setBytes(lanes []uint8, n int, v uint32) {
	for i := 0; i < 4; i++ {
		lanes[n+i] = uint8(v >> (8 * uint(i)))
	}
}
