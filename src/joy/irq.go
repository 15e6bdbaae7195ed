package joy

import (
	"fmt"

	"tranquil/src/hardware/bcm2711"
)

// Handler services one interrupt id.  It runs with IRQs enabled.
type Handler func()

//
// Router owns the GIC-400 on behalf of the kernel: it routes and enables
// lines at the controller and dispatches delivered interrupts to handlers.
// All of its state other than the handler table lives in the controller.
//
type Router struct {
	k        *Kernel
	bus      bcm2711.Bus
	dist     uintptr
	cpuIf    uintptr
	handlers [bcm2711.InterruptCount]Handler
}

// NewRouter returns a router for the GIC at the usual place on the board.
func NewRouter(k *Kernel, bus bcm2711.Bus) *Router {
	return NewRouterAt(k, bus, bcm2711.GICBase)
}

// NewRouterAt returns a router for the GIC at gicBase.  On a banked bus the
// router uses the view of the kernel's own core, since the cpu interface
// answers per core.
func NewRouterAt(k *Kernel, bus bcm2711.Bus, gicBase uintptr) *Router {
	if b, ok := bus.(bcm2711.Banked); ok {
		bus = b.ForCore(k.cpu.CoreID())
	}
	return &Router{
		k:     k,
		bus:   bus,
		dist:  gicBase + bcm2711.GICDistOffset,
		cpuIf: gicBase + bcm2711.GICCPUOffset,
	}
}

// Init turns on the distributor and this core's cpu interface, opens the
// priority mask, and makes Dispatch the IRQ vector.
func (r *Router) Init() {
	r.bus.Write32(r.dist+bcm2711.GICD_CTLR, 1)
	r.bus.Write32(r.cpuIf+bcm2711.GICC_PMR, 0xF0)
	r.bus.Write32(r.cpuIf+bcm2711.GICC_CTLR, 1)
	r.k.cpu.InstallVector(r.Dispatch)
}

// Register installs h for id.  A nil h makes the id unhandled again.
func (r *Router) Register(id int, h Handler) error {
	if id < 0 || id >= bcm2711.InterruptCount {
		return fmt.Errorf("register irq %d: %w", id, MakeError(ErrBadInterrupt, r.k.current.id))
	}
	r.handlers[id] = h
	return nil
}

// Enable routes id to the calling core (in addition to any other targets)
// and enables it at the distributor.
func (r *Router) Enable(id int) error {
	if id < 0 || id >= bcm2711.InterruptCount {
		return fmt.Errorf("enable irq %d: %w", id, MakeError(ErrBadInterrupt, r.k.current.id))
	}
	lane, shift := r.targetLane(id)
	v := r.bus.Read32(lane)
	r.bus.Write32(lane, v|uint32(1)<<(r.k.cpu.CoreID())<<shift)
	r.bus.Write32(r.dist+bcm2711.GICD_ISENABLER+uintptr(4*(id/32)), 1<<uint(id%32))
	r.k.log.Debugf("enabled irq %d for core %d", id, r.k.cpu.CoreID())
	return nil
}

// AssignTarget sets the set of cores id is delivered to.
func (r *Router) AssignTarget(id int, mask uint8) error {
	if id < 0 || id >= bcm2711.InterruptCount {
		return fmt.Errorf("target irq %d: %w", id, MakeError(ErrBadInterrupt, r.k.current.id))
	}
	lane, shift := r.targetLane(id)
	v := r.bus.Read32(lane)
	v &^= 0xFF << shift
	v |= uint32(mask) << shift
	r.bus.Write32(lane, v)
	return nil
}

// Disable stops id at the distributor.  Its target is left alone.
func (r *Router) Disable(id int) error {
	if id < 0 || id >= bcm2711.InterruptCount {
		return fmt.Errorf("disable irq %d: %w", id, MakeError(ErrBadInterrupt, r.k.current.id))
	}
	r.bus.Write32(r.dist+bcm2711.GICD_ICENABLER+uintptr(4*(id/32)), 1<<uint(id%32))
	return nil
}

// EnableInterruptController enables the lines the kernel cannot live
// without, which is just the scheduling timer.
func (r *Router) EnableInterruptController() {
	if err := r.Enable(bcm2711.SystemTimerIRQ1); err != nil {
		r.k.log.Errorf("%v", err)
	}
}

// the target registers are byte lanes on a bus that only does 32 bit accesses
func (r *Router) targetLane(id int) (uintptr, uint) {
	return r.dist + bcm2711.GICD_ITARGETSR + uintptr(id&^3), 8 * uint(id%4)
}

// Dispatch is the IRQ vector.  It keeps acknowledging and servicing
// interrupts until nothing is pending so a burst is handled in one trap.
// Each handler runs with IRQs enabled.  An interrupt with no handler halts
// the kernel.
func (r *Router) Dispatch() {
	for r.bus.Read32(r.cpuIf+bcm2711.GICC_HPPIR)&bcm2711.InterruptIDMask < bcm2711.InterruptCount {
		iar := r.bus.Read32(r.cpuIf + bcm2711.GICC_IAR)
		id := iar & bcm2711.InterruptIDMask
		if id >= bcm2711.InterruptCount {
			break
		}
		r.k.cpu.EnableIRQs()
		h := r.handlers[id]
		if h == nil {
			r.k.Halt(fmt.Sprintf("unhandled interrupt id=%d", id))
			return
		}
		h()
		r.k.cpu.DisableIRQs()
		r.bus.Write32(r.cpuIf+bcm2711.GICC_EOIR, iar)
	}
}
