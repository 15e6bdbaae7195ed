package joy

import (
	"runtime"
	"sync"
	"time"

	"tranquil/src/lib/upbeat"
)

//
// CPU is everything the kernel needs from the core it runs on.  On the board
// these are a handful of instructions and the assembly context switch.
//
type CPU interface {
	EnableIRQs()
	DisableIRQs()
	IRQsEnabled() bool
	CoreID() uint8
	// InstallTrampoline sets the code a freshly spawned task starts in.
	InstallTrampoline(func(*Task))
	// InstallVector sets the IRQ exception handler.
	InstallVector(func())
	// SwitchTo saves the registers of prev and resumes next.  It returns
	// when something switches back to prev.
	SwitchTo(prev, next *Task)
	// Poll is an instruction boundary: a pending, unmasked IRQ is taken here.
	Poll()
}

// IRQLine is the interrupt controller's output into a core.
type IRQLine interface {
	Asserted(cpu uint8) bool
	Changed() <-chan struct{}
}

type thread struct {
	wake    chan struct{}
	started bool
}

//
// HostCPU runs the kernel on goroutines.  Every task gets its own goroutine
// and exactly one of them holds the baton at a time; SwitchTo hands it over
// on an unbuffered channel and parks the caller until it comes back.  The
// goroutine for a task is started the first time anything switches to it.
//
type HostCPU struct {
	irq        *upbeat.InterruptState
	line       IRQLine
	core       uint8
	quantum    time.Duration
	trampoline func(*Task)
	vector     func()

	mu      sync.Mutex
	threads map[*Task]*thread
	trace   []TaskId

	quit     chan struct{}
	quitOnce sync.Once
}

type HostOption func(*HostCPU)

// WithQuantum is the longest Poll waits for an interrupt when none is
// pending.  Zero means Poll never waits.
func WithQuantum(d time.Duration) HostOption {
	return func(c *HostCPU) { c.quantum = d }
}

func WithCoreID(id uint8) HostOption {
	return func(c *HostCPU) { c.core = id }
}

func NewHostCPU(line IRQLine, opts ...HostOption) *HostCPU {
	c := &HostCPU{
		irq:     upbeat.NewInterruptState(),
		line:    line,
		quantum: time.Millisecond,
		threads: make(map[*Task]*thread),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HostCPU) EnableIRQs()       { c.irq.UnmaskDAIF() }
func (c *HostCPU) DisableIRQs()      { c.irq.MaskDAIF() }
func (c *HostCPU) IRQsEnabled() bool { return !c.irq.Masked() }
func (c *HostCPU) CoreID() uint8     { return c.core }

// Interrupts exposes the mask and exception nesting state.
func (c *HostCPU) Interrupts() *upbeat.InterruptState { return c.irq }

func (c *HostCPU) InstallTrampoline(fn func(*Task)) { c.trampoline = fn }
func (c *HostCPU) InstallVector(fn func())          { c.vector = fn }

// must hold the lock
func (c *HostCPU) threadFor(t *Task) *thread {
	th, ok := c.threads[t]
	if !ok {
		th = &thread{wake: make(chan struct{})}
		c.threads[t] = th
	}
	return th
}

func (c *HostCPU) SwitchTo(prev, next *Task) {
	c.mu.Lock()
	c.trace = append(c.trace, next.id)
	from := c.threadFor(prev)
	from.started = true
	to := c.threadFor(next)
	launch := !to.started
	to.started = true
	c.mu.Unlock()

	if launch {
		go c.trampoline(next)
	} else {
		select {
		case to.wake <- struct{}{}:
		case <-c.quit:
			runtime.Goexit()
		}
	}
	select {
	case <-from.wake:
	case <-c.quit:
		runtime.Goexit()
	}
}

func (c *HostCPU) Poll() {
	if c.take() || c.quantum <= 0 {
		return
	}
	t := time.NewTimer(c.quantum)
	defer t.Stop()
	for {
		select {
		case <-c.line.Changed():
			if c.take() {
				return
			}
		case <-t.C:
			c.take()
			return
		case <-c.quit:
			runtime.Goexit()
		}
	}
}

// take performs exception entry, the vector and exception return if an IRQ
// is pending and unmasked.
func (c *HostCPU) take() bool {
	if c.vector == nil || c.irq.Masked() || !c.line.Asserted(c.core) {
		return false
	}
	wasMasked := c.irq.Enter()
	c.vector()
	c.irq.Exit(wasMasked)
	return true
}

// Trace returns the ids of the tasks switched to, oldest first.
func (c *HostCPU) Trace() []TaskId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TaskId(nil), c.trace...)
}

// Shutdown makes every parked task goroutine exit.  The cpu is useless
// afterwards.
func (c *HostCPU) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
}
