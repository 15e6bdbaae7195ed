package joy

import (
	"sync"
	"sync/atomic"

	"tranquil/src/lib/trust"
)

// kernelTextBase is where the boot loader puts us.  The fork trampoline sits
// at the start, registered entry points follow it.
const kernelTextBase = 0x80000
const entryStride = 0x10

// RetFromForkPC is the saved pc of every freshly spawned task.
const RetFromForkPC = uint64(kernelTextBase)

// Halter is called once the kernel has decided it cannot go on.  On the
// board it never returns; a hosted halter may.
type Halter interface {
	Halt(reason string)
}

type HalterFunc func(reason string)

func (f HalterFunc) Halt(reason string) { f(reason) }

//
// Kernel owns everything the scheduler touches: the task table, the current
// task, the frame allocator and the CPU.  There is one per core and it is
// handed to everything that needs it, there are no globals.
//
type Kernel struct {
	cpu       CPU
	log       *trust.Logger
	console   trust.Sink
	mem       *FrameAllocator
	halter    Halter
	tasks     [MaxTasks]*Task
	taskCount int
	current   *Task
	entries   []EntryFunc
	ticks     atomic.Uint64
	switches  atomic.Uint64
	refills   atomic.Uint64

	halted     atomic.Bool
	haltMu     sync.Mutex
	haltReason string
}

type Option func(*Kernel)

func WithLogger(l *trust.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithConsole is the raw character output used when the logger cannot be
// trusted, like on an invalid exception.
func WithConsole(s trust.Sink) Option {
	return func(k *Kernel) { k.console = s }
}

func WithHalter(h Halter) Option {
	return func(k *Kernel) { k.halter = h }
}

func WithFrameAllocator(f *FrameAllocator) Option {
	return func(k *Kernel) { k.mem = f }
}

// NewKernel sets up task 0 as the current task and installs the fork
// trampoline on the cpu.  The caller is task 0 from here on.
func NewKernel(cpu CPU, opts ...Option) *Kernel {
	k := &Kernel{cpu: cpu}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = trust.Nop()
	}
	if k.mem == nil {
		k.mem = DefaultFrameAllocator()
	}
	if k.halter == nil {
		k.halter = HalterFunc(func(string) {})
	}
	idle := makeInitTask()
	k.tasks[0] = idle
	k.taskCount = 1
	k.current = idle
	cpu.InstallTrampoline(k.retFromFork)
	return k
}

func (k *Kernel) CPU() CPU                { return k.cpu }
func (k *Kernel) Log() *trust.Logger      { return k.log }
func (k *Kernel) Memory() *FrameAllocator { return k.mem }
func (k *Kernel) Current() *Task          { return k.current }
func (k *Kernel) TaskCount() int          { return k.taskCount }
func (k *Kernel) Ticks() uint64           { return k.ticks.Load() }
func (k *Kernel) Switches() uint64        { return k.switches.Load() }
func (k *Kernel) Refills() uint64         { return k.refills.Load() }

// SetLogLevel is safe to call from outside the kernel, the config watcher
// does.
func (k *Kernel) SetLogLevel(m trust.MaskLevel) trust.MaskLevel {
	return k.log.SetLevel(m)
}

// Task returns the TCB in slot id, nil if the slot is empty.
func (k *Kernel) Task(id TaskId) *Task {
	if int(id) >= k.taskCount {
		return nil
	}
	return k.tasks[id]
}

// RegisterEntry gives fn an address in the kernel text so it can be stored
// in a saved register.  It must be called before any task using it is
// spawned.
func (k *Kernel) RegisterEntry(fn EntryFunc) FuncPtr {
	k.entries = append(k.entries, fn)
	return FuncPtr(kernelTextBase + entryStride*len(k.entries))
}

func (k *Kernel) lookupEntry(ptr FuncPtr) EntryFunc {
	if ptr <= kernelTextBase || (ptr-kernelTextBase)%entryStride != 0 {
		return nil
	}
	i := int((ptr-kernelTextBase)/entryStride) - 1
	if i >= len(k.entries) {
		return nil
	}
	return k.entries[i]
}

// Halt logs reason as a fatal message and hands control to the halter.
func (k *Kernel) Halt(reason string) {
	k.log.Fatalf("%s", reason)
	k.haltMu.Lock()
	if k.haltReason == "" {
		k.haltReason = reason
	}
	k.haltMu.Unlock()
	k.halted.Store(true)
	k.halter.Halt(reason)
}

func (k *Kernel) Halted() bool {
	return k.halted.Load()
}

// HaltReason is the first reason given to Halt.
func (k *Kernel) HaltReason() string {
	k.haltMu.Lock()
	defer k.haltMu.Unlock()
	return k.haltReason
}

// Delay burns n instruction boundaries, taking any interrupts that come in.
func (k *Kernel) Delay(n int) {
	for i := 0; i < n; i++ {
		k.cpu.Poll()
	}
}
