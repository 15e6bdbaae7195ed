package joy

import (
	"fmt"
)

// MaxNameLen is the longest process name that fits in an argument register.
const MaxNameLen = 8

// ProcessDelay is how many polls a demo process waits between characters.
const ProcessDelay = 20

// Devices is what the boot task brings up.  Console may be nil.
type Devices struct {
	Router  *Router
	Timer   *SystemTimer
	Console *Console
}

// KernelMain is the boot task.  It brings up the interrupt controller, the
// timer and the console, starts the two demo processes and then spends the
// rest of its life giving the cpu away.  It returns when the kernel halts.
// Names longer than MaxNameLen are refused before anything is brought up.
func KernelMain(k *Kernel, d Devices, names ...string) error {
	for _, name := range names {
		if len(name) > MaxNameLen {
			return fmt.Errorf("process name %q is longer than %d bytes", name, MaxNameLen)
		}
	}
	d.Router.Init()
	if err := d.Timer.Register(d.Router); err != nil {
		return err
	}
	d.Timer.Init()
	if d.Console != nil {
		if err := d.Console.Init(d.Router); err != nil {
			return err
		}
	}
	k.cpu.EnableIRQs()
	d.Router.EnableInterruptController()

	if len(names) == 0 {
		names = []string{"12345", "abcde"}
	}
	entry := k.RegisterEntry(Process)
	for i, name := range names {
		if _, err := k.Spawn(entry, PackName(name)); err != nil {
			return fmt.Errorf("error while starting process %d: %w", i+1, err)
		}
	}

	for !k.Halted() {
		k.Schedule()
		k.cpu.Poll()
	}
	return nil
}

// Process prints the characters of its name forever, slowly.
func Process(k *Kernel, arg uint64) {
	name := UnpackName(arg)
	k.log.Infof("Process %s running", name)
	for !k.Halted() {
		for i := 0; i < len(name); i++ {
			k.Putc(name[i])
			k.Delay(ProcessDelay)
		}
	}
}

// Putc writes to the raw console, if there is one.
func (k *Kernel) Putc(c byte) {
	if k.console != nil {
		k.console.Putc(c)
	}
}

// PackName squeezes s into a register value so it can be passed as a task
// argument.  Only the first MaxNameLen bytes survive.
func PackName(s string) uint64 {
	var v uint64
	for i := 0; i < len(s) && i < MaxNameLen; i++ {
		v |= uint64(s[i]) << (8 * i)
	}
	return v
}

func UnpackName(v uint64) string {
	var b []byte
	for ; v != 0; v >>= 8 {
		b = append(b, byte(v))
	}
	return string(b)
}
