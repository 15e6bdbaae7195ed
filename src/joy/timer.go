package joy

import (
	"tranquil/src/hardware/bcm2711"
)

// DefaultTimerInterval is the scheduling tick in microseconds of the 1MHz
// system timer.
const DefaultTimerInterval = 200000

//
// SystemTimer drives TimerTick from compare channel 1 of the system timer.
// Channels 0 and 2 belong to the GPU.
//
type SystemTimer struct {
	k        *Kernel
	bus      bcm2711.Bus
	base     uintptr
	interval uint32
	curVal   uint32
}

func NewSystemTimer(k *Kernel, bus bcm2711.Bus, base uintptr, interval uint32) *SystemTimer {
	if interval == 0 {
		interval = DefaultTimerInterval
	}
	return &SystemTimer{k: k, bus: bus, base: base, interval: interval}
}

func (t *SystemTimer) Interval() uint32 { return t.interval }

// Init arms the first match one interval from now.
func (t *SystemTimer) Init() {
	t.curVal = t.bus.Read32(t.base + bcm2711.SysTimerCLO)
	t.curVal += t.interval
	t.bus.Write32(t.base+bcm2711.SysTimerC1, t.curVal)
}

// Handle is the interrupt handler for bcm2711.SystemTimerIRQ1.  The next
// match is armed relative to the last one, not to now, so ticks do not
// drift when the handler runs late.
func (t *SystemTimer) Handle() {
	t.curVal += t.interval
	t.bus.Write32(t.base+bcm2711.SysTimerC1, t.curVal)
	t.bus.Write32(t.base+bcm2711.SysTimerCS, bcm2711.SysTimerM1)
	t.k.TimerTick()
}

// Register installs Handle on the router.
func (t *SystemTimer) Register(r *Router) error {
	return r.Register(bcm2711.SystemTimerIRQ1, t.Handle)
}
