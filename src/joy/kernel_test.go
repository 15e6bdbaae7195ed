package joy

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tranquil/src/hardware/bcm2711"
	"tranquil/src/lib/trust"
)

// lockedBuffer is written by whichever task goroutine holds the cpu and read
// by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Putc(c byte) {
	b.mu.Lock()
	b.buf.WriteByte(c)
	b.mu.Unlock()
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// rig is a kernel booted on the emulated board, with the timer wired to
// the scheduler the same way the runner does it.
type rig struct {
	board   *bcm2711.Board
	cpu     *HostCPU
	k       *Kernel
	router  *Router
	timer   *SystemTimer
	log     *lockedBuffer
	console *lockedBuffer
}

func newRig(t *testing.T, pages uint32) *rig {
	t.Helper()
	r := &rig{
		board:   bcm2711.NewBoard(4, nil, 0),
		log:     &lockedBuffer{},
		console: &lockedBuffer{},
	}
	r.cpu = NewHostCPU(r.board.GIC, WithQuantum(0))
	r.k = NewKernel(r.cpu,
		WithLogger(trust.New(r.log, trust.DebugMask)),
		WithConsole(r.console),
		WithFrameAllocator(NewFrameAllocator(LowMemory, pages)),
	)
	r.router = NewRouter(r.k, r.board)
	r.router.Init()
	r.timer = NewSystemTimer(r.k, r.board, r.board.SysTimerBase(), DefaultTimerInterval)
	require.NoError(t, r.timer.Register(r.router))
	r.timer.Init()
	t.Cleanup(r.cpu.Shutdown)
	return r
}

// boot runs fn as task 0 and waits for it to come back.  Task goroutines
// that are still parked are released at cleanup.
func (r *rig) boot(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("boot task did not finish, trace %v", r.cpu.Trace())
	}
}

// tick runs the system timer up to its next match and takes the interrupt.
func (r *rig) tick() {
	r.board.Timer.Advance(r.timer.Interval())
	r.cpu.Poll()
}

// start is what kmain does before it spawns anything.
func (r *rig) start() {
	r.cpu.EnableIRQs()
	r.router.EnableInterruptController()
}
