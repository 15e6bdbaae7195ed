package joy

//type of a function pointer for our purposes... it is a machine address in
//the kernel text, handed out by RegisterEntry.  There is no checking beyond
//the lookup at the trampoline.
type FuncPtr uint64

// EntryFunc is the body of a task.  It gets the kernel and the argument that
// was given to Spawn.
type EntryFunc func(k *Kernel, arg uint64)

type TaskId uint16

const NoTaskId TaskId = 0xffff

// Maximum number of tasks in the system.
const MaxTasks = 128

// TaskState is info about a given task contained in the TCB.  Only
// TaskRunning is ever selected.
type TaskState int

const (
	TaskRunning         TaskState = 0
	TaskZombie          TaskState = 1
	TaskStopped         TaskState = 2
	TaskInterruptible   TaskState = 3
	TaskUninterruptible TaskState = 4
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskZombie:
		return "zombie"
	case TaskStopped:
		return "stopped"
	case TaskInterruptible:
		return "interruptible"
	case TaskUninterruptible:
		return "uninterruptible"
	}
	return "unknown"
}

//
// CPUContext is the saved registers from the last time the task was
// executing: x19-x28, fp, sp, pc.  Only the spawner and the context switch
// write it.
//
type CPUContext [13]uint64

const (
	ctxX19 = 0
	ctxX20 = 1
	ctxFP  = 10
	ctxSP  = 11
	ctxPC  = 12
)

func (c *CPUContext) X19() uint64 { return c[ctxX19] }
func (c *CPUContext) X20() uint64 { return c[ctxX20] }
func (c *CPUContext) FP() uint64  { return c[ctxFP] }
func (c *CPUContext) SP() uint64  { return c[ctxSP] }
func (c *CPUContext) PC() uint64  { return c[ctxPC] }

//
// Task is where we store all of the data structures that are per task.  The
// TCB lives at the bottom of the task's page, the stack grows down from the
// top of the same page.
//
type Task struct {
	ctx          CPUContext
	state        TaskState
	counter      int64
	priority     int64
	preemptCount int64
	page         uintptr
	id           TaskId
}

// makeInitTask is the information about the kernel process that starts
// everything.  It has no page, its stack was set up by the boot code.
func makeInitTask() *Task {
	return &Task{
		state:        TaskRunning,
		counter:      0,
		priority:     1,
		preemptCount: 0,
		id:           0,
	}
}

func (t *Task) Id() TaskId          { return t.id }
func (t *Task) State() TaskState    { return t.state }
func (t *Task) Counter() int64      { return t.counter }
func (t *Task) Priority() int64     { return t.priority }
func (t *Task) PreemptCount() int64 { return t.preemptCount }
func (t *Task) Page() uintptr       { return t.page }

// Context returns a copy of the saved registers.
func (t *Task) Context() CPUContext { return t.ctx }
