package joy

import "fmt"

const subsystemMask = 0x00ff_0000_0000_0000
const taskIDMask = 0x0000_ffff_0000_0000
const errorNumberMask = 0x0000_0000_0000_ffff

// Memory Errors
const MemorySubsystem = 1
const MemoryPageNotAvailable = 2
const MemoryBadPageRequest = 3

var ErrAllocationFailed = errorValue(MemorySubsystem, MemoryPageNotAvailable)
var ErrBadPageRequest = errorValue(MemorySubsystem, MemoryBadPageRequest)

// Task Errors
const TaskSubsystem = 2
const TaskTableFull = 1

var ErrTaskTableFull = errorValue(TaskSubsystem, TaskTableFull)

// Interrupt Errors
const InterruptSubsystem = 3
const InterruptBadId = 1

var ErrBadInterrupt = errorValue(InterruptSubsystem, InterruptBadId)

// JoyError packs the subsystem, the task that got the error, and the error
// number into one word so it can be handed around without allocating.
type JoyError uint64

var errorMap = map[uint64]string{
	uint64(ErrAllocationFailed): "no free page frames",
	uint64(ErrBadPageRequest):   "page address is not in the paging pool",
	uint64(ErrTaskTableFull):    "task table is full",
	uint64(ErrBadInterrupt):     "interrupt id out of range",
}

func (j JoyError) Error() string {
	raw := uint64(j) &^ taskIDMask
	t, ok := errorMap[raw]
	if !ok {
		t = fmt.Sprintf("unknown error code %x", raw)
	}
	return fmt.Sprintf("task %d: %s", j.Task(), t)
}

// Is compares without the task id, so errors.Is(err, ErrAllocationFailed)
// holds no matter which task hit it.
func (j JoyError) Is(target error) bool {
	t, ok := target.(JoyError)
	if !ok {
		return false
	}
	return uint64(j)&^taskIDMask == uint64(t)&^taskIDMask
}

func (j JoyError) Subsystem() byte {
	return byte((uint64(j) & subsystemMask) >> 48)
}

func (j JoyError) Number() uint16 {
	return uint16(uint64(j) & errorNumberMask)
}

func (j JoyError) Task() TaskId {
	return TaskId((uint64(j) & taskIDMask) >> 32)
}

func errorValue(subsys byte, errorNumber uint16) JoyError {
	ss := subsystemMask & (uint64(subsys) << 48)
	en := errorNumberMask & (uint64(errorNumber) << 0)
	return JoyError(ss | en)
}

// MakeError adds the dynamic fields (the current task) to the error value.
func MakeError(raw JoyError, id TaskId) JoyError {
	tid := (uint64(id) << 32) & taskIDMask
	return JoyError(uint64(raw)&^taskIDMask | tid)
}
