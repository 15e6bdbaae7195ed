package joy

// Spawn public API
// Spawn              copy the current task (fork); creates a runnable task
// PreemptDisable     make the current task non-preemptable (nests)
// PreemptEnable      undo one PreemptDisable
// ScheduleTail       first thing a new task does after the switch lands on it

// PreemptDisable increments the current task's preempt count.  While it is
// nonzero a timer tick never switches away from the task.
func (k *Kernel) PreemptDisable() {
	k.current.preemptCount++
}

// PreemptEnable undoes one PreemptDisable.  An extra enable is a bug in the
// caller; it is reported and the count stays at zero.
func (k *Kernel) PreemptEnable() {
	if k.current.preemptCount == 0 {
		k.log.Errorf("unbalanced preempt enable in task %d", k.current.id)
		return
	}
	k.current.preemptCount--
}

// Spawn creates a task that will run fn(arg) with the priority of the
// current task.  The TCB is backed by one page and the stack starts at the
// top of that page.  It returns the slot of the new task.
func (k *Kernel) Spawn(fn FuncPtr, arg uint64) (TaskId, error) {
	k.PreemptDisable()

	if k.taskCount >= MaxTasks {
		k.log.Errorf("error while starting task: table full (%d tasks)", k.taskCount)
		k.PreemptEnable()
		return NoTaskId, MakeError(ErrTaskTableFull, k.current.id)
	}
	page, err := k.mem.GetFreePage()
	if err != nil {
		k.log.Errorf("error while starting task: %v", MakeError(ErrAllocationFailed, k.current.id))
		k.PreemptEnable()
		return NoTaskId, MakeError(ErrAllocationFailed, k.current.id)
	}

	p := &Task{
		state:        TaskRunning,
		priority:     k.current.priority,
		preemptCount: 1, // released by ScheduleTail
		page:         page,
	}
	p.counter = p.priority
	p.ctx[ctxX19] = uint64(fn)
	p.ctx[ctxX20] = arg
	p.ctx[ctxPC] = RetFromForkPC
	p.ctx[ctxSP] = uint64(page + PageSize)

	id := TaskId(k.taskCount)
	p.id = id
	k.tasks[id] = p
	k.taskCount++
	k.log.Debugf("task %d copied successfully (page %x, x19=%x, pc=%x) with prio %d",
		id, page, p.ctx.X19(), p.ctx.PC(), p.priority)

	k.PreemptEnable()
	return id, nil
}

// ScheduleTail is the kernel half of the fork trampoline.  A new task starts
// with preemption disabled so nothing can switch away before its first
// switch has finished; this releases that.
func (k *Kernel) ScheduleTail() {
	k.PreemptEnable()
}

// retFromFork is where every spawned task starts.  The entry point and its
// argument are in x19 and x20.  An entry that returns leaves the task with
// nothing to do, so it gives the cpu away for good.
func (k *Kernel) retFromFork(t *Task) {
	k.ScheduleTail()
	fn := k.lookupEntry(FuncPtr(t.ctx.X19()))
	if fn == nil {
		k.log.Errorf("task %d has no entry at %x", t.id, t.ctx.X19())
	} else {
		fn(k, t.ctx.X20())
	}
	k.log.Debugf("task %d returned from its entry", t.id)
	for {
		k.Schedule()
		k.cpu.Poll()
	}
}
