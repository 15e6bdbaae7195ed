package joy

// TimerTick is called from the timer interrupt for whatever task is
// running.  It charges the tick to the current task and reschedules once the
// task is out of credit, unless preemption is disabled, in which case the
// switch waits for the next tick or an explicit Schedule.
func (k *Kernel) TimerTick() {
	k.ticks.Add(1)
	cur := k.current
	if cur.counter > 0 {
		cur.counter--
	}
	k.log.Debugf("timerTick: current task: %d, counter %d, preempt %d", cur.id, cur.counter, cur.preemptCount)
	if cur.counter > 0 || cur.preemptCount > 0 {
		return
	}
	cur.counter = 0
	k.cpu.EnableIRQs()
	k.scheduleInternal()
	k.cpu.DisableIRQs()
}

// Schedule gives up the rest of the current task's credit and picks again.
func (k *Kernel) Schedule() {
	k.current.counter = 0
	k.scheduleInternal()
}

func (k *Kernel) scheduleInternal() {
	k.PreemptDisable()
	next, refills := selectNext(k.tasks[:k.taskCount])
	if refills > 0 {
		k.refills.Add(uint64(refills))
		k.log.Statsf("sched", "refilled counters %d time(s) over %d tasks", refills, k.taskCount)
	}
	if next < 0 {
		k.Halt("starved scheduler: no running task")
		k.PreemptEnable()
		return
	}
	k.switchTo(k.tasks[next])
	k.PreemptEnable()
}

// selectNext picks the running task with the largest counter, lowest slot on
// ties.  When nobody has credit left every counter is decayed towards its
// priority and the scan is repeated.  It returns -1 if no task can ever be
// picked, either because none is running or because a refill left them all
// at zero.
func selectNext(tasks []*Task) (next int, refills int) {
	for {
		c := int64(-1)
		next = -1
		for i, p := range tasks {
			if p != nil && p.state == TaskRunning && p.counter > c {
				c = p.counter
				next = i
			}
		}
		if c > 0 {
			return next, refills
		}
		if next < 0 || refills > 0 {
			return -1, refills
		}
		for _, p := range tasks {
			if p != nil {
				p.counter = (p.counter >> 1) + p.priority
			}
		}
		refills++
	}
}

func (k *Kernel) switchTo(next *Task) {
	if k.current == next {
		return
	}
	prev := k.current
	k.current = next
	k.switches.Add(1)
	k.log.Debugf("scheduling task %d (sp=%x, pc=%x)", next.id, next.ctx.SP(), next.ctx.PC())
	k.cpu.SwitchTo(prev, next)
}
