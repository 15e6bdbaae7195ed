package joy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasksWith(counters, priorities []int64) []*Task {
	tasks := make([]*Task, len(counters))
	for i := range counters {
		tasks[i] = &Task{
			state:    TaskRunning,
			counter:  counters[i],
			priority: priorities[i],
			id:       TaskId(i),
		}
	}
	return tasks
}

func TestSelectNext(t *testing.T) {
	cases := []struct {
		name       string
		counters   []int64
		priorities []int64
		stopped    []int
		next       int
		refills    int
		after      []int64
	}{
		{
			name:       "largest counter wins",
			counters:   []int64{1, 4, 2},
			priorities: []int64{1, 1, 1},
			next:       1,
			after:      []int64{1, 4, 2},
		},
		{
			name:       "tie goes to the lowest slot",
			counters:   []int64{0, 3, 3},
			priorities: []int64{1, 1, 1},
			next:       1,
			after:      []int64{0, 3, 3},
		},
		{
			name:       "refill when nobody has credit",
			counters:   []int64{0, 0, 0},
			priorities: []int64{1, 2, 3},
			next:       2,
			refills:    1,
			after:      []int64{1, 2, 3},
		},
		{
			name:       "refill decays what is left",
			counters:   []int64{0, 5, 0},
			priorities: []int64{1, 1, 1},
			stopped:    []int{1},
			next:       0,
			refills:    1,
			after:      []int64{1, 3, 1},
		},
		{
			name:       "stopped tasks are never picked",
			counters:   []int64{1, 9},
			priorities: []int64{1, 1},
			stopped:    []int{1},
			next:       0,
			after:      []int64{1, 9},
		},
		{
			name:       "nothing running",
			counters:   []int64{4},
			priorities: []int64{1},
			stopped:    []int{0},
			next:       -1,
			after:      []int64{4},
		},
		{
			name:       "zero priorities never get credit",
			counters:   []int64{0, 0},
			priorities: []int64{0, 0},
			next:       -1,
			refills:    1,
			after:      []int64{0, 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks := tasksWith(tc.counters, tc.priorities)
			for _, i := range tc.stopped {
				tasks[i].state = TaskStopped
			}
			next, refills := selectNext(tasks)
			assert.Equal(t, tc.next, next)
			assert.Equal(t, tc.refills, refills)
			for i, p := range tasks {
				assert.Equal(t, tc.after[i], p.counter, "counter of slot %d", i)
			}
		})
	}
}

func TestSelectNextSkipsEmptySlots(t *testing.T) {
	tasks := tasksWith([]int64{0, 0}, []int64{1, 1})
	tasks = append([]*Task{nil}, tasks...)
	next, _ := selectNext(tasks)
	assert.Equal(t, 1, next)
}

// Every running task is picked within a bounded number of rounds, whatever
// the priorities, when each pick uses up the task's credit.
func TestNoRunningTaskStarves(t *testing.T) {
	priorities := []int64{1, 7, 2, 30, 1, 4}
	tasks := tasksWith(make([]int64, len(priorities)), priorities)
	picked := make([]int, len(tasks))

	for round := 0; round < 2*len(tasks); round++ {
		next, _ := selectNext(tasks)
		require.GreaterOrEqual(t, next, 0)
		picked[next]++
		tasks[next].counter = 0
	}
	for i, n := range picked {
		assert.NotZero(t, n, "slot %d never ran", i)
	}
	for _, p := range tasks {
		assert.GreaterOrEqual(t, p.counter, int64(0))
	}
}

// Two tasks of priority 1 on top of the boot task, three ticks, no yields:
// the cpu visits each task once and ends up back on the boot task.
func TestThreeTasksShareTheTimer(t *testing.T) {
	r := newRig(t, 16)
	worker := r.k.RegisterEntry(func(k *Kernel, arg uint64) {
		for k.Ticks() < 3 {
			r.tick()
		}
	})

	var spawnErr error
	r.boot(t, func() {
		r.start()
		for i := uint64(1); i <= 2; i++ {
			if _, err := r.k.Spawn(worker, i); err != nil {
				spawnErr = err
				return
			}
		}
		for r.k.Ticks() < 3 {
			r.tick()
		}
	})
	require.NoError(t, spawnErr)

	assert.Equal(t, []TaskId{1, 2, 0}, r.cpu.Trace())
	assert.EqualValues(t, 3, r.k.Ticks())
	assert.EqualValues(t, 3, r.k.Switches())
	assert.EqualValues(t, 1, r.k.Refills())
	require.NotNil(t, r.k.Current())
	assert.Equal(t, TaskId(0), r.k.Current().Id())
	for i := 0; i < r.k.TaskCount(); i++ {
		p := r.k.Task(TaskId(i))
		assert.GreaterOrEqual(t, p.Counter(), int64(0), "task %d", i)
		assert.GreaterOrEqual(t, p.PreemptCount(), int64(0), "task %d", i)
	}

	// tasks 1 and 2 were switched away from inside their timer interrupt
	// and have not returned from it yet
	irq := r.cpu.Interrupts()
	assert.Equal(t, 2, irq.Depth())
	assert.Equal(t, 3, irq.Deepest())
	assert.False(t, irq.Masked())
	assert.EqualValues(t, 1, r.board.GIC.EOICount())
	assert.Contains(t, r.log.String(), "scheduling task 1")
}

func TestTickIsDeferredWhilePreemptDisabled(t *testing.T) {
	r := newRig(t, 16)
	ran := false
	entry := r.k.RegisterEntry(func(k *Kernel, arg uint64) {
		ran = true
		k.Schedule()
	})

	var (
		spawnErr      error
		deferredTrace []TaskId
		pinned        int64
		preempt       int64
	)
	r.boot(t, func() {
		r.start()
		r.k.PreemptDisable()
		_, spawnErr = r.k.Spawn(entry, 0)
		r.tick()
		r.tick()
		deferredTrace = r.cpu.Trace()
		pinned = r.k.Current().Counter()
		preempt = r.k.Current().PreemptCount()

		r.k.PreemptEnable()
		r.tick()
	})
	require.NoError(t, spawnErr)

	assert.Empty(t, deferredTrace)
	assert.Zero(t, pinned)
	assert.EqualValues(t, 1, preempt)
	assert.True(t, ran)
	assert.Equal(t, []TaskId{1, 0}, r.cpu.Trace())
	assert.EqualValues(t, 3, r.k.Ticks())
	assert.Zero(t, r.k.Current().PreemptCount())
}

func TestScheduleYields(t *testing.T) {
	r := newRig(t, 16)
	var order []uint64
	entry := r.k.RegisterEntry(func(k *Kernel, arg uint64) {
		order = append(order, arg)
		k.Schedule()
	})

	r.boot(t, func() {
		r.k.Spawn(entry, 10)
		r.k.Spawn(entry, 20)
		r.k.Schedule()
		r.k.Schedule()
	})

	assert.Equal(t, []uint64{10, 20}, order)
	// the second round resumes both tasks inside their Schedule call, their
	// entries return and they keep yielding
	assert.Equal(t, []TaskId{1, 2, 0, 1, 2, 0}, r.cpu.Trace())
}

func TestReturningEntryKeepsYielding(t *testing.T) {
	r := newRig(t, 16)
	entry := r.k.RegisterEntry(func(k *Kernel, arg uint64) {})

	r.boot(t, func() {
		r.k.Spawn(entry, 0)
		r.k.Schedule()
	})

	assert.Equal(t, []TaskId{1, 0}, r.cpu.Trace())
	assert.Contains(t, r.log.String(), "task 1 returned from its entry")
}

func TestScheduleToSelfIsNoSwitch(t *testing.T) {
	r := newRig(t, 16)
	r.k.Schedule()
	assert.Empty(t, r.cpu.Trace())
	assert.Zero(t, r.k.Switches())
	assert.EqualValues(t, 1, r.k.Current().Counter())
	assert.Zero(t, r.k.Current().PreemptCount())
}

func TestStarvedSchedulerHalts(t *testing.T) {
	r := newRig(t, 16)
	r.k.Current().state = TaskStopped
	r.k.Schedule()

	assert.True(t, r.k.Halted())
	assert.Contains(t, r.k.HaltReason(), "starved scheduler")
	assert.Zero(t, r.k.Current().PreemptCount())
}

func TestTickChargesCurrentTask(t *testing.T) {
	r := newRig(t, 16)
	r.k.Current().counter = 3
	r.k.TimerTick()
	assert.EqualValues(t, 2, r.k.Current().Counter())
	assert.Empty(t, r.cpu.Trace())
	assert.False(t, r.cpu.IRQsEnabled())
}
