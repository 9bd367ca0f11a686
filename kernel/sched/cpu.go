// Package sched implements the cooperative per-CPU run loop: the bottom
// half queue drain, kernel-lock-guarded timer/runqueue service, and the
// thread dequeue/work-stealing/donation chain that picks what a CPU runs
// next, ported from the reference scheduler's runloop_internal.
package sched

import (
	"unicore/kernel/sync"
	"unicore/kernel/timer"
	"sync/atomic"
	"time"
)

// CPUState is the per-CPU state machine value: written only by its owning
// CPU, but read lock-free by other CPUs deciding which peers are safe to
// steal from during the run loop's second work-stealing pass.
type CPUState int32

const (
	NotPresent CPUState = iota
	Idle
	Kernel
	Interrupt
	User
)

// Thunk is a unit of deferred work the run loop can execute: a bottom-half
// callback, a runqueue entry, or a thread resume.
type Thunk func()

// CPU holds the per-CPU state the run loop operates on.
type CPU struct {
	ID int

	// BHQueue holds bottom-half work serviced every pass without needing
	// the kernel lock.
	BHQueue *Queue

	// ThreadQueue holds runnable threads local to this CPU.
	ThreadQueue *Queue

	state int32
}

// State returns the CPU's current run loop state.
func (c *CPU) State() CPUState {
	return CPUState(atomic.LoadInt32(&c.state))
}

// setState updates the CPU's run loop state. Only the owning CPU may call
// this.
func (c *CPU) setState(s CPUState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// NewCPU constructs a CPU with freshly allocated queues of the given
// capacity.
func NewCPU(id int, queueCapacity int) *CPU {
	return &CPU{
		ID:          id,
		BHQueue:     NewQueue(queueCapacity),
		ThreadQueue: NewQueue(queueCapacity),
	}
}

// EnqueueThread adds t to this CPU's thread queue. It returns false if the
// queue is full.
func (c *CPU) EnqueueThread(t Thunk) bool {
	return c.ThreadQueue.Enqueue(t)
}

// Scheduler owns the global runqueue, the timer heap, and the per-CPU state
// every RunLoop pass consults.
type Scheduler struct {
	CPUs     []*CPU
	RunQueue *Queue
	Timers   timer.Heap
	Idle     IdleBitmap
	Lock     sync.KernelLock

	// PlatformTimer arms the one-shot hardware timer for the given
	// duration from now. Set by the embedding program; nil is a no-op,
	// matching the "external collaborator" boundary for the platform
	// timer device.
	PlatformTimer func(timeout time.Duration)

	lastTimerUpdate time.Time
}

// NewScheduler constructs a Scheduler with numCPUs per-CPU slots and the
// given global runqueue/bottom-half capacity.
func NewScheduler(numCPUs, queueCapacity int) *Scheduler {
	s := &Scheduler{
		CPUs:     make([]*CPU, numCPUs),
		RunQueue: NewQueue(queueCapacity),
	}
	for i := range s.CPUs {
		s.CPUs[i] = NewCPU(i, queueCapacity)
	}
	s.Idle.init(numCPUs)
	return s
}

// RegisterTimer schedules h to run at val (an absolute deadline if absolute
// is true, otherwise a duration from now), repeating every interval
// nanoseconds if interval > 0.
func (s *Scheduler) RegisterTimer(clockID timer.ClockID, val time.Duration, absolute bool, interval time.Duration, h timer.Handler) *timer.Timer {
	deadline := time.Unix(0, int64(val))
	if !absolute {
		deadline = time.Now().Add(val)
	}

	t := &timer.Timer{
		ClockID:  clockID,
		Deadline: deadline,
		Interval: interval,
		Handler:  h,
	}
	s.Timers.Register(t)
	return t
}
