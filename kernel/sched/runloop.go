package sched

import (
	"unicore/kernel/cpu"
	"time"
)

const (
	// runloopTimerMin is the smallest delta the platform timer is ever
	// armed for; anything shorter is not worth reprogramming hardware
	// for and just runs on the next pass instead.
	runloopTimerMin = 50 * time.Microsecond

	// runloopTimerMax bounds how far out the platform timer is armed so
	// a run loop pass still happens often enough to notice new work
	// enqueued from another CPU without an IPI.
	runloopTimerMax = 100 * time.Millisecond
)

// RunLoop drives a single CPU's cooperative scheduling pass.
type RunLoop struct {
	Sched *Scheduler
	CPU   *CPU

	// PauseCurrentThread is invoked at the start of each pass to save
	// the state of whatever thread is currently executing before the
	// loop looks for the next one to run. nil is valid at boot, before
	// any thread has been created.
	PauseCurrentThread func()

	// ServiceMM is invoked once per pass while the kernel lock is held,
	// giving the memory manager a chance to reclaim or compact. nil is a
	// no-op.
	ServiceMM func()
}

// Pass runs one iteration of the run loop: it drains bottom-half work,
// services timers and the global runqueue under the kernel lock, then picks
// and hands off to the next thread to run, stealing from or donating to
// other CPUs as needed. Pass returns after running at most one thread; the
// caller loops it forever.
func (r *RunLoop) Pass() {
	if r.PauseCurrentThread != nil {
		r.PauseCurrentThread()
	}

	cpu.DisableInterrupts()
	r.CPU.setState(Kernel)

	r.CPU.BHQueue.DrainAll()

	if r.Sched.Lock.TryAcquire() {
		r.Sched.Timers.Service(time.Now())
		r.Sched.RunQueue.DrainAll()
		if r.ServiceMM != nil {
			r.ServiceMM()
		}
		r.updateTimer()
		r.Sched.Lock.Release()
	}

	if t, ok := r.nextThunk(); ok {
		r.Sched.Idle.Clear(r.CPU.ID)
		cpu.EnableInterrupts()
		r.CPU.setState(User)
		t()
		return
	}

	r.CPU.setState(Idle)
	r.Sched.Idle.Set(r.CPU.ID)
	cpu.EnableInterrupts()
	cpu.Halt()
	r.Sched.Idle.Clear(r.CPU.ID)
}

// nextThunk implements the thread dequeue / work-stealing / donation chain:
// try this CPU's own thread queue first, then steal from every other CPU in
// (id+1 .. total-1, 0 .. id-1) order, preferring the queues of CPUs
// currently marked idle so a steal doesn't contend with a CPU that is
// itself about to look for work.
func (r *RunLoop) nextThunk() (Thunk, bool) {
	if t, ok := r.CPU.ThreadQueue.Dequeue(); ok {
		r.donateLocalWork()
		return t, true
	}

	total := len(r.Sched.CPUs)
	if total <= 1 {
		return nil, false
	}

	// First pass: idle CPUs only, in wraparound order starting after us.
	// migrate_to_self: if the peer's queue still has work left after the
	// steal, wake it so it doesn't sit idle with a non-empty queue.
	for i := 1; i < total; i++ {
		id := (r.CPU.ID + i) % total
		if !r.Sched.Idle.IsSet(id) {
			continue
		}
		peer := r.Sched.CPUs[id]
		if t, ok := peer.ThreadQueue.Dequeue(); ok {
			if peer.ThreadQueue.Len() > 0 {
				r.Sched.WakeupCPU(id)
			}
			return t, true
		}
	}

	// Second pass: peers currently running a user thread, same wraparound
	// order.
	for i := 1; i < total; i++ {
		id := (r.CPU.ID + i) % total
		peer := r.Sched.CPUs[id]
		if peer.State() != User {
			continue
		}
		if t, ok := peer.ThreadQueue.Dequeue(); ok {
			return t, true
		}
	}

	return nil, false
}

// donateLocalWork implements migrate_from_self: called after this CPU
// dequeues one of its own threads to run, it wakes any idle peer whose
// queue already has work waiting, then pushes one of this CPU's remaining
// threads onto every other still-idle peer's queue and wakes it too.
func (r *RunLoop) donateLocalWork() {
	for id, peer := range r.Sched.CPUs {
		if id == r.CPU.ID || !r.Sched.Idle.IsSet(id) {
			continue
		}
		if peer.ThreadQueue.Len() > 0 {
			r.Sched.WakeupCPU(id)
			continue
		}
		if t, ok := r.CPU.ThreadQueue.Dequeue(); ok {
			peer.ThreadQueue.Enqueue(t)
			r.Sched.WakeupCPU(id)
		}
	}
}

// updateTimer reprograms the platform one-shot timer to fire at the
// earliest pending deadline, clamped to [runloopTimerMin, runloopTimerMax]
// and skipped entirely if it would fire at the same time as the last
// programming (avoids reprogramming hardware for no change). Must be
// called with the kernel lock held.
func (r *RunLoop) updateTimer() {
	next, ok := r.Sched.Timers.Check()
	if !ok {
		return
	}
	if next.Equal(r.Sched.lastTimerUpdate) {
		return
	}

	rawDelta := time.Until(next)
	timeout := rawDelta
	switch {
	case timeout < runloopTimerMin:
		timeout = runloopTimerMin
	case timeout > runloopTimerMax:
		timeout = runloopTimerMax
	}

	if r.Sched.PlatformTimer != nil {
		r.Sched.PlatformTimer(timeout)
	}
	// lastTimerUpdate converges on the deadline repeated updates would
	// settle at, not just next, so a clamped arm doesn't look like it
	// already matches the true deadline on the following pass.
	r.Sched.lastTimerUpdate = next.Add(timeout - rawDelta)
}
