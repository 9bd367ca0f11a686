package sched

// SendIPI delivers the wakeup inter-processor interrupt to the given CPU.
// Set to ipi.Send by kernel/boot; nil is a no-op, which only matters for
// tests and single-CPU configurations where there is nothing to wake.
var SendIPI func(cpuID int)

// WakeupCPU clears cpu's idle bit and, if it was set, sends it the wakeup
// IPI to break it out of WaitForInterrupt.
func (s *Scheduler) WakeupCPU(id int) {
	if !s.Idle.Clear(id) {
		return
	}
	if SendIPI != nil {
		SendIPI(id)
	}
}

// WakeupOrInterruptAll unconditionally clears every other CPU's idle bit
// and sends it the wakeup IPI, skipping only self. Unlike WakeupCPU it does
// not check whether the target was actually idle first: an IPI to a CPU
// that wasn't idle is harmless, it just finds nothing to do when it next
// looks. Used when work becomes available that any CPU could pick up (e.g.
// the global runqueue gained an entry) and the caller has no particular
// CPU in mind.
func (s *Scheduler) WakeupOrInterruptAll(self int) {
	for i := range s.CPUs {
		if i == self {
			continue
		}
		s.Idle.Clear(i)
		if SendIPI != nil {
			SendIPI(i)
		}
	}
}
