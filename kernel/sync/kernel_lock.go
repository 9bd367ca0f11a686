package sync

import (
	"unicore/kernel/cpu"
	"sync/atomic"
)

// CPUState describes what a CPU is doing with respect to the kernel lock,
// mirroring the state machine the run loop drives a CPU through on every
// pass: idle, busy inside an interrupt handler, holding the kernel lock, or
// running user/unlocked code.
type CPUState uint32

const (
	// Idle marks a CPU parked in WaitForInterrupt, or a lock that is
	// free. It is the zero value so a KernelLock is ready to use
	// unacquired.
	Idle CPUState = iota

	// Kernel marks a CPU currently holding the kernel lock.
	Kernel

	// Interrupt marks a CPU currently servicing an interrupt.
	Interrupt

	// User marks a CPU running without the kernel lock held.
	User

	// NotPresent marks a CPU slot that has not joined the system yet.
	NotPresent
)

// KernelLock implements the run loop's single global lock: interrupts stay
// enabled while a CPU spins for it (so an IPI or timer tick isn't starved
// out), and are disabled for the duration the lock is actually held. The
// zero value is a free, unheld lock.
type KernelLock struct {
	state uint32
}

// Acquire spins with interrupts enabled until the lock is free, then
// disables interrupts and marks the state Kernel.
func (k *KernelLock) Acquire() {
	for !atomic.CompareAndSwapUint32(&k.state, uint32(Idle), uint32(Kernel)) {
		cpu.EnableInterrupts()
	}
	cpu.DisableInterrupts()
}

// TryAcquire attempts to take the lock without spinning. It must not be
// called while servicing an interrupt (state == Interrupt): doing so would
// let an interrupt handler silently steal the kernel lock out from under
// the thread it preempted.
func (k *KernelLock) TryAcquire() bool {
	if CPUState(atomic.LoadUint32(&k.state)) == Interrupt {
		return false
	}
	return atomic.CompareAndSwapUint32(&k.state, uint32(Idle), uint32(Kernel))
}

// Release relinquishes the lock and re-enables interrupts.
func (k *KernelLock) Release() {
	atomic.StoreUint32(&k.state, uint32(Idle))
	cpu.EnableInterrupts()
}

// Held reports whether the lock is currently held by some CPU.
func (k *KernelLock) Held() bool {
	return CPUState(atomic.LoadUint32(&k.state)) == Kernel
}
