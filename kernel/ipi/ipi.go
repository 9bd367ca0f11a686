// Package ipi wires the two inter-processor interrupt vectors the run loop
// depends on: a wakeup vector whose handler does nothing (its only purpose
// is to interrupt a CPU parked in WaitForInterrupt) and a shutdown vector
// that halts the machine. Vector registration reuses the teacher's
// exception-handler plumbing (irq.HandleException), generalized here from
// exception vectors to IPI vectors since the wiring is otherwise identical:
// a vector number maps to a callback invoked from the interrupt gate.
package ipi

import "unicore/kernel/irq"

// Vector numbers for the two IPIs the scheduler needs. They sit outside the
// CPU exception range (vectors 0-31) and the legacy PIC/IOAPIC range, in the
// block typically reserved for OS-defined interrupts.
const (
	WakeupVector   = irq.ExceptionNum(0xFD)
	ShutdownVector = irq.ExceptionNum(0xFE)
)

// MachineHalt is invoked when the shutdown IPI is received. Set by the
// embedding program (kernel/boot does not set it); nil is a no-op so tests
// can register handlers without halting anything.
var MachineHalt func()

// SendVector transmits vector to the CPU identified by apicID. Set by the
// embedding program: actually writing the local APIC's ICR needs the APIC
// driver, which is out of this core's scope, the same boundary
// kernel/smp.StartCPU draws around the AP trampoline. nil makes Send a
// no-op, which only matters for tests and single-CPU boots.
var SendVector func(apicID int, vector irq.ExceptionNum)

// Send delivers the wakeup IPI to the given CPU. kernel/boot assigns this
// to sched.SendIPI so WakeupCPU/WakeupOrInterruptAll can break a peer out
// of WaitForInterrupt.
func Send(cpuID int) {
	if SendVector != nil {
		SendVector(cpuID, WakeupVector)
	}
}

// wakeupHandler does nothing: HandleException merely needs to be
// registered for the vector so the interrupt gate exists and the CPU wakes
// out of HLT; there is no per-wakeup bookkeeping to perform.
func wakeupHandler(frame *irq.Frame, regs *irq.Regs) {
}

// shutdownHandler halts the machine via MachineHalt, if the embedding
// program has set one.
func shutdownHandler(frame *irq.Frame, regs *irq.Regs) {
	if MachineHalt != nil {
		MachineHalt()
	}
}

// Init registers the wakeup and shutdown IPI handlers. It must be called
// once during boot after the IDT has been installed.
func Init() {
	irq.HandleException(WakeupVector, wakeupHandler)
	irq.HandleException(ShutdownVector, shutdownHandler)
}
