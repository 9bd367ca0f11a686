package boot

import "unicore/kernel/cpu"

// qemuExitPort is the I/O port QEMU's isa-debug-exit device listens on.
// Writing a byte there causes QEMU to terminate with status
// (byte << 1) | 1, the same protocol original_source's vm_exit uses.
const qemuExitPort = 0xf4

// RootConfig describes the small set of policy knobs VMExit consults. The
// embedding program sets it once during boot.
type RootConfig struct {
	// RebootOnExit requests a triple fault instead of a clean VM exit,
	// which most hypervisors treat as a hard reset rather than a halt.
	RebootOnExit bool
}

// Config is the active RootConfig. Left at its zero value, VMExit behaves
// as a plain QEMU exit.
var Config RootConfig

// VMHalt is a collaborator hook VMExit calls, when RebootOnExit is not set,
// instead of writing to the QEMU exit port. nil makes VMExit fall through to
// the QEMU exit-port write.
var VMHalt func()

// VMExit terminates the kernel: it triple-faults if RootConfig requests a
// reboot; otherwise it calls VMHalt if one is registered and returns once
// VMHalt returns (it does not spin afterwards); otherwise it writes code to
// the QEMU exit port and then halts the CPU in a loop. code is not
// interpreted beyond being handed to the hypervisor; by QEMU convention 0
// means success.
func VMExit(code uint8) {
	if Config.RebootOnExit {
		triggerTripleFault()
		return
	}

	if VMHalt != nil {
		VMHalt()
		return
	}

	cpu.PortWriteByte(qemuExitPort, code)

	// QEMU should have already terminated the process; if it hasn't
	// (e.g. running under a different hypervisor with no exit device),
	// there is nothing left to do but stop making progress.
	for {
		cpu.Halt()
	}
}

// triggerTripleFault deliberately loads a null IDT and issues an interrupt,
// which the CPU cannot service and so resets. Implemented in assembly
// alongside the other CPU primitives.
func triggerTripleFault()
