// Package smp brings up secondary CPUs: counting how many the platform
// reports via ACPI, and walking each AP through its entry sequence. It is
// ported from original_source/platform/pc/service.c's
// count_processors/start_secondary_cores, generalized from the
// ACPI-table-walking internals (which stay in device/acpi) to just the
// counting and bring-up logic this core owns.
package smp

import (
	"unicore/kernel/cpu"
	"unicore/kernel/kfmt"
	"unicore/kernel/sched"
	"unicore/device/acpi/table"
)

// mxcsrDefault is the MXCSR reset value every AP's FPU is initialized to,
// matching the boot CPU's SSE exception mask configuration.
const mxcsrDefault = uint32(0x1F80)

// StartCPU is a collaborator hook that actually triggers a secondary core's
// INIT-SIPI-SIPI sequence. Set by the embedding program (the low-level
// trampoline and APIC programming it requires are out of this core's
// scope); nil disables SMP bring-up entirely.
var StartCPU func(apicID int)

// CountProcessors walks a raw MADT table buffer (everything after the
// fixed MADT header) and returns the number of enabled LAPIC/LAPICx2
// entries. If madt is empty, it logs a warning and assumes a single CPU,
// matching count_processors_handler's behavior when no MADT is present.
func CountProcessors(madt []byte) int {
	if len(madt) == 0 {
		kfmt.Printf("smp: no MADT available, assuming single CPU\n")
		return 1
	}

	count := 0
	table.WalkMADTEntries(madt, func(_ table.MADTEntryType, enabled bool) bool {
		if enabled {
			count++
		}
		return true
	})

	if count == 0 {
		return 1
	}
	return count
}

// StartSecondaryCores brings up every AP beyond the boot CPU by invoking
// StartCPU once for each index 1 through numCPUs-1. It is a no-op if
// StartCPU has not been wired up.
func StartSecondaryCores(numCPUs int) {
	if StartCPU == nil {
		return
	}

	for id := 1; id < numCPUs; id++ {
		StartCPU(id)
	}
}

// NewCPU is the Go-side entry point an AP's trampoline jumps to after
// switching into long mode: it resets the FPU control word, then enters
// its own run loop pass, same as the boot CPU's terminal path.
func NewCPU(s *sched.Scheduler, cpuID int) {
	cpu.SetMXCSR(mxcsrDefault)

	runLoop := &sched.RunLoop{Sched: s, CPU: s.CPUs[cpuID]}
	for {
		runLoop.Pass()
	}
}
