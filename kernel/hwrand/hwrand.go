// Package hwrand detects and exposes the hardware random number source used
// to seed the kernel's PRNGs during boot: RDSEED if the CPU advertises it,
// falling back to RDRAND, falling back to the monotonic clock if neither
// instruction is available (e.g. under an emulator that doesn't model
// them).
package hwrand

import (
	"unicore/kernel/cpu"
	"time"
)

// maxAttempts bounds how many times Seed retries a hardware RNG instruction
// before giving up on it; RDSEED/RDRAND may transiently report "no data
// ready" and the architecture manual recommends bounded retries rather than
// spinning forever.
const maxAttempts = 128

const (
	cpuidLeaf7EBXRDSEEDBit = uint32(1) << 18
	cpuidLeaf1ECXRDRANDBit = uint32(1) << 30
)

var (
	// cpuidFn is mocked by tests.
	cpuidFn = cpu.ID

	// rdseedFn and rdrandFn are assembly-implemented single attempts at
	// reading the corresponding hardware instruction. They return
	// ok=false if the instruction reported no data ready (CF=0).
	rdseedFn = archRDSEED
	rdrandFn = archRDRAND

	hasRDSEED bool
	hasRDRAND bool
)

// archRDSEED executes a single RDSEED attempt.
func archRDSEED() (uint64, bool)

// archRDRAND executes a single RDRAND attempt.
func archRDRAND() (uint64, bool)

// Init probes CPUID for RDSEED and RDRAND support. It must be called once
// before Seed.
func Init() {
	_, ebx, _, _ := cpuidFn(7)
	hasRDSEED = ebx&cpuidLeaf7EBXRDSEEDBit != 0

	_, _, ecx, _ := cpuidFn(1)
	hasRDRAND = ecx&cpuidLeaf1ECXRDRANDBit != 0
}

// Seed returns a hardware-sourced random value, trying RDSEED first, then
// RDRAND, then falling back to the monotonic clock if neither source is
// available or both exhaust their retry budget.
func Seed() uint64 {
	if hasRDSEED {
		if v, ok := tryAttempts(rdseedFn); ok {
			return v
		}
	}

	if hasRDRAND {
		if v, ok := tryAttempts(rdrandFn); ok {
			return v
		}
	}

	return uint64(time.Now().UnixNano())
}

func tryAttempts(fn func() (uint64, bool)) (uint64, bool) {
	for i := 0; i < maxAttempts; i++ {
		if v, ok := fn(); ok {
			return v, true
		}
	}
	return 0, false
}
