// Package bootstrap implements the bump allocator used before the physical
// and virtual memory managers come online. It services the handful of
// allocations the boot sequence needs (page tables, region bookkeeping)
// out of a fixed-size static array and never frees anything.
package bootstrap

import "unicore/kernel"

// RegionSize is the size of the static backing array for the bootstrap
// allocator. It must comfortably exceed everything allocated before
// mm/pmm.InitPhysical runs.
const RegionSize = 2 << 20

var (
	errOutOfMemory = &kernel.Error{Module: "bootstrap", Message: "bootstrap region exhausted"}

	// panicFn is called when the bootstrap region is exhausted. Mocked by
	// tests so they can observe the failure instead of halting.
	panicFn = func(e *kernel.Error) { panic(e) }
)

// Allocator is a bump allocator over a fixed-size backing array. The zero
// value is ready to use.
type Allocator struct {
	region [RegionSize]byte
	offset uintptr
}

// Alloc returns a zeroed slice of the requested size, aligned to align
// bytes (which must be a power of two). It calls panicFn if the
// allocator's backing region is exhausted.
func (a *Allocator) Alloc(size, align uintptr) []byte {
	aligned := (a.offset + align - 1) &^ (align - 1)
	if aligned+size > RegionSize {
		panicFn(errOutOfMemory)
		return nil
	}

	a.offset = aligned + size
	return a.region[aligned : aligned+size]
}

// Used returns the number of bytes allocated so far.
func (a *Allocator) Used() uintptr {
	return a.offset
}

// Remaining returns the number of bytes still available.
func (a *Allocator) Remaining() uintptr {
	return RegionSize - a.offset
}
