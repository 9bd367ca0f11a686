// Package pmm implements the kernel's physical memory manager: a free-frame
// heap built by walking the boot-time region table. It replaces the
// bitmap-scan allocator the teacher historically used with a free-extent
// idheap, matching the region-table-driven design the rest of the boot
// sequence now follows.
package pmm

import (
	"unicore/kernel"
	"unicore/kernel/mm"
	"unicore/kernel/mm/idheap"
	"unicore/kernel/region"
)

// hugePageSize is the alignment granularity (2 MiB) applied when carving
// usable physical regions out of the boot-time region table, matching the
// original loader's e820-derived region handling.
const hugePageSize = 2 << 20

var (
	errNoUsablePhysicalMemory = &kernel.Error{Module: "pmm", Message: "no usable physical memory regions found"}

	// heap tracks free physical frames (mm.PageSize units).
	heap idheap.Heap

	// panicFn lets tests observe the fatal path without halting.
	panicFn = func(e *kernel.Error) { panic(e) }
)

// InitPhysical walks region.Table, aligns every Physical entry inward to
// hugePageSize, and adds the survivors to the physical frame heap. It
// panics if no usable region remains; a kernel with no physical memory to
// allocate from cannot continue booting.
func InitPhysical() {
	found := false

	for _, r := range region.ByType(region.Physical) {
		base := alignUp(r.Base, hugePageSize)
		end := alignDown(r.End(), hugePageSize)
		if end <= base {
			continue
		}

		frameCount := uint64(end-base) >> mm.PageShift
		heap.AddRange(uint64(base)>>mm.PageShift, frameCount)
		found = true
	}

	if !found {
		panicFn(errNoUsablePhysicalMemory)
		return
	}

	mm.SetFrameAllocator(allocFrame)
}

// ReclaimRange folds a post-boot reclaimed range back into the physical
// heap. Used by kernel/boot.ReclaimRegions once the loader's scratch
// memory is no longer referenced by anything.
func ReclaimRange(base, length uintptr) {
	base = alignUp(base, hugePageSize)
	end := alignDown(base+length, hugePageSize)
	if end <= base {
		return
	}
	heap.AddRange(uint64(base)>>mm.PageShift, uint64(end-base)>>mm.PageShift)
}

func allocFrame() (mm.Frame, *kernel.Error) {
	base, ok := heap.Alloc(1, 1)
	if !ok {
		return mm.InvalidFrame, &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	}
	return mm.Frame(base), nil
}

func alignUp(v uintptr, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v uintptr, align uintptr) uintptr {
	return v &^ (align - 1)
}
