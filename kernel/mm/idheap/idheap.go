// Package idheap implements a generic free-range allocator keyed by a
// coarse unit size. It backs both the physical memory heap (units of 4 KiB
// physical frames) and the kernel virtual-address heaps (huge-page and
// 4 KiB-page granularity windows), the same structure the teacher's
// pmm.BitmapAllocator used for physical frames, generalized so it no
// longer hard-codes physical addresses.
package idheap

import "unicore/kernel/sync"

// extent describes one contiguous free range, in units.
type extent struct {
	base, length uint64
}

// Heap is a free-extent allocator over a uint64 address space, counted in
// caller-defined units (bytes, pages, or 2 MiB frames).
type Heap struct {
	lock  sync.Spinlock
	free  []extent
	total uint64
}

// AddRange registers [base, base+length) as available for allocation.
func (h *Heap) AddRange(base, length uint64) {
	if length == 0 {
		return
	}

	h.lock.Acquire()
	defer h.lock.Release()

	h.free = append(h.free, extent{base: base, length: length})
	h.total += length
}

// Total returns the cumulative size, in units, ever added via AddRange.
func (h *Heap) Total() uint64 {
	return h.total
}

// Alloc reserves a contiguous run of n units aligned to align units
// (align must be a power of two) and returns its base. The second return
// value is false if no free extent could satisfy the request.
func (h *Heap) Alloc(n, align uint64) (uint64, bool) {
	if align == 0 {
		align = 1
	}

	h.lock.Acquire()
	defer h.lock.Release()

	for i, e := range h.free {
		alignedBase := (e.base + align - 1) &^ (align - 1)
		pad := alignedBase - e.base
		if pad+n > e.length {
			continue
		}

		// Split off any leading padding as its own free extent.
		if pad > 0 {
			h.free[i] = extent{base: e.base, length: pad}
			remBase, remLen := alignedBase+n, e.length-pad-n
			if remLen > 0 {
				h.free = append(h.free, extent{base: remBase, length: remLen})
			}
			return alignedBase, true
		}

		if e.length == n {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = extent{base: e.base + n, length: e.length - n}
		}
		return alignedBase, true
	}

	return 0, false
}

// Free returns a previously allocated [base, base+n) run to the heap. It
// does not coalesce adjacent extents; callers do not rely on coalescing
// for correctness, only for avoiding fragmentation over time.
func (h *Heap) Free(base, n uint64) {
	if n == 0 {
		return
	}

	h.lock.Acquire()
	defer h.lock.Release()

	h.free = append(h.free, extent{base: base, length: n})
}

// Empty reports whether the heap has no free extents at all.
func (h *Heap) Empty() bool {
	h.lock.Acquire()
	defer h.lock.Release()

	return len(h.free) == 0
}
