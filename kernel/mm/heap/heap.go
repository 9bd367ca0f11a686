// Package heap builds the kernel's general-purpose allocators on top of the
// physical and virtual id-heaps: a page-backed heap for mapped allocations,
// a linear-backed heap for the always-mapped identity window, a
// segregated-size-class mcache fed by either, and a locking wrapper that
// lets the same mcache implementation serve both kernel-lock-held and
// any-context callers.
package heap

import (
	"unicore/kernel"
	"unicore/kernel/mm"
	"unicore/kernel/mm/idheap"
	"unicore/kernel/mm/vmm"
	"unicore/kernel/sync"
)

// slabSize is the unit of refill requested from a parent allocator by an
// MCache, matching the 2 MiB huge-page granularity used throughout boot.
const slabSize = 2 << 20

// PageBackedHeap allocates virtual address space from a page-granularity
// id-heap, backs every allocation with freshly allocated physical frames,
// and maps them before handing the region back to the caller.
type PageBackedHeap struct {
	va    *idheap.Heap
	flags vmm.PageFlags
}

// NewPageBackedHeap constructs a PageBackedHeap drawing VA space from va
// and mapping pages with the supplied flags.
func NewPageBackedHeap(va *idheap.Heap, flags vmm.PageFlags) *PageBackedHeap {
	return &PageBackedHeap{va: va, flags: flags}
}

// Alloc reserves size bytes (rounded up to a page) of mapped memory and
// returns its base virtual address.
func (h *PageBackedHeap) Alloc(size uintptr) (uintptr, *kernel.Error) {
	pageCount := uint64((size + mm.PageSize - 1) >> mm.PageShift)
	if pageCount == 0 {
		pageCount = 1
	}

	vaBase, ok := h.va.Alloc(pageCount, 1)
	if !ok {
		return 0, &kernel.Error{Module: "heap", Message: "page-backed heap: out of virtual address space"}
	}

	for i := uint64(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return 0, err
		}

		page := mm.PageFromAddress(uintptr(vaBase<<mm.PageShift) + uintptr(i)<<mm.PageShift)
		if err := vmm.Map(page, frame, h.flags.Entry()); err != nil {
			return 0, err
		}
	}

	return uintptr(vaBase) << mm.PageShift, nil
}

// Free releases size bytes (rounded up to a page) starting at va, unmapping
// and returning the underlying frames and VA range.
func (h *PageBackedHeap) Free(va uintptr, size uintptr) {
	pageCount := uint64((size + mm.PageSize - 1) >> mm.PageShift)
	if pageCount == 0 {
		pageCount = 1
	}

	for i := uint64(0); i < pageCount; i++ {
		page := mm.PageFromAddress(va + uintptr(i)<<mm.PageShift)
		_ = vmm.Unmap(page)
	}

	h.va.Free(uint64(va)>>mm.PageShift, pageCount)
}

// LinearBackedHeap carves out VA ranges from a window that is already
// mapped 1:1 against physical memory at a fixed offset, so allocation never
// needs to touch the page tables.
type LinearBackedHeap struct {
	window *idheap.Heap
	offset uintptr
}

// NewLinearBackedHeap constructs a LinearBackedHeap over window, whose
// units are bytes starting at virtual address offset.
func NewLinearBackedHeap(window *idheap.Heap, offset uintptr) *LinearBackedHeap {
	return &LinearBackedHeap{window: window, offset: offset}
}

// Alloc reserves size bytes and returns their virtual address.
func (h *LinearBackedHeap) Alloc(size uintptr) (uintptr, *kernel.Error) {
	base, ok := h.window.Alloc(uint64(size), uint64(mm.PageSize))
	if !ok {
		return 0, &kernel.Error{Module: "heap", Message: "linear-backed heap: out of space"}
	}
	return h.offset + uintptr(base), nil
}

// Free returns size bytes starting at va to the window.
func (h *LinearBackedHeap) Free(va uintptr, size uintptr) {
	h.window.Free(uint64(va-h.offset), uint64(size))
}

// parentAllocator is the minimal interface an MCache needs from its
// backing heap to request slab refills.
type parentAllocator interface {
	Alloc(size uintptr) (uintptr, *kernel.Error)
}

// sizeClassCount is the number of power-of-two size classes an MCache
// tracks, covering 16 bytes through 16 KiB allocations.
const sizeClassCount = 11

// minSizeClassShift is log2 of the smallest size class (16 bytes).
const minSizeClassShift = 4

// MCache is a segregated size-class allocator. Each class holds a free
// list of same-size blocks; an empty class is refilled by carving a fresh
// slab out of the parent allocator.
type MCache struct {
	parent    parentAllocator
	freeLists [sizeClassCount][]uintptr
}

// NewMCache constructs an MCache backed by parent for slab refills.
func NewMCache(parent parentAllocator) *MCache {
	return &MCache{parent: parent}
}

// classFor returns the size class index that can satisfy an allocation of
// size bytes, or -1 if size exceeds the largest class.
func classFor(size uintptr) int {
	classSize := uintptr(1) << minSizeClassShift
	for i := 0; i < sizeClassCount; i++ {
		if size <= classSize {
			return i
		}
		classSize <<= 1
	}
	return -1
}

func classSize(class int) uintptr {
	return uintptr(1) << (minSizeClassShift + class)
}

// Alloc returns a block of at least size bytes.
func (c *MCache) Alloc(size uintptr) (uintptr, *kernel.Error) {
	class := classFor(size)
	if class < 0 {
		return c.parent.Alloc(size)
	}

	if len(c.freeLists[class]) == 0 {
		if err := c.refill(class); err != nil {
			return 0, err
		}
	}

	list := c.freeLists[class]
	block := list[len(list)-1]
	c.freeLists[class] = list[:len(list)-1]
	return block, nil
}

// Free returns a block of size bytes, previously obtained via Alloc, to
// its size class free list.
func (c *MCache) Free(block uintptr, size uintptr) {
	class := classFor(size)
	if class < 0 {
		return
	}
	c.freeLists[class] = append(c.freeLists[class], block)
}

func (c *MCache) refill(class int) *kernel.Error {
	base, err := c.parent.Alloc(slabSize)
	if err != nil {
		return err
	}

	cs := classSize(class)
	for off := uintptr(0); off+cs <= slabSize; off += cs {
		c.freeLists[class] = append(c.freeLists[class], base+off)
	}
	return nil
}

// cacheAllocator is the interface Locking wraps; both MCache and any other
// allocator satisfying parentAllocator plus Free qualify.
type cacheAllocator interface {
	Alloc(size uintptr) (uintptr, *kernel.Error)
	Free(block uintptr, size uintptr)
}

// Locking wraps a cacheAllocator with a spinlock, serializing access from
// any context. TryAcquire exposes the kern_try_lock-style non-blocking path
// for callers that must not spin (e.g. interrupt handlers).
type Locking struct {
	lock  sync.Spinlock
	inner cacheAllocator
}

// NewLocking wraps inner with a spinlock.
func NewLocking(inner cacheAllocator) *Locking {
	return &Locking{inner: inner}
}

// Alloc acquires the lock, delegates to the wrapped allocator, and releases.
func (l *Locking) Alloc(size uintptr) (uintptr, *kernel.Error) {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.inner.Alloc(size)
}

// Free acquires the lock, delegates to the wrapped allocator, and releases.
func (l *Locking) Free(block uintptr, size uintptr) {
	l.lock.Acquire()
	defer l.lock.Release()
	l.inner.Free(block, size)
}

// TryAlloc attempts the allocation without blocking, returning ok=false if
// the lock is currently held.
func (l *Locking) TryAlloc(size uintptr) (addr uintptr, err *kernel.Error, ok bool) {
	if !l.lock.TryToAcquire() {
		return 0, nil, false
	}
	defer l.lock.Release()

	addr, err = l.inner.Alloc(size)
	return addr, err, true
}

// KernelHeaps aggregates every allocator the kernel wires up during boot,
// matching the Data Model's "kernel heaps" bundle: the two virtual id-heaps,
// the physical id-heap, the page- and linear-backed heaps built on them,
// and the general-purpose (unlocked, kernel-lock-protected) and locked
// (any-context) mcaches built on top of those.
type KernelHeaps struct {
	VirtualHuge  idheap.Heap
	VirtualPage  idheap.Heap
	Physical     idheap.Heap
	PageBacked   *PageBackedHeap
	LinearBacked *LinearBackedHeap
	General      *MCache
	Locked       *Locking
}
