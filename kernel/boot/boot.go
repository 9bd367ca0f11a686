// Package boot drives the kernel's entry sequence: detecting whether we
// were handed off directly by a hypervisor or through a staged loader,
// building the region table and kernel heaps either way, parsing the
// command line, and handing control to the run loop. It is the Go
// counterpart of original_source/platform/pc/service.c's
// init_service/init_service_new_stack pair.
package boot

import (
	"unicore/kernel"
	"unicore/kernel/bootparam"
	"unicore/kernel/cmdline"
	"unicore/kernel/goruntime"
	"unicore/kernel/hwrand"
	"unicore/kernel/ipi"
	"unicore/kernel/kfmt"
	"unicore/kernel/mm"
	"unicore/kernel/mm/heap"
	"unicore/kernel/mm/pmm"
	"unicore/kernel/mm/vmm"
	"unicore/kernel/region"
	"unicore/kernel/sched"
	"unicore/kernel/smp"
	"unicore/multiboot"
	"reflect"
	"unsafe"
)

// Heaps is the aggregate of every allocator wired up by Entry. It is
// exported so the embedding program's collaborator hooks (device probes,
// the TFS/tuple-tree layer, etc.) can reach it after boot.
var Heaps heap.KernelHeaps

// Sched is the scheduler Entry constructs and StartSecondaryCores/NewCPU
// hand APs into.
var Sched *sched.Scheduler

// KernelRuntimeInit is the terminal collaborator hook initServiceNewStack
// calls after every other boot step has completed. It is where the
// embedding program starts the Go runtime's goroutine scheduler, device
// probing, and everything else this core does not own.
var KernelRuntimeInit func()

// DetectHypervisor probes, in order, for KVM, Xen, Hyper-V, and bare QEMU.
// The probes themselves are external collaborators; this core only
// preserves their call order as documented boot behavior so a real driver
// layer has somewhere to plug in.
var DetectHypervisor func()

// DetectDevices registers PV or HVM device drivers depending on what
// DetectHypervisor found. Like DetectHypervisor, the probes are external;
// this core only calls it at the right point in the sequence.
var DetectDevices func()

// SymbolLoader parses the kernel ELF image's symbol table once
// ReadKernelSyms has mapped the KernelImage region read-only. Set by the
// embedding program; nil skips symbol loading entirely.
var SymbolLoader func(image []byte)

var (
	// mapRegionFn/unmapFn let tests exercise ReadKernelSyms without
	// touching real page tables.
	mapRegionFn = vmm.MapRegion
	unmapFn     = vmm.Unmap
)

const (
	// defaultQueueCapacity bounds the bhqueue/runqueue/thread-queue size
	// used when no embedding program overrides it.
	defaultQueueCapacity = 256

	// kmemBase/kmemLimit bound the kernel virtual-address window the
	// huge-page and 4 KiB virtual id-heaps carve allocations from.
	kmemBase  = uintptr(0xffff800000000000)
	kmemLimit = uintptr(0xffff900000000000)
)

// Entry is the kernel's entry point, called from assembly with the two
// registers the bootloader left pointing at handoff data. rdi/rsi's
// meaning depends on which handoff path is detected: for a staged loader
// they are unused (multiboot locates its own info block via a fixed
// pointer set by SetInfoPtr before Entry runs); for a direct hypervisor
// handoff, rdi is the boot_params base address.
func Entry(rdi, rsi uintptr) {
	if bootparam.IsDirectHandoff(rdi) {
		// Parse also carries out the kernel-image-aware e820 split and the
		// transient KERNEL_BASE mapping when bootparam.KernelImage has been
		// set, since both only apply to this direct-handoff path.
		bootparam.Parse(rdi)
	} else {
		multiboot.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
			if e.Type == multiboot.MemAvailable {
				region.Add(region.Region{Type: region.Physical, Base: uintptr(e.PhysAddress), Length: uintptr(e.Length)})
			}
			return true
		})
	}

	initKernelHeaps()

	var cmdLine string
	if bootparam.IsDirectHandoff(rdi) {
		cmdLine = bootparam.Cmdline(rdi)
	} else {
		for k, v := range multiboot.GetBootCmdLine() {
			if k == v {
				cmdLine += k + " "
			} else {
				cmdLine += k + "." + v + " "
			}
		}
	}
	cmdline.Parse(cmdLine)

	initServiceNewStack()
}

// initKernelHeaps initializes pmm's physical frame heap first, then splits
// the kernel virtual window [kmemBase, kmemLimit) into two equal halves,
// counted in pages, for the virtual-huge and virtual-page id-heaps. It then
// builds the page-backed heap over the virtual-page heap and the
// linear-backed heap over the virtual-huge heap, and finally the general
// and locked mcaches, both over the page-backed heap. Heaps.Physical is not
// filled here; pmm keeps its own heap.
func initKernelHeaps() {
	pmm.InitPhysical()

	kmemPages := uint64(kmemLimit-kmemBase) >> mm.PageShift
	Heaps.VirtualHuge.AddRange(uint64(kmemBase)>>mm.PageShift, kmemPages/2)
	Heaps.VirtualPage.AddRange(uint64(kmemBase)>>mm.PageShift+kmemPages/2, kmemPages/2)

	kernelDefault := vmm.KernelDefault().Writable()
	Heaps.PageBacked = heap.NewPageBackedHeap(&Heaps.VirtualPage, kernelDefault)
	Heaps.LinearBacked = heap.NewLinearBackedHeap(&Heaps.VirtualHuge, 0)
	Heaps.General = heap.NewMCache(Heaps.PageBacked)
	Heaps.Locked = heap.NewLocking(heap.NewMCache(Heaps.PageBacked))
}

// initServiceNewStack runs the rest of boot on the stack Entry was called
// on; no new stack is allocated or switched to. In order it runs hardware
// RNG detection, the DetectHypervisor and DetectDevices hooks, CPU counting
// (smp.CountProcessors is passed no MADT, so it always reports one CPU),
// scheduler creation and secondary-core start, Go runtime init, IPI init,
// and KernelRuntimeInit, and then turns the boot CPU into CPU 0's run loop.
// It does not set up page tables, tagged regions, SMBIOS or CPU feature
// detection.
func initServiceNewStack() {
	hwrand.Init()

	if DetectHypervisor != nil {
		DetectHypervisor()
	}
	if DetectDevices != nil {
		DetectDevices()
	}

	numCPUs := smp.CountProcessors(nil)
	Sched = sched.NewScheduler(numCPUs, defaultQueueCapacity)
	smp.StartSecondaryCores(numCPUs)

	kfmt.Printf("boot: %d CPU(s) online\n", numCPUs)

	if err := goruntime.Init(int32(numCPUs)); err != nil {
		panic(err)
	}

	ipi.Init()
	sched.SendIPI = ipi.Send

	if KernelRuntimeInit != nil {
		KernelRuntimeInit()
	}

	// The boot CPU never returns from here: it becomes CPU 0's own run
	// loop, the same terminal path every AP enters through smp.NewCPU.
	runLoop := &sched.RunLoop{Sched: Sched, CPU: Sched.CPUs[0]}
	for {
		runLoop.Pass()
	}
}

// ReadKernelSyms maps the KernelImage region read-only and non-executable,
// hands it to SymbolLoader, and unmaps it again. It is a supplement to
// spec.md's distillation: the original loader's read_kernel_syms mapped
// the image to parse its own symbol table for backtraces, a debug-adjacent
// feature this core does not implement itself but keeps the boundary for.
func ReadKernelSyms() *kernel.Error {
	images := region.ByType(region.KernelImage)
	if len(images) == 0 || SymbolLoader == nil {
		return nil
	}

	flags := vmm.KernelDefault().ReadOnly().NoExec()
	for _, r := range images {
		page, err := mapRegionFn(mm.FrameFromAddress(r.Base), r.Length, flags.Entry())
		if err != nil {
			return err
		}

		view := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
			Data: page.Address(),
			Len:  int(r.Length),
			Cap:  int(r.Length),
		}))
		SymbolLoader(view)

		_ = unmapFn(page)
	}

	return nil
}
