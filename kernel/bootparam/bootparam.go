// Package bootparam parses the Linux/x86 boot_params struct used for a
// direct hypervisor handoff (as opposed to the staged loader handoff
// multiboot.go handles). Offsets are named constants taken from
// original_source/platform/pc/service.c's init_service rather than
// re-derived, since they are part of a frozen ABI, not a design choice.
package bootparam

import (
	"unicore/kernel"
	"unicore/kernel/cpu"
	"unicore/kernel/kfmt"
	"unicore/kernel/mm"
	"unicore/kernel/region"
	"reflect"
	"unsafe"
)

const (
	// offBootFlag/valBootFlag mark the legacy boot sector signature.
	offBootFlag = 0x01FE
	valBootFlag = uint16(0xAA55)

	// offHeaderMagic/valHeaderMagic mark the "HdrS" setup header magic.
	offHeaderMagic = 0x0202
	valHeaderMagic = uint32(0x53726448)

	// offE820Count/offE820Table locate the BIOS e820 memory map.
	offE820Count = 0x01E8
	offE820Table = 0x02D0
	maxE820Entries = 128

	// offCmdlinePtr/offCmdlineSize locate the relocated command line.
	offCmdlinePtr  = 0x0228
	offCmdlineSize = 0x0238

	// hugePageSize is the size of a single 2 MiB page table entry, the
	// granularity the transient kernel mapping built below uses.
	hugePageSize = 2 * 1024 * 1024

	// pml4Shift/pdptShift/pdtShift locate a virtual address's index within
	// each level of the amd64 4-level paging hierarchy, mirroring the
	// layout kernel/mm/vmm's (unexported) pageLevelShifts encodes.
	pml4Shift = 39
	pdptShift = 30
	pdtShift  = 21
	ptIndexMask = uintptr(0x1FF)

	ptFlagPresent  = uintptr(1 << 0)
	ptFlagRW       = uintptr(1 << 1)
	ptFlagHugePage = uintptr(1 << 7)
)

// KernelImageInfo describes where the kernel has been loaded in physical
// memory and the virtual address it is linked to run at. Set by the
// embedding program from its own linker-provided symbols before Entry
// runs a direct hypervisor handoff; a zero Size leaves Parse's e820 walk
// exactly as it is for a staged-loader handoff, with no kernel-aware
// split or transient mapping.
type KernelImageInfo struct {
	BasePhys uintptr
	VirtBase uintptr
	Size     uintptr
}

// KernelImage is the collaborator hook KernelImageInfo documents.
var KernelImage KernelImageInfo

// installMappingFn lets tests exercise splitKernelRegion's region-table
// side effects without performing the raw page table writes it normally
// triggers. Production code leaves it pointed at installKernelMapping.
var installMappingFn = installKernelMapping

// activePDTFn is used by tests to override the currently active PML4
// lookup; it will fault if called outside a real paging environment.
var activePDTFn = cpu.ActivePDT

// JumpToVirtualBase is a collaborator hook invoked once the transient
// KERNEL_BASE → KERNEL_BASE_PHYS mapping is live. Actually branching to
// the kernel's high virtual-address entry point needs an assembly
// trampoline, the same boundary kernel/cpu.Halt draws around hardware-only
// operations; nil leaves the mapping installed but does not jump anywhere,
// which only matters for tests and staged-loader boots that never call it.
var JumpToVirtualBase func()

// e820Type mirrors the BIOS e820 "type" field values.
type e820Type uint32

const (
	e820TypeRAM      e820Type = 1
	e820TypeReserved e820Type = 2
	e820TypeACPI     e820Type = 3
	e820TypeNVS      e820Type = 4
)

// e820Entry mirrors one raw BIOS e820 table entry.
type e820Entry struct {
	Base   uint64
	Length uint64
	Type   e820Type
}

// IsDirectHandoff reports whether the boot_params structure at base carries
// the legacy boot-sector and setup-header magic values a direct hypervisor
// handoff is expected to provide. A staged loader (multiboot) handoff does
// not set up this structure at all, so this check is how boot.Entry tells
// the two apart.
func IsDirectHandoff(base uintptr) bool {
	return readUint16(base+offBootFlag) == valBootFlag &&
		readUint32(base+offHeaderMagic) == valHeaderMagic
}

// Parse reads the e820 memory map out of the boot_params structure at base
// and appends regions for the entries regionTypeFor keeps, classified by
// each entry's own type; reserved, ACPI-NVS and unknown entries are skipped.
// When KernelImage.Size is non-zero, the RAM entry containing
// KernelImage.BasePhys is handed to splitKernelRegion instead of being added
// whole. The original C loader has a known equality-vs-assignment slip that
// overwrites every entry's type with PHYSICAL; we deliberately do not
// reproduce that bug here.
func Parse(base uintptr) {
	count := readUint8(base + offE820Count)
	if int(count) > maxE820Entries {
		count = maxE820Entries
	}

	entrySize := unsafe.Sizeof(e820Entry{})
	for i := uint8(0); i < count; i++ {
		e := (*e820Entry)(unsafe.Pointer(base + offE820Table + uintptr(i)*entrySize))

		rt, ok := regionTypeFor(e.Type)
		if !ok {
			continue
		}

		entryBase, entryLength := uintptr(e.Base), uintptr(e.Length)
		if rt == region.Physical && KernelImage.Size > 0 &&
			entryBase <= KernelImage.BasePhys && entryBase+entryLength > KernelImage.BasePhys {
			splitKernelRegion(entryBase, entryLength)
			continue
		}

		region.Add(region.Region{
			Type:   rt,
			Base:   entryBase,
			Length: entryLength,
		})
	}
}

// splitKernelRegion carves the e820 entry that contains the loaded kernel
// image into the ranges Parse would otherwise add as a single Physical
// region: the free span before the kernel, two pages reserved immediately
// before the kernel image for a transient PDPT and PDT, the kernel image
// itself, and the free span after it (page-aligned). It then installs the
// KERNEL_BASE → KernelImage.BasePhys mapping those two reserved pages back,
// following service.c's init_service split for a direct hypervisor
// handoff.
func splitKernelRegion(entryBase, entryLength uintptr) {
	kernelBase := KernelImage.BasePhys
	kernelEnd := pageAlignUp(kernelBase + KernelImage.Size)
	pdtPage := kernelBase - mm.PageSize
	pdptPage := pdtPage - mm.PageSize

	if pdptPage < entryBase {
		kfmt.Printf("bootparam: not enough room before the kernel image for transient page tables; leaving region [%#x, %#x) unsplit\n", entryBase, entryBase+entryLength)
		region.Add(region.Region{Type: region.Physical, Base: entryBase, Length: entryLength})
		return
	}

	region.Add(region.Region{Type: region.Physical, Base: entryBase, Length: pdptPage - entryBase})
	region.Add(region.Region{Type: region.InitialPages, Base: pdptPage, Length: 2 * mm.PageSize})
	region.Add(region.Region{Type: region.KernelImage, Base: kernelBase, Length: kernelEnd - kernelBase})

	if entryEnd := entryBase + entryLength; entryEnd > kernelEnd {
		region.Add(region.Region{Type: region.Physical, Base: kernelEnd, Length: entryEnd - kernelEnd})
	}

	installMappingFn(pdptPage, pdtPage, KernelImage.VirtBase, kernelBase, KernelImage.Size)
}

// installKernelMapping writes a transient PDPT (at pdptPage) with a single
// entry pointing at a transient PDT (at pdtPage), fills that PDT with
// pad(size, 2 MiB) worth of 2 MiB huge-page entries mapping virtBase to
// physBase, and patches the slot for virtBase into the currently active
// PML4 so the mapping takes effect immediately: the active PML4 already
// maps low physical addresses identically, which is where this code itself
// is still executing from. Ported from service.c's
// jump_to_virtual/map_setup_2mbpages.
func installKernelMapping(pdptPage, pdtPage, virtBase, physBase, size uintptr) {
	kernel.Memset(pdptPage, 0, mm.PageSize)
	kernel.Memset(pdtPage, 0, mm.PageSize)

	pdptIndex := (virtBase >> pdptShift) & ptIndexMask
	writeEntry(pdptPage, pdptIndex, pdtPage|ptFlagPresent|ptFlagRW)

	pdtIndex := (virtBase >> pdtShift) & ptIndexMask
	pageCount := hugePageAlignUp(size) / hugePageSize
	for i := uintptr(0); i < pageCount; i++ {
		entry := (physBase + i*hugePageSize) | ptFlagPresent | ptFlagRW | ptFlagHugePage
		writeEntry(pdtPage, pdtIndex+i, entry)
	}

	pml4Index := (virtBase >> pml4Shift) & ptIndexMask
	writeEntry(activePDTFn(), pml4Index, pdptPage|ptFlagPresent|ptFlagRW)

	if JumpToVirtualBase != nil {
		JumpToVirtualBase()
	}
}

func writeEntry(tableAddr, index, value uintptr) {
	*(*uintptr)(unsafe.Pointer(tableAddr + index*unsafe.Sizeof(uintptr(0)))) = value
}

func pageAlignUp(addr uintptr) uintptr {
	return (addr + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

func hugePageAlignUp(size uintptr) uintptr {
	return (size + hugePageSize - 1) &^ (hugePageSize - 1)
}

// regionTypeFor maps a raw e820 type onto the kernel's own region
// classification, preserving the entry's own type rather than stomping it
// the way the original loader's equality-vs-assignment slip did. RAM
// becomes allocatable Physical memory; ACPI-reclaimable entries become
// Reclaim so they fold back into the physical heap once ReclaimRegions
// runs; reserved and ACPI-NVS entries are not tracked at all, since this
// core never allocates out of or reclaims them.
func regionTypeFor(t e820Type) (region.Type, bool) {
	switch t {
	case e820TypeRAM:
		return region.Physical, true
	case e820TypeACPI:
		return region.Reclaim, true
	default:
		return 0, false
	}
}

// Cmdline reads the NUL-terminated command line string relocated by the
// bootloader, given its own base pointer.
func Cmdline(base uintptr) string {
	ptr := uintptr(readUint32(base + offCmdlinePtr))
	size := readUint32(base + offCmdlineSize)
	if ptr == 0 || size == 0 {
		return ""
	}

	buf := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: ptr,
		Len:  int(size),
		Cap:  int(size),
	}))

	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func readUint8(addr uintptr) uint8   { return *(*uint8)(unsafe.Pointer(addr)) }
func readUint16(addr uintptr) uint16 { return *(*uint16)(unsafe.Pointer(addr)) }
func readUint32(addr uintptr) uint32 { return *(*uint32)(unsafe.Pointer(addr)) }
