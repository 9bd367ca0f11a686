// Package kmain provides the kernel's Go-side entry point, called from the
// assembly stub that switches off the bootloader's stack.
package kmain

import (
	"unicore/kernel/boot"
	"unicore/multiboot"
)

// Kmain is invoked by the boot assembly stub. multibootInfoPtr is 0 for a
// direct hypervisor handoff, in which case bootParamsPtr instead points at
// the Linux boot_params structure boot.Entry knows how to parse.
func Kmain(multibootInfoPtr, bootParamsPtr uintptr) {
	if multibootInfoPtr != 0 {
		multiboot.SetInfoPtr(multibootInfoPtr)
	}

	boot.Entry(bootParamsPtr, multibootInfoPtr)
}
