package boot

import (
	"unicore/kernel"
	"unicore/kernel/mm"
	"unicore/kernel/mm/pmm"
	"unicore/kernel/mm/vmm"
	"unicore/kernel/region"
)

var (
	reclaimed bool

	errAlreadyReclaimed = &kernel.Error{Module: "boot", Message: "regions already reclaimed"}

	// panicFn lets tests observe the double-invocation guard without
	// halting.
	panicFn = func(e *kernel.Error) { panic(e) }
)

// ReclaimRegions folds every Reclaim region back into the physical heap and
// unmaps the loader's initial page tables. It is one-shot: callers must
// have migrated every pointer into loader-owned memory before calling it,
// and a second call panics rather than silently no-oping, since a silent
// no-op would hide exactly the kind of dangling-pointer bug this guard
// exists to catch.
func ReclaimRegions() {
	if reclaimed {
		panicFn(errAlreadyReclaimed)
		return
	}
	reclaimed = true

	for _, r := range region.ByType(region.Reclaim) {
		pmm.ReclaimRange(r.Base, r.Length)
	}

	for _, r := range region.ByType(region.InitialPages) {
		pageCount := r.Length >> mm.PageShift
		for i := uintptr(0); i < pageCount; i++ {
			_ = vmm.Unmap(mm.PageFromAddress(r.Base + i<<mm.PageShift))
		}
	}
}
