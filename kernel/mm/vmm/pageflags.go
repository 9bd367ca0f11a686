package vmm

// PageFlags is a typed, monotone builder over PageTableEntryFlag. Unlike the
// raw bit constants, composing PageFlags methods always yields a consistent
// result regardless of call order: Writable() after ReadOnly() sets FlagRW,
// and ReadOnly() after Writable() clears it again.
type PageFlags PageTableEntryFlag

// KernelDefault is the starting point for building page flags for
// kernel-owned mappings: present, supervisor-only, read-only, executable.
func KernelDefault() PageFlags {
	return PageFlags(FlagPresent)
}

// Writable sets the read/write bit.
func (f PageFlags) Writable() PageFlags {
	return f | PageFlags(FlagRW)
}

// ReadOnly clears the read/write bit.
func (f PageFlags) ReadOnly() PageFlags {
	return f &^ PageFlags(FlagRW)
}

// Exec clears the no-execute bit.
func (f PageFlags) Exec() PageFlags {
	return f &^ PageFlags(FlagNoExecute)
}

// NoExec sets the no-execute bit.
func (f PageFlags) NoExec() PageFlags {
	return f | PageFlags(FlagNoExecute)
}

// User sets the user-accessible bit.
func (f PageFlags) User() PageFlags {
	return f | PageFlags(FlagUserAccessible)
}

// Entry returns the underlying PageTableEntryFlag value for use with Map,
// MapRegion and friends.
func (f PageFlags) Entry() PageTableEntryFlag {
	return PageTableEntryFlag(f)
}
