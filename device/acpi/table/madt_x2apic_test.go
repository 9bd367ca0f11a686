package table

import "testing"

func TestWalkMADTEntriesCountsEnabledProcessors(t *testing.T) {
	buf := []byte{
		byte(MADTEntryTypeLocalAPIC), 8, 0, 0, 1, 0, 0, 0, // enabled
		byte(MADTEntryTypeLocalAPIC), 8, 0, 0, 0, 0, 0, 0, // disabled
		byte(MADTEntryTypeIOAPIC), 12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	var total, enabled int
	WalkMADTEntries(buf, func(_ MADTEntryType, isEnabled bool) bool {
		total++
		if isEnabled {
			enabled++
		}
		return true
	})

	if total != 2 {
		t.Fatalf("expected 2 LAPIC entries visited (IOAPIC skipped); got %d", total)
	}
	if enabled != 1 {
		t.Fatalf("expected 1 enabled entry; got %d", enabled)
	}
}

func TestWalkMADTEntriesHandlesX2APIC(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = byte(MADTEntryTypeLocalX2APIC)
	buf[1] = 16
	buf[8] = 1 // flags low byte: enabled

	var sawX2APIC, enabled bool
	WalkMADTEntries(buf, func(et MADTEntryType, isEnabled bool) bool {
		sawX2APIC = et == MADTEntryTypeLocalX2APIC
		enabled = isEnabled
		return true
	})

	if !sawX2APIC || !enabled {
		t.Fatalf("expected enabled x2APIC entry to be reported; sawX2APIC=%v enabled=%v", sawX2APIC, enabled)
	}
}
