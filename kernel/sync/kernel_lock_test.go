package sync

import "testing"

func TestKernelLockTryAcquireRespectsInterruptState(t *testing.T) {
	var l KernelLock
	l.state = uint32(Interrupt)

	if l.TryAcquire() {
		t.Fatal("expected TryAcquire to refuse while state is Interrupt")
	}
}

func TestKernelLockTryAcquireSucceedsWhenIdle(t *testing.T) {
	var l KernelLock

	if !l.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed on a free lock")
	}
	if !l.Held() {
		t.Fatal("expected Held to report true after TryAcquire")
	}

	if l.TryAcquire() {
		t.Fatal("expected second TryAcquire to fail while held")
	}
}

func TestKernelLockReleaseFreesLock(t *testing.T) {
	var l KernelLock
	l.TryAcquire()

	l.Release()

	if l.Held() {
		t.Fatal("expected lock to be free after Release")
	}
}
