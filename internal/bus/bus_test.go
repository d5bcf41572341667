package bus

import "testing"

func TestAcquireImmediateWhenFree(t *testing.T) {
	b := New(1.5)
	granted, wait := b.Acquire(1)
	if !granted || wait != 0 {
		t.Fatalf("expected immediate grant with zero wait, got granted=%v wait=%v", granted, wait)
	}
	if b.Owner() != 1 {
		t.Fatalf("owner: want 1 got %d", b.Owner())
	}
}

func TestAcquireQueuesWhenBusy(t *testing.T) {
	b := New(2.0)
	b.Acquire(1)
	granted, wait := b.Acquire(2)
	if granted {
		t.Fatalf("second acquire should not be granted immediately")
	}
	if wait != 2.0 {
		t.Fatalf("wait: want 2.0 got %v", wait)
	}
	if b.Waiting() != 1 {
		t.Fatalf("waiting: want 1 got %d", b.Waiting())
	}
}

func TestReleaseGrantsNextWaiterFIFO(t *testing.T) {
	b := New(1.0)
	b.Acquire(1)
	b.Acquire(2)
	b.Acquire(3)

	next, ok := b.Release(1)
	if !ok || next != 2 {
		t.Fatalf("expected waiter 2 granted next, got next=%d ok=%v", next, ok)
	}
	if b.Owner() != 2 {
		t.Fatalf("owner: want 2 got %d", b.Owner())
	}

	next, ok = b.Release(2)
	if !ok || next != 3 {
		t.Fatalf("expected waiter 3 granted next, got next=%d ok=%v", next, ok)
	}
}

func TestReleaseByNonOwnerIsNoop(t *testing.T) {
	b := New(1.0)
	b.Acquire(1)
	if _, ok := b.Release(99); ok {
		t.Fatalf("release by non-owner should not grant anyone")
	}
	if b.Owner() != 1 {
		t.Fatalf("owner should remain 1, got %d", b.Owner())
	}
}

func TestReleaseWithNoWaitersGoesIdle(t *testing.T) {
	b := New(1.0)
	b.Acquire(1)
	if _, ok := b.Release(1); ok {
		t.Fatalf("release with no waiters should not report a grant")
	}
	if b.Owner() != -1 {
		t.Fatalf("owner should be -1 (idle), got %d", b.Owner())
	}
}
