package event

import "testing"

func TestOrderingAndClockAdvance(t *testing.T) {
	en := NewEngine()
	e1 := en.Alloc()
	e1.Time, e1.Type = 5.0, TypeNull
	e2 := en.Alloc()
	e2.Time, e2.Type = 1.0, TypeNull
	e3 := en.Alloc()
	e3.Time, e3.Type = 3.0, TypeNull

	en.Schedule(e1)
	en.Schedule(e2)
	en.Schedule(e3)

	want := []float64{1.0, 3.0, 5.0}
	for _, w := range want {
		got := en.Next()
		if got == nil || got.Time != w {
			t.Fatalf("expected time %v, got %+v", w, got)
		}
		if en.Now() != w {
			t.Fatalf("expected clock to advance to %v, got %v", w, en.Now())
		}
	}
	if en.Next() != nil {
		t.Fatalf("expected empty queue")
	}
}

func TestFIFOTieBreakAtEqualTime(t *testing.T) {
	en := NewEngine()
	first := en.Alloc()
	first.Time = 2.0
	first.Payload = "first"
	en.Schedule(first)

	second := en.Alloc()
	second.Time = 2.0
	second.Payload = "second"
	en.Schedule(second)

	third := en.Alloc()
	third.Time = 2.0
	third.Payload = "third"
	en.Schedule(third)

	for _, want := range []string{"first", "second", "third"} {
		got := en.Next()
		if got.Payload.(string) != want {
			t.Fatalf("expected %q, got %q", want, got.Payload)
		}
	}
}

func TestLateEventDoesNotRewindClock(t *testing.T) {
	en := NewEngine()
	a := en.Alloc()
	a.Time = 10.0
	en.Schedule(a)
	en.Next() // clock now at 10.0

	late := en.Alloc()
	late.Time = 3.0 // "late" insertion, allowed per spec
	en.Schedule(late)

	got := en.Next()
	if got.Time != 3.0 {
		t.Fatalf("expected the late event's own time, got %v", got.Time)
	}
	if en.Now() != 10.0 {
		t.Fatalf("clock must never move backward, got %v", en.Now())
	}
}

func TestDeschedule(t *testing.T) {
	en := NewEngine()
	a := en.Alloc()
	a.Time = 1.0
	en.Schedule(a)
	b := en.Alloc()
	b.Time = 2.0
	en.Schedule(b)

	if !en.Deschedule(a) {
		t.Fatalf("expected deschedule of a scheduled event to succeed")
	}
	if en.Deschedule(a) {
		t.Fatalf("expected deschedule of an already-removed event to fail")
	}
	if en.Len() != 1 {
		t.Fatalf("expected 1 remaining event, got %d", en.Len())
	}
	got := en.Next()
	if got != b {
		t.Fatalf("expected remaining event to be b")
	}
}

func TestAllocRecycleRoundTrip(t *testing.T) {
	en := NewEngine()
	e := en.Alloc()
	e.Time = 42
	e.Type = TypeCheckpoint
	en.Recycle(e)

	again := en.Alloc()
	if again.Time != 0 || again.Type != TypeIOAccessArrive {
		t.Fatalf("expected recycled event to be zeroed, got %+v", again)
	}
}

func TestAllocGrowsInBatchesWithoutReorderingLiveEvents(t *testing.T) {
	en := NewEngine()
	var live []*Event
	for i := 0; i < allocBatch+10; i++ {
		e := en.Alloc()
		e.Time = float64(i)
		en.Schedule(e)
		live = append(live, e)
	}
	for i := 0; i < len(live); i++ {
		got := en.Next()
		if got.Time != float64(i) {
			t.Fatalf("order broken at %d: got time %v", i, got.Time)
		}
	}
}
