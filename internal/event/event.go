// Package event implements the discrete-event engine: a time-ordered
// priority queue plus a churn-free free-list of event records, grounded on
// the same "intrusive, slab-recycled record" idiom the teacher's buffer
// pool uses for page frames (server/innodb/buffer_pool.FreeBlockList) and
// on the container/heap-based timer queue in the pack's
// joeycumines-go-utilpkg/eventloop package (see DESIGN.md).
package event

import "container/heap"

// Type tags the payload an Event carries. The top-level device FSM
// switches on this, never on the payload's dynamic type directly.
type Type int

const (
	TypeIOAccessArrive Type = iota
	TypeDeviceOverheadComplete
	TypeDeviceDataTransferComplete
	TypeDeviceAccessComplete
	TypeIOInterruptReconnect
	TypeIOInterruptDisconnect
	TypeIOInterruptCompletion
	TypeCleanElement
	TypeCleanGang
	TypeBusGrant
	TypeCheckpoint
	TypeNull // service tick used to pull the next trace record
	TypeStop
	TypeExit
)

func (t Type) String() string {
	switch t {
	case TypeIOAccessArrive:
		return "IO_ACCESS_ARRIVE"
	case TypeDeviceOverheadComplete:
		return "DEVICE_OVERHEAD_COMPLETE"
	case TypeDeviceDataTransferComplete:
		return "DEVICE_DATA_TRANSFER_COMPLETE"
	case TypeDeviceAccessComplete:
		return "DEVICE_ACCESS_COMPLETE"
	case TypeIOInterruptReconnect:
		return "IO_INTERRUPT_COMPLETE(RECONNECT)"
	case TypeIOInterruptDisconnect:
		return "IO_INTERRUPT_COMPLETE(DISCONNECT)"
	case TypeIOInterruptCompletion:
		return "IO_INTERRUPT_COMPLETE(COMPLETION)"
	case TypeCleanElement:
		return "SSD_CLEAN_ELEMENT"
	case TypeCleanGang:
		return "SSD_CLEAN_GANG"
	case TypeBusGrant:
		return "BUS_GRANT"
	case TypeCheckpoint:
		return "CHECKPOINT"
	case TypeNull:
		return "NULL_EVENT"
	case TypeStop:
		return "STOP_SIM"
	case TypeExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Event is one scheduled occurrence. Payload is a tagged sum: callers
// switch on Type and type-assert Payload accordingly; the queue itself
// never inspects it.
type Event struct {
	Time    float64
	Type    Type
	Payload interface{}

	seq   uint64 // insertion sequence, breaks time ties FIFO
	index int    // heap.Interface bookkeeping; -1 when off-queue
}

// Off reports whether this event is currently outside the queue (either
// never scheduled, or removed by next()/deschedule()).
func (e *Event) Off() bool { return e.index == -1 }

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x interface{}) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// allocBatch is how many fresh *Event records the free-list grows by when
// it runs dry, bounding per-event allocation churn the way the source's
// batch allocator does.
const allocBatch = 256

// Engine owns the simulated clock, the time-ordered queue, and the
// free-list used to recycle Event records.
type Engine struct {
	queue   eventHeap
	free    []*Event
	nextSeq uint64
	clock   float64
}

// NewEngine returns an Engine with its clock at time 0.
func NewEngine() *Engine {
	return &Engine{queue: make(eventHeap, 0, 64)}
}

// Now returns the simulated clock, which only ever advances via Next.
func (en *Engine) Now() float64 { return en.clock }

// Len reports how many events are currently scheduled.
func (en *Engine) Len() int { return len(en.queue) }

// Alloc returns a recycled Event if the free-list has one, else grows the
// free-list by allocBatch and returns one of the new records. This never
// fails: Go's allocator aborts the process on true OOM, which matches the
// source's "alloc() never fails" contract.
func (en *Engine) Alloc() *Event {
	if len(en.free) == 0 {
		batch := make([]Event, allocBatch)
		en.free = make([]*Event, 0, allocBatch)
		for i := range batch {
			batch[i].index = -1
			en.free = append(en.free, &batch[i])
		}
	}
	n := len(en.free)
	e := en.free[n-1]
	en.free[n-1] = nil
	en.free = en.free[:n-1]
	*e = Event{index: -1}
	return e
}

// Recycle returns e to the free-list. e must not currently be scheduled.
func (en *Engine) Recycle(e *Event) {
	e.Payload = nil
	en.free = append(en.free, e)
}

// Schedule inserts e into the time-ordered queue. Past-time rejection is
// intentionally disabled: callers may submit events whose Time is less
// than the current clock (the "late event" relaxation, see SPEC_FULL.md
// §4.1/§9) — the engine still serves everything in non-decreasing time
// order and never moves the clock backward.
func (en *Engine) Schedule(e *Event) {
	e.seq = en.nextSeq
	en.nextSeq++
	heap.Push(&en.queue, e)
}

// Next removes and returns the earliest-scheduled event, advancing the
// simulated clock to its time. Returns nil if the queue is empty.
func (en *Engine) Next() *Event {
	if len(en.queue) == 0 {
		return nil
	}
	e := heap.Pop(&en.queue).(*Event)
	if e.Time > en.clock {
		en.clock = e.Time
	}
	return e
}

// Deschedule removes e from the queue if it is currently on it, returning
// true on success. It is the only way to cancel a pending timer; there is
// no broadcast cancellation across components.
func (en *Engine) Deschedule(e *Event) bool {
	if e.index < 0 || e.index >= len(en.queue) || en.queue[e.index] != e {
		return false
	}
	heap.Remove(&en.queue, e.index)
	return true
}

// PeekTime reports the time of the earliest still-queued event without
// consuming it (ok is false when the queue is empty), so a caller can
// decide whether to stop before the next Next() call would advance the
// clock past some point of interest.
func (en *Engine) PeekTime() (t float64, ok bool) {
	if len(en.queue) == 0 {
		return 0, false
	}
	return en.queue[0].Time, true
}

// Snapshot captures one queued event's scheduling fields, for checkpoint
// resume. Payload is carried as-is; the caller is responsible for
// registering any concrete payload types with gob before encoding a
// Snapshot slice.
type Snapshot struct {
	Time    float64
	Type    Type
	Payload interface{}
	Seq     uint64
}

// Snapshot captures the full pending queue in heap order (not time order;
// Restore rebuilds heap order itself with heap.Init).
func (en *Engine) Snapshot() []Snapshot {
	out := make([]Snapshot, len(en.queue))
	for i, e := range en.queue {
		out[i] = Snapshot{Time: e.Time, Type: e.Type, Payload: e.Payload, Seq: e.seq}
	}
	return out
}

// Restore replaces the engine's clock and pending queue with a previously
// captured Snapshot slice, per spec.md §6's checkpoint-restore contract.
// The free-list is left as-is; Alloc still grows it on demand.
func (en *Engine) Restore(clock float64, snaps []Snapshot) {
	en.clock = clock
	for _, e := range en.queue {
		en.Recycle(e)
	}
	en.queue = en.queue[:0]
	maxSeq := en.nextSeq
	for _, s := range snaps {
		e := en.Alloc()
		e.Time = s.Time
		e.Type = s.Type
		e.Payload = s.Payload
		e.seq = s.Seq
		e.index = len(en.queue)
		en.queue = append(en.queue, e)
		if s.Seq >= maxSeq {
			maxSeq = s.Seq + 1
		}
	}
	heap.Init(&en.queue)
	en.nextSeq = maxSeq
}
