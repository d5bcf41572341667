// Package bus models the shared upstream channel as a single-owner token
// with a FIFO wait list, grounded on spec.md §5's "Shared resources" and
// original_source/ssdmodel/ssd.c's channel/bus arbitration calls.
package bus

// Bus is a single-owner token: at most one holder at a time, others queue
// FIFO. It does not itself schedule events; callers combine Acquire's
// returned wait position with their own event-engine delay to model
// arbitration latency.
type Bus struct {
	owner    int // holder id, or -1 if free
	waitList []int
	delay    float64
}

// New returns a free bus with the given fixed arbitration delay applied
// to every grant that was not immediate.
func New(arbitrationDelay float64) *Bus {
	return &Bus{owner: -1, delay: arbitrationDelay}
}

// Acquire requests ownership for holder id. If the bus is free, ownership
// is granted immediately (granted=true, wait=0). Otherwise id is appended
// to the FIFO wait list and granted is false; the caller should schedule
// a grant attempt after the bus is released and arbitration delay has
// elapsed.
func (b *Bus) Acquire(id int) (granted bool, wait float64) {
	if b.owner == -1 && len(b.waitList) == 0 {
		b.owner = id
		return true, 0
	}
	b.waitList = append(b.waitList, id)
	return false, b.delay
}

// Release relinquishes ownership. If the wait list is non-empty, the
// next waiter becomes the new owner and is returned as grantedID
// (ok=true); the caller is responsible for delivering the grant after
// ArbitrationDelay(). If no one is waiting, the bus goes idle (ok=false).
func (b *Bus) Release(id int) (grantedID int, ok bool) {
	if b.owner != id {
		return -1, false
	}
	if len(b.waitList) == 0 {
		b.owner = -1
		return -1, false
	}
	next := b.waitList[0]
	b.waitList = b.waitList[1:]
	b.owner = next
	return next, true
}

// Owner reports the current holder, or -1 if the bus is idle.
func (b *Bus) Owner() int { return b.owner }

// ArbitrationDelay is the fixed per-grant wait charged to a non-immediate
// acquire.
func (b *Bus) ArbitrationDelay() float64 { return b.delay }

// Waiting reports how many requesters are queued behind the current
// owner.
func (b *Bus) Waiting() int { return len(b.waitList) }

// WaitList returns a copy of the current FIFO wait queue, owner excluded.
func (b *Bus) WaitList() []int {
	out := make([]int, len(b.waitList))
	copy(out, b.waitList)
	return out
}

// Restore rebuilds a Bus from a previously captured owner, wait list, and
// arbitration delay, for checkpoint resume.
func Restore(owner int, waitList []int, delay float64) *Bus {
	wl := make([]int, len(waitList))
	copy(wl, waitList)
	return &Bus{owner: owner, waitList: wl, delay: delay}
}
