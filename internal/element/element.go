// Package element implements the per-package request dispatcher: queueing,
// within-batch deduplication, read/write batch timing, and the
// media-busy interlock that excludes both dispatch and cleaning, grounded
// on spec.md §4.5 and original_source/ssdmodel/ssd.c's ssd_activate_elem.
package element

import (
	"math/rand"

	"github.com/flashbox/ssdsim/internal/cleaner"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/simerr"
)

// Request is one page-aligned sub-request dispatched to an element.
type Request struct {
	ID        uint64
	LPN       int
	Count     int // sectors transferred
	IsWrite   bool
	ArrivedAt float64
}

// Completion reports when a sub-request's access finished and how much
// simulated time it billed, for the caller (the device FSM) to schedule
// a DEVICE_ACCESS_COMPLETE event.
type Completion struct {
	Req        Request
	FinishedAt float64
	Deduped    bool // true if this completed instantly as a within-batch duplicate
}

// Dispatcher holds one element's queue and FTL state plus the cleaning
// parameters that apply to it.
type Dispatcher struct {
	FTL *ftl.Element

	Queue     []Request
	MediaBusy bool

	CopyBack      bool
	CleanInBG     bool
	ColdMigration bool
	Policy        ftl.CleaningPolicy

	Rng *rand.Rand
}

// NewDispatcher builds a dispatcher bound to element e.
func NewDispatcher(e *ftl.Element, copyBack, cleanInBG, coldMigration bool, policy ftl.CleaningPolicy, rng *rand.Rand) *Dispatcher {
	return &Dispatcher{FTL: e, CopyBack: copyBack, CleanInBG: cleanInBG, ColdMigration: coldMigration, Policy: policy, Rng: rng}
}

// queueCap is the batch-size bound from spec.md §4.5: 1 request when
// copy-back is disabled (each request must fully drain before the next
// starts, since cross-plane relocation serializes on one global active
// page), or maxReqsElemQueue when enabled.
const maxReqsElemQueue = 16

func (d *Dispatcher) queueCap() int {
	if !d.CopyBack {
		return 1
	}
	return maxReqsElemQueue
}

// Enqueue admits a request onto this element's queue.
func (d *Dispatcher) Enqueue(r Request) { d.Queue = append(d.Queue, r) }

// needsCleaning reports whether any of the element's planes is at or
// below its low watermark, returning the first such plane — the foreground trigger condition from
// spec.md testable property 11 ("at low-watermark exactly, cleaning IS
// triggered; at low+1, it is not").
func (d *Dispatcher) needsCleaning() (plane int, yes bool) {
	low := d.FTL.Geometry.LowWatermark()
	for p := range d.FTL.Planes {
		if d.FTL.Planes[p].FreeBlocks <= low {
			return p, true
		}
	}
	return -1, false
}

// NeedsCleaning reports whether any of the element's planes is at or
// below its low watermark, for callers that must decide between the
// foreground and background cleaning paths before invoking either.
func (d *Dispatcher) NeedsCleaning() bool {
	_, yes := d.needsCleaning()
	return yes
}

// RunForegroundCleaning runs a synchronous cleaning sweep on the first
// plane found at/below its low watermark, billing its cost to now, and
// returns the advanced simulated time. Callers in foreground mode should
// invoke this before computing request schedule times, per spec.md's
// "in foreground, all cleaning time is billed to the very next request".
func (d *Dispatcher) RunForegroundCleaning(now float64) (float64, error) {
	plane, yes := d.needsCleaning()
	if !yes {
		return now, nil
	}
	res, err := cleaner.Clean(d.FTL, plane, now, d.Rng, d.Policy, d.CopyBack, d.ColdMigration)
	if err != nil {
		return now, err
	}
	return now + res.TotalCost, nil
}

// DispatchBackgroundCleaning runs one cleaning sweep on the first plane
// found at/below its low watermark, regardless of queue depth (spec.md
// §4.4), and reports the cost incurred, to be billed against a dedicated
// CLEAN_ELEMENT completion event rather than the next request. When no
// plane is at/below its low watermark it cleans nothing and returns 0.
func (d *Dispatcher) DispatchBackgroundCleaning(now float64) (cost float64, err error) {
	plane, yes := d.needsCleaning()
	if !yes {
		return 0, nil
	}
	res, err := cleaner.Clean(d.FTL, plane, now, d.Rng, d.Policy, d.CopyBack, d.ColdMigration)
	if err != nil {
		return 0, err
	}
	return res.TotalCost, nil
}

// Activate drains up to queueCap() requests and times them per spec.md
// §4.5 steps 3-7: within-batch duplicates (same lpn, same direction)
// complete instantly; reads are timed first, then writes (which perform
// FTL bookkeeping and may seal/allocate blocks, and which overlap across
// parallel-units instead of billing serially when copy-back is enabled
// and NumParallelUnits > 1, step 6); both read and write costs accrue
// starting from now.
//
// If MediaBusy is set, Activate returns immediately with no completions
// (step 1). If background cleaning is configured, callers should invoke
// DispatchBackgroundCleaning instead of Activate when the element
// triggers (step 2); Activate itself never runs cleaning unless it is the
// foreground path (RunForegroundCleaning), which callers invoke first.
func (d *Dispatcher) Activate(now float64) ([]Completion, error) {
	if d.MediaBusy {
		return nil, nil
	}
	if len(d.Queue) == 0 {
		return nil, nil
	}

	batchCap := d.queueCap()
	if batchCap > len(d.Queue) {
		batchCap = len(d.Queue)
	}
	batch := d.Queue[:batchCap]
	d.Queue = d.Queue[batchCap:]

	type seenKey struct {
		lpn     int
		isWrite bool
	}
	seen := make(map[seenKey]bool)

	var reads, writes []Request
	var completions []Completion
	for _, r := range batch {
		key := seenKey{r.LPN, r.IsWrite}
		if seen[key] {
			completions = append(completions, Completion{Req: r, FinishedAt: now, Deduped: true})
			d.Stats().RecordRequest(0)
			continue
		}
		seen[key] = true
		if r.IsWrite {
			writes = append(writes, r)
		} else {
			reads = append(reads, r)
		}
	}

	cur := now
	for _, r := range reads {
		if _, err := d.FTL.ReadPage(r.LPN); err != nil {
			return completions, err
		}
		cost := d.FTL.Geometry.PageReadLatency + d.FTL.Geometry.TransferCost(r.Count)
		cur += cost
		completions = append(completions, Completion{Req: r, FinishedAt: cur})
	}

	var writeCompletions []Completion
	var err error
	if d.CopyBack && d.FTL.Geometry.NumParallelUnits > 1 {
		cur, writeCompletions, err = d.billWritesCopyBack(writes, cur)
	} else {
		cur, writeCompletions, err = d.billWritesSerial(writes, cur)
	}
	completions = append(completions, writeCompletions...)
	if err != nil {
		return completions, err
	}

	d.Stats().RecordRequest(cur - now)
	return completions, nil
}

// billWritesSerial times writes one at a time against the element's
// round-robin active plane, the path used whenever copy-back is off or the
// element has a single parallel unit (spec.md §4.3 step 5): a write costs one page-write-latency plus transfer, plus a
// second page-write-latency and summary-sector transfer if it just sealed
// its active block (step 1).
func (d *Dispatcher) billWritesSerial(writes []Request, start float64) (float64, []Completion, error) {
	cur := start
	var completions []Completion
	for _, r := range writes {
		before := d.FTL.SealedCount()
		if _, err := d.FTL.WritePage(r.LPN, cur); err != nil {
			return cur, completions, err
		}
		cost := d.FTL.Geometry.PageWriteLatency + d.FTL.Geometry.TransferCost(r.Count)
		if d.FTL.SealedCount() > before {
			cost += d.FTL.Geometry.PageWriteLatency + d.FTL.Geometry.TransferCost(d.FTL.Geometry.PageSectors)
		}
		cur += cost
		completions = append(completions, Completion{Req: r, FinishedAt: cur})
	}
	return cur, completions, nil
}

// billWritesCopyBack implements spec.md §4.5 step 6's parallel-unit
// overlap: writes are grouped into rounds of up to NumParallelUnits, each
// round picking one destination plane per parallel-unit (the plane with
// the largest free_blocks*pages_per_block+free_pages_in_active_block
// score among that unit's planes satisfying the version-ordering
// invariant) and writing one request into it. Writes within a round
// proceed in parallel and are billed at the slowest member; rounds
// themselves run one after another.
func (d *Dispatcher) billWritesCopyBack(writes []Request, start float64) (float64, []Completion, error) {
	g := d.FTL.Geometry
	numUnits := g.NumParallelUnits
	if numUnits < 1 {
		numUnits = 1
	}
	lastPlane := make([]int, numUnits)
	for i := range lastPlane {
		lastPlane[i] = -1
	}

	cur := start
	var completions []Completion
	for i := 0; i < len(writes); i += numUnits {
		end := i + numUnits
		if end > len(writes) {
			end = len(writes)
		}
		round := writes[i:end]

		roundCost := 0.0
		roundCompletions := make([]Completion, len(round))
		for unit, r := range round {
			plane, err := d.pickCopyBackPlane(unit, lastPlane[unit])
			if err != nil {
				return cur, completions, err
			}
			before := d.FTL.SealedCount()
			if _, err := d.FTL.WriteToPlane(plane, r.LPN, cur); err != nil {
				return cur, completions, err
			}
			cost := g.PageWriteLatency + g.TransferCost(r.Count)
			if d.FTL.SealedCount() > before {
				cost += g.PageWriteLatency + g.TransferCost(g.PageSectors)
			}
			if cost > roundCost {
				roundCost = cost
			}
			lastPlane[unit] = plane
			roundCompletions[unit] = Completion{Req: r}
		}
		cur += roundCost
		for i := range roundCompletions {
			roundCompletions[i].FinishedAt = cur
		}
		completions = append(completions, roundCompletions...)
	}
	return cur, completions, nil
}

// pickCopyBackPlane selects parallel-unit unit's best write target: the
// plane with the largest free_blocks*pages_per_block+free_pages_in_
// active_block score, restricted to planes whose active block is at
// least as version-advanced as prevPlane's was when it was last picked
// for this unit (spec.md §4.5 step 6).
func (d *Dispatcher) pickCopyBackPlane(unit, prevPlane int) (int, error) {
	best := -1
	bestScore := -1
	for p := range d.FTL.Planes {
		if d.FTL.Planes[p].ParUnitNum != unit {
			continue
		}
		if !d.versionOrdered(p, prevPlane) {
			continue
		}
		if score := d.planeScore(p); score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == -1 {
		return 0, simerr.NewResourceExhaustion("no eligible plane in parallel-unit %d", unit)
	}
	return best, nil
}

// planeScore is free_blocks*pages_per_block + free_pages_in_active_block.
func (d *Dispatcher) planeScore(p int) int {
	pl := &d.FTL.Planes[p]
	freePages := 0
	if pl.ActiveBlock != -1 {
		freePages = d.FTL.Geometry.DataPagesPerBlock() - d.FTL.Blocks[pl.ActiveBlock].WriteCursor
	}
	return pl.FreeBlocks*d.FTL.Geometry.PagesPerBlock + freePages
}

// versionOrdered reports whether plane p's active block is at least as
// advanced (by BSN, or by write cursor at equal BSN) as prevPlane's active
// block was when it was last selected. A plane with no active block yet
// always qualifies, since its next allocation is guaranteed the newest BSN.
func (d *Dispatcher) versionOrdered(p, prevPlane int) bool {
	if prevPlane == -1 || d.FTL.Planes[prevPlane].ActiveBlock == -1 {
		return true
	}
	pl := &d.FTL.Planes[p]
	if pl.ActiveBlock == -1 {
		return true
	}
	cur := &d.FTL.Blocks[pl.ActiveBlock]
	prev := &d.FTL.Blocks[d.FTL.Planes[prevPlane].ActiveBlock]
	if cur.BSN != prev.BSN {
		return cur.BSN > prev.BSN
	}
	return cur.WriteCursor > prev.WriteCursor
}

// Stats exposes the bound element's running counters.
func (d *Dispatcher) Stats() *ftl.Stats { return &d.FTL.Stats }

// ValidateRange rejects a request whose lba+count would exceed the
// element's exported page count — one of the two fatal DEVICE_OVERHEAD
// preconditions named in spec.md §4.7.
func (d *Dispatcher) ValidateRange(lpn, count int) error {
	if lpn < 0 || lpn+count > len(d.FTL.LBATable) {
		return simerr.NewDomainError("request lpn=%d count=%d exceeds element's %d exported pages", lpn, count, len(d.FTL.LBATable))
	}
	return nil
}
