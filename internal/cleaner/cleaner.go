// Package cleaner implements victim selection and execution for the
// garbage collector described in spec.md §4.4, grounded on
// original_source/ssdmodel/ssd_clean.c's ssd_clean_element /
// ssd_pick_wear_aware / ssd_rate_limit functions.
package cleaner

import (
	"math/rand"
	"sort"

	"github.com/flashbox/ssdsim/internal/ftl"
)

// ThresholdX is the remaining-lifetime fraction below which wear-aware
// rate limiting engages (original_source/ssdmodel/ssd_clean.h's
// SSD_LIFETIME_THRESHOLD_X).
const ThresholdX = 0.80

// ColdMigrationY is the remaining-lifetime fraction below which a cleaned
// candidate triggers cold-data migration instead of a plain erase
// (spec.md §4.4).
const ColdMigrationY = 0.85

// Result summarizes one cleaning sweep.
type Result struct {
	BlocksCleaned int
	PagesMoved    int
	TotalCost     float64
}

// AverageLifetime returns the mean rem_lifetime across every block in
// plane (or, if plane is -1, across the whole element), regardless of
// block state. Grounded on ssd_clean.c's
// ssd_compute_avg_lifetime_in_plane/_in_element.
func AverageLifetime(e *ftl.Element, plane int) float64 {
	tot := 0.0
	n := 0
	for i := range e.Blocks {
		if plane != -1 && e.Blocks[i].PlaneNum != plane {
			continue
		}
		tot += float64(e.Blocks[i].RemLifetime)
		n++
	}
	if n == 0 {
		return 0
	}
	return tot / float64(n)
}

// eligibleBlocks returns SEALED blocks in plane with erase budget
// remaining, ordered by ascending valid-page count (the greedy
// histogram walk of spec.md §4.4 step 1-2).
func eligibleBlocks(e *ftl.Element, plane int) []int {
	var out []int
	for i := range e.Blocks {
		b := &e.Blocks[i]
		if b.State != ftl.BlockSealed {
			continue
		}
		if b.RemLifetime == 0 {
			continue
		}
		if plane != -1 && b.PlaneNum != plane {
			continue
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, c int) bool {
		return e.Blocks[out[a]].NumValid < e.Blocks[out[c]].NumValid
	})
	return out
}

// rateLimitSkip reports whether a wear-aware candidate with the given
// remaining lifetime should be skipped this pass, per ssd_clean.c's
// non-CAMERA_READY ssd_rate_limit: below ThresholdX, skip with
// probability 1 - percent_rem/ThresholdX.
func rateLimitSkip(remLifetime int, avgLifetime float64, rng *rand.Rand) bool {
	if avgLifetime <= 0 {
		return false
	}
	percentRem := float64(remLifetime) / avgLifetime
	if percentRem >= ThresholdX {
		return false
	}
	skipProb := 1 - percentRem/ThresholdX
	return rng.Float64() < skipProb
}

// pickGreedyVictim walks eligible blocks least-valid-first, applying
// wear-aware rate limiting when requested, and returns the first
// surviving candidate.
func pickGreedyVictim(e *ftl.Element, plane int, wearAware bool, rng *rand.Rand) (int, bool) {
	candidates := eligibleBlocks(e, plane)
	if len(candidates) == 0 {
		return -1, false
	}
	avg := AverageLifetime(e, plane)
	for _, b := range candidates {
		if wearAware && rateLimitSkip(e.Blocks[b].RemLifetime, avg, rng) {
			continue
		}
		return b, true
	}
	return -1, false
}

// pickRandomVictim implements the RANDOM policy: a uniformly random
// eligible block, with no rate limiting (spec.md's resolved Open
// Question — implemented rather than rejected at load time, see
// DESIGN.md).
func pickRandomVictim(e *ftl.Element, plane int, rng *rand.Rand) (int, bool) {
	candidates := eligibleBlocks(e, plane)
	if len(candidates) == 0 {
		return -1, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

func pickVictim(e *ftl.Element, plane int, policy ftl.CleaningPolicy, rng *rand.Rand) (int, bool) {
	switch policy {
	case ftl.CleanRandom:
		return pickRandomVictim(e, plane, rng)
	case ftl.CleanGreedyWearAware:
		return pickGreedyVictim(e, plane, true, rng)
	default:
		return pickGreedyVictim(e, plane, false, rng)
	}
}

func validLpns(b *ftl.Block) []int {
	var out []int
	for _, slot := range b.Pages {
		if slot != ftl.NoPage {
			out = append(out, int(slot))
		}
	}
	return out
}

// movePages relocates every valid page of blk (whose home plane is
// srcPlane) into destPlane, one page-write at a time, billing a
// pin-crossing transfer cost of 2x page-transfer whenever destPlane
// differs from srcPlane (spec.md §4.4 victim cleaning).
func movePages(e *ftl.Element, blk *ftl.Block, srcPlane, destPlane int, now float64) (cost float64, moved int, err error) {
	for _, lpn := range validLpns(blk) {
		if _, werr := e.WriteToPlane(destPlane, lpn, now+cost); werr != nil {
			return cost, moved, werr
		}
		pageCost := e.Geometry.PageWriteLatency + e.Geometry.TransferCost(e.Geometry.PageSectors)
		if destPlane != srcPlane {
			pageCost += 2 * e.Geometry.TransferCost(e.Geometry.PageSectors)
		}
		cost += pageCost
		moved++
	}
	return cost, moved, nil
}

// eraseBlock performs the post-migration erase bookkeeping: decrement
// rem_lifetime, stamp time_of_last_erasure, and hand the block back to
// ReclaimBlock to clear its free-bit and counters.
func eraseBlock(e *ftl.Element, blockIdx int, now float64) error {
	blk := &e.Blocks[blockIdx]
	if blk.RemLifetime > 0 {
		blk.RemLifetime--
	}
	blk.TimeLastErasure = now
	return e.ReclaimBlock(blockIdx)
}

// findColdBlock returns the block in plane, other than exclude, with
// num_valid > 0 and the oldest time_of_last_erasure — the cold-data
// migration destination-of-interest named in spec.md §4.4.
func findColdBlock(e *ftl.Element, plane, exclude int) int {
	best := -1
	for i := range e.Blocks {
		b := &e.Blocks[i]
		if i == exclude || b.PlaneNum != plane || b.NumValid == 0 {
			continue
		}
		if best == -1 || b.TimeLastErasure < e.Blocks[best].TimeLastErasure {
			best = i
		}
	}
	return best
}

// Clean runs a cleaning sweep against plane starting at simulated time
// now, continuing until the plane's free-block count exceeds its
// high-watermark or no further eligible victim can be found (spec.md §4.4,
// testable property: "a cleaning sweep terminates as soon as free blocks
// > high-watermark"). copyBack restricts page relocation to the victim's
// own plane; coldMigration enables the Y-threshold cold-data swap.
func Clean(e *ftl.Element, plane int, now float64, rng *rand.Rand, policy ftl.CleaningPolicy, copyBack, coldMigration bool) (Result, error) {
	var res Result
	cur := now
	high := e.Geometry.HighWatermark()

	for e.Planes[plane].FreeBlocks <= high {
		victim, ok := pickVictim(e, plane, policy, rng)
		if !ok {
			break
		}

		avg := AverageLifetime(e, plane)
		migrateCold := coldMigration && float64(e.Blocks[victim].RemLifetime) < ColdMigrationY*avg

		destPlane := plane
		if !copyBack {
			destPlane = e.NextWritePlane()
		}
		moveCost, moved, err := movePages(e, &e.Blocks[victim], plane, destPlane, cur)
		if err != nil {
			return res, err
		}
		cur += moveCost
		res.TotalCost += moveCost
		res.PagesMoved += moved

		if err := eraseBlock(e, victim, cur); err != nil {
			return res, err
		}
		cur += e.Geometry.BlockEraseLatency
		res.TotalCost += e.Geometry.BlockEraseLatency
		res.BlocksCleaned++

		if migrateCold {
			cold := findColdBlock(e, plane, victim)
			if cold >= 0 {
				if err := e.ActivateSpecificBlock(victim, cur); err != nil {
					return res, err
				}
				coldCost, coldMoved, err := movePages(e, &e.Blocks[cold], plane, plane, cur)
				if err != nil {
					return res, err
				}
				cur += coldCost
				res.TotalCost += coldCost
				res.PagesMoved += coldMoved

				if err := eraseBlock(e, cold, cur); err != nil {
					return res, err
				}
				cur += e.Geometry.BlockEraseLatency
				res.TotalCost += e.Geometry.BlockEraseLatency
				res.BlocksCleaned++
			}
		}

		if err := e.CheckInvariants(); err != nil {
			return res, err
		}
	}
	return res, nil
}
