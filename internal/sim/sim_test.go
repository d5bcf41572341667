package sim

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbox/ssdsim/internal/checkpoint"
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/event"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/paramfile"
	"github.com/flashbox/ssdsim/internal/tracefmt"
)

func singleElementGeometry() ftl.Geometry {
	return ftl.Geometry{
		PageSectors:          8,
		SectorDataBytes:      512,
		SectorMetaBytes:      16,
		PagesPerBlock:        64,
		PlanesPerPkg:         1,
		BlocksPerPlane:       4,
		BlocksPerElement:     4,
		FlashChipElements:    1,
		ElementsPerGang:      1,
		ElementStridePages:   8,
		ReservePercent:       10,
		MinFreeBlocksPercent: 0,
		MaxErasures:          10000,
		NumParallelUnits:     1,
		PlaneMapping:         ftl.MappingConcat,
		CleanPolicy:          ftl.CleanGreedyWearAgnostic,
		WritePolicy:          ftl.WriteOSR,
		AllocPool:            ftl.AllocPoolGang,
		GangShare:            ftl.GangSharedBus,
		Timing:               ftl.TimingSimple,
		BusTransactionLatency: 0,
		ChipXferLatency:       2.5e-5,
		PageReadLatency:       0.025,
		PageWriteLatency:      0.2,
		BlockEraseLatency:     2.0,
	}
}

func newParams(g ftl.Geometry) *paramfile.Params {
	return &paramfile.Params{Geometry: g, MaxQueueLength: 32, BlockCount: 1024}
}

// TestSingleElementWriteThenReadTiming grounds spec.md's S1 access-time
// formula (page_read_latency + bcount*sector_bytes*chip_xfer_latency) on
// a page that has already been written, since an unmapped read is a
// DomainError under this FTL's "no data exists before the first write"
// invariant (spec.md §3 Lifecycles) rather than a successful zero-cost
// read.
func TestSingleElementWriteThenReadTiming(t *testing.T) {
	g := singleElementGeometry()
	trace := "0.0 0 0 8 0\n0.0 0 0 8 1\n" // write blkno 0, then read blkno 0
	s, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(trace)), 1)
	require.NoError(t, err)
	require.NoError(t, s.Run())

	res := s.Result()
	assert.Equal(t, 2, res.CompletedCount)

	var readFinish, writeFinish float64
	for _, c := range s.Device.Completed {
		if c.Req.IsWrite {
			writeFinish = c.FinishedAt
		} else {
			readFinish = c.FinishedAt
		}
	}
	expectedReadCost := g.PageReadLatency + float64(8*(g.SectorDataBytes+g.SectorMetaBytes))*g.ChipXferLatency
	assert.InDelta(t, expectedReadCost, readFinish-writeFinish, 1e-9)
}

// TestWriteRolloverSealsBlockAndAllocatesNewOne grounds S2 on this FTL's
// block layout: pages_per_block=4 gives 3 data slots plus 1 summary slot,
// so the 3rd write seals a 2-block element's first active block (not the
// 4th), the 4th write activates the second block with a new BSN, and the
// 5th lands beside it.
func TestWriteRolloverSealsBlockAndAllocatesNewOne(t *testing.T) {
	g := singleElementGeometry()
	g.BlocksPerElement = 2
	g.BlocksPerPlane = 2
	g.PagesPerBlock = 4
	g.ReservePercent = 0
	g.MinFreeBlocksPercent = 0

	var lines []string
	for lpn := 0; lpn < 5; lpn++ {
		blkno := strconv.Itoa(lpn * g.PageSectors)
		bcount := strconv.Itoa(g.PageSectors)
		lines = append(lines, "0.0 0 "+blkno+" "+bcount+" 0")
	}
	trace := strings.Join(lines, "\n") + "\n"

	s, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(trace)), 1)
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.Len(t, s.Device.Completed, 5)

	elem := s.Device.Elements[0].FTL
	assert.EqualValues(t, 2, elem.BSN())
	assert.Equal(t, 0, elem.TotFreeBlocks)

	// With pages_per_block=4 giving 3 usable data slots per block (the
	// 4th is the reserved summary slot, DESIGN.md), the 3rd write (lpn 2)
	// fills the first active block and bills the extra summary-page cost;
	// the 4th and 5th writes (lpn 3, 4) land in the freshly allocated
	// second block and are plain again.
	plainCost := g.PageWriteLatency + g.TransferCost(g.PageSectors)
	summaryCost := g.PageWriteLatency + g.TransferCost(g.PageSectors)
	byLPN := make(map[int]float64)
	for _, c := range s.Device.Completed {
		byLPN[c.Req.LPN] = c.FinishedAt
	}
	prevFinish := 0.0
	for lpn := 0; lpn < 5; lpn++ {
		cost := byLPN[lpn] - prevFinish
		if lpn == 2 {
			assert.InDelta(t, plainCost+summaryCost, cost, 1e-9, "write %d should bill the sealing summary-page cost", lpn)
		} else {
			assert.InDelta(t, plainCost, cost, 1e-9, "write %d should be a plain write", lpn)
		}
		prevFinish = byLPN[lpn]
	}
}

func syncGangGeometry() ftl.Geometry {
	g := singleElementGeometry()
	g.FlashChipElements = 2
	g.ElementsPerGang = 2
	g.GangShare = ftl.GangSharedControl
	return g
}

// TestSyncGangFullStripeWrite grounds S6: a write that exactly covers one
// aligned stripe of a SHARED_CONTROL gang goes through gang.FullStripeWrite
// rather than per-page async dispatch, landing the same logical page on
// every member element in one lock-step write.
func TestSyncGangFullStripeWrite(t *testing.T) {
	g := syncGangGeometry()
	trace := "0.0 0 0 16 0\n" // bcount 16 = 2 pages = one full stripe row
	s, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(trace)), 1)
	require.NoError(t, err)
	require.NoError(t, s.Run())

	require.Len(t, s.Device.Completed, 2)
	for _, c := range s.Device.Completed {
		assert.Equal(t, 0, c.Req.LPN)
		assert.True(t, c.Req.IsWrite)
	}
}

// TestSyncGangSubStripeWrite grounds spec.md §4.6's sub-stripe
// read-modify-write: a write that touches only part of a single stripe row
// of a SHARED_CONTROL gang still rewrites every member (reading the whole
// row first, at one page-read latency and no transfer cost) rather than
// falling through to per-page async dispatch.
func TestSyncGangSubStripeWrite(t *testing.T) {
	g := syncGangGeometry()
	trace := "0.0 0 0 16 0\n" + // seed row 0 on both members with a full-stripe write
		"1.0 0 0 8 0\n" // sub-stripe rewrite: touches only member 0's page
	s, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(trace)), 1)
	require.NoError(t, err)
	require.NoError(t, s.Run())

	require.Len(t, s.Device.Completed, 4)

	var subStripeFinish float64
	subStripeCount := 0
	for _, c := range s.Device.Completed {
		if c.FinishedAt > 1.0 {
			subStripeCount++
			subStripeFinish = c.FinishedAt
		}
	}
	assert.Equal(t, 2, subStripeCount, "the sub-stripe write must rewrite both gang members")

	expectedCost := g.PageReadLatency + g.PageWriteLatency + g.TransferCost(g.PageSectors)
	assert.InDelta(t, 1.0+expectedCost, subStripeFinish, 1e-9)
}

func completionsAfter(all []element.Completion, t float64) []element.Completion {
	var out []element.Completion
	for _, c := range all {
		if c.FinishedAt > t {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt < out[j].FinishedAt })
	return out
}

// TestCheckpointResumeMatchesUninterruptedRun grounds testable property 10
// (and its supplementary property 13) at the Simulator level: taking a
// Snapshot mid-run, writing and reading it back through the checkpoint
// codec, and Restore-ing a fresh Simulator from it against a freshly
// reopened copy of the same trace must produce the same subsequent
// completions (lpn, direction, finish time) as letting the original run
// continue uninterrupted past that point.
func TestCheckpointResumeMatchesUninterruptedRun(t *testing.T) {
	g := singleElementGeometry()
	// Ample capacity keeps this trace well clear of any cleaning sweep, so
	// the restored dispatcher's freshly reseeded PRNG (Snapshot's
	// documented gap) never actually gets consumed on either side.
	g.BlocksPerElement = 8
	g.BlocksPerPlane = 8
	g.ReservePercent = 50
	g.MinFreeBlocksPercent = 0

	makeTrace := func() string {
		var lines []string
		for lpn := 0; lpn < 6; lpn++ {
			lines = append(lines, fmt.Sprintf("%d.0 0 %d 8 0", lpn, lpn*g.PageSectors))
		}
		return strings.Join(lines, "\n") + "\n"
	}

	ref, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(makeTrace())), 5)
	require.NoError(t, err)
	require.NoError(t, ref.Run())

	live, err := New(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(makeTrace())), 5)
	require.NoError(t, err)
	require.NoError(t, live.primeTrace())

	const cutoff = 3.5
	for {
		peekTime, ok := live.Device.Engine.PeekTime()
		require.True(t, ok, "trace drained before reaching the checkpoint cutoff")
		if peekTime > cutoff {
			break
		}
		ev := live.Device.Engine.Next()
		var handleErr error
		if ev.Type == event.TypeNull {
			handleErr = live.serviceNullEvent()
		} else {
			handleErr = live.Device.Handle(ev)
		}
		live.Device.Engine.Recycle(ev)
		require.NoError(t, handleErr)
	}

	now := live.Device.Engine.Now()
	snap := live.Snapshot(now)
	path := filepath.Join(t.TempDir(), "resume.bin")
	require.NoError(t, checkpoint.Write(path, snap))
	got, err := checkpoint.Read(path)
	require.NoError(t, err)

	resumed, err := Restore(newParams(g), tracefmt.NewASCIIReader(strings.NewReader(makeTrace())), 5, got)
	require.NoError(t, err)
	require.NoError(t, resumed.Run())

	refLate := completionsAfter(ref.Device.Completed, now)
	resumedLate := completionsAfter(resumed.Device.Completed, now)
	assert.Equal(t, refLate, resumedLate)
	assert.NotEmpty(t, refLate, "the cutoff must leave at least one request still to complete")
}
