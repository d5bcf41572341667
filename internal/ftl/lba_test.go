package ftl

import (
	"errors"
	"testing"

	"github.com/flashbox/ssdsim/internal/simerr"
)

func smallGeometry() Geometry {
	return Geometry{
		PageSectors:          8,
		SectorDataBytes:      512,
		SectorMetaBytes:      16,
		PagesPerBlock:        4, // 3 data slots + 1 summary slot
		PlanesPerPkg:         2,
		BlocksPerPlane:       4,
		BlocksPerElement:     8,
		FlashChipElements:    1,
		ElementsPerGang:      1,
		ElementStridePages:   8,
		ReservePercent:       0,
		MinFreeBlocksPercent: 0,
		MaxErasures:          1000,
		NumParallelUnits:     1,
		PlaneMapping:         MappingConcat,
		CleanPolicy:          CleanGreedyWearAgnostic,
		WritePolicy:          WriteOSR,
		AllocPool:            AllocPoolGang,
		GangShare:            GangSharedBus,
		Timing:               TimingSimple,
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := NewElement(smallGeometry(), 0)
	ppn, err := e.WritePage(5, 0.0)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := e.ReadPage(5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != ppn {
		t.Fatalf("read returned ppn %d, write returned %d", got, ppn)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants after single write: %v", err)
	}
}

func TestReadUnwrittenPageIsDomainError(t *testing.T) {
	e := NewElement(smallGeometry(), 0)
	if _, err := e.ReadPage(0); err == nil {
		t.Fatalf("expected error reading never-written page")
	}
}

func TestRewriteInvalidatesOldSlot(t *testing.T) {
	e := NewElement(smallGeometry(), 0)
	first, err := e.WritePage(3, 0.0)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := e.WritePage(3, 1.0)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if first == second {
		t.Fatalf("rewrite should land on a new physical page, got same ppn twice")
	}
	fb, fo := e.SplitPage(first)
	if e.Blocks[fb].Pages[fo] != NoPage {
		t.Fatalf("old slot should be invalidated after rewrite")
	}
	got, err := e.ReadPage(3)
	if err != nil || got != second {
		t.Fatalf("read after rewrite: want %d got %d err %v", second, got, err)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants after rewrite: %v", err)
	}
}

func TestBlockSealsWhenDataSlotsFill(t *testing.T) {
	g := smallGeometry()
	e := NewElement(g, 0)
	dataSlots := g.DataPagesPerBlock()

	// All writes round-robin across 2 planes; force dataSlots+1 writes
	// to the SAME plane by writing 2*dataSlots+2 pages total so that
	// plane 0 alone receives dataSlots+1 of them.
	for lpn := 0; lpn < 2*dataSlots+2; lpn++ {
		if _, err := e.WritePage(lpn, float64(lpn)); err != nil {
			t.Fatalf("write %d: %v", lpn, err)
		}
	}

	sealedFound := false
	for i := range e.Blocks {
		if e.Blocks[i].State == BlockSealed {
			sealedFound = true
			if e.Blocks[i].WriteCursor != dataSlots {
				t.Fatalf("sealed block %d: cursor %d != dataSlots %d", i, e.Blocks[i].WriteCursor, dataSlots)
			}
		}
	}
	if !sealedFound {
		t.Fatalf("expected at least one sealed block after filling a plane's active block")
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants after sealing: %v", err)
	}
}

func TestAllocActiveBlockExhaustionIsResourceError(t *testing.T) {
	g := smallGeometry()
	g.BlocksPerPlane = 1
	g.BlocksPerElement = g.BlocksPerPlane * g.PlanesPerPkg
	e := NewElement(g, 0)

	dataSlots := g.DataPagesPerBlock()
	lpn := 0
	// Fill plane 0's single block, then force another alloc attempt on
	// plane 0 by writing exactly enough pages that plane 0 needs a
	// second active block with no clean blocks left to give it.
	for i := 0; i < dataSlots; i++ {
		if _, err := e.WritePage(lpn, 0.0); err != nil {
			t.Fatalf("write %d: %v", lpn, err)
		}
		lpn++
	}
	// lpn count so far = dataSlots, alternating planes 0,1,0,1,...
	// Keep writing until plane 0 needs a second allocation, wrapping lpn
	// inside the exported range so the failure comes from allocation, not
	// from an out-of-range logical page.
	var lastErr error
	for i := 0; i < dataSlots*g.PlanesPerPkg*2; i++ {
		if _, err := e.WritePage(lpn%len(e.LBATable), 0.0); err != nil {
			lastErr = err
			break
		}
		lpn++
	}
	if lastErr == nil {
		t.Fatalf("expected resource exhaustion once every plane's single block is used up")
	}
	var serr *simerr.Error
	if !errors.As(lastErr, &serr) || serr.Kind != simerr.KindResourceExhaustion {
		t.Fatalf("expected a resource-exhaustion error, got %v", lastErr)
	}
}

func TestReclaimBlockRejectsNonEmptyBlock(t *testing.T) {
	e := NewElement(smallGeometry(), 0)
	if _, err := e.WritePage(0, 0.0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.ReclaimBlock(0); err == nil {
		t.Fatalf("expected reclaim of a block with a valid page to fail")
	}
}

func TestReclaimBlockRestoresFreeCounters(t *testing.T) {
	g := smallGeometry()
	e := NewElement(g, 0)
	ppn, err := e.WritePage(1, 0.0)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	block, _ := e.SplitPage(ppn)
	// Invalidate the only valid page by rewriting the same lpn so the
	// original block becomes empty without touching another block's data.
	if _, err := e.WritePage(1, 1.0); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	freeBefore := e.TotFreeBlocks
	if err := e.ReclaimBlock(block); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if e.TotFreeBlocks != freeBefore+1 {
		t.Fatalf("tot_free_blocks: want %d got %d", freeBefore+1, e.TotFreeBlocks)
	}
	if e.Blocks[block].State != BlockClean {
		t.Fatalf("reclaimed block should be CLEAN, got %v", e.Blocks[block].State)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants after reclaim: %v", err)
	}
}
