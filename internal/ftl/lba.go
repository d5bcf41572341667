package ftl

import "github.com/flashbox/ssdsim/internal/simerr"

// AllocActiveBlock picks the next CLEAN block belonging to plane (scanning
// forward from the element's shared allocation cursor, wrapping once),
// issues it a fresh BSN, and installs it as that plane's active block.
// Grounded on original_source/ssdmodel/ssd.c's alloc_active_block wrapping
// scan; the wraparound scan itself lives in internal/bitmap.
func (e *Element) AllocActiveBlock(plane int, now float64) error {
	pl := &e.Planes[plane]
	idx := e.FreeBlocks.FirstClearFrom(e.BlockAllocPos, func(i int) bool {
		return e.Blocks[i].PlaneNum == plane && e.Blocks[i].State == BlockClean
	})
	if idx < 0 {
		return simerr.NewResourceExhaustion("no clean blocks available in plane %d", plane)
	}

	blk := &e.Blocks[idx]
	blk.State = BlockInUse
	blk.BSN = e.NextBSN()
	blk.WriteCursor = 0
	blk.TimeLastErasure = now

	e.FreeBlocks.Set(idx)
	pl.FreeBlocks--
	e.TotFreeBlocks--
	pl.ActiveBlock = idx

	e.BlockAllocPos = idx + 1
	if e.BlockAllocPos >= len(e.Blocks) {
		e.BlockAllocPos = 0
	}
	return nil
}

// NextWritePlane exposes the round-robin write-target cursor for callers
// outside this package (the cleaner, relocating a victim's valid pages
// when copy-back is disabled and any plane may serve as the destination).
func (e *Element) NextWritePlane() int { return e.nextWritePlane() }

// ActivateSpecificBlock transitions a known CLEAN block straight to INUSE
// as its plane's active block, without scanning the free-block bitmap.
// Used by the cleaner's cold-data migration path (spec.md §4.4), which
// picks its destination block explicitly rather than by forward scan.
func (e *Element) ActivateSpecificBlock(blockIdx int, now float64) error {
	blk := &e.Blocks[blockIdx]
	if blk.State != BlockClean {
		return simerr.NewInvariantViolation("block %d activated directly but is not CLEAN (state=%v)", blockIdx, blk.State)
	}
	plane := blk.PlaneNum
	pl := &e.Planes[plane]

	blk.State = BlockInUse
	blk.BSN = e.NextBSN()
	blk.WriteCursor = 0
	blk.TimeLastErasure = now

	e.FreeBlocks.Set(blockIdx)
	pl.FreeBlocks--
	e.TotFreeBlocks--
	pl.ActiveBlock = blockIdx
	return nil
}

// nextWritePlane round-robins write targets across this element's planes,
// spreading sequential writes for the parallelism the gang dispatcher
// depends on (spec.md §4.6).
func (e *Element) nextWritePlane() int {
	p := e.writePlaneCursor % len(e.Planes)
	e.writePlaneCursor++
	return p
}

// sealBlock closes out a block once its data slots are full: it becomes
// SEALED (its summary page slot is left reserved, never mapped to an lpn)
// and the plane loses its active block until the next allocation.
func (e *Element) sealBlock(plane, blockIdx int) {
	e.Blocks[blockIdx].State = BlockSealed
	e.Planes[plane].ActiveBlock = -1
}

// WritePage installs logical page lpn at a fresh physical slot (allocating
// a new active block in the round-robin target plane if the current one
// has none), invalidating any prior mapping for lpn. It enforces the
// version-ordering invariant from spec.md §3/§8: a write may never land in
// a block whose BSN is older than the block holding the mapping it
// replaces, since BSNs order block generations and writes must only move
// data forward in that order.
func (e *Element) WritePage(lpn int, now float64) (uint32, error) {
	return e.WriteToPlane(e.nextWritePlane(), lpn, now)
}

// WriteToPlane is WritePage with an explicit destination plane, bypassing
// the round-robin target selection. The cleaner uses this directly to
// relocate a victim's valid pages into its chosen active page (spec.md
// §4.4 victim cleaning) without disturbing the round-robin cursor normal
// foreground writes advance.
func (e *Element) WriteToPlane(plane int, lpn int, now float64) (uint32, error) {
	if lpn < 0 || lpn >= len(e.LBATable) {
		return 0, simerr.NewDomainError("write to logical page %d out of range [0,%d)", lpn, len(e.LBATable))
	}

	pl := &e.Planes[plane]
	if pl.ActiveBlock == -1 {
		if err := e.AllocActiveBlock(plane, now); err != nil {
			return 0, err
		}
	}

	blockIdx := pl.ActiveBlock
	blk := &e.Blocks[blockIdx]
	offset := blk.WriteCursor
	if offset >= e.Geometry.DataPagesPerBlock() {
		return 0, simerr.NewInvariantViolation("active block %d in plane %d has no free data slots (cursor=%d)", blockIdx, plane, offset)
	}

	oldPpn := e.LBATable[lpn]
	if oldPpn != NoPage {
		oldBlockIdx, oldOffset := e.SplitPage(uint32(oldPpn))
		oldBlock := &e.Blocks[oldBlockIdx]
		if blk.BSN < oldBlock.BSN {
			return 0, simerr.NewInvariantViolation("version ordering violated: lpn %d written into block %d (bsn %d) older than its existing mapping's block %d (bsn %d)", lpn, blockIdx, blk.BSN, oldBlockIdx, oldBlock.BSN)
		}
		oldBlock.Pages[oldOffset] = NoPage
		oldBlock.NumValid--
		e.Planes[oldBlock.PlaneNum].ValidPages--
	}

	newPpn := e.AbsolutePage(blockIdx, offset)
	blk.Pages[offset] = int32(lpn)
	blk.NumValid++
	blk.WriteCursor++
	pl.ValidPages++
	e.LBATable[lpn] = int32(newPpn)

	if blk.WriteCursor == e.Geometry.DataPagesPerBlock() {
		e.sealBlock(plane, blockIdx)
	}
	return newPpn, nil
}

// ReadPage resolves a logical page to its current physical slot. Returns a
// domain error if lpn has never been written.
func (e *Element) ReadPage(lpn int) (uint32, error) {
	if lpn < 0 || lpn >= len(e.LBATable) {
		return 0, simerr.NewDomainError("read of logical page %d out of range [0,%d)", lpn, len(e.LBATable))
	}
	ppn := e.LBATable[lpn]
	if ppn == NoPage {
		return 0, simerr.NewDomainError("logical page %d has never been written", lpn)
	}
	return uint32(ppn), nil
}

// ReclaimBlock returns a SEALED or INUSE block to CLEAN, clearing its
// metadata and crediting its plane and element free-block counts. Used by
// the cleaner after a block's valid pages have all been relocated
// elsewhere (spec.md §4.4).
func (e *Element) ReclaimBlock(blockIdx int) error {
	blk := &e.Blocks[blockIdx]
	if blk.NumValid != 0 {
		return simerr.NewInvariantViolation("block %d reclaimed with %d valid pages still mapped", blockIdx, blk.NumValid)
	}
	if blk.State == BlockClean {
		return simerr.NewInvariantViolation("block %d reclaimed while already CLEAN", blockIdx)
	}
	for i := range blk.Pages {
		blk.Pages[i] = NoPage
	}
	blk.State = BlockClean
	blk.BSN = 0
	blk.WriteCursor = 0

	e.FreeBlocks.Clear(blockIdx)
	e.Planes[blk.PlaneNum].FreeBlocks++
	e.TotFreeBlocks++
	return nil
}
