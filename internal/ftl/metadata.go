package ftl

import (
	"github.com/flashbox/ssdsim/internal/bitmap"
	"github.com/flashbox/ssdsim/internal/simerr"
)

// Block holds the metadata stored on one block: its immutable plane id,
// the logical page stored in each slot (or NoPage), validity count,
// remaining erase budget, last-erase time, lifecycle state, and BSN.
// Grounded on original_source/ssdmodel/ssd.h's block_metadata struct.
type Block struct {
	BlockNum int
	PlaneNum int

	Pages    []int32 // len == PagesPerBlock; slot value is logical page or NoPage
	NumValid int

	RemLifetime     int
	TimeLastErasure float64

	State BlockState
	BSN   uint64

	WriteCursor int // next free data-page slot, 0..DataPagesPerBlock()
}

// Plane holds per-plane metadata: allocation cursor, active page, free
// and valid page counts, and cleaning state. Grounded on
// original_source/ssdmodel/ssd.h's plane_metadata struct.
type Plane struct {
	PlaneNum int

	FreeBlocks  int
	ValidPages  int
	ActivePage  uint32 // next physical page (absolute, element-wide) to program
	ActiveBlock int     // block index currently active for writes, or -1

	CleanInProgress bool
	CleanInBlock    int
	BlockAllocPos   int
	ParUnitNum      int
	NumCleans       int
}

// Element owns one flash package's full FTL state: the lba→ppn table, the
// free-block bitmap, per-block and per-plane metadata, and the monotonic
// BSN counter. Grounded on
// original_source/ssdmodel/ssd.h's ssd_element_metadata struct.
type Element struct {
	Geometry Geometry
	Mapping  PlaneBlockMap

	LBATable []int32 // logical page -> absolute physical page, or NoPage

	FreeBlocks    *bitmap.Bitmap
	TotFreeBlocks int

	Blocks []Block
	Planes []Plane

	bsn uint64

	BlockAllocPos   int
	writePlaneCursor int
	GangNum       int

	Stats Stats
}

// NewElement builds an element's FTL state from geometry: allocates
// per-block and per-plane metadata, and counts every block as free. The
// configured reserve fraction of each plane's blocks stays CLEAN with its
// free bit clear and counted in TotFreeBlocks; it only shrinks the
// exported logical space (ExportedPagesPerElement). The lba table starts
// fully unmapped (see installIdentityMapping).
func NewElement(g Geometry, gangNum int) *Element {
	m := NewPlaneBlockMap(g)
	e := &Element{
		Geometry:      g,
		Mapping:       m,
		FreeBlocks:    bitmap.New(g.BlocksPerElement),
		Blocks:        make([]Block, g.BlocksPerElement),
		Planes:        make([]Plane, g.PlanesPerPkg),
		GangNum:       gangNum,
		BlockAllocPos: 0,
	}

	parUnits := g.NumParallelUnits
	if parUnits < 1 {
		parUnits = 1
	}
	groupSize := g.PlanesPerPkg / parUnits
	if groupSize < 1 {
		groupSize = 1
	}
	for p := range e.Planes {
		e.Planes[p] = Plane{PlaneNum: p, ActiveBlock: -1, CleanInBlock: -1, ParUnitNum: p / groupSize}
	}

	for b := range e.Blocks {
		plane, _ := m.BlockToPlane(b)
		e.Blocks[b] = Block{
			BlockNum:    b,
			PlaneNum:    plane,
			Pages:       make([]int32, g.PagesPerBlock),
			RemLifetime: g.MaxErasures,
			State:       BlockClean,
		}
		for i := range e.Blocks[b].Pages {
			e.Blocks[b].Pages[i] = NoPage
		}
	}

	for b := range e.Blocks {
		e.Planes[e.Blocks[b].PlaneNum].FreeBlocks++
		e.TotFreeBlocks++
	}

	e.installIdentityMapping()
	return e
}

// installIdentityMapping sizes the lba table to the element's exported
// logical pages and marks every entry unmapped. No initial contiguous
// lpn→ppn mapping is installed: a logical page has a physical slot only
// once it has been written.
func (e *Element) installIdentityMapping() {
	exported := e.Geometry.ExportedPagesPerElement()
	e.LBATable = make([]int32, exported)
	for i := range e.LBATable {
		e.LBATable[i] = NoPage
	}
	// Identity mapping is left unpopulated: physical pages only exist
	// once written (no data exists before the first write). The table
	// starts fully unmapped, matching "installed on first write" in
	// spec.md §3 Lifecycles; ExportedPagesPerElement bounds its size.
}

// SealedCount reports how many of this element's blocks are currently
// SEALED. Callers use this before/after a write to detect whether that
// write just sealed its active block, so they can bill the one-time
// summary-page cost (spec.md §4.3 step 1).
func (e *Element) SealedCount() int {
	n := 0
	for i := range e.Blocks {
		if e.Blocks[i].State == BlockSealed {
			n++
		}
	}
	return n
}

// BSN returns the element's current monotonic BSN counter value, for
// checkpoint serialization.
func (e *Element) BSN() uint64 { return e.bsn }

// SetBSN restores the element's BSN counter, for checkpoint restore.
func (e *Element) SetBSN(v uint64) { e.bsn = v }

// WritePlaneCursor returns the round-robin write-target cursor, for
// checkpoint serialization.
func (e *Element) WritePlaneCursor() int { return e.writePlaneCursor }

// SetWritePlaneCursor restores the round-robin write-target cursor, for
// checkpoint restore.
func (e *Element) SetWritePlaneCursor(v int) { e.writePlaneCursor = v }

// NextBSN takes the next block sequence number from this element's
// monotonic counter. Must be called exactly once per CLEAN->INUSE
// transition (spec.md §4.2 Block Sequence Number).
func (e *Element) NextBSN() uint64 {
	e.bsn++
	return e.bsn
}

// AbsolutePage converts a (block, offset) pair into this element's flat
// physical page numbering.
func (e *Element) AbsolutePage(block, offset int) uint32 {
	return uint32(block*e.Geometry.PagesPerBlock + offset)
}

// SplitPage converts a flat physical page number back into its block and
// in-block offset.
func (e *Element) SplitPage(ppn uint32) (block, offset int) {
	ppb := e.Geometry.PagesPerBlock
	return int(ppn) / ppb, int(ppn) % ppb
}

// CheckInvariants validates the structural invariants from spec.md §3 /
// §8 across this element's entire metadata, returning the first violated
// invariant as an *simerr.Error (KindInvariantViolation), or nil.
// Intended for tests and optional runtime assertions, not the hot path.
func (e *Element) CheckInvariants() error {
	totFree := e.FreeBlocks.CountClear()
	if totFree != e.TotFreeBlocks {
		return simerr.NewInvariantViolation("tot_free_blocks mismatch: bitmap has %d clear bits, counter says %d", totFree, e.TotFreeBlocks)
	}
	sumPlaneFree := 0
	sumPlaneValid := make([]int, len(e.Planes))
	for p := range e.Planes {
		sumPlaneFree += e.Planes[p].FreeBlocks
	}
	if sumPlaneFree != e.TotFreeBlocks {
		return simerr.NewInvariantViolation("sum of per-plane free_blocks (%d) != tot_free_blocks (%d)", sumPlaneFree, e.TotFreeBlocks)
	}
	for i := range e.Blocks {
		b := &e.Blocks[i]
		nonEmpty := 0
		for _, slot := range b.Pages {
			if slot != NoPage {
				nonEmpty++
			}
		}
		if nonEmpty != b.NumValid {
			return simerr.NewInvariantViolation("block %d num_valid mismatch: want %d got %d", b.BlockNum, nonEmpty, b.NumValid)
		}
		sumPlaneValid[b.PlaneNum] += b.NumValid
		if b.State == BlockClean && (b.NumValid != 0 || b.BSN != 0 || e.FreeBlocks.Test(b.BlockNum)) {
			return simerr.NewInvariantViolation("block %d is CLEAN but num_valid=%d bsn=%d free_bit_set=%v", b.BlockNum, b.NumValid, b.BSN, e.FreeBlocks.Test(b.BlockNum))
		}
		if b.RemLifetime < 0 {
			return simerr.NewInvariantViolation("block %d rem_lifetime went negative: %d", b.BlockNum, b.RemLifetime)
		}
	}
	for p := range e.Planes {
		if sumPlaneValid[p] != e.Planes[p].ValidPages {
			return simerr.NewInvariantViolation("plane %d valid_pages mismatch: want %d got %d", p, sumPlaneValid[p], e.Planes[p].ValidPages)
		}
	}
	return nil
}
