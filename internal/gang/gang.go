// Package gang implements the two gang-level allocation/dispatch modes
// from spec.md §4.6: async striped-element and sync full-stripe, grounded
// on original_source/ssdmodel/ssd.c's gang-level request splitting.
package gang

import (
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/simerr"
)

// Gang owns a fixed set of member element dispatchers that share a
// control (and optionally data) path.
type Gang struct {
	Elements []*element.Dispatcher
	Share    ftl.GangShare
	Busy     bool
}

// New builds a gang over the given member dispatchers.
func New(members []*element.Dispatcher, share ftl.GangShare) *Gang {
	return &Gang{Elements: members, Share: share}
}

// MapAsync implements the async striped-element allocation pool: gang
// page P lives at element (P mod elements_per_gang), offset
// (P / elements_per_gang) within that element (spec.md §4.6).
func (g *Gang) MapAsync(page int) (elemIdx, offset int) {
	n := len(g.Elements)
	return page % n, page / n
}

// AsyncElement returns the member dispatcher holding gang page P under
// the async mapping, and the within-element offset it maps to.
func (g *Gang) AsyncElement(page int) (*element.Dispatcher, int, error) {
	if len(g.Elements) == 0 {
		return nil, 0, simerr.NewDomainError("gang has no member elements")
	}
	idx, offset := g.MapAsync(page)
	return g.Elements[idx], offset, nil
}

// FullStripeWrite performs a lock-step write of one gang-logical page
// across every member element: lpnOf(i) supplies the logical page to
// write on member i. Per spec.md
// §4.6, a summary-page cost is added for any member whose write seals its
// active block, and pin access is serialized for SHARED_BUS gangs,
// parallel (billed once, at the slowest member) for SHARED_CONTROL gangs.
func (g *Gang) FullStripeWrite(lpnOf func(member int) int, now float64) (float64, error) {
	if len(g.Elements) == 0 {
		return 0, simerr.NewDomainError("gang has no member elements")
	}

	switch g.Share {
	case ftl.GangSharedControl:
		maxCost := 0.0
		for i, d := range g.Elements {
			cost, err := writeOneStripeMember(d, lpnOf(i), now)
			if err != nil {
				return 0, err
			}
			if cost > maxCost {
				maxCost = cost
			}
		}
		return maxCost, nil
	default: // GangSharedBus
		total := 0.0
		cur := now
		for i, d := range g.Elements {
			cost, err := writeOneStripeMember(d, lpnOf(i), cur)
			if err != nil {
				return 0, err
			}
			cur += cost
			total += cost
		}
		return total, nil
	}
}

// writeOneStripeMember writes lpn on d's element at time now and reports
// the cost incurred, including a summary-page charge if the write sealed
// the active block.
func writeOneStripeMember(d *element.Dispatcher, lpn int, now float64) (float64, error) {
	g := d.FTL.Geometry
	before := d.FTL.SealedCount()
	if _, err := d.FTL.WritePage(lpn, now); err != nil {
		return 0, err
	}
	cost := g.PageWriteLatency + g.TransferCost(g.PageSectors)
	if d.FTL.SealedCount() > before {
		cost += g.PageWriteLatency + g.TransferCost(g.PageSectors) // summary page
	}
	return cost, nil
}

// SubStripeWrite services a write that touches fewer than all members of
// a stripe as a read-modify-write: read the whole stripe into element
// registers (one page-read latency, no transfer cost), then write back
// across all members per FullStripeWrite's sharing rule (spec.md §4.6).
func (g *Gang) SubStripeWrite(readLpnOf func(member int) int, writeLpnOf func(member int) int, now float64) (float64, error) {
	if len(g.Elements) == 0 {
		return 0, simerr.NewDomainError("gang has no member elements")
	}
	readCost := g.Elements[0].FTL.Geometry.PageReadLatency
	for i, d := range g.Elements {
		if _, err := d.FTL.ReadPage(readLpnOf(i)); err != nil {
			return 0, err
		}
	}
	writeCost, err := g.FullStripeWrite(writeLpnOf, now+readCost)
	if err != nil {
		return 0, err
	}
	return readCost + writeCost, nil
}
