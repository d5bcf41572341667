package sim

import (
	"github.com/flashbox/ssdsim/internal/device"
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/event"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/tracefmt"
)

// gangSpan is how many device-relative pages one gang addresses: each of
// its member elements exports ExportedPagesPerElement pages, and
// gang.MapAsync cycles through all elementsPerGang members once per
// increment of the offset into that member, so a gang's total address
// span is elementsPerGang times one member's page count. Gangs are
// assigned contiguous, non-interleaved blocks of the device's page
// address space in gang order.
func (s *Simulator) gangSpan() int {
	return s.elementsPerGang * s.Params.Geometry.ExportedPagesPerElement()
}

// submitRecord translates one trace record's device-relative block range
// into per-element page requests and feeds them to the device. A
// gang_share=SHARED_CONTROL write that lands exactly on a full, aligned
// stripe takes the sync full-stripe path (gang.FullStripeWrite); one that
// touches only part of a single stripe row instead takes the sub-stripe
// read-modify-write path (gang.SubStripeWrite); both per spec.md §4.6.
func (s *Simulator) submitRecord(rec tracefmt.Record) {
	sectorsPerPage := s.Params.Geometry.PageSectors
	if sectorsPerPage <= 0 {
		sectorsPerPage = 1
	}
	firstPage := rec.Blkno / sectorsPerPage
	pageCount := rec.Bcount / sectorsPerPage
	if pageCount < 1 {
		pageCount = 1
	}

	if !rec.IsRead {
		if s.isFullStripeAligned(firstPage, pageCount) {
			span := s.gangSpan()
			gangIdx := firstPage / span
			gangPage := firstPage % span
			row := gangPage / s.elementsPerGang
			s.submitFullStripe(rec, gangIdx, row)
			return
		}
		if gangIdx, row, ok := s.singleRowInSyncGang(firstPage, pageCount); ok {
			s.submitSubStripe(rec, gangIdx, row)
			return
		}
	}
	s.submitAsync(rec, firstPage, pageCount)
}

// singleRowInSyncGang reports whether [firstPage, firstPage+pageCount)
// lies entirely within one stripe row of a single SHARED_CONTROL gang,
// without necessarily covering that row's full width — the sub-stripe
// case of spec.md §4.6, distinct from isFullStripeAligned's exact-row
// match.
func (s *Simulator) singleRowInSyncGang(firstPage, pageCount int) (gangIdx, row int, ok bool) {
	if s.elementsPerGang <= 1 {
		return 0, 0, false
	}
	span := s.gangSpan()
	gangIdx = firstPage / span
	if gangIdx >= len(s.Gangs) || s.Gangs[gangIdx].Share != ftl.GangSharedControl {
		return 0, 0, false
	}
	row = (firstPage % span) / s.elementsPerGang

	lastPage := firstPage + pageCount - 1
	lastGangIdx := lastPage / span
	lastRow := (lastPage % span) / s.elementsPerGang
	if lastGangIdx != gangIdx || lastRow != row {
		return 0, 0, false
	}
	return gangIdx, row, true
}

// isFullStripeAligned reports whether [firstPage, firstPage+pageCount)
// is exactly one stripe's worth of pages, aligned to a stripe boundary
// within its gang's address span, and targets a SHARED_CONTROL gang.
func (s *Simulator) isFullStripeAligned(firstPage, pageCount int) bool {
	if s.elementsPerGang <= 1 || pageCount != s.elementsPerGang {
		return false
	}
	span := s.gangSpan()
	gangIdx := firstPage / span
	if gangIdx >= len(s.Gangs) {
		return false
	}
	gangPage := firstPage % span
	if gangPage%s.elementsPerGang != 0 {
		return false
	}
	return s.Gangs[gangIdx].Share == ftl.GangSharedControl
}

// submitAsync maps each page in the request independently through its
// gang's async striped-element mapping, per spec.md §4.6's default mode.
func (s *Simulator) submitAsync(rec tracefmt.Record, firstPage, pageCount int) {
	span := s.gangSpan()
	for i := 0; i < pageCount; i++ {
		absPage := firstPage + i
		gangIdx := absPage / span
		if gangIdx >= len(s.Gangs) {
			gangIdx = len(s.Gangs) - 1
		}
		gangPage := absPage % span
		g := s.Gangs[gangIdx]
		localIdx, offset := g.MapAsync(gangPage)
		globalIdx := gangIdx*s.elementsPerGang + localIdx
		s.Device.SubmitAt(rec.ArrivalTime, globalIdx, offset, s.Params.Geometry.PageSectors, !rec.IsRead)
	}
}

// submitFullStripe performs a gang-synchronous full-stripe write
// immediately (the gang's cost accounting already bills pin-contention
// for SHARED_BUS vs. SHARED_CONTROL), then injects a
// DEVICE_ACCESS_COMPLETE per member at the computed finish time so the
// normal completion/bus-release path in internal/device still runs.
func (s *Simulator) submitFullStripe(rec tracefmt.Record, gangIdx, row int) {
	g := s.Gangs[gangIdx]
	lpnOf := func(member int) int { return row }
	cost, err := g.FullStripeWrite(lpnOf, rec.ArrivalTime)
	if err != nil {
		// A stripe write that fails (e.g. an ineligible member) degrades to
		// per-page async dispatch, which still goes through each member's
		// normal foreground-cleaning path instead of losing the request.
		firstPage := gangIdx*s.gangSpan() + row*s.elementsPerGang
		s.submitAsync(rec, firstPage, s.elementsPerGang)
		return
	}
	finishedAt := rec.ArrivalTime + cost
	for member := range g.Elements {
		globalIdx := gangIdx*s.elementsPerGang + member
		e := s.Device.Engine.Alloc()
		e.Time = finishedAt
		e.Type = event.TypeDeviceAccessComplete
		e.Payload = &device.AccessPayload{
			ElementIdx: globalIdx,
			Req: element.Request{
				LPN:       row,
				Count:     s.Params.Geometry.PageSectors,
				IsWrite:   true,
				ArrivedAt: rec.ArrivalTime,
			},
		}
		s.Device.Engine.Schedule(e)
	}
}

// submitSubStripe performs a gang-synchronous sub-stripe write: the whole
// row is read (one page-read latency, no transfer) then written back
// across every member, per spec.md §4.6's read-modify-write description.
// The simulator models LPN/timing only, so both the read and write side
// of gang.SubStripeWrite address the same row for every member, exactly
// like submitFullStripe's lpnOf.
func (s *Simulator) submitSubStripe(rec tracefmt.Record, gangIdx, row int) {
	g := s.Gangs[gangIdx]
	lpnOf := func(member int) int { return row }
	cost, err := g.SubStripeWrite(lpnOf, lpnOf, rec.ArrivalTime)
	if err != nil {
		// Degrades to per-page async dispatch over the whole row, matching
		// submitFullStripe's error-degrade behavior.
		firstPage := gangIdx*s.gangSpan() + row*s.elementsPerGang
		s.submitAsync(rec, firstPage, s.elementsPerGang)
		return
	}
	finishedAt := rec.ArrivalTime + cost
	for member := range g.Elements {
		globalIdx := gangIdx*s.elementsPerGang + member
		e := s.Device.Engine.Alloc()
		e.Time = finishedAt
		e.Type = event.TypeDeviceAccessComplete
		e.Payload = &device.AccessPayload{
			ElementIdx: globalIdx,
			Req: element.Request{
				LPN:       row,
				Count:     s.Params.Geometry.PageSectors,
				IsWrite:   true,
				ArrivedAt: rec.ArrivalTime,
			},
		}
		s.Device.Engine.Schedule(e)
	}
}
