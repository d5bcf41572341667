package ftl

import "go.uber.org/atomic"

// Stats accumulates one element's lifetime counters, mirroring
// original_source/ssdmodel/ssd.h's ssd_element_stat struct. Counters are
// typed atomics (rather than raw sync/atomic calls) so the cleaner,
// element dispatcher, and any future parallel reporter can update and
// snapshot them without a surrounding mutex, matching the counter idiom
// the teacher's buffer pool uses for its hit/miss counts.
type Stats struct {
	NumClean      atomic.Int64
	PagesMoved    atomic.Int64
	TotXferCost   atomic.Float64
	TotReqsIssued atomic.Int64
	TotTimeTaken  atomic.Float64
	TotCleanTime  atomic.Float64

	totLifetime   atomic.Float64
	lifetimeCount atomic.Int64
}

// RecordClean accounts one completed clean of a block that had movedPages
// valid pages relocated, costing xferCost ms of transfer time and
// cleanTime ms of wall time overall.
func (s *Stats) RecordClean(movedPages int, xferCost, cleanTime float64) {
	s.NumClean.Inc()
	s.PagesMoved.Add(int64(movedPages))
	s.TotXferCost.Add(xferCost)
	s.TotCleanTime.Add(cleanTime)
}

// RecordRequest adds one request-timing sample of timeTaken ms. The
// element dispatcher records one sample per dispatch batch (the batch's
// total time) and a zero sample for each deduplicated request.
func (s *Stats) RecordRequest(timeTaken float64) {
	s.TotReqsIssued.Inc()
	s.TotTimeTaken.Add(timeTaken)
}

// RecordBlockLifetime folds one erased block's lifetime (erase count used
// before it was retired or recycled) into the running average.
func (s *Stats) RecordBlockLifetime(lifetime int) {
	s.totLifetime.Add(float64(lifetime))
	s.lifetimeCount.Inc()
}

// AvgLifetime returns the mean recorded block lifetime, or 0 if none have
// been recorded yet (spec.md testable property: zero-sample stats read as
// zero, not NaN or a division panic — preserved from the original source's
// behavior, see DESIGN.md).
func (s *Stats) AvgLifetime() float64 {
	n := s.lifetimeCount.Load()
	if n == 0 {
		return 0
	}
	return s.totLifetime.Load() / float64(n)
}
