// Package sim wires the event engine, element dispatchers, gangs, bus,
// device FSM, trace source, and checkpoint writer into one explicit
// handle — the source's process-wide singleton re-architected as a
// Simulator value threaded through every call, per spec.md §9's "Re-
// architect as a Simulator value" design note.
package sim

import (
	"math/rand"

	"github.com/flashbox/ssdsim/internal/bus"
	"github.com/flashbox/ssdsim/internal/checkpoint"
	"github.com/flashbox/ssdsim/internal/device"
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/event"
	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/gang"
	"github.com/flashbox/ssdsim/internal/obslog"
	"github.com/flashbox/ssdsim/internal/paramfile"
	"github.com/flashbox/ssdsim/internal/simerr"
	"github.com/flashbox/ssdsim/internal/tracefmt"
)

// Simulator owns every engine a run needs: no package-level state is
// touched outside of it.
type Simulator struct {
	Params *paramfile.Params
	Device *device.Device
	Gangs  []*gang.Gang

	elementsPerGang int
	numGangs        int

	trace *tracefmt.Prefetcher

	CheckpointPath     string
	CheckpointInterval float64
	traceExhausted     bool

	// resumed is set by Restore: Run must not re-prime the trace or the
	// checkpoint timer, since both are already reflected in the restored
	// event queue and prefetcher offset.
	resumed bool
}

// New builds a Simulator from validated parameters, a trace source, and a
// PRNG seed for cleaning-policy tie-breaks (RANDOM victim selection,
// wear-aware rate-limit skipping).
func New(p *paramfile.Params, trace tracefmt.Source, seed int64) (*Simulator, error) {
	g := p.Geometry
	if g.FlashChipElements%g.ElementsPerGang != 0 {
		return nil, simerr.NewConfigurationError("elements_per_gang", g.ElementsPerGang, "must divide flash_chip_elements")
	}
	numGangs := g.FlashChipElements / g.ElementsPerGang

	rng := rand.New(rand.NewSource(seed))

	dispatchers := make([]*element.Dispatcher, g.FlashChipElements)
	for i := 0; i < g.FlashChipElements; i++ {
		gangIdx := i / g.ElementsPerGang
		elem := ftl.NewElement(g, gangIdx)
		dispatchers[i] = element.NewDispatcher(elem, g.CopyBack, g.CleanInBG, g.AllocPool == ftl.AllocPoolPlane, g.CleanPolicy, rng)
	}

	gangs := make([]*gang.Gang, numGangs)
	for gi := 0; gi < numGangs; gi++ {
		members := dispatchers[gi*g.ElementsPerGang : (gi+1)*g.ElementsPerGang]
		gangs[gi] = gang.New(members, g.GangShare)
	}

	dev := device.New(dispatchers, g.CommandOverhead, g.BusTransactionLatency, g.NeverDisconnect)

	s := &Simulator{
		Params:          p,
		Device:          dev,
		Gangs:           gangs,
		elementsPerGang: g.ElementsPerGang,
		numGangs:        numGangs,
		trace:           tracefmt.NewPrefetcher(trace),
	}
	return s, nil
}

// Result summarizes one completed run for a caller to print or compare
// against an expected scenario outcome.
type Result struct {
	FinalClock     float64
	CompletedCount int
	TraceExhausted bool
}

// Run drains the trace into the device and services events until the
// queue empties — the simulation's natural termination, whether that is
// because the trace ran out or because an explicit STOP_SIM/EXIT event
// was processed.
func (s *Simulator) Run() error {
	if !s.resumed {
		if err := s.primeTrace(); err != nil {
			return err
		}
		if s.CheckpointInterval > 0 && s.CheckpointPath != "" {
			s.scheduleCheckpoint(s.CheckpointInterval)
		}
	}

	for {
		ev := s.Device.Engine.Next()
		if ev == nil {
			return nil
		}
		var err error
		switch ev.Type {
		case event.TypeNull:
			err = s.serviceNullEvent()
		case event.TypeCheckpoint:
			err = s.serviceCheckpoint(ev.Time)
		default:
			err = s.Device.Handle(ev)
		}
		s.Device.Engine.Recycle(ev)
		if err != nil {
			return err
		}
		if s.Device.Stopped {
			return nil
		}
	}
}

// Result reports a snapshot of the run so far (or just-finished run).
func (s *Simulator) Result() Result {
	return Result{
		FinalClock:     s.Device.Engine.Now(),
		CompletedCount: len(s.Device.Completed),
		TraceExhausted: s.traceExhausted,
	}
}

func (s *Simulator) scheduleNull(t float64) {
	e := s.Device.Engine.Alloc()
	e.Time = t
	e.Type = event.TypeNull
	s.Device.Engine.Schedule(e)
}

func (s *Simulator) scheduleCheckpoint(t float64) {
	e := s.Device.Engine.Alloc()
	e.Time = t
	e.Type = event.TypeCheckpoint
	s.Device.Engine.Schedule(e)
}

// primeTrace submits the first pre-fetched record (if any) and arms the
// first NULL_EVENT to pull the next one, per spec.md §6's lazy
// one-record-prefetch trace contract.
func (s *Simulator) primeTrace() error {
	rec, ok, err := s.trace.Peek()
	if err != nil {
		obslog.Warnf("trace error before first record, stopping: %v", err)
		s.traceExhausted = true
		return nil
	}
	if !ok {
		s.traceExhausted = true
		return nil
	}
	s.submitRecord(rec)
	s.scheduleNull(rec.ArrivalTime)
	return nil
}

// serviceNullEvent implements the "on each NULL_EVENT service, the next
// record is read and enqueued" rule: Pull consumes the record that was
// already submitted (by the previous prime/serviceNullEvent call) and
// re-primes the prefetch slot; Peek then reveals the newly pre-fetched
// record, which is what actually gets submitted and scheduled here.
func (s *Simulator) serviceNullEvent() error {
	if _, ok, err := s.trace.Pull(); err != nil || !ok {
		if err != nil {
			obslog.Warnf("trace error, stopping trace pump: %v", err)
		}
		s.traceExhausted = true
		return nil
	}
	rec, ok, err := s.trace.Peek()
	if err != nil {
		obslog.Warnf("trace error, stopping trace pump: %v", err)
		s.traceExhausted = true
		return nil
	}
	if !ok {
		s.traceExhausted = true
		return nil
	}
	s.submitRecord(rec)
	s.scheduleNull(rec.ArrivalTime)
	return nil
}

func (s *Simulator) serviceCheckpoint(now float64) error {
	snap := s.Snapshot(now)
	if err := checkpoint.Write(s.CheckpointPath, snap); err != nil {
		return err
	}
	if !s.traceExhausted {
		s.scheduleCheckpoint(now + s.CheckpointInterval)
	}
	return nil
}

// Snapshot captures the full state needed to resume this run elsewhere:
// every element (FTL plus its dispatcher's pending queue and cleaning
// configuration), the event engine's pending queue, the shared bus, and
// the trace prefetcher's read offset, per spec.md §6.
func (s *Simulator) Snapshot(now float64) checkpoint.Snapshot {
	elems := make([]checkpoint.ElementSnapshot, 0, len(s.Device.Elements))
	for _, d := range s.Device.Elements {
		elems = append(elems, checkpoint.FromDispatcher(d))
	}
	return checkpoint.Snapshot{
		ClockTime: now,
		Elements:  elems,
		Events:    s.Device.Engine.Snapshot(),
		Bus: checkpoint.BusSnapshot{
			Owner:    s.Device.Bus.Owner(),
			WaitList: s.Device.Bus.WaitList(),
			Delay:    s.Device.Bus.ArbitrationDelay(),
		},
		RecordsRead: s.trace.RecordsRead(),
	}
}

// Restore rebuilds a Simulator from a checkpoint Snapshot: the element
// dispatchers (FTL state, pending queues, cleaning configuration), the
// gangs over them, a fresh device sharing a restored bus and event queue,
// and a trace prefetcher resumed at the snapshot's read offset via
// NewPrefetcherAt. seed reseeds every restored dispatcher's cleaning PRNG
// (Snapshot's doc comment covers what that does and doesn't preserve).
func Restore(p *paramfile.Params, trace tracefmt.Source, seed int64, snap checkpoint.Snapshot) (*Simulator, error) {
	g := p.Geometry
	if g.FlashChipElements%g.ElementsPerGang != 0 {
		return nil, simerr.NewConfigurationError("elements_per_gang", g.ElementsPerGang, "must divide flash_chip_elements")
	}
	if len(snap.Elements) != g.FlashChipElements {
		return nil, simerr.NewDomainError("checkpoint has %d elements, geometry expects %d", len(snap.Elements), g.FlashChipElements)
	}
	numGangs := g.FlashChipElements / g.ElementsPerGang

	rng := rand.New(rand.NewSource(seed))
	dispatchers := make([]*element.Dispatcher, g.FlashChipElements)
	for i, es := range snap.Elements {
		dispatchers[i] = checkpoint.RestoreDispatcher(es, rng)
	}

	gangs := make([]*gang.Gang, numGangs)
	for gi := 0; gi < numGangs; gi++ {
		members := dispatchers[gi*g.ElementsPerGang : (gi+1)*g.ElementsPerGang]
		gangs[gi] = gang.New(members, g.GangShare)
	}

	dev := device.New(dispatchers, g.CommandOverhead, g.BusTransactionLatency, g.NeverDisconnect)
	dev.Bus = bus.Restore(snap.Bus.Owner, snap.Bus.WaitList, snap.Bus.Delay)
	dev.Engine.Restore(snap.ClockTime, snap.Events)

	s := &Simulator{
		Params:          p,
		Device:          dev,
		Gangs:           gangs,
		elementsPerGang: g.ElementsPerGang,
		numGangs:        numGangs,
		trace:           tracefmt.NewPrefetcherAt(trace, snap.RecordsRead),
		resumed:         true,
	}
	return s, nil
}
