// Package device implements the top-level event-transition table from
// spec.md §4.7: per-element channel activity, bus ownership, and the
// event-driven dispatch loop, grounded on
// original_source/ssdmodel/ssd.c's top-level ssd_event_arrive switch.
package device

import (
	"github.com/flashbox/ssdsim/internal/bus"
	"github.com/flashbox/ssdsim/internal/element"
	"github.com/flashbox/ssdsim/internal/event"
	"github.com/flashbox/ssdsim/internal/simerr"
)

// AccessPayload is carried by every access-path event: the arriving
// request and which element it targets.
type AccessPayload struct {
	ElementIdx int
	Req        element.Request
}

// Device owns the event engine, the element dispatchers, and the shared
// bus, and implements the transition table of spec.md §4.7.
type Device struct {
	Engine   *event.Engine
	Elements []*element.Dispatcher
	Bus      *bus.Bus

	Overhead        float64
	NeverDisconnect bool

	// Completed accumulates finished requests, standing in for "deliver
	// the completion interrupt up the bus" since this core has no
	// upstream transport of its own (spec.md §1 scope).
	Completed []element.Completion

	Stopped bool
}

// New builds a device over the given element dispatchers, sharing one
// bus with the given arbitration delay and per-access overhead.
func New(elements []*element.Dispatcher, overhead, arbitrationDelay float64, neverDisconnect bool) *Device {
	return &Device{
		Engine:          event.NewEngine(),
		Elements:        elements,
		Bus:             bus.New(arbitrationDelay),
		Overhead:        overhead,
		NeverDisconnect: neverDisconnect,
	}
}

// Submit schedules IO_ACCESS_ARRIVE for a new request at the engine's
// current time, per spec.md §4.7's first transition row.
func (d *Device) Submit(elementIdx, lpn, count int, isWrite bool) {
	d.SubmitAt(d.Engine.Now(), elementIdx, lpn, count, isWrite)
}

// SubmitAt schedules IO_ACCESS_ARRIVE for a new request at an arbitrary
// time t, which may be ahead of the engine's current clock (a trace
// record's arrival time) or behind it (the "late event" relaxation).
func (d *Device) SubmitAt(t float64, elementIdx, lpn, count int, isWrite bool) {
	e := d.Engine.Alloc()
	e.Time = t
	e.Type = event.TypeIOAccessArrive
	e.Payload = &AccessPayload{ElementIdx: elementIdx, Req: element.Request{LPN: lpn, Count: count, IsWrite: isWrite, ArrivedAt: t}}
	d.Engine.Schedule(e)
}

func (d *Device) schedule(t float64, typ event.Type, payload interface{}) {
	e := d.Engine.Alloc()
	e.Time = t
	e.Type = typ
	e.Payload = payload
	d.Engine.Schedule(e)
}

// Run drains the event queue until it empties or a STOP_SIM/EXIT event is
// processed, dispatching every event through Handle.
func (d *Device) Run() error {
	for {
		ev := d.Engine.Next()
		if ev == nil {
			return nil
		}
		err := d.Handle(ev)
		d.Engine.Recycle(ev)
		if err != nil {
			return err
		}
		if d.Stopped {
			return nil
		}
	}
}

// activateElement runs one dispatch batch on element idx and schedules a
// DEVICE_ACCESS_COMPLETE event for every completion it produces. If
// background cleaning is configured and the element needs it, this instead
// dispatches a cleaning sweep, marks the element media_busy, and schedules
// its own TypeCleanElement completion rather than running Activate now
// (spec.md §4.5 step 2); otherwise any needed cleaning runs in the
// foreground, billed to the very next request.
func (d *Device) activateElement(idx int, now float64) error {
	disp := d.Elements[idx]
	if disp.CleanInBG && disp.NeedsCleaning() {
		cost, err := disp.DispatchBackgroundCleaning(now)
		if err != nil {
			return err
		}
		disp.MediaBusy = true
		d.schedule(now+cost, event.TypeCleanElement, idx)
		return nil
	}
	cleanedAt, err := disp.RunForegroundCleaning(now)
	if err != nil {
		return err
	}
	completions, err := disp.Activate(cleanedAt)
	if err != nil {
		return err
	}
	for _, c := range completions {
		d.schedule(c.FinishedAt, event.TypeDeviceAccessComplete, &AccessPayload{ElementIdx: idx, Req: c.Req})
	}
	return nil
}

// Handle processes one event per the transition table of spec.md §4.7.
func (d *Device) Handle(ev *event.Event) error {
	switch ev.Type {
	case event.TypeIOAccessArrive:
		p := ev.Payload.(*AccessPayload)
		d.schedule(d.Engine.Now()+d.Overhead, event.TypeDeviceOverheadComplete, p)
		return nil

	case event.TypeDeviceOverheadComplete:
		p := ev.Payload.(*AccessPayload)
		disp := d.Elements[p.ElementIdx]
		if err := disp.ValidateRange(p.Req.LPN, p.Req.Count); err != nil {
			return err
		}
		disp.Enqueue(p.Req)
		wasIdle := !disp.MediaBusy
		if wasIdle {
			if err := d.activateElement(p.ElementIdx, d.Engine.Now()); err != nil {
				return err
			}
		}
		if !p.Req.IsWrite {
			if !d.NeverDisconnect {
				d.schedule(d.Engine.Now(), event.TypeIOInterruptDisconnect, p)
			}
		} else {
			d.schedule(d.Engine.Now()+d.Bus.ArbitrationDelay(), event.TypeDeviceDataTransferComplete, p)
		}
		return nil

	case event.TypeDeviceDataTransferComplete:
		p := ev.Payload.(*AccessPayload)
		if err := d.activateElement(p.ElementIdx, d.Engine.Now()); err != nil {
			return err
		}
		if d.NeverDisconnect {
			for i := range d.Elements {
				if err := d.activateElement(i, d.Engine.Now()); err != nil {
					return err
				}
			}
		}
		return nil

	case event.TypeDeviceAccessComplete:
		p := ev.Payload.(*AccessPayload)
		d.Completed = append(d.Completed, element.Completion{Req: p.Req, FinishedAt: d.Engine.Now()})
		disp := d.Elements[p.ElementIdx]
		if len(disp.Queue) > 0 {
			if err := d.activateElement(p.ElementIdx, d.Engine.Now()); err != nil {
				return err
			}
		}
		d.schedule(d.Engine.Now(), event.TypeIOInterruptCompletion, p)
		return nil

	case event.TypeIOInterruptReconnect, event.TypeIOInterruptDisconnect, event.TypeIOInterruptCompletion:
		p := ev.Payload.(*AccessPayload)
		if granted, ok := d.Bus.Release(p.ElementIdx); ok {
			d.schedule(d.Engine.Now()+d.Bus.ArbitrationDelay(), event.TypeBusGrant, granted)
		}
		return nil

	case event.TypeCleanElement:
		idx := ev.Payload.(int)
		d.Elements[idx].MediaBusy = false
		return d.activateElement(idx, d.Engine.Now())

	case event.TypeCleanGang:
		idxs := ev.Payload.([]int)
		for _, idx := range idxs {
			d.Elements[idx].MediaBusy = false
			if err := d.activateElement(idx, d.Engine.Now()); err != nil {
				return err
			}
		}
		return nil

	case event.TypeBusGrant:
		return nil

	case event.TypeCheckpoint:
		return nil

	case event.TypeStop, event.TypeExit:
		d.Stopped = true
		return nil

	case event.TypeNull:
		return nil

	default:
		return simerr.NewInvariantViolation("unknown event type %v", ev.Type)
	}
}
