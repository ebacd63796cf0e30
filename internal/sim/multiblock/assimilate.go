package multiblock

import "fmt"

// survivorOf picks the controller that survives a merge of a and b: the one
// with more parts, or on a tie the one with the lower reference coordinate.
func survivorOf(a, b *Controller) *Controller {
	if a.PartCount() != b.PartCount() {
		if a.PartCount() > b.PartCount() {
			return a
		}
		return b
	}
	ra, _ := a.ReferenceCoord()
	rb, _ := b.ReferenceCoord()
	if rb.Less(ra) {
		return b
	}
	return a
}

func compareSurvivor(a, b *Controller) int {
	if a == b {
		return 0
	}
	if survivorOf(a, b) == a {
		return -1
	}
	return 1
}

// Assimilate merges the smaller of a and b into the larger and returns the
// survivor. Merging a controller with itself, or with one that is no longer
// registered, is a no-op that returns the live side.
//
// The survivor is only marked dirty; the batch it belongs to validates it
// once.
func (r *Registry) Assimilate(a, b *Controller) *Controller {
	_, aLive := r.controllers[idOf(a)]
	_, bLive := r.controllers[idOf(b)]
	switch {
	case !aLive && !bLive:
		return nil
	case !bLive || a == b:
		return a
	case !aLive:
		return b
	}

	surv := survivorOf(a, b)
	loser := b
	if surv == b {
		loser = a
	}

	if loser.state != StateDisassembled {
		loser.disassemble(fmt.Sprintf("assimilated by #%d", surv.id))
	}
	moved := loser.Parts()

	for _, p := range moved {
		delete(loser.parts, p.Pos)
		delete(loser.fresh, p.Pos)
		surv.attach(p)
	}
	loser.bounds.Reset()

	surv.behavior.OnAssimilate(surv, loser)
	loser.behavior.OnAssimilated(loser, surv)
	clear(loser.subControllers)

	_ = r.Deregister(loser)
	assimilationsTotal.WithLabelValues(surv.kind.Name()).Inc()
	surv.emit(Event{Type: EventAssimilated, Other: loser.id})
	r.markDirty(surv)
	return surv
}

func idOf(c *Controller) ControllerID {
	if c == nil {
		return 0
	}
	return c.id
}
