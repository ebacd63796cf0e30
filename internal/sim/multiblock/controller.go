package multiblock

import (
	"fmt"
	"slices"

	"multiblock.ai/internal/sim/multiblock/codec"
)

// Controller owns the part set and assembly state of one structure.
// All methods must be called from the registry's home goroutine.
type Controller struct {
	id       ControllerID
	kind     Kind
	behavior Behavior
	reg      *Registry

	parts          map[Vec3i]*Part
	subControllers map[Vec3i]*Part
	bounds         BoundingVolume

	// envelope is the bounding volume frozen by the last successful
	// validation; empty while disassembled.
	envelope BoundingVolume

	// fresh holds parts that joined since the last validation pass; their
	// hosts are told about an assembled machine they were not part of yet.
	fresh map[Vec3i]*Part

	state       MachineState
	active      bool
	lastErr     *ValidationError
	validations int

	// restorePending is set by Restore; the next validation pass moves a
	// paused machine back to Assembled.
	restorePending bool
}

func newController(id ControllerID, kind Kind, reg *Registry) *Controller {
	return &Controller{
		id:             id,
		kind:           kind,
		behavior:       kind.NewBehavior(),
		reg:            reg,
		parts:          map[Vec3i]*Part{},
		subControllers: map[Vec3i]*Part{},
		fresh:          map[Vec3i]*Part{},
	}
}

func (c *Controller) ID() ControllerID { return c.id }
func (c *Controller) Kind() Kind { return c.kind }
func (c *Controller) Behavior() Behavior { return c.behavior }
func (c *Controller) State() MachineState { return c.state }
func (c *Controller) Active() bool { return c.active }
func (c *Controller) PartCount() int { return len(c.parts) }
func (c *Controller) Bounds() BoundingVolume { return c.bounds }
func (c *Controller) Envelope() BoundingVolume { return c.envelope }
func (c *Controller) Validations() int { return c.validations }
func (c *Controller) SubControllerCount() int { return len(c.subControllers) }

// LastValidationError is the reason recorded by the last failed validation
// pass, or nil if the last pass succeeded (or none ran yet).
func (c *Controller) LastValidationError() *ValidationError { return c.lastErr }

func (c *Controller) Contains(pos Vec3i) bool {
	_, ok := c.parts[pos]
	return ok
}

func (c *Controller) PartAt(pos Vec3i) *Part { return c.parts[pos] }

// Parts returns the member parts ordered by coordinate.
func (c *Controller) Parts() []*Part { return sortedParts(c.parts) }

func (c *Controller) SubControllerParts() []*Part { return sortedParts(c.subControllers) }

// World returns the world collaborator of the owning registry.
func (c *Controller) World() World {
	if c.reg == nil {
		return nil
	}
	return c.reg.world
}

// ReferenceCoord is the lowest member coordinate. It identifies the save
// delegate part and breaks assimilation ties.
func (c *Controller) ReferenceCoord() (Vec3i, bool) {
	var ref Vec3i
	found := false
	for pos := range c.parts {
		if !found || pos.Less(ref) {
			ref, found = pos, true
		}
	}
	return ref, found
}

func (c *Controller) attach(p *Part) {
	c.parts[p.Pos] = p
	c.fresh[p.Pos] = p
	p.Owner = c.id
	if p.Role == RoleSubController {
		c.subControllers[p.Pos] = p
	}
	c.bounds.Add(p.Pos)
	c.behavior.OnBlockAdded(c, p)
	c.markDirty()

	if st := p.Carried; st != nil {
		p.Carried = nil
		c.adoptCarried(p, st)
	}
}

func (c *Controller) adoptCarried(p *Part, st *CarriedState) {
	if st.Record != nil {
		c.ReadRecord(st.Record)
	}
	if len(st.Message) > 0 {
		if err := c.ApplyMessage(st.Message); err != nil {
			c.reg.logf("controller %d: drop carried message from %s: %v", c.id, p.Pos, err)
		}
	}
	c.behavior.OnAttachedWithState(c, p, st)
}

// detach removes p from the part set. The caller deregisters the controller
// if it ends up empty.
func (c *Controller) detach(p *Part) {
	if _, ok := c.parts[p.Pos]; !ok {
		return
	}
	delete(c.parts, p.Pos)
	delete(c.subControllers, p.Pos)
	delete(c.fresh, p.Pos)
	if c.bounds.OnEnvelope(p.Pos) {
		c.recomputeBounds()
	}
	p.Owner = 0
	c.behavior.OnBlockRemoved(c, p)
	if c.state != StateDisassembled && p.Host != nil {
		p.Host.OnMachineBroken()
	}
	c.markDirty()
}

func (c *Controller) recomputeBounds() {
	c.bounds.Reset()
	for pos := range c.parts {
		c.bounds.Add(pos)
	}
}

func (c *Controller) markDirty() {
	if c.reg != nil {
		c.reg.markDirty(c)
	}
}

// RecheckValidity runs one validation pass and applies the resulting state
// transition. It never panics on an invalid structure; the failure is
// returned and kept as LastValidationError.
func (c *Controller) RecheckValidity() *ValidationError {
	c.validations++
	err := c.validate()
	c.lastErr = err

	restore := c.restorePending
	c.restorePending = false

	kind := c.kind.Name()
	if err != nil {
		validationsTotal.WithLabelValues(kind, string(err.Rule)).Inc()
		if c.state != StateDisassembled {
			c.disassemble(err.Reason)
		} else {
			c.emit(Event{Type: EventValidationFailed, Reason: err.Reason})
		}
		clear(c.fresh)
		return err
	}
	validationsTotal.WithLabelValues(kind, "ok").Inc()

	switch c.state {
	case StateDisassembled:
		c.assemble()
	case StatePaused:
		// Topology edits keep a paused machine paused; only a region load
		// brings it back.
		c.envelope = c.bounds
		if !restore {
			// Parts attached while paused are announced on restore.
			return nil
		}
		c.state = StateAssembled
		c.notifyFresh()
		c.behavior.OnRestored(c)
		c.emit(Event{Type: EventRestored})
	case StateAssembled:
		c.envelope = c.bounds
		c.notifyFresh()
	}
	clear(c.fresh)
	return nil
}

func (c *Controller) assemble() {
	c.state = StateAssembled
	c.envelope = c.bounds
	w := c.World()
	for _, p := range c.Parts() {
		if p.Host != nil {
			p.Host.OnMachineAssembled(c)
		}
		if w != nil {
			w.NotifyBlockChanged(p.Pos)
		}
	}
	c.behavior.OnAssembled(c)
	c.emit(Event{Type: EventAssembled})
}

func (c *Controller) disassemble(reason string) {
	c.state = StateDisassembled
	c.envelope.Reset()
	c.behavior.OnDisassembled(c)
	w := c.World()
	for _, p := range c.Parts() {
		if p.Host != nil {
			p.Host.OnMachineBroken()
		}
		if w != nil {
			w.NotifyBlockChanged(p.Pos)
		}
	}
	c.emit(Event{Type: EventDisassembled, Reason: reason})
}

func (c *Controller) notifyFresh() {
	for _, p := range sortedParts(c.fresh) {
		if p.Host != nil {
			p.Host.OnMachineAssembled(c)
		}
	}
}

func (c *Controller) validate() *ValidationError {
	if len(c.parts) == 0 {
		return Invalid(RuleEmpty, "Machine is empty.")
	}
	lim := c.kind.Limits()
	if n := len(c.parts); n < lim.MinParts() {
		e := Invalid(RuleSize, "Machine is too small.")
		e.Count = n
		return e
	}

	b := c.bounds
	size := b.Size()
	axes := [3]struct {
		name          string
		got, min, max int
	}{
		{"X", size.X, lim.MinSize.X, lim.MaxSize.X},
		{"Y", size.Y, lim.MinSize.Y, lim.MaxSize.Y},
		{"Z", size.Z, lim.MinSize.Z, lim.MaxSize.Z},
	}
	for _, a := range axes {
		if a.max > 0 && a.got > a.max {
			return Invalid(RuleSize, "Machine is too large, it may be at most %d blocks in the %s dimension", a.max, a.name)
		}
		if a.got < a.min {
			return Invalid(RuleSize, "Machine is too small, it must be at least %d blocks in the %s dimension", a.min, a.name)
		}
	}

	w := c.World()
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				pos := Vec3i{X: x, Y: y, Z: z}
				p := c.parts[pos]
				ext := b.Extremes(pos)
				if ext == 0 {
					if p != nil {
						return InvalidAt(RuleInterior, pos, "Block at %s is not valid for the machine's interior", pos)
					}
					if err := c.behavior.CheckInterior(w, pos); err != nil {
						if err.Pos == nil {
							err.Pos = &pos
						}
						return err
					}
					continue
				}
				if p == nil {
					return InvalidAt(RuleShell, pos, "Block at %s is not valid for the machine's frame", pos)
				}
				if p.Role == RoleInteriorSensitive && ext > 1 {
					return InvalidAt(RuleShell, pos, "Block at %s is only valid on a face of the machine, not its frame", pos)
				}
			}
		}
	}
	return c.behavior.CheckWhole(c)
}

// Pause marks an assembled machine inert, e.g. because its region unloaded.
func (c *Controller) Pause() bool {
	c.restorePending = false
	if c.state != StateAssembled {
		return false
	}
	c.state = StatePaused
	c.behavior.OnPaused(c)
	c.emit(Event{Type: EventPaused})
	return true
}

// Restore queues a paused machine for revalidation. The next registry Tick
// makes it Assembled again if the structure is still whole and Disassembled
// otherwise, in the same single pass as any edits of that tick.
func (c *Controller) Restore() bool {
	if c.state != StatePaused {
		return false
	}
	c.restorePending = true
	c.markDirty()
	return true
}

// SetActive toggles the powered flag, notifying every part host once per
// transition. Setting the current value is a no-op.
func (c *Controller) SetActive(active bool) {
	if active == c.active {
		return
	}
	c.active = active
	for _, p := range c.Parts() {
		if p.Host == nil {
			continue
		}
		if active {
			p.Host.OnMachineActivated()
		} else {
			p.Host.OnMachineDeactivated()
		}
	}
	if active {
		c.emit(Event{Type: EventActivated})
	} else {
		c.emit(Event{Type: EventDeactivated})
	}
}

const (
	recordKeyState  = "state"
	recordKeyActive = "active"
)

// WriteRecord returns the persistence record of the controller.
func (c *Controller) WriteRecord() codec.Record {
	rec := codec.Record{}
	rec.SetUint8(recordKeyState, uint8(c.state))
	rec.SetBool(recordKeyActive, c.active)
	c.behavior.WriteRecord(c, rec)
	return rec
}

// ReadRecord applies every recognized key of rec. The stored state is only
// adopted before the first validation pass; after that, validation is
// authoritative.
func (c *Controller) ReadRecord(rec codec.Record) {
	if v, ok := rec.Uint8(recordKeyState); ok && c.validations == 0 {
		if st := MachineState(v); st <= StatePaused {
			c.state = st
			// A machine saved while paused comes back with its region.
			c.restorePending = st == StatePaused
		}
	}
	if v, ok := rec.Bool(recordKeyActive); ok {
		c.SetActive(v)
	}
	c.behavior.ReadRecord(c, rec)
}

// EncodeMessage builds the sync payload with the reference part as origin.
// The result is a private copy that may be handed to other goroutines.
func (c *Controller) EncodeMessage() []byte {
	ref, _ := c.ReferenceCoord()
	h := codec.Header{
		Origin:     [3]int32{int32(ref.X), int32(ref.Y), int32(ref.Z)},
		Controller: uint64(c.id),
		State:      uint8(c.state),
		Active:     c.active,
	}
	return codec.EncodeMessage(h, c.behavior)
}

// ApplyMessage adopts the mirrored fields of a sync payload.
func (c *Controller) ApplyMessage(b []byte) error {
	h, err := codec.DecodeMessage(b, c.behavior)
	if err != nil {
		return fmt.Errorf("controller %d: %w", c.id, err)
	}
	c.SetActive(h.Active)
	return nil
}

type titled interface{ Title() string }

// Describe is the one-line diagnostic text for humans.
func (c *Controller) Describe() string {
	name := c.kind.Name()
	if t, ok := c.kind.(titled); ok {
		name = t.Title()
	}
	s := fmt.Sprintf("%s #%d [%s] parts=%d", name, c.id, c.state, len(c.parts))
	if extra := c.behavior.Describe(c); extra != "" {
		s += " " + extra
	}
	if c.lastErr != nil && c.state != StateAssembled {
		s += "; last error: " + c.lastErr.Reason
	}
	return s
}

func (c *Controller) emit(ev Event) {
	if c.reg == nil {
		return
	}
	ev.Controller = c.id
	ev.Kind = c.kind.Name()
	ev.State = c.state
	ev.Parts = len(c.parts)
	c.reg.emit(ev)
}

func sortedParts(m map[Vec3i]*Part) []*Part {
	out := make([]*Part, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Part) int { return comparePos(a.Pos, b.Pos) })
	return out
}
