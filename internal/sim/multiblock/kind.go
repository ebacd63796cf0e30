package multiblock

import "multiblock.ai/internal/sim/multiblock/codec"

// Limits bounds the legal envelope of a structure. Each axis has its own
// [MinSize, MaxSize] range; a zero MaxSize component means unbounded.
type Limits struct {
	MinSize Vec3i
	MaxSize Vec3i
	// InteriorAllowance is subtracted from the minimum box volume to get the
	// smallest part count worth validating.
	InteriorAllowance int
}

func (l Limits) MinParts() int {
	n := l.MinSize.X*l.MinSize.Y*l.MinSize.Z - l.InteriorAllowance
	if n < 1 {
		return 1
	}
	return n
}

// Kind is one structure type. A Kind is shared by every controller of that
// type; per-controller state lives in the Behavior it creates.
type Kind interface {
	Name() string
	Limits() Limits
	NewBehavior() Behavior
}

// Rules are the kind-specific validation checks, run after the generic size
// and shell checks.
type Rules interface {
	// CheckInterior is called for every interior cell not occupied by a part.
	CheckInterior(w World, pos Vec3i) *ValidationError
	// CheckWhole runs last; typically cardinality rules.
	CheckWhole(c *Controller) *ValidationError
}

// Hooks are called synchronously from the engine at fixed points.
type Hooks interface {
	OnBlockAdded(c *Controller, p *Part)
	OnBlockRemoved(c *Controller, p *Part)
	OnAssembled(c *Controller)
	OnDisassembled(c *Controller)
	OnPaused(c *Controller)
	OnRestored(c *Controller)
	// OnAssimilate runs on the surviving controller after it took over
	// every part of assimilated.
	OnAssimilate(c *Controller, assimilated *Controller)
	// OnAssimilated runs on the controller about to be discarded.
	OnAssimilated(c *Controller, assimilator *Controller)
	OnAttachedWithState(c *Controller, p *Part, st *CarriedState)
}

// Persistence covers the kind-specific fields of records and sync messages.
type Persistence interface {
	WriteRecord(c *Controller, rec codec.Record)
	ReadRecord(c *Controller, rec codec.Record)
	MarshalFields(f *codec.Fields)
}

type Behavior interface {
	Rules
	Hooks
	Persistence
	Describe(c *Controller) string
}

// NopBehavior implements Behavior with no-ops: air-only interior, no
// cardinality rules, nothing persisted. Kinds embed it and override what
// they need.
type NopBehavior struct{}

func (NopBehavior) CheckInterior(w World, pos Vec3i) *ValidationError {
	if w == nil || w.IsAirAt(pos) {
		return nil
	}
	return InvalidAt(RuleInterior, pos, "Block at %s is not valid for the machine's interior", pos)
}

func (NopBehavior) CheckWhole(*Controller) *ValidationError { return nil }
func (NopBehavior) OnBlockAdded(*Controller, *Part) {}
func (NopBehavior) OnBlockRemoved(*Controller, *Part) {}
func (NopBehavior) OnAssembled(*Controller) {}
func (NopBehavior) OnDisassembled(*Controller) {}
func (NopBehavior) OnPaused(*Controller) {}
func (NopBehavior) OnRestored(*Controller) {}
func (NopBehavior) OnAssimilate(*Controller, *Controller) {}
func (NopBehavior) OnAssimilated(*Controller, *Controller) {}
func (NopBehavior) OnAttachedWithState(*Controller, *Part, *CarriedState) {}
func (NopBehavior) WriteRecord(*Controller, codec.Record) {}
func (NopBehavior) ReadRecord(*Controller, codec.Record) {}
func (NopBehavior) MarshalFields(*codec.Fields) {}
func (NopBehavior) Describe(*Controller) string { return "" }
