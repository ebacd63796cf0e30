package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

type EditOp string

const (
	OpPlace     EditOp = "PLACE"
	OpBreak     EditOp = "BREAK"
	OpSetActive EditOp = "SET_ACTIVE"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	ErrOccupied     = errors.New("cell is occupied")
	ErrEmptyCell    = errors.New("cell is empty")
	ErrNoStructure  = errors.New("no structure at cell")
	ErrBusy         = errors.New("world inbox full")
)

// Edit is one world mutation. Edits are queued and applied at the start of
// the next tick, in arrival order.
type Edit struct {
	Op     EditOp
	Pos    Vec3i
	Block  string
	Active bool
}

func (e Edit) record(seq int, reason string) EditRecord {
	return EditRecord{Seq: seq, Op: string(e.Op), Pos: e.Pos.ToArray(), Block: e.Block, Active: e.Active, Reason: reason}
}

// Inputs returns the region events and edits of a logged tick, edits in
// arrival order, ready to be stepped again.
func (e TickLogEntry) Inputs() ([]Edit, []RegionEvent) {
	recs := make([]EditRecord, 0, len(e.Edits)+len(e.Rejected))
	recs = append(recs, e.Edits...)
	recs = append(recs, e.Rejected...)
	slices.SortStableFunc(recs, func(a, b EditRecord) int { return cmp.Compare(a.Seq, b.Seq) })

	edits := make([]Edit, 0, len(recs))
	for _, r := range recs {
		edits = append(edits, EditFromRecord(r))
	}
	regions := make([]RegionEvent, 0, len(e.Regions))
	for _, r := range e.Regions {
		regions = append(regions, RegionFromRecord(r))
	}
	return edits, regions
}

// EditFromRecord rebuilds the edit a logged record was made from.
func EditFromRecord(r EditRecord) Edit {
	return Edit{Op: EditOp(r.Op), Pos: Vec3i{X: r.Pos[0], Y: r.Pos[1], Z: r.Pos[2]}, Block: r.Block, Active: r.Active}
}

func PlaceBlock(pos Vec3i, block string) Edit { return Edit{Op: OpPlace, Pos: pos, Block: block} }

func BreakBlock(pos Vec3i) Edit { return Edit{Op: OpBreak, Pos: pos} }

func SetActive(pos Vec3i, active bool) Edit { return Edit{Op: OpSetActive, Pos: pos, Active: active} }

// SubmitEdit queues e for the next tick. It never blocks on a full inbox.
func (w *World) SubmitEdit(ctx context.Context, e Edit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case w.inbox <- e:
		editQueueDepth.Set(float64(len(w.inbox)))
		return nil
	default:
		return ErrBusy
	}
}

func (w *World) applyEdit(e Edit) error {
	switch e.Op {
	case OpPlace:
		return w.place(e.Pos, e.Block)
	case OpBreak:
		return w.breakBlock(e.Pos)
	case OpSetActive:
		c, ok := w.reg.ControllerFor(e.Pos)
		if !ok {
			return ErrNoStructure
		}
		c.SetActive(e.Active)
		return nil
	default:
		return fmt.Errorf("unknown edit op %q", e.Op)
	}
}

func (w *World) place(pos Vec3i, name string) error {
	b, ok := w.catalogs.Blocks.Index[name]
	if !ok || b == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}
	if !w.IsAirAt(pos) {
		return ErrOccupied
	}
	part, err := w.partFor(pos, b)
	if err != nil {
		return err
	}
	if part != nil {
		if g, ok := part.Kind.(placementGuard); ok {
			if err := g.CanPlace(w.reg, pos); err != nil {
				return err
			}
		}
	}
	w.store.Set(pos, b)
	if part != nil {
		if err := w.reg.AddPart(part); err != nil {
			w.store.Set(pos, 0)
			return err
		}
	} else {
		w.reg.MarkEnclosing(pos)
	}
	w.NotifyBlockChanged(pos)
	return nil
}

func (w *World) breakBlock(pos Vec3i) error {
	if w.IsAirAt(pos) {
		return ErrEmptyCell
	}
	if _, ok := w.reg.PartAt(pos); ok {
		if _, err := w.reg.RemovePart(pos); err != nil {
			return err
		}
	} else {
		w.reg.MarkEnclosing(pos)
	}
	w.store.Set(pos, 0)
	w.NotifyBlockChanged(pos)
	return nil
}
