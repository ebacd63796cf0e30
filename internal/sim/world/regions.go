package world

import (
	"context"
	"errors"

	"multiblock.ai/internal/sim/multiblock"
)

var ErrUnloaded = errors.New("cell is in an unloaded region")

// RegionEvent loads or unloads the chunks in [Min, Max] (inclusive, chunk
// coordinates). Unloading pauses the structures it touches; loading
// revalidates them.
type RegionEvent struct {
	Load     bool
	Min, Max ChunkKey
}

func (ev RegionEvent) record() RegionRecord {
	return RegionRecord{
		Load: ev.Load,
		Min:  [3]int{ev.Min.CX, ev.Min.CY, ev.Min.CZ},
		Max:  [3]int{ev.Max.CX, ev.Max.CY, ev.Max.CZ},
	}
}

func RegionFromRecord(r RegionRecord) RegionEvent {
	return RegionEvent{
		Load: r.Load,
		Min:  ChunkKey{CX: r.Min[0], CY: r.Min[1], CZ: r.Min[2]},
		Max:  ChunkKey{CX: r.Max[0], CY: r.Max[1], CZ: r.Max[2]},
	}
}

func (w *World) SubmitRegion(ctx context.Context, ev RegionEvent) error {
	select {
	case w.regions <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *World) applyRegion(ev RegionEvent) {
	lo, hi := ev.Min, ev.Max
	if hi.CX < lo.CX || hi.CY < lo.CY || hi.CZ < lo.CZ {
		w.logger.Printf("region event with inverted bounds %+v..%+v ignored", lo, hi)
		return
	}
	for cx := lo.CX; cx <= hi.CX; cx++ {
		for cy := lo.CY; cy <= hi.CY; cy++ {
			for cz := lo.CZ; cz <= hi.CZ; cz++ {
				k := ChunkKey{CX: cx, CY: cy, CZ: cz}
				if ev.Load {
					delete(w.unloaded, k)
				} else {
					w.unloaded[k] = struct{}{}
				}
			}
		}
	}

	n := w.store.Size()
	min := w.store.Origin(lo)
	max := w.store.Origin(hi).Add(Vec3i{X: n - 1, Y: n - 1, Z: n - 1})
	if ev.Load {
		w.reg.RestoreWithin(min, max, w.boundsLoaded)
	} else {
		w.reg.PauseWithin(min, max)
	}
}

// boundsLoaded reports whether every chunk c's bounds reach is loaded.
func (w *World) boundsLoaded(c *multiblock.Controller) bool {
	if len(w.unloaded) == 0 {
		return true
	}
	b := c.Bounds()
	lo, _ := w.store.split(b.Min)
	hi, _ := w.store.split(b.Max)
	for cx := lo.CX; cx <= hi.CX; cx++ {
		for cy := lo.CY; cy <= hi.CY; cy++ {
			for cz := lo.CZ; cz <= hi.CZ; cz++ {
				if _, ok := w.unloaded[ChunkKey{CX: cx, CY: cy, CZ: cz}]; ok {
					return false
				}
			}
		}
	}
	return true
}

func (w *World) checkLoaded(pos Vec3i) error {
	if len(w.unloaded) == 0 {
		return nil
	}
	k, _ := w.store.split(pos)
	if _, ok := w.unloaded[k]; ok {
		return ErrUnloaded
	}
	return nil
}
