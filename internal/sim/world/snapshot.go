package world

import (
	"errors"
	"fmt"

	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/encoding"
	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/codec"
)

var (
	ErrNoSnapshotSink = errors.New("snapshot sink not configured")
	ErrSnapshotBusy   = errors.New("snapshot sink full")
)

// ExportSnapshot captures blocks and structures. Each structure is saved by
// its reference part: the record travels with that coordinate and the rest of
// the structure is re-derived from the blocks on import.
func (w *World) ExportSnapshot(tick uint64) (snapshot.SnapshotV1, error) {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		TickRate:      w.cfg.TickRateHz,
		ChunkSize:     w.cfg.ChunkSize,
		PaletteDigest: w.catalogs.Blocks.PaletteDigest,
	}
	for _, k := range w.store.LoadedChunkKeys() {
		c, _ := w.store.Chunk(k)
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{CX: k.CX, CY: k.CY, CZ: k.CZ, RLE: encoding.EncodeRLE(c.Blocks)})
	}
	for _, c := range w.reg.Controllers() {
		ref, ok := c.ReferenceCoord()
		if !ok {
			continue
		}
		rec, err := codec.EncodeRecord(c.WriteRecord())
		if err != nil {
			return snap, fmt.Errorf("controller %d record: %w", c.ID(), err)
		}
		s := snapshot.StructureV1{
			ID:     uint64(c.ID()),
			Kind:   c.Kind().Name(),
			State:  c.State().String(),
			Active: c.Active(),
			Ref:    ref.ToArray(),
			Record: rec,
		}
		for _, p := range c.Parts() {
			s.Parts = append(s.Parts, p.Pos.ToArray())
		}
		snap.Structures = append(snap.Structures, s)
	}
	return snap, nil
}

func (w *World) sendSnapshot(tick uint64) error {
	if w.snapshotSink == nil {
		return ErrNoSnapshotSink
	}
	snap, err := w.ExportSnapshot(tick)
	if err != nil {
		snapshotsTotal.WithLabelValues("error").Inc()
		w.logger.Printf("snapshot export: %v", err)
		return err
	}
	select {
	case w.snapshotSink <- snap:
		snapshotsTotal.WithLabelValues("ok").Inc()
		return nil
	default:
		snapshotsTotal.WithLabelValues("dropped").Inc()
		return ErrSnapshotBusy
	}
}

// ImportSnapshot replaces the world state with snap. It must be called before
// Run. Structures re-form on the next tick; each reference part carries its
// controller's record into the controller it founds.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.ChunkSize != w.cfg.ChunkSize {
		return fmt.Errorf("snapshot chunk size %d, world uses %d", snap.ChunkSize, w.cfg.ChunkSize)
	}
	if snap.PaletteDigest != w.catalogs.Blocks.PaletteDigest {
		return fmt.Errorf("snapshot palette digest mismatch (blocks.json changed)")
	}

	n := w.cfg.ChunkSize
	store := NewChunkStore(n)
	for _, ch := range snap.Chunks {
		blocks, err := encoding.DecodeRLE(ch.RLE, n*n*n)
		if err != nil {
			return fmt.Errorf("chunk %d,%d,%d: %w", ch.CX, ch.CY, ch.CZ, err)
		}
		store.Put(ChunkKey{CX: ch.CX, CY: ch.CY, CZ: ch.CZ}, blocks)
	}

	carried := map[Vec3i]codec.Record{}
	for _, s := range snap.Structures {
		rec, err := codec.DecodeRecord(s.Record)
		if err != nil {
			return fmt.Errorf("structure %d: %w", s.ID, err)
		}
		carried[multiblock.Vec3FromArray(s.Ref)] = rec
	}

	w.reg.Reset()
	w.events = nil
	clear(w.changed)
	w.store = store

	var addErr error
	store.Each(func(pos Vec3i, b uint16) {
		if addErr != nil {
			return
		}
		part, err := w.partFor(pos, b)
		if err != nil {
			addErr = fmt.Errorf("block at %s: %w", pos, err)
			return
		}
		if part == nil {
			return
		}
		if rec, ok := carried[pos]; ok {
			part.Carried = &multiblock.CarriedState{Record: rec}
			delete(carried, pos)
		}
		addErr = w.reg.AddPart(part)
	})
	if addErr != nil {
		return addErr
	}
	for pos := range carried {
		w.logger.Printf("snapshot: structure record at %s has no part; dropped", pos)
	}

	w.tick.Store(snap.Header.Tick + 1)
	worldTick.Set(float64(snap.Header.Tick + 1))
	return nil
}
