package world

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"time"

	"multiblock.ai/internal/sim/multiblock"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer w.closeObservers()

	var pendingEdits []Edit
	var pendingRegions []RegionEvent
	var pendingSnapshots []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.structuresReq:
			w.handleStructuresReq(req)
		case req := <-w.describeReq:
			w.handleDescribeReq(req)
		case req := <-w.snapshotReq:
			pendingSnapshots = append(pendingSnapshots, req)
		case ev := <-w.regions:
			pendingRegions = append(pendingRegions, ev)
		case e := <-w.inbox:
			pendingEdits = append(pendingEdits, e)
		case <-ticker.C:
			w.step(pendingEdits, pendingRegions)
			w.handleSnapshotRequests(pendingSnapshots)
			pendingEdits = pendingEdits[:0]
			pendingRegions = pendingRegions[:0]
			pendingSnapshots = pendingSnapshots[:0]
			editQueueDepth.Set(float64(len(w.inbox)))
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering as the
// loop. It is intended for replays and tests, and must not run concurrently
// with Run.
func (w *World) StepOnce(edits []Edit, regions []RegionEvent) (entry TickLogEntry, digest string) {
	entry = w.step(edits, regions)
	return entry, w.stateDigest(entry.Tick)
}

// step applies region events, then edits in arrival order, then one registry
// batch, so every controller touched this tick is validated once.
func (w *World) step(edits []Edit, regions []RegionEvent) TickLogEntry {
	start := time.Now()
	tick := w.tick.Load()
	entry := TickLogEntry{Tick: tick}

	for _, ev := range regions {
		w.applyRegion(ev)
		entry.Regions = append(entry.Regions, ev.record())
	}
	for i, e := range edits {
		err := w.checkLoaded(e.Pos)
		if err == nil {
			err = w.applyEdit(e)
		}
		if err != nil {
			editsTotal.WithLabelValues(string(e.Op), "rejected").Inc()
			entry.Rejected = append(entry.Rejected, e.record(i, err.Error()))
			continue
		}
		editsTotal.WithLabelValues(string(e.Op), "ok").Inc()
		rec := e.record(i, "")
		if e.Op == OpBreak {
			rec.Block = ""
		}
		entry.Edits = append(entry.Edits, rec)
	}

	w.reg.Tick()

	events := w.events
	w.events = nil
	for _, ev := range events {
		entry.Events = append(entry.Events, StructureEvent{
			Type:       string(ev.Type),
			Controller: uint64(ev.Controller),
			Kind:       ev.Kind,
			State:      ev.State.String(),
			Parts:      ev.Parts,
			Reason:     ev.Reason,
			Other:      uint64(ev.Other),
		})
	}
	for _, pos := range slices.SortedFunc(maps.Keys(w.changed), comparePos) {
		entry.Changed = append(entry.Changed, pos.ToArray())
	}
	clear(w.changed)

	elapsed := time.Since(start)
	entry.StepMS = float64(elapsed.Microseconds()) / 1000
	stepSeconds.Observe(elapsed.Seconds())

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logger.Printf("tick log: %v", err)
		}
	}
	w.broadcastTick(entry, events)

	if every := w.cfg.SnapshotEveryTicks; every > 0 && tick > 0 && tick%uint64(every) == 0 {
		w.sendSnapshot(tick)
	}

	w.tick.Add(1)
	worldTick.Set(float64(tick + 1))
	return entry
}

func comparePos(a, b Vec3i) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// stateDigest hashes the block store and every controller's persisted state.
func (w *World) stateDigest(tick uint64) string {
	h := sha256.New()
	var tmp [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		h.Write(tmp[:])
	}
	writeInt(int64(tick))
	for _, k := range w.store.LoadedChunkKeys() {
		c, _ := w.store.Chunk(k)
		writeInt(int64(k.CX))
		writeInt(int64(k.CY))
		writeInt(int64(k.CZ))
		d := c.Digest()
		h.Write(d[:])
	}
	for _, c := range w.reg.Controllers() {
		writeInt(int64(c.ID()))
		h.Write([]byte(c.Kind().Name()))
		writeInt(int64(c.PartCount()))
		if ref, ok := c.ReferenceCoord(); ok {
			writeInt(int64(ref.X))
			writeInt(int64(ref.Y))
			writeInt(int64(ref.Z))
		}
		rec := c.WriteRecord()
		for _, key := range slices.Sorted(maps.Keys(rec)) {
			fmt.Fprintf(h, "%s=%v;", key, rec[key])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

// liveView returns the copy-on-read view of a controller that is still
// registered.
func (w *World) liveView(id multiblock.ControllerID) (multiblock.ControllerView, bool) {
	c, ok := w.reg.Controller(id)
	if !ok {
		return multiblock.ControllerView{}, false
	}
	return c.View(), true
}
