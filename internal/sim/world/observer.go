package world

import (
	"encoding/json"
	"maps"
	"slices"

	"multiblock.ai/internal/observerproto"
	"multiblock.ai/internal/sim/multiblock"
)

// ObserverJoinRequest registers a read-only observer session. The world
// sends a BOOTSTRAP message on Out, then one TICK message per tick and a
// STRUCTURE_UPDATE or STRUCTURE_REMOVED message per changed controller.
// When Out is full the oldest queued message is dropped.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
}

type observerClient struct {
	id  string
	out chan []byte
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string { return w.observerLeave }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if old, ok := w.observer[req.SessionID]; ok {
		close(old.out)
	}
	c := &observerClient{id: req.SessionID, out: req.Out}
	w.observer[req.SessionID] = c
	observersConnected.Set(float64(len(w.observer)))

	msg := w.Bootstrap(w.tick.Load(), w.reg.Snapshot())
	msg.SessionID = req.SessionID
	b, err := json.Marshal(msg)
	if err != nil {
		w.logger.Printf("observer bootstrap: %v", err)
		return
	}
	if !sendLatest(c.out, b) {
		observerDropsTotal.Inc()
	}
}

func (w *World) handleObserverLeave(id string) {
	c, ok := w.observer[id]
	if !ok {
		return
	}
	delete(w.observer, id)
	close(c.out)
	observersConnected.Set(float64(len(w.observer)))
}

func (w *World) closeObservers() {
	for id, c := range w.observer {
		close(c.out)
		delete(w.observer, id)
	}
	observersConnected.Set(0)
}

// Bootstrap builds the BOOTSTRAP message for the given controller views.
func (w *World) Bootstrap(tick uint64, views []multiblock.ControllerView) observerproto.BootstrapMsg {
	msg := observerproto.BootstrapMsg{
		Type:            observerproto.TypeBootstrap,
		ProtocolVersion: observerproto.Version,
		WorldID:         w.cfg.ID,
		Tick:            tick,
		TickRateHz:      w.cfg.TickRateHz,
		BlockPalette:    w.BlockPalette(),
		Structures:      make([]observerproto.StructureState, 0, len(views)),
	}
	for _, v := range views {
		msg.Structures = append(msg.Structures, StructureState(v))
	}
	return msg
}

func StructureState(v multiblock.ControllerView) observerproto.StructureState {
	return observerproto.StructureState{
		ID:             uint64(v.ID),
		Kind:           v.Kind,
		State:          v.State.String(),
		Active:         v.Active,
		Parts:          v.Parts,
		SubControllers: v.SubControllers,
		Min:            v.Min.ToArray(),
		Max:            v.Max.ToArray(),
		Reference:      v.Reference.ToArray(),
		Reason:         v.Reason,
		Validations:    v.Validations,
		Description:    v.Description,
		Sync:           v.Message,
	}
}

func (w *World) broadcastTick(entry TickLogEntry, events []multiblock.Event) {
	if len(w.observer) == 0 {
		return
	}
	msgs := make([][]byte, 0, 1+len(events))
	tm := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            entry.Tick,
		Changed:         entry.Changed,
		Rejected:        len(entry.Rejected),
	}
	if b, err := json.Marshal(tm); err == nil {
		msgs = append(msgs, b)
	}

	touched := map[multiblock.ControllerID]multiblock.ControllerID{}
	for _, ev := range events {
		if _, ok := touched[ev.Controller]; !ok {
			touched[ev.Controller] = 0
		}
		if ev.Type == multiblock.EventAssimilated && ev.Other != 0 {
			touched[ev.Other] = ev.Controller
		}
	}
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		var v any
		if view, ok := w.liveView(id); ok {
			v = observerproto.StructureUpdateMsg{
				Type:            observerproto.TypeStructureUpdate,
				ProtocolVersion: observerproto.Version,
				Tick:            entry.Tick,
				Structure:       StructureState(view),
			}
		} else {
			v = observerproto.StructureRemovedMsg{
				Type:            observerproto.TypeStructureRemoved,
				ProtocolVersion: observerproto.Version,
				Tick:            entry.Tick,
				ID:              uint64(id),
				MergedInto:      uint64(touched[id]),
			}
		}
		b, err := json.Marshal(v)
		if err != nil {
			w.logger.Printf("observer message: %v", err)
			continue
		}
		msgs = append(msgs, b)
	}

	for _, id := range slices.Sorted(maps.Keys(w.observer)) {
		c := w.observer[id]
		for _, b := range msgs {
			if !sendLatest(c.out, b) {
				observerDropsTotal.Inc()
			}
		}
	}
}
