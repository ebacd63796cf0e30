package world

import (
	"fmt"

	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/tank"
	"multiblock.ai/internal/sim/tuning"
)

type Vec3i = multiblock.Vec3i

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	ChunkSize          int
	SnapshotEveryTicks int
	ObserverQueue      int
	Tank               tank.Config
}

// ConfigFromTuning maps tuning.yaml onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	refuse := true
	if t.Tank.RefuseBridging != nil {
		refuse = *t.Tank.RefuseBridging
	}
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		ChunkSize:          t.ChunkSize,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		ObserverQueue:      t.ObserverQueue,
		Tank: tank.Config{
			MinSize:           multiblock.Vec3FromArray(t.Tank.MinSize),
			MaxSize:           multiblock.Vec3FromArray(t.Tank.MaxSize),
			InteriorAllowance: t.Tank.InteriorAllowance,
			RefuseBridging:    refuse,
		},
	}
}

func (c WorldConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("world: empty id")
	}
	if c.TickRateHz <= 0 {
		return fmt.Errorf("world: tick_rate_hz must be > 0")
	}
	if c.ChunkSize <= 0 || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return fmt.Errorf("world: chunk_size must be a power of two")
	}
	return nil
}

// TickLogEntry is the per-tick record handed to the tick logger and index.
type TickLogEntry struct {
	Tick     uint64           `json:"tick"`
	Edits    []EditRecord     `json:"edits,omitempty"`
	Rejected []EditRecord     `json:"rejected,omitempty"`
	Regions  []RegionRecord   `json:"regions,omitempty"`
	Events   []StructureEvent `json:"events,omitempty"`
	Changed  [][3]int         `json:"changed,omitempty"`
	StepMS   float64          `json:"step_ms"`
}

// Idle reports whether the tick carried no input and produced no events.
func (e TickLogEntry) Idle() bool {
	return len(e.Edits) == 0 && len(e.Rejected) == 0 && len(e.Regions) == 0 && len(e.Events) == 0
}

// EditRecord is one applied or rejected edit. Seq is its arrival index
// within the tick.
type EditRecord struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Pos    [3]int `json:"pos"`
	Block  string `json:"block,omitempty"`
	Active bool   `json:"active,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RegionRecord is a region event as logged, in chunk coordinates.
type RegionRecord struct {
	Load bool   `json:"load"`
	Min  [3]int `json:"min"`
	Max  [3]int `json:"max"`
}

// StructureEvent is a controller lifecycle event as logged.
type StructureEvent struct {
	Type       string `json:"type"`
	Controller uint64 `json:"controller"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Parts      int    `json:"parts"`
	Reason     string `json:"reason,omitempty"`
	Other      uint64 `json:"other,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}
