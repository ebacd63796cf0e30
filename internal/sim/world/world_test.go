package world

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiblock.ai/internal/observerproto"
	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/tank"
	"multiblock.ai/internal/sim/tuning"
)

var quiet = log.New(io.Discard, "", 0)

func newTestWorld(t *testing.T, mut func(*WorldConfig), tokens ...int32) *World {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	require.NoError(t, err)
	cfg := ConfigFromTuning("test", tuning.Defaults())
	cfg.SnapshotEveryTicks = 0
	if mut != nil {
		mut(&cfg)
	}
	if len(tokens) == 0 {
		tokens = []int32{4711}
	}
	i := 0
	next := func() int32 {
		v := tokens[i%len(tokens)]
		i++
		return v
	}
	k := tank.New(cfg.Tank, tank.WithTokenSource(next), tank.WithLogger(quiet))
	w, err := New(cfg, cats, WithLogger(quiet), WithKind(k))
	require.NoError(t, err)
	return w
}

// tankEdits places a 3x3x3 tank shell at origin with the valve on its corner.
func tankEdits(origin Vec3i) []Edit {
	var out []Edit
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if x == 1 && y == 1 && z == 1 {
					continue
				}
				block := "TANK_FRAME"
				if x == 0 && y == 0 && z == 0 {
					block = "TANK_VALVE"
				}
				out = append(out, PlaceBlock(origin.Add(Vec3i{X: x, Y: y, Z: z}), block))
			}
		}
	}
	return out
}

func eventTypes(entry TickLogEntry) []string {
	var out []string
	for _, ev := range entry.Events {
		out = append(out, ev.Type)
	}
	return out
}

func TestWorld_TankAssemblesFromPlacedBlocks(t *testing.T) {
	w := newTestWorld(t, nil)
	entry, _ := w.StepOnce(tankEdits(Vec3i{}), nil)

	assert.Len(t, entry.Edits, 26)
	assert.Empty(t, entry.Rejected)
	assert.Equal(t, []string{"CREATED", "ASSEMBLED"}, eventTypes(entry))
	assert.Len(t, entry.Changed, 26)

	c, ok := w.Registry().ControllerFor(Vec3i{X: 2, Y: 2, Z: 2})
	require.True(t, ok)
	assert.Equal(t, multiblock.StateAssembled, c.State())
	tok, _ := tank.TokenOf(c)
	assert.Equal(t, int32(4711), tok)
	assert.Equal(t, uint64(1), w.CurrentTick())
}

func TestWorld_EditRejections(t *testing.T) {
	w := newTestWorld(t, nil)
	entry, _ := w.StepOnce([]Edit{
		PlaceBlock(Vec3i{}, "STONE"),
		PlaceBlock(Vec3i{}, "DIRT"),
		PlaceBlock(Vec3i{X: 1}, "NOPE"),
		BreakBlock(Vec3i{X: 9}),
		SetActive(Vec3i{}, true),
	}, nil)

	require.Len(t, entry.Edits, 1)
	require.Len(t, entry.Rejected, 4)
	assert.Equal(t, ErrOccupied.Error(), entry.Rejected[0].Reason)
	assert.Contains(t, entry.Rejected[1].Reason, ErrUnknownBlock.Error())
	assert.Equal(t, ErrEmptyCell.Error(), entry.Rejected[2].Reason)
	assert.Equal(t, ErrNoStructure.Error(), entry.Rejected[3].Reason)
	assert.Zero(t, w.Registry().Len())
}

func TestWorld_BreakingValveDisassembles(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{}), nil)

	entry, _ := w.StepOnce([]Edit{BreakBlock(Vec3i{}), PlaceBlock(Vec3i{}, "TANK_FRAME")}, nil)
	assert.Equal(t, []string{"DISASSEMBLED"}, eventTypes(entry))
	assert.Equal(t, "You must have 1 controller in the tank structure (currently 0)", entry.Events[0].Reason)

	text, ok := w.Registry().DescribeAt(Vec3i{X: 1})
	require.True(t, ok)
	assert.Contains(t, text, "[DISASSEMBLED]")
	assert.Contains(t, text, "last error: You must have 1 controller")
}

func TestWorld_GuardRefusesBridgingTwoTanks(t *testing.T) {
	w := newTestWorld(t, nil, 11, 22)
	w.StepOnce(tankEdits(Vec3i{}), nil)
	w.StepOnce(tankEdits(Vec3i{X: 4}), nil)
	require.Equal(t, 2, w.Registry().Len())

	entry, _ := w.StepOnce([]Edit{PlaceBlock(Vec3i{X: 3, Y: 1, Z: 1}, "TANK_FRAME")}, nil)
	require.Len(t, entry.Rejected, 1)
	assert.Contains(t, entry.Rejected[0].Reason, tank.ErrBridgesTanks.Error())
	assert.True(t, w.IsAirAt(Vec3i{X: 3, Y: 1, Z: 1}))
	assert.Equal(t, 2, w.Registry().Len())

	// A plain block is not a part and is never guarded.
	entry, _ = w.StepOnce([]Edit{PlaceBlock(Vec3i{X: 3, Y: 1, Z: 1}, "STONE")}, nil)
	assert.Empty(t, entry.Rejected)
}

func TestWorld_SolidInteriorBreaksTank(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{}), nil)
	c, _ := w.Registry().ControllerFor(Vec3i{})

	entry, _ := w.StepOnce([]Edit{PlaceBlock(Vec3i{X: 1, Y: 1, Z: 1}, "GLASS")}, nil)
	require.Equal(t, []string{"DISASSEMBLED"}, eventTypes(entry))
	assert.Equal(t, "Interior must be air", entry.Events[0].Reason)
	assert.Equal(t, multiblock.StateDisassembled, c.State())

	entry, _ = w.StepOnce([]Edit{BreakBlock(Vec3i{X: 1, Y: 1, Z: 1})}, nil)
	assert.Contains(t, eventTypes(entry), "ASSEMBLED")
	assert.Equal(t, multiblock.StateAssembled, c.State())

	// Blocks outside every structure's bounds validate nothing.
	before := c.Validations()
	w.StepOnce([]Edit{PlaceBlock(Vec3i{X: 9}, "GLASS")}, nil)
	assert.Equal(t, before, c.Validations())
}

func TestWorld_RegionUnloadPausesAndRejectsEdits(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{}), nil)
	c, _ := w.Registry().ControllerFor(Vec3i{})

	entry, _ := w.StepOnce([]Edit{BreakBlock(Vec3i{X: 1})}, []RegionEvent{{Min: ChunkKey{}, Max: ChunkKey{}}})
	assert.Equal(t, multiblock.StatePaused, c.State())
	require.Len(t, entry.Rejected, 1)
	assert.Equal(t, ErrUnloaded.Error(), entry.Rejected[0].Reason)
	assert.Equal(t, []string{"PAUSED"}, eventTypes(entry))

	entry, _ = w.StepOnce(nil, []RegionEvent{{Load: true, Min: ChunkKey{CX: -1, CY: -1, CZ: -1}, Max: ChunkKey{}}})
	assert.Equal(t, multiblock.StateAssembled, c.State())
	assert.Equal(t, []string{"RESTORED"}, eventTypes(entry))
}

func TestWorld_PausedTankStaysPausedUntilAllChunksLoad(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{X: 14}), nil)
	c, _ := w.Registry().ControllerFor(Vec3i{X: 14})
	require.Equal(t, multiblock.StateAssembled, c.State())

	w.StepOnce(nil, []RegionEvent{{Min: ChunkKey{CX: 1}, Max: ChunkKey{CX: 1}}})
	require.Equal(t, multiblock.StatePaused, c.State())

	// Rebuilding a frame cell in the loaded chunk revalidates but does not
	// restore.
	p := Vec3i{X: 15, Y: 2, Z: 2}
	entry, _ := w.StepOnce([]Edit{BreakBlock(p), PlaceBlock(p, "TANK_FRAME")}, nil)
	require.Empty(t, entry.Rejected)
	assert.Equal(t, multiblock.StatePaused, c.State())
	assert.NotContains(t, eventTypes(entry), "RESTORED")

	entry, _ = w.StepOnce(nil, []RegionEvent{{Load: true, Min: ChunkKey{}, Max: ChunkKey{}}})
	assert.Equal(t, multiblock.StatePaused, c.State())
	assert.Empty(t, entry.Events)

	entry, _ = w.StepOnce(nil, []RegionEvent{{Load: true, Min: ChunkKey{CX: 1}, Max: ChunkKey{CX: 1}}})
	assert.Equal(t, multiblock.StateAssembled, c.State())
	assert.Equal(t, []string{"RESTORED"}, eventTypes(entry))
}

func TestWorld_LoadAndEditInOneTickValidateOnce(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{}), nil)
	c, _ := w.Registry().ControllerFor(Vec3i{})
	w.StepOnce(nil, []RegionEvent{{Min: ChunkKey{}, Max: ChunkKey{}}})
	require.Equal(t, multiblock.StatePaused, c.State())

	before := c.Validations()
	entry, _ := w.StepOnce([]Edit{BreakBlock(Vec3i{X: 1})}, []RegionEvent{{Load: true, Min: ChunkKey{}, Max: ChunkKey{}}})
	require.Empty(t, entry.Rejected)
	assert.Equal(t, before+1, c.Validations())
	assert.Equal(t, multiblock.StateDisassembled, c.State())
	assert.Contains(t, eventTypes(entry), "DISASSEMBLED")
	assert.NotContains(t, eventTypes(entry), "RESTORED")
}

func TestWorld_SnapshotRoundTrip(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(tankEdits(Vec3i{X: -20, Y: 3, Z: 7}), nil)
	w.StepOnce([]Edit{SetActive(Vec3i{X: -19, Y: 3, Z: 7}, true), PlaceBlock(Vec3i{X: 40}, "STONE")}, nil)

	snap, err := w.ExportSnapshot(w.CurrentTick() - 1)
	require.NoError(t, err)
	require.Len(t, snap.Structures, 1)
	assert.Equal(t, [3]int{-20, 3, 7}, snap.Structures[0].Ref)
	assert.Len(t, snap.Structures[0].Parts, 26)

	// The restored world gets a different token source; the record wins.
	other := newTestWorld(t, nil, 999)
	require.NoError(t, other.ImportSnapshot(snap))
	assert.Equal(t, w.CurrentTick(), other.CurrentTick())

	entry, gotDigest := other.StepOnce(nil, nil)
	_, wantDigest := w.StepOnce(nil, nil)
	assert.Equal(t, wantDigest, gotDigest)
	assert.Contains(t, eventTypes(entry), "CREATED")
	assert.NotContains(t, eventTypes(entry), "ASSEMBLED")

	c, ok := other.Registry().ControllerFor(Vec3i{X: -18, Y: 5, Z: 9})
	require.True(t, ok)
	assert.Equal(t, multiblock.StateAssembled, c.State())
	assert.True(t, c.Active())
	tok, _ := tank.TokenOf(c)
	assert.Equal(t, int32(4711), tok)
}

func TestWorld_ImportRejectsForeignPalette(t *testing.T) {
	w := newTestWorld(t, nil)
	snap, err := w.ExportSnapshot(0)
	require.NoError(t, err)
	snap.PaletteDigest = "other"
	assert.Error(t, w.ImportSnapshot(snap))
}

func TestWorld_SnapshotCadence(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.SnapshotEveryTicks = 2 })
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	for i := 0; i < 5; i++ {
		w.StepOnce(nil, nil)
	}
	require.Len(t, sink, 2)
	assert.Equal(t, uint64(2), (<-sink).Header.Tick)
	assert.Equal(t, uint64(4), (<-sink).Header.Tick)
}

type captureLogger struct{ entries []TickLogEntry }

func (c *captureLogger) WriteTick(e TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestWorld_RunServesRequestsAndObservers(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.TickRateHz = 50 })
	logs := &captureLogger{}
	w.SetTickLogger(logs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	out := make(chan []byte, 256)
	w.ObserverJoin() <- ObserverJoinRequest{SessionID: "O1", Out: out}
	var boot observerproto.BootstrapMsg
	require.NoError(t, json.Unmarshal(<-out, &boot))
	assert.Equal(t, observerproto.TypeBootstrap, boot.Type)
	assert.Equal(t, "O1", boot.SessionID)
	assert.Empty(t, boot.Structures)

	for _, e := range tankEdits(Vec3i{}) {
		require.NoError(t, w.SubmitEdit(ctx, e))
	}

	require.Eventually(t, func() bool {
		_, views, err := w.RequestStructures(ctx)
		return err == nil && len(views) == 1 && views[0].State == multiblock.StateAssembled
	}, 2*time.Second, 10*time.Millisecond)

	text, found, err := w.RequestDescribe(ctx, Vec3i{X: 1})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ender Tank #1 [ASSEMBLED] parts=26 R: 4711 active=no", text)

	var update observerproto.StructureUpdateMsg
	require.Eventually(t, func() bool {
		select {
		case b := <-out:
			var head struct{ Type string }
			_ = json.Unmarshal(b, &head)
			if head.Type == observerproto.TypeStructureUpdate {
				return json.Unmarshal(b, &update) == nil && update.Structure.State == "ASSEMBLED"
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, update.Structure.Sync)

	_, err = w.RequestSnapshot(ctx)
	assert.EqualError(t, err, ErrNoSnapshotSink.Error())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, open := <-out
	for open {
		_, open = <-out
	}
	assert.NotEmpty(t, logs.entries)
}

func TestWorld_LoggedInputsReplayToSameEvents(t *testing.T) {
	live := newTestWorld(t, nil)
	capture := &captureLogger{}
	live.SetTickLogger(capture)

	live.StepOnce(tankEdits(Vec3i{}), nil)
	live.StepOnce(nil, nil)
	live.StepOnce([]Edit{
		PlaceBlock(Vec3i{X: 1}, "STONE"),
		SetActive(Vec3i{}, true),
		BreakBlock(Vec3i{X: 1}),
		PlaceBlock(Vec3i{X: 1}, "TANK_FRAME"),
	}, nil)
	live.StepOnce(nil, []RegionEvent{{Min: ChunkKey{}, Max: ChunkKey{}}})
	require.Len(t, capture.entries, 4)
	require.Len(t, capture.entries[2].Rejected, 1)
	assert.Equal(t, 0, capture.entries[2].Rejected[0].Seq)
	assert.True(t, capture.entries[2].Edits[0].Active)
	assert.True(t, capture.entries[1].Idle())
	assert.False(t, capture.entries[3].Idle())

	replay := newTestWorld(t, nil, 13)
	for _, want := range capture.entries {
		edits, regions := want.Inputs()
		got, _ := replay.StepOnce(edits, regions)
		assert.Equal(t, want.Tick, got.Tick)
		assert.Equal(t, want.Events, got.Events)
		assert.Equal(t, want.Edits, got.Edits)
		assert.Equal(t, want.Rejected, got.Rejected)
	}
}
