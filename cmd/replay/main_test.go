package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistlog "multiblock.ai/internal/persistence/log"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/tuning"
	"multiblock.ai/internal/sim/world"
)

func shell(origin world.Vec3i) []world.Edit {
	var out []world.Edit
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
				out = append(out, world.PlaceBlock(origin.Add(world.Vec3i{X: x, Y: y, Z: z}), block))
			}
		}
	}
	return out
}

func recordRun(t *testing.T) (string, *catalogs.Catalogs) {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	require.NoError(t, err)
	w, err := newReplayWorld("r1", cats, tuning.Defaults(), nil)
	require.NoError(t, err)

	worldDir := filepath.Join(t.TempDir(), "worlds", "r1")
	l := persistlog.NewTickLogger(worldDir, persistlog.LoggerOptions{})
	w.SetTickLogger(l)

	w.StepOnce(shell(world.Vec3i{}), nil)
	w.StepOnce(nil, nil)
	w.StepOnce(nil, nil)
	w.StepOnce(shell(world.Vec3i{X: 3}), nil)
	w.StepOnce([]world.Edit{world.SetActive(world.Vec3i{}, true), world.BreakBlock(world.Vec3i{X: 1})}, nil)
	w.StepOnce([]world.Edit{world.PlaceBlock(world.Vec3i{X: 1}, "TANK_FRAME")}, []world.RegionEvent{{Min: world.ChunkKey{CX: 4}, Max: world.ChunkKey{CX: 4}}})
	require.NoError(t, l.Close())
	return filepath.Join(worldDir, "events"), cats
}

func TestReplay_MatchesRecordedRun(t *testing.T) {
	dir, cats := recordRun(t)
	files, err := listEventFiles(dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	w, err := newReplayWorld("r1", cats, tuning.Defaults(), nil)
	require.NoError(t, err)
	r := &replayer{w: w, checkEvents: true}
	for _, f := range files {
		require.NoError(t, r.replayFile(f))
	}
	assert.Equal(t, uint64(4), r.checked)
	assert.Equal(t, uint64(6), r.stepped)
}

func TestReplay_StopsAtToTick(t *testing.T) {
	dir, cats := recordRun(t)
	files, err := listEventFiles(dir)
	require.NoError(t, err)

	w, err := newReplayWorld("r1", cats, tuning.Defaults(), nil)
	require.NoError(t, err)
	r := &replayer{w: w, checkEvents: true, toTick: 3}
	for _, f := range files {
		require.NoError(t, r.replayFile(f))
		if r.done {
			break
		}
	}
	assert.True(t, r.done)
	assert.Equal(t, uint64(2), r.checked)
}

func TestReplay_DetectsDivergence(t *testing.T) {
	cats, err := catalogs.Load("../../configs")
	require.NoError(t, err)
	w, err := newReplayWorld("r1", cats, tuning.Defaults(), nil)
	require.NoError(t, err)

	r := &replayer{w: w, checkEvents: true}
	err = r.apply(world.TickLogEntry{
		Tick:     0,
		Rejected: []world.EditRecord{{Op: "PLACE", Pos: [3]int{0, 0, 0}, Block: "STONE", Reason: world.ErrOccupied.Error()}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit outcome mismatch at tick 0")
}

func TestReplay_SkipsTicksBeforeStart(t *testing.T) {
	cats, err := catalogs.Load("../../configs")
	require.NoError(t, err)
	w, err := newReplayWorld("r1", cats, tuning.Defaults(), nil)
	require.NoError(t, err)
	w.StepOnce(nil, nil)

	r := &replayer{w: w, checkEvents: true}
	require.NoError(t, r.apply(world.TickLogEntry{Tick: 0, Edits: []world.EditRecord{{Op: "BREAK"}}}))
	assert.Zero(t, r.checked)
}
