package multiblock

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateForPart(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	k := lineKind()
	p := &Part{Pos: Vec3i{X: 1}, Kind: k}

	c := r.GetOrCreateForPart(p)
	require.NotNil(t, c)
	assert.Equal(t, c.ID(), p.Owner)
	assert.Equal(t, 1, c.PartCount())
	assert.Equal(t, 1, r.Len())

	assert.Same(t, c, r.GetOrCreateForPart(p))
	assert.Equal(t, 1, r.Len())
}

func TestDeregister_NonEmptyIsContractViolation(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	addPart(t, r, lineKind(), Vec3i{}, RolePlain)
	r.Tick()
	c := only(t, r)

	err := r.Deregister(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContractViolation))
	assert.Equal(t, 1, r.Len())
	mustInvariants(t, r)
}

func TestAddPart_Rejections(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	k := lineKind()
	addPart(t, r, k, Vec3i{}, RolePlain)

	assert.ErrorIs(t, r.AddPart(&Part{Pos: Vec3i{}, Kind: k}), ErrContractViolation)
	assert.ErrorIs(t, r.AddPart(&Part{Pos: Vec3i{X: 1}}), ErrContractViolation)
	_, err := r.RemovePart(Vec3i{X: 5})
	assert.ErrorIs(t, err, ErrContractViolation)
	assert.Equal(t, 1, r.PartCount())
}

func TestRemovePart_LastPartDeregisters(t *testing.T) {
	var events []EventType
	r := newTestRegistry(newFakeWorld(), WithListener(func(ev Event) { events = append(events, ev.Type) }))
	addPart(t, r, lineKind(), Vec3i{}, RolePlain)
	r.Tick()

	p, err := r.RemovePart(Vec3i{})
	require.NoError(t, err)
	assert.Zero(t, p.Owner)
	assert.Zero(t, r.Len())
	assert.Equal(t, []EventType{EventCreated, EventAssembled, EventDeregistered}, events)
}

func TestControllerFor_HealsDanglingOwner(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	k := lineKind()
	p := addPart(t, r, k, Vec3i{}, RolePlain)
	r.Tick()

	p.Owner = 999
	_, ok := r.ControllerFor(Vec3i{})
	assert.False(t, ok)
	assert.Zero(t, p.Owner)

	// The stale controller still lists the part; drop it the way a broken
	// host would have, then let the next tick reattach.
	old := only(t, r)
	delete(old.parts, p.Pos)
	old.recomputeBounds()
	require.NoError(t, r.Deregister(old))

	r.Tick()
	c, ok := r.ControllerFor(Vec3i{})
	require.True(t, ok)
	assert.Equal(t, c.ID(), p.Owner)
	mustInvariants(t, r)
}

func TestTick_SplitsDisconnectedParts(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	k := lineKind()
	for x := 0; x < 5; x++ {
		addPart(t, r, k, Vec3i{X: x}, RolePlain)
	}
	r.Tick()
	first := only(t, r)

	_, err := r.RemovePart(Vec3i{X: 2})
	require.NoError(t, err)
	rep := r.Tick()

	assert.Equal(t, 2, rep.SplitParts)
	assert.Equal(t, 1, rep.Created)
	require.Equal(t, 2, r.Len())
	assert.Equal(t, 2, first.PartCount())
	c, ok := r.ControllerFor(Vec3i{X: 4})
	require.True(t, ok)
	assert.NotEqual(t, first.ID(), c.ID())
	assert.Equal(t, 2, c.PartCount())
	mustInvariants(t, r)
}

func TestTick_DifferentKindsDoNotJoin(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	addPart(t, r, lineKind(), Vec3i{}, RolePlain)
	addPart(t, r, wideKind(), Vec3i{X: 1}, RolePlain)
	r.Tick()
	assert.Equal(t, 2, r.Len())
	mustInvariants(t, r)
}

// Random edits must keep every controller's part set disjoint, every owner
// live, and every bounding volume exact.
func TestRegistry_RandomEditsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	r := newTestRegistry(newFakeWorld())
	k := lineKind()
	occupied := map[Vec3i]bool{}

	for step := 0; step < 400; step++ {
		pos := Vec3i{X: rng.IntN(6), Y: rng.IntN(4), Z: rng.IntN(3)}
		if occupied[pos] {
			_, err := r.RemovePart(pos)
			require.NoError(t, err)
			delete(occupied, pos)
		} else {
			addPart(t, r, k, pos, RolePlain)
			occupied[pos] = true
		}
		if rng.IntN(3) == 0 {
			r.Tick()
			mustInvariants(t, r)
		}
	}
	r.Tick()
	mustInvariants(t, r)

	total := 0
	for _, c := range r.Controllers() {
		total += c.PartCount()
	}
	assert.Equal(t, len(occupied), total)
}

func TestSnapshot_IsDetachedCopy(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	addPart(t, r, lineKind(), Vec3i{X: 2}, RolePlain)
	r.Tick()

	views := r.Snapshot()
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "line", v.Kind)
	assert.Equal(t, StateAssembled, v.State)
	assert.Equal(t, Vec3i{X: 2}, v.Reference)
	assert.NotEmpty(t, v.Message)

	only(t, r).SetActive(true)
	assert.False(t, v.Active)
}

func TestReset(t *testing.T) {
	r := newTestRegistry(newFakeWorld())
	addPart(t, r, lineKind(), Vec3i{}, RolePlain)
	r.Tick()
	r.Reset()
	assert.Zero(t, r.Len())
	assert.Zero(t, r.PartCount())

	c := r.GetOrCreateForPart(&Part{Kind: lineKind()})
	assert.Equal(t, ControllerID(1), c.ID())
}
