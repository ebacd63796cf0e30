package tank

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/codec"
)

type airWorld struct{ solid map[multiblock.Vec3i]bool }

func (w airWorld) BlockAt(pos multiblock.Vec3i) uint16 {
	if w.solid[pos] {
		return 1
	}
	return 0
}
func (w airWorld) IsAirAt(pos multiblock.Vec3i) bool { return !w.solid[pos] }
func (w airWorld) NotifyBlockChanged(multiblock.Vec3i) {}

func newKind(tokens ...int32) *Kind {
	i := 0
	next := func() int32 {
		v := tokens[i%len(tokens)]
		i++
		return v
	}
	return New(DefaultConfig(), WithTokenSource(next), WithLogger(log.New(io.Discard, "", 0)))
}

func newRegistry(w multiblock.World) *multiblock.Registry {
	return multiblock.NewRegistry(w, multiblock.WithLogger(log.New(io.Discard, "", 0)))
}

// placeTank adds a 3x3x3 tank shell at origin with the valve on its corner.
func placeTank(t *testing.T, r *multiblock.Registry, k *Kind, origin multiblock.Vec3i) {
	t.Helper()
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if x == 1 && y == 1 && z == 1 {
					continue
				}
				role := multiblock.RolePlain
				if x == 0 && y == 0 && z == 0 {
					role = multiblock.RoleSubController
				}
				pos := origin.Add(multiblock.Vec3i{X: x, Y: y, Z: z})
				require.NoError(t, r.AddPart(&multiblock.Part{Pos: pos, Role: role, Kind: k}))
			}
		}
	}
}

func controllerAt(t *testing.T, r *multiblock.Registry, pos multiblock.Vec3i) *multiblock.Controller {
	t.Helper()
	c, ok := r.ControllerFor(pos)
	require.True(t, ok, "no controller at %s", pos)
	return c
}

func TestTank_AssemblesAndGetsToken(t *testing.T) {
	k := newKind(4711, 9)
	r := newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()

	c := controllerAt(t, r, multiblock.Vec3i{})
	assert.Equal(t, multiblock.StateAssembled, c.State())
	tok, ok := TokenOf(c)
	require.True(t, ok)
	assert.Equal(t, int32(4711), tok)
	assert.Equal(t, "Ender Tank #1 [ASSEMBLED] parts=26 R: 4711 active=no", c.Describe())

	// Reassembly keeps the token.
	_, err := r.RemovePart(multiblock.Vec3i{X: 2, Y: 2, Z: 2})
	require.NoError(t, err)
	r.Tick()
	require.NoError(t, r.AddPart(&multiblock.Part{Pos: multiblock.Vec3i{X: 2, Y: 2, Z: 2}, Kind: k}))
	r.Tick()
	assert.Equal(t, multiblock.StateAssembled, c.State())
	tok, _ = TokenOf(c)
	assert.Equal(t, int32(4711), tok)
}

func TestTank_Rules(t *testing.T) {
	k := newKind(1)

	w := airWorld{solid: map[multiblock.Vec3i]bool{{X: 1, Y: 1, Z: 1}: true}}
	r := newRegistry(w)
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()
	c := controllerAt(t, r, multiblock.Vec3i{})
	require.NotNil(t, c.LastValidationError())
	assert.Equal(t, "Interior must be air", c.LastValidationError().Reason)

	r = newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	_, err := r.RemovePart(multiblock.Vec3i{X: 2, Y: 0, Z: 0})
	require.NoError(t, err)
	require.NoError(t, r.AddPart(&multiblock.Part{Pos: multiblock.Vec3i{X: 2}, Role: multiblock.RoleSubController, Kind: k}))
	r.Tick()
	c = controllerAt(t, r, multiblock.Vec3i{})
	require.NotNil(t, c.LastValidationError())
	assert.Equal(t, "You must have 1 controller in the tank structure (currently 2)", c.LastValidationError().Reason)
	assert.Equal(t, 2, c.LastValidationError().Count)
}

func TestTank_RecordKeys(t *testing.T) {
	k := newKind(99)
	r := newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()
	c := controllerAt(t, r, multiblock.Vec3i{})
	c.SetActive(true)

	rec := c.WriteRecord()
	active, ok := rec.Bool("tankActive")
	require.True(t, ok)
	assert.True(t, active)
	tok, ok := rec.Int32("randomNumber")
	require.True(t, ok)
	assert.Equal(t, int32(99), tok)

	b, err := codec.EncodeRecord(rec)
	require.NoError(t, err)
	back, err := codec.DecodeRecord(b)
	require.NoError(t, err)

	r2 := newRegistry(airWorld{})
	placeTank(t, r2, k, multiblock.Vec3i{})
	p, _ := r2.PartAt(multiblock.Vec3i{})
	p.Carried = &multiblock.CarriedState{Record: back}
	r2.Tick()
	c2 := controllerAt(t, r2, multiblock.Vec3i{})
	assert.True(t, c2.Active())
	tok2, _ := TokenOf(c2)
	assert.Equal(t, int32(99), tok2)
	assert.Equal(t, multiblock.StateAssembled, c2.State())
}

func TestTank_MessageCarriesToken(t *testing.T) {
	k := newKind(31337)
	r := newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()
	msg := controllerAt(t, r, multiblock.Vec3i{}).EncodeMessage()

	var tk Tank
	h, err := codec.DecodeMessage(msg, &tk)
	require.NoError(t, err)
	assert.Equal(t, [3]int32{0, 0, 0}, h.Origin)
	assert.Equal(t, uint8(multiblock.StateAssembled), h.State)
	assert.Equal(t, int32(31337), tk.Token())
}

func TestTank_BridgedTanksMergeAndFail(t *testing.T) {
	k := newKind(111, 222)
	r := newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()
	placeTank(t, r, k, multiblock.Vec3i{X: 4})
	r.Tick()

	a := controllerAt(t, r, multiblock.Vec3i{})
	b := controllerAt(t, r, multiblock.Vec3i{X: 4})
	ta, _ := TokenOf(a)
	tb, _ := TokenOf(b)
	require.Equal(t, int32(111), ta)
	require.Equal(t, int32(222), tb)

	bridge := multiblock.Vec3i{X: 3, Y: 1, Z: 1}
	require.ErrorIs(t, k.CanPlace(r, bridge), ErrBridgesTanks)

	// The registry itself does not enforce the guard.
	require.NoError(t, r.AddPart(&multiblock.Part{Pos: bridge, Kind: k}))
	r.Tick()

	require.Equal(t, 1, r.Len())
	c := controllerAt(t, r, bridge)
	assert.Same(t, a, c)
	assert.Equal(t, 53, c.PartCount())
	assert.Equal(t, multiblock.StateDisassembled, c.State())
	require.NotNil(t, c.LastValidationError())
	assert.Equal(t, multiblock.RuleSize, c.LastValidationError().Rule)
	tok, _ := TokenOf(c)
	assert.Equal(t, int32(111), tok)
	require.NoError(t, r.CheckInvariants())
}

func TestCanPlace(t *testing.T) {
	k := newKind(5)
	r := newRegistry(airWorld{})
	placeTank(t, r, k, multiblock.Vec3i{})
	r.Tick()

	assert.NoError(t, k.CanPlace(r, multiblock.Vec3i{X: 3}))
	assert.NoError(t, k.CanPlace(r, multiblock.Vec3i{X: 40}))

	cfg := DefaultConfig()
	cfg.RefuseBridging = false
	open := New(cfg)
	assert.NoError(t, open.CanPlace(r, multiblock.Vec3i{X: 3}))
}

func TestOnAssimilate_AdoptsOnlyIntoUnsetToken(t *testing.T) {
	k := newKind(1)
	r := newRegistry(airWorld{})
	for _, x := range []int{0, 2} {
		require.NoError(t, r.AddPart(&multiblock.Part{Pos: multiblock.Vec3i{X: x}, Kind: k}))
	}
	r.Tick()
	a := controllerAt(t, r, multiblock.Vec3i{})
	b := controllerAt(t, r, multiblock.Vec3i{X: 2})
	b.Behavior().(*Tank).SetToken(808)

	surv := r.Assimilate(a, b)
	assert.Same(t, a, surv)
	tok, _ := TokenOf(surv)
	assert.Equal(t, int32(808), tok)
}
