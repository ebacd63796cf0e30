package multiblock

import (
	"fmt"
	"io"
	"log"
	"testing"

	"multiblock.ai/internal/sim/multiblock/codec"
)

type fakeWorld struct {
	solid    map[Vec3i]uint16
	notified map[Vec3i]int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{solid: map[Vec3i]uint16{}, notified: map[Vec3i]int{}}
}

func (w *fakeWorld) BlockAt(pos Vec3i) uint16 { return w.solid[pos] }
func (w *fakeWorld) IsAirAt(pos Vec3i) bool { return w.solid[pos] == 0 }
func (w *fakeWorld) NotifyBlockChanged(pos Vec3i) { w.notified[pos]++ }

type boxKind struct {
	name   string
	limits Limits
	// oneSub requires exactly one RoleSubController part.
	oneSub bool
}

func (k *boxKind) Name() string { return k.name }
func (k *boxKind) Limits() Limits { return k.limits }
func (k *boxKind) NewBehavior() Behavior { return &boxBehavior{kind: k} }

func cubeKind() *boxKind {
	return &boxKind{
		name: "box",
		limits: Limits{
			MinSize:           Vec3i{X: 3, Y: 3, Z: 3},
			MaxSize:           Vec3i{X: 5, Y: 10, Z: 5},
			InteriorAllowance: 7,
		},
		oneSub: true,
	}
}

// wideKind accepts long structures so merged cubes reach the shell and
// interior checks.
func wideKind() *boxKind {
	return &boxKind{
		name: "wide",
		limits: Limits{
			MinSize:           Vec3i{X: 3, Y: 3, Z: 3},
			MaxSize:           Vec3i{X: 16, Y: 16, Z: 16},
			InteriorAllowance: 7,
		},
	}
}

// lineKind validates any non-empty set.
func lineKind() *boxKind {
	return &boxKind{name: "line", limits: Limits{MinSize: Vec3i{X: 1, Y: 1, Z: 1}}}
}

type boxBehavior struct {
	NopBehavior
	kind *boxKind

	token        int32
	assembled    int
	disassembled int
	assimilated  int
	attachedWith int
}

func (b *boxBehavior) CheckWhole(c *Controller) *ValidationError {
	if !b.kind.oneSub {
		return nil
	}
	if n := c.SubControllerCount(); n != 1 {
		e := Invalid(RuleCardinality, "You must have 1 controller in the structure (currently %d)", n)
		e.Count = n
		return e
	}
	return nil
}

func (b *boxBehavior) OnAssembled(*Controller) { b.assembled++ }
func (b *boxBehavior) OnDisassembled(*Controller) { b.disassembled++ }

func (b *boxBehavior) OnAssimilate(_ *Controller, other *Controller) {
	b.assimilated++
	if o, ok := other.Behavior().(*boxBehavior); ok && b.token == 0 {
		b.token = o.token
	}
}

func (b *boxBehavior) OnAttachedWithState(*Controller, *Part, *CarriedState) { b.attachedWith++ }

func (b *boxBehavior) WriteRecord(_ *Controller, rec codec.Record) { rec.SetInt32("token", b.token) }

func (b *boxBehavior) ReadRecord(_ *Controller, rec codec.Record) {
	if v, ok := rec.Int32("token"); ok {
		b.token = v
	}
}

func (b *boxBehavior) MarshalFields(f *codec.Fields) { f.Int32(&b.token) }

func (b *boxBehavior) Describe(*Controller) string { return fmt.Sprintf("token=%d", b.token) }

func behaviorOf(t *testing.T, c *Controller) *boxBehavior {
	t.Helper()
	b, ok := c.Behavior().(*boxBehavior)
	if !ok {
		t.Fatalf("behavior is %T", c.Behavior())
	}
	return b
}

type recordingHost struct {
	activated, deactivated, assembled, broken int
}

func (h *recordingHost) OnMachineActivated() { h.activated++ }
func (h *recordingHost) OnMachineDeactivated() { h.deactivated++ }
func (h *recordingHost) OnMachineAssembled(*Controller) { h.assembled++ }
func (h *recordingHost) OnMachineBroken() { h.broken++ }

func newTestRegistry(w World, opts ...Option) *Registry {
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return NewRegistry(w, opts...)
}

func addPart(t *testing.T, r *Registry, k Kind, pos Vec3i, role PartRole) *Part {
	t.Helper()
	p := &Part{Pos: pos, Role: role, Kind: k, Host: &recordingHost{}}
	if err := r.AddPart(p); err != nil {
		t.Fatalf("AddPart(%s): %v", pos, err)
	}
	return p
}

// addCubeShell places the 26 shell parts of the 3x3x3 cube at origin, with
// a sub-controller at sub when sub is non-nil.
func addCubeShell(t *testing.T, r *Registry, k Kind, origin Vec3i, sub *Vec3i) []*Part {
	t.Helper()
	var out []*Part
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if x == 1 && y == 1 && z == 1 {
					continue
				}
				pos := origin.Add(Vec3i{X: x, Y: y, Z: z})
				role := RolePlain
				if sub != nil && *sub == pos {
					role = RoleSubController
				}
				out = append(out, addPart(t, r, k, pos, role))
			}
		}
	}
	return out
}

func mustInvariants(t *testing.T, r *Registry) {
	t.Helper()
	if err := r.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func only(t *testing.T, r *Registry) *Controller {
	t.Helper()
	cs := r.Controllers()
	if len(cs) != 1 {
		t.Fatalf("live controllers = %d, want 1", len(cs))
	}
	return cs[0]
}
