// Package tank is the tank structure kind: a hollow box with exactly one
// valve, an air interior, and a random identity token that survives merges.
package tank

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/codec"
)

const (
	KindName = "tank"

	recordKeyActive = "tankActive"
	recordKeyToken  = "randomNumber"
)

// ErrBridgesTanks is returned by CanPlace for a placement that would join two
// formed tanks carrying different tokens.
var ErrBridgesTanks = errors.New("tank: placement would join two formed tanks")

type Config struct {
	MinSize           multiblock.Vec3i
	MaxSize           multiblock.Vec3i
	InteriorAllowance int
	RefuseBridging    bool
}

func DefaultConfig() Config {
	return Config{
		MinSize:           multiblock.Vec3i{X: 3, Y: 3, Z: 3},
		MaxSize:           multiblock.Vec3i{X: 5, Y: 10, Z: 5},
		InteriorAllowance: 7,
		RefuseBridging:    true,
	}
}

type Option func(*Kind)

// WithTokenSource replaces the random token generator. fn must not return 0.
func WithTokenSource(fn func() int32) Option {
	return func(k *Kind) {
		if fn != nil {
			k.newToken = fn
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(k *Kind) {
		if l != nil {
			k.logger = l
		}
	}
}

type Kind struct {
	cfg      Config
	newToken func() int32
	logger   *log.Logger
}

func New(cfg Config, opts ...Option) *Kind {
	k := &Kind{
		cfg:      cfg,
		newToken: func() int32 { return 1 + rand.Int32N(999_999) },
		logger:   log.Default(),
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *Kind) Name() string  { return KindName }
func (k *Kind) Title() string { return "Ender Tank" }

func (k *Kind) Limits() multiblock.Limits {
	return multiblock.Limits{
		MinSize:           k.cfg.MinSize,
		MaxSize:           k.cfg.MaxSize,
		InteriorAllowance: k.cfg.InteriorAllowance,
	}
}

func (k *Kind) NewBehavior() multiblock.Behavior { return &Tank{kind: k} }

// CanPlace refuses a part at pos whose neighbours belong to two or more
// tanks with distinct non-zero tokens.
func (k *Kind) CanPlace(reg *multiblock.Registry, pos multiblock.Vec3i) error {
	if !k.cfg.RefuseBridging {
		return nil
	}
	tokens := map[int32]multiblock.ControllerID{}
	for _, n := range pos.Neighbors() {
		c, ok := reg.ControllerFor(n)
		if !ok || c.Kind().Name() != KindName {
			continue
		}
		tok, _ := TokenOf(c)
		if tok == 0 {
			continue
		}
		tokens[tok] = c.ID()
	}
	if len(tokens) > 1 {
		return fmt.Errorf("%w at %s", ErrBridgesTanks, pos)
	}
	return nil
}

// Tank is the per-controller state of a tank.
type Tank struct {
	multiblock.NopBehavior
	kind  *Kind
	token int32
}

func (t *Tank) Token() int32 { return t.token }

func (t *Tank) SetToken(v int32) {
	if v != t.token {
		t.kind.logger.Printf("tank token %d -> %d", t.token, v)
	}
	t.token = v
}

// TokenOf returns the identity token of a tank controller.
func TokenOf(c *multiblock.Controller) (int32, bool) {
	t, ok := c.Behavior().(*Tank)
	if !ok {
		return 0, false
	}
	return t.token, true
}

func (t *Tank) CheckInterior(w multiblock.World, pos multiblock.Vec3i) *multiblock.ValidationError {
	if w == nil || w.IsAirAt(pos) {
		return nil
	}
	return multiblock.InvalidAt(multiblock.RuleInterior, pos, "Interior must be air")
}

func (t *Tank) CheckWhole(c *multiblock.Controller) *multiblock.ValidationError {
	if n := c.SubControllerCount(); n != 1 {
		e := multiblock.Invalid(multiblock.RuleCardinality, "You must have 1 controller in the tank structure (currently %d)", n)
		e.Count = n
		return e
	}
	return nil
}

func (t *Tank) OnAssembled(c *multiblock.Controller) {
	if t.token == 0 {
		t.SetToken(t.kind.newToken())
	}
	t.kind.logger.Printf("tank #%d assembled with R: %d", c.ID(), t.token)
}

func (t *Tank) OnDisassembled(c *multiblock.Controller) {
	t.kind.logger.Printf("tank #%d disassembled", c.ID())
}

func (t *Tank) OnPaused(c *multiblock.Controller) {
	t.kind.logger.Printf("tank #%d paused", c.ID())
}

func (t *Tank) OnRestored(c *multiblock.Controller) {
	t.kind.logger.Printf("tank #%d restored", c.ID())
}

// OnAssimilate keeps the survivor's token unless it has none yet.
func (t *Tank) OnAssimilate(c *multiblock.Controller, other *multiblock.Controller) {
	o, ok := other.Behavior().(*Tank)
	if !ok || o.token == 0 {
		return
	}
	if t.token == 0 {
		t.SetToken(o.token)
		return
	}
	if t.token != o.token {
		t.kind.logger.Printf("tank #%d keeps R: %d, dropping R: %d of #%d", c.ID(), t.token, o.token, other.ID())
	}
}

func (t *Tank) WriteRecord(c *multiblock.Controller, rec codec.Record) {
	rec.SetBool(recordKeyActive, c.Active())
	rec.SetInt32(recordKeyToken, t.token)
}

func (t *Tank) ReadRecord(c *multiblock.Controller, rec codec.Record) {
	if v, ok := rec.Bool(recordKeyActive); ok {
		c.SetActive(v)
	}
	if v, ok := rec.Int32(recordKeyToken); ok {
		t.SetToken(v)
	}
}

func (t *Tank) MarshalFields(f *codec.Fields) { f.Int32(&t.token) }

func (t *Tank) Describe(c *multiblock.Controller) string {
	active := "no"
	if c.Active() {
		active = "yes"
	}
	return fmt.Sprintf("R: %d active=%s", t.token, active)
}
