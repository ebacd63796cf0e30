package world

import (
	"fmt"
	"log"
	"sync/atomic"

	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/multiblock"
	"multiblock.ai/internal/sim/multiblock/tank"
)

// placementGuard is implemented by kinds that can veto a part placement.
type placementGuard interface {
	CanPlace(reg *multiblock.Registry, pos Vec3i) error
}

type Option func(*World)

func WithLogger(l *log.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithKind registers k, replacing any kind with the same name.
func WithKind(k multiblock.Kind) Option {
	return func(w *World) { w.kinds[k.Name()] = k }
}

type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	logger   *log.Logger

	tick atomic.Uint64

	// Owned by the loop goroutine.
	store    *ChunkStore
	reg      *multiblock.Registry
	kinds    map[string]multiblock.Kind
	events   []multiblock.Event
	changed  map[Vec3i]struct{}
	unloaded map[ChunkKey]struct{}
	observer map[string]*observerClient

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	inbox         chan Edit
	regions       chan RegionEvent
	structuresReq chan structuresReq
	describeReq   chan describeReq
	snapshotReq   chan snapshotReq
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, opts ...Option) (*World, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cats == nil {
		return nil, fmt.Errorf("world: nil catalogs")
	}
	if cfg.ObserverQueue <= 0 {
		cfg.ObserverQueue = 64
	}
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		logger:   log.Default(),
		store:    NewChunkStore(cfg.ChunkSize),
		kinds:    map[string]multiblock.Kind{},
		changed:  map[Vec3i]struct{}{},
		unloaded: map[ChunkKey]struct{}{},
		observer: map[string]*observerClient{},

		inbox:         make(chan Edit, 1024),
		regions:       make(chan RegionEvent, 64),
		structuresReq: make(chan structuresReq, 16),
		describeReq:   make(chan describeReq, 16),
		snapshotReq:   make(chan snapshotReq, 4),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if _, ok := w.kinds[tank.KindName]; !ok {
		w.kinds[tank.KindName] = tank.New(cfg.Tank, tank.WithLogger(w.logger))
	}
	for _, id := range cats.Blocks.Palette {
		def := cats.Blocks.Defs[id]
		if def.Kind == "" {
			continue
		}
		if _, ok := w.kinds[def.Kind]; !ok {
			return nil, fmt.Errorf("world: block %s: unknown structure kind %q", id, def.Kind)
		}
	}
	w.reg = multiblock.NewRegistry(w,
		multiblock.WithLogger(w.logger),
		multiblock.WithListener(func(ev multiblock.Event) { w.events = append(w.events, ev) }),
	)
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) BlockPalette() []string {
	return append([]string(nil), w.catalogs.Blocks.Palette...)
}

func (w *World) PaletteDigest() string { return w.catalogs.Blocks.PaletteDigest }

// Registry exposes the structure registry. Only the loop goroutine (or a
// test driving StepOnce) may use it.
func (w *World) Registry() *multiblock.Registry { return w.reg }

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) BlockAt(pos Vec3i) uint16 { return w.store.Get(pos) }

func (w *World) IsAirAt(pos Vec3i) bool { return w.store.Get(pos) == 0 }

// NotifyBlockChanged queues pos for the next tick's observer update.
func (w *World) NotifyBlockChanged(pos Vec3i) { w.changed[pos] = struct{}{} }

func (w *World) blockName(b uint16) string {
	if int(b) < len(w.catalogs.Blocks.Palette) {
		return w.catalogs.Blocks.Palette[b]
	}
	return fmt.Sprintf("#%d", b)
}

// partFor builds the part record for a structure block, or nil for plain
// world blocks.
func (w *World) partFor(pos Vec3i, b uint16) (*multiblock.Part, error) {
	def, ok := w.catalogs.Blocks.ByIndex(b)
	if !ok || def.Kind == "" {
		return nil, nil
	}
	k, ok := w.kinds[def.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown structure kind %q", def.Kind)
	}
	role := multiblock.RolePlain
	if def.Role != "" {
		r, ok := multiblock.ParseRole(def.Role)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", def.Role)
		}
		role = r
	}
	return &multiblock.Part{Pos: pos, Role: role, Kind: k, Host: &partEntity{w: w, pos: pos}}, nil
}

// partEntity is the block entity behind a part. Machine transitions only
// change how the cell renders.
type partEntity struct {
	w   *World
	pos Vec3i
}

func (e *partEntity) OnMachineActivated() { e.w.NotifyBlockChanged(e.pos) }
func (e *partEntity) OnMachineDeactivated() { e.w.NotifyBlockChanged(e.pos) }
func (e *partEntity) OnMachineAssembled(*multiblock.Controller) { e.w.NotifyBlockChanged(e.pos) }
func (e *partEntity) OnMachineBroken() { e.w.NotifyBlockChanged(e.pos) }
