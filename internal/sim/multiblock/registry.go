package multiblock

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
)

type EventType string

const (
	EventCreated          EventType = "CREATED"
	EventAssembled        EventType = "ASSEMBLED"
	EventDisassembled     EventType = "DISASSEMBLED"
	EventValidationFailed EventType = "VALIDATION_FAILED"
	EventPaused           EventType = "PAUSED"
	EventRestored         EventType = "RESTORED"
	EventAssimilated      EventType = "ASSIMILATED"
	EventActivated        EventType = "ACTIVATED"
	EventDeactivated      EventType = "DEACTIVATED"
	EventDeregistered     EventType = "DEREGISTERED"
)

// Event is a controller lifecycle notification. Listeners run on the home
// goroutine and must not call back into the registry.
type Event struct {
	Type       EventType
	Controller ControllerID
	Kind       string
	State      MachineState
	Parts      int
	Reason     string
	// Other is the assimilated controller for EventAssimilated.
	Other ControllerID
}

type Listener func(Event)

type Option func(*Registry)

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithListener(fn Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, fn) }
}

// Registry is the process-scoped table of live controllers and loaded parts.
//
// A Registry is not safe for concurrent use. Every mutating call and every
// read of a *Controller must happen on one home goroutine (the world loop).
// Other goroutines read through Snapshot, which returns copies.
type Registry struct {
	world     World
	logger    *log.Logger
	listeners []Listener

	nextID      ControllerID
	controllers map[ControllerID]*Controller
	parts       map[Vec3i]*Part

	// Per-tick work sets.
	orphans map[Vec3i]*Part
	dirty   map[ControllerID]struct{}
	shrunk  map[ControllerID]struct{}
}

func NewRegistry(world World, opts ...Option) *Registry {
	r := &Registry{
		world:  world,
		logger: log.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.Reset()
	return r
}

// Reset drops every controller and part, e.g. at session end.
func (r *Registry) Reset() {
	for _, c := range r.controllers {
		liveControllers.WithLabelValues(c.kind.Name()).Dec()
	}
	r.nextID = 0
	r.controllers = map[ControllerID]*Controller{}
	r.parts = map[Vec3i]*Part{}
	r.orphans = map[Vec3i]*Part{}
	r.dirty = map[ControllerID]struct{}{}
	r.shrunk = map[ControllerID]struct{}{}
}

func (r *Registry) World() World { return r.world }

func (r *Registry) logf(format string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

// violation logs and returns a contract violation.
func (r *Registry) violation(format string, args ...any) error {
	err := contractf(format, args...)
	contractViolationsTotal.Inc()
	r.logf("%v", err)
	return err
}

func (r *Registry) emit(ev Event) {
	for _, fn := range r.listeners {
		fn(ev)
	}
}

func (r *Registry) markDirty(c *Controller) {
	if _, ok := r.controllers[c.id]; ok {
		r.dirty[c.id] = struct{}{}
	}
}

// Len is the number of live controllers.
func (r *Registry) Len() int { return len(r.controllers) }

func (r *Registry) PartCount() int { return len(r.parts) }

func (r *Registry) Controller(id ControllerID) (*Controller, bool) {
	c, ok := r.controllers[id]
	return c, ok
}

// Controllers returns the live controllers ordered by id.
func (r *Registry) Controllers() []*Controller {
	out := make([]*Controller, 0, len(r.controllers))
	for _, id := range slices.Sorted(maps.Keys(r.controllers)) {
		out = append(out, r.controllers[id])
	}
	return out
}

func (r *Registry) PartAt(pos Vec3i) (*Part, bool) {
	p, ok := r.parts[pos]
	return p, ok
}

// ControllerFor resolves the owner of the part at pos. An owner handle that
// no longer resolves is cleared and the part queued for reattachment.
func (r *Registry) ControllerFor(pos Vec3i) (*Controller, bool) {
	p, ok := r.parts[pos]
	if !ok || p.Owner == 0 {
		return nil, false
	}
	return r.resolve(p)
}

func (r *Registry) resolve(p *Part) (*Controller, bool) {
	c, ok := r.controllers[p.Owner]
	if ok && c.Contains(p.Pos) {
		return c, true
	}
	_ = r.violation("part at %s names controller %d which does not own it; reattaching", p.Pos, p.Owner)
	p.Owner = 0
	r.orphans[p.Pos] = p
	return nil, false
}

// AddPart registers a newly placed (or loaded) part. It is attached to a
// controller by the next Tick.
func (r *Registry) AddPart(p *Part) error {
	if p == nil || p.Kind == nil {
		return r.violation("add part: part without kind")
	}
	if _, ok := r.parts[p.Pos]; ok {
		return r.violation("add part: %s already holds a part", p.Pos)
	}
	if p.Owner != 0 {
		return r.violation("add part: %s already owned by controller %d", p.Pos, p.Owner)
	}
	r.parts[p.Pos] = p
	r.orphans[p.Pos] = p
	return nil
}

// RemovePart detaches and forgets the part at pos. A controller left empty
// is deregistered immediately; one that lost a part is checked for
// connectivity and revalidated by the next Tick.
func (r *Registry) RemovePart(pos Vec3i) (*Part, error) {
	p, ok := r.parts[pos]
	if !ok {
		return nil, r.violation("remove part: no part at %s", pos)
	}
	delete(r.parts, pos)
	delete(r.orphans, pos)
	if p.Owner == 0 {
		return p, nil
	}
	c, ok := r.resolve(p)
	delete(r.orphans, pos)
	if !ok {
		return p, nil
	}
	c.detach(p)
	if c.PartCount() == 0 {
		if err := r.Deregister(c); err != nil {
			return p, err
		}
		return p, nil
	}
	r.shrunk[c.id] = struct{}{}
	return p, nil
}

// GetOrCreateForPart returns the owner of p, allocating and registering a new
// controller with p as its only part when p has none.
func (r *Registry) GetOrCreateForPart(p *Part) *Controller {
	if p.Owner != 0 {
		if c, ok := r.resolve(p); ok {
			return c
		}
	}
	c := r.register(p.Kind)
	c.attach(p)
	delete(r.orphans, p.Pos)
	return c
}

func (r *Registry) register(kind Kind) *Controller {
	r.nextID++
	c := newController(r.nextID, kind, r)
	r.controllers[c.id] = c
	liveControllers.WithLabelValues(kind.Name()).Inc()
	c.emit(Event{Type: EventCreated})
	return c
}

// Deregister removes an empty controller. Deregistering a controller that
// still owns parts is a contract violation; it is logged and returned
// without changing anything.
func (r *Registry) Deregister(c *Controller) error {
	if c == nil {
		return r.violation("deregister: nil controller")
	}
	if n := c.PartCount(); n > 0 {
		return r.violation("deregister: controller %d still owns %d parts", c.id, n)
	}
	if _, ok := r.controllers[c.id]; !ok {
		return r.violation("deregister: controller %d is not registered", c.id)
	}
	delete(r.controllers, c.id)
	delete(r.dirty, c.id)
	delete(r.shrunk, c.id)
	liveControllers.WithLabelValues(c.kind.Name()).Dec()
	c.emit(Event{Type: EventDeregistered})
	return nil
}

// TickReport summarizes one Tick.
type TickReport struct {
	Created      int
	Attached     int
	Assimilated  int
	SplitParts   int
	Validated    []ControllerID
	Deregistered int
}

// Tick applies the topology work queued since the last call, in order:
// connectivity checks for controllers that lost parts, attachment of orphan
// parts (merging every controller they connect), then exactly one validation
// pass per controller touched in this batch.
func (r *Registry) Tick() TickReport {
	var rep TickReport
	before := len(r.controllers)

	for _, id := range slices.Sorted(maps.Keys(r.shrunk)) {
		if c, ok := r.controllers[id]; ok {
			rep.SplitParts += r.splitDisconnected(c)
		}
	}
	clear(r.shrunk)

	for len(r.orphans) > 0 {
		for _, pos := range slices.SortedFunc(maps.Keys(r.orphans), comparePos) {
			p, ok := r.orphans[pos]
			if !ok {
				continue
			}
			delete(r.orphans, pos)
			if p.Owner != 0 {
				continue
			}
			created, merged := r.attachOrphan(p)
			rep.Attached++
			rep.Created += created
			rep.Assimilated += merged
		}
	}

	for _, id := range slices.Sorted(maps.Keys(r.dirty)) {
		if c, ok := r.controllers[id]; ok {
			c.RecheckValidity()
			rep.Validated = append(rep.Validated, id)
		}
	}
	clear(r.dirty)

	rep.Deregistered = before + rep.Created - len(r.controllers)
	return rep
}

func (r *Registry) attachOrphan(p *Part) (created, merged int) {
	var neighbours []*Controller
	for _, n := range p.Pos.Neighbors() {
		q, ok := r.parts[n]
		if !ok || q.Owner == 0 || !p.sameKind(q) {
			continue
		}
		c, ok := r.resolve(q)
		if !ok || slices.Contains(neighbours, c) {
			continue
		}
		neighbours = append(neighbours, c)
	}

	switch len(neighbours) {
	case 0:
		r.GetOrCreateForPart(p)
		return 1, 0
	case 1:
		neighbours[0].attach(p)
		return 0, 0
	}

	slices.SortFunc(neighbours, compareSurvivor)
	best := neighbours[0]
	best.attach(p)
	for _, other := range neighbours[1:] {
		best = r.Assimilate(best, other)
		merged++
	}
	return 0, merged
}

// splitDisconnected detaches every part of c not face-connected to its
// reference part. Detached parts become orphans and re-form controllers in
// the same Tick.
func (r *Registry) splitDisconnected(c *Controller) int {
	ref, ok := c.ReferenceCoord()
	if !ok {
		return 0
	}
	seen := map[Vec3i]struct{}{ref: {}}
	queue := []Vec3i{ref}
	for len(queue) > 0 {
		pos := queue[0]
		queue = queue[1:]
		for _, n := range pos.Neighbors() {
			if _, ok := seen[n]; ok {
				continue
			}
			if c.Contains(n) {
				seen[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	if len(seen) == c.PartCount() {
		return 0
	}
	n := 0
	for _, p := range c.Parts() {
		if _, ok := seen[p.Pos]; ok {
			continue
		}
		c.detach(p)
		r.orphans[p.Pos] = p
		n++
	}
	splitsTotal.WithLabelValues(c.kind.Name()).Add(float64(n))
	return n
}

// PauseWithin pauses every assembled controller whose bounds intersect the
// box [min, max]. It returns the number paused.
func (r *Registry) PauseWithin(min, max Vec3i) int {
	n := 0
	for _, c := range r.Controllers() {
		if c.bounds.Intersects(min, max) && c.Pause() {
			n++
		}
	}
	return n
}

// RestoreWithin queues every paused controller whose bounds intersect the
// box [min, max] for restoration by the next Tick. A nil ready accepts every
// candidate; otherwise controllers it rejects stay paused.
func (r *Registry) RestoreWithin(min, max Vec3i, ready func(*Controller) bool) int {
	n := 0
	for _, c := range r.Controllers() {
		if !c.bounds.Intersects(min, max) || c.state != StatePaused {
			continue
		}
		if ready != nil && !ready(c) {
			continue
		}
		if c.Restore() {
			n++
		}
	}
	return n
}

// MarkEnclosing queues a validation pass for every controller whose bounds
// contain pos. Hosts call it when a non-part cell changes, since interior
// rules read the world.
func (r *Registry) MarkEnclosing(pos Vec3i) int {
	n := 0
	for _, c := range r.controllers {
		if c.bounds.Contains(pos) {
			r.markDirty(c)
			n++
		}
	}
	return n
}

// DescribeAt returns the diagnostic text of the structure owning pos.
func (r *Registry) DescribeAt(pos Vec3i) (string, bool) {
	c, ok := r.ControllerFor(pos)
	if !ok {
		return "", false
	}
	return c.Describe(), true
}

// ControllerView is a detached copy of a controller's observable state.
type ControllerView struct {
	ID             ControllerID
	Kind           string
	State          MachineState
	Active         bool
	Parts          int
	SubControllers int
	Min            Vec3i
	Max            Vec3i
	Reference      Vec3i
	Reason         string
	Validations    int
	Description    string
	// Message is the encoded sync payload.
	Message []byte
}

func (c *Controller) View() ControllerView {
	ref, _ := c.ReferenceCoord()
	v := ControllerView{
		ID:             c.id,
		Kind:           c.kind.Name(),
		State:          c.state,
		Active:         c.active,
		Parts:          len(c.parts),
		SubControllers: len(c.subControllers),
		Min:            c.bounds.Min,
		Max:            c.bounds.Max,
		Reference:      ref,
		Validations:    c.validations,
		Description:    c.Describe(),
		Message:        c.EncodeMessage(),
	}
	if c.lastErr != nil {
		v.Reason = c.lastErr.Reason
	}
	return v
}

// Snapshot copies the state of every live controller, ordered by id. The
// result shares nothing with the registry and may cross goroutines.
func (r *Registry) Snapshot() []ControllerView {
	out := make([]ControllerView, 0, len(r.controllers))
	for _, c := range r.Controllers() {
		out = append(out, c.View())
	}
	return out
}

// CheckInvariants verifies the partition and bounding volumes. It is meant
// for tests and debug endpoints.
func (r *Registry) CheckInvariants() error {
	var errs []error
	owned := map[Vec3i]ControllerID{}
	for _, c := range r.Controllers() {
		if c.PartCount() == 0 {
			errs = append(errs, fmt.Errorf("controller %d is empty but registered", c.id))
		}
		for pos, p := range c.parts {
			if prev, dup := owned[pos]; dup {
				errs = append(errs, fmt.Errorf("%s owned by controllers %d and %d", pos, prev, c.id))
			}
			owned[pos] = c.id
			if p.Owner != c.id {
				errs = append(errs, fmt.Errorf("%s in controller %d names owner %d", pos, c.id, p.Owner))
			}
			if r.parts[pos] != p {
				errs = append(errs, fmt.Errorf("%s in controller %d is not loaded", pos, c.id))
			}
			if (p.Role == RoleSubController) != (c.subControllers[pos] != nil) {
				errs = append(errs, fmt.Errorf("%s sub-controller cache mismatch in controller %d", pos, c.id))
			}
		}
		exact := BoundsOf(slices.Collect(maps.Keys(c.parts)))
		if exact != c.bounds {
			errs = append(errs, fmt.Errorf("controller %d bounds %v, want %v", c.id, c.bounds, exact))
		}
	}
	for pos, p := range r.parts {
		if p.Owner == 0 {
			continue
		}
		if owned[pos] != p.Owner {
			errs = append(errs, fmt.Errorf("%s names controller %d which is not live or does not own it", pos, p.Owner))
		}
	}
	return errors.Join(errs...)
}

func comparePos(a, b Vec3i) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
