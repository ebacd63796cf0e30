package multiblock

import "multiblock.ai/internal/sim/multiblock/codec"

// CarriedState is state a part brings with it when it joins a controller:
// a persisted record (from a snapshot) or a sync message (from a peer).
type CarriedState struct {
	Record  codec.Record
	Message []byte
}

// Part is one placed unit block. Owner is a handle into the registry, not a
// reference; the controller's part set is the authoritative membership.
type Part struct {
	Pos   Vec3i
	Role  PartRole
	Kind  Kind
	Owner ControllerID
	Host  PartHost

	// Carried is consumed by the first controller the part attaches to.
	Carried *CarriedState
}

func (p *Part) sameKind(o *Part) bool {
	if p == nil || o == nil || p.Kind == nil || o.Kind == nil {
		return false
	}
	return p.Kind.Name() == o.Kind.Name()
}
