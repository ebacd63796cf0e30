package multiblock

import "fmt"

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d, %d, %d", v.X, v.Y, v.Z) }

// Less orders coordinates by X, then Y, then Z.
func (v Vec3i) Less(o Vec3i) bool {
	if v.X != o.X {
		return v.X < o.X
	}
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.Z < o.Z
}

func Vec3FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

var faceOffsets = [6]Vec3i{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// Neighbors returns the six face-adjacent coordinates.
func (v Vec3i) Neighbors() [6]Vec3i {
	var out [6]Vec3i
	for i, d := range faceOffsets {
		out[i] = v.Add(d)
	}
	return out
}

type PartRole uint8

const (
	RolePlain PartRole = iota
	RoleSubController
	// RoleInteriorSensitive parts must sit on a face of the structure, where
	// they touch the interior, never on a frame edge or corner.
	RoleInteriorSensitive
)

func (r PartRole) String() string {
	switch r {
	case RolePlain:
		return "plain"
	case RoleSubController:
		return "sub_controller"
	case RoleInteriorSensitive:
		return "interior_sensitive"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func ParseRole(s string) (PartRole, bool) {
	switch s {
	case "", "plain":
		return RolePlain, true
	case "sub_controller":
		return RoleSubController, true
	case "interior_sensitive":
		return RoleInteriorSensitive, true
	default:
		return RolePlain, false
	}
}

type MachineState uint8

const (
	StateDisassembled MachineState = iota
	StateAssembled
	StatePaused
)

func (s MachineState) String() string {
	switch s {
	case StateDisassembled:
		return "DISASSEMBLED"
	case StateAssembled:
		return "ASSEMBLED"
	case StatePaused:
		return "PAUSED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

func ParseState(s string) (MachineState, bool) {
	switch s {
	case "DISASSEMBLED":
		return StateDisassembled, true
	case "ASSEMBLED":
		return StateAssembled, true
	case "PAUSED":
		return StatePaused, true
	default:
		return StateDisassembled, false
	}
}

// ControllerID is a registry handle. Zero means "no controller".
type ControllerID uint64

// World is the voxel world as seen by validation. The engine never writes
// blocks; NotifyBlockChanged only asks the host to re-sync a cell.
type World interface {
	BlockAt(pos Vec3i) uint16
	IsAirAt(pos Vec3i) bool
	NotifyBlockChanged(pos Vec3i)
}

// PartHost is the entity behind a part. All methods run on the home
// goroutine.
type PartHost interface {
	OnMachineActivated()
	OnMachineDeactivated()
	OnMachineAssembled(c *Controller)
	OnMachineBroken()
}
