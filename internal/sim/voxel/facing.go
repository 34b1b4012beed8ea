package voxel

import "robominions.dev/internal/protocol"

// Facing is a horizontal heading, clockwise from north.
type Facing int

const (
	North Facing = iota
	East
	South
	West
)

func (f Facing) String() string {
	switch f.norm() {
	case North:
		return "NORTH"
	case East:
		return "EAST"
	case South:
		return "SOUTH"
	default:
		return "WEST"
	}
}

func (f Facing) norm() Facing { return ((f % 4) + 4) % 4 }

func (f Facing) Right() Facing { return (f + 1).norm() }
func (f Facing) Left() Facing  { return (f + 3).norm() }
func (f Facing) Back() Facing  { return (f + 2).norm() }

// Step is the unit offset for moving one block in direction f (north is -Z).
func (f Facing) Step() Vec3i {
	switch f.norm() {
	case North:
		return Vec3i{Z: -1}
	case East:
		return Vec3i{X: 1}
	case South:
		return Vec3i{Z: 1}
	default:
		return Vec3i{X: -1}
	}
}

// Heading resolves absolute and relative horizontal directions against the
// current facing. UP/DOWN have no heading.
func Heading(d protocol.Direction, cur Facing) (Facing, bool) {
	switch d {
	case protocol.DirNorth:
		return North, true
	case protocol.DirEast:
		return East, true
	case protocol.DirSouth:
		return South, true
	case protocol.DirWest:
		return West, true
	case protocol.DirForward:
		return cur.norm(), true
	case protocol.DirBackward:
		return cur.Back(), true
	case protocol.DirLeft:
		return cur.Left(), true
	case protocol.DirRight:
		return cur.Right(), true
	default:
		return cur, false
	}
}

// Offset is the unit vector for d relative to the current facing.
func Offset(d protocol.Direction, cur Facing) (Vec3i, bool) {
	switch d {
	case protocol.DirUp:
		return Vec3i{Y: 1}, true
	case protocol.DirDown:
		return Vec3i{Y: -1}, true
	}
	h, ok := Heading(d, cur)
	if !ok {
		return Vec3i{}, false
	}
	return h.Step(), true
}

func ParseFacing(s string) Facing {
	switch s {
	case "EAST":
		return East
	case "SOUTH":
		return South
	case "WEST":
		return West
	default:
		return North
	}
}
