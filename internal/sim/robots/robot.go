// Package robots implements the actor capability surface (move/turn/mine/place)
// and the registry of live robots.
//
// Everything here runs on the world loop goroutine. The same robot may be driven
// both by queued network requests and by direct admin commands within one tick, so
// no method keeps state across calls beyond the robot's own position/inventory.
package robots

import (
	"sort"
	"strings"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/voxel"
)

const (
	KindPumpkin = "pumpkin"
	KindChicken = "chicken"
)

// Robot is the capability interface every robot variant exposes.
// Capabilities never panic on bad input; they report failure as false.
type Robot interface {
	Move(d protocol.Direction) bool
	Turn(d protocol.Direction) bool
	Mine(d protocol.Direction) bool
	Place(d protocol.Direction, m protocol.Material) bool

	// Tick runs every simulation step.
	Tick()
	// PickUp adds a captured item stack to the robot inventory.
	PickUp(m protocol.Material, count int) bool
	// Die removes the robot from the world; later calls fail.
	Die()

	Owner() identity.ID
	Kind() string
	Location() voxel.Vec3i
	State() State
}

// Flyer is implemented by robots that need a periodic lift to stay airborne.
type Flyer interface {
	FlyingTick()
}

// State is a copy of a robot's observable state.
type State struct {
	Owner     identity.ID
	Kind      string
	Pos       voxel.Vec3i
	Facing    voxel.Facing
	Inventory map[protocol.Material]int
	Dead      bool
}

type Options struct {
	// StarterItems is copied into a new robot's inventory.
	StarterItems map[protocol.Material]int
	// LiftTicks is how long a FlyingTick keeps a flyer airborne.
	LiftTicks int
}

// New spawns a robot of the given kind. Unknown or empty kinds get a pumpkin,
// which is the most reliable variant.
func New(kind string, owner identity.ID, pos voxel.Vec3i, grid *voxel.Grid, opts Options) Robot {
	b := newBody(owner, pos, grid, opts.StarterItems)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindChicken:
		lift := opts.LiftTicks
		if lift <= 0 {
			lift = 11
		}
		return &Chicken{body: b, liftTicks: lift, lift: lift}
	default:
		return &Pumpkin{body: b}
	}
}

// NormalizeKind maps user input to a known kind.
func NormalizeKind(kind string) string {
	if strings.ToLower(strings.TrimSpace(kind)) == KindChicken {
		return KindChicken
	}
	return KindPumpkin
}

// body holds state and capability logic shared by all variants.
type body struct {
	owner     identity.ID
	grid      *voxel.Grid
	pos       voxel.Vec3i
	facing    voxel.Facing
	inventory map[protocol.Material]int
	dead      bool
}

func newBody(owner identity.ID, pos voxel.Vec3i, grid *voxel.Grid, starter map[protocol.Material]int) body {
	inv := make(map[protocol.Material]int, len(starter))
	for m, n := range starter {
		if n > 0 {
			inv[m] = n
		}
	}
	return body{owner: owner, grid: grid, pos: pos, facing: voxel.North, inventory: inv}
}

func (b *body) Owner() identity.ID    { return b.owner }
func (b *body) Location() voxel.Vec3i { return b.pos }

func (b *body) move(d protocol.Direction) bool {
	if b.dead || b.grid == nil {
		return false
	}
	off, ok := voxel.Offset(d, b.facing)
	if !ok {
		return false
	}
	to := b.pos.Add(off)
	if !b.grid.InBounds(to) || b.grid.IsSolid(to) {
		return false
	}
	b.pos = to
	return true
}

func (b *body) turn(d protocol.Direction) bool {
	if b.dead {
		return false
	}
	h, ok := voxel.Heading(d, b.facing)
	if !ok {
		return false
	}
	b.facing = h
	return true
}

func (b *body) mine(d protocol.Direction) bool {
	if b.dead || b.grid == nil {
		return false
	}
	off, ok := voxel.Offset(d, b.facing)
	if !ok {
		return false
	}
	at := b.pos.Add(off)
	if !b.grid.Breakable(at) {
		return false
	}
	m := b.grid.Get(at)
	if !b.grid.Set(at, protocol.MatAir) {
		return false
	}
	b.inventory[dropFor(m)]++
	return true
}

func (b *body) place(d protocol.Direction, m protocol.Material) bool {
	if b.dead || b.grid == nil {
		return false
	}
	if !m.Valid() || m == protocol.MatAir || m == protocol.MatBedrock {
		return false
	}
	if b.inventory[m] <= 0 {
		return false
	}
	off, ok := voxel.Offset(d, b.facing)
	if !ok {
		return false
	}
	at := b.pos.Add(off)
	if !b.grid.InBounds(at) || b.grid.IsSolid(at) {
		return false
	}
	if !b.grid.Set(at, m) {
		return false
	}
	b.inventory[m]--
	if b.inventory[m] == 0 {
		delete(b.inventory, m)
	}
	return true
}

func (b *body) PickUp(m protocol.Material, count int) bool {
	if b.dead || count <= 0 || !m.Valid() || m == protocol.MatAir {
		return false
	}
	b.inventory[m] += count
	return true
}

func (b *body) Die() { b.dead = true }

func (b *body) state(kind string) State {
	inv := make(map[protocol.Material]int, len(b.inventory))
	for m, n := range b.inventory {
		inv[m] = n
	}
	return State{Owner: b.owner, Kind: kind, Pos: b.pos, Facing: b.facing, Inventory: inv, Dead: b.dead}
}

// restore overwrites position, facing and inventory (snapshot import).
func (b *body) restore(st State) {
	b.pos = st.Pos
	b.facing = st.Facing
	b.inventory = make(map[protocol.Material]int, len(st.Inventory))
	for m, n := range st.Inventory {
		if n > 0 {
			b.inventory[m] = n
		}
	}
}

func dropFor(m protocol.Material) protocol.Material {
	switch m {
	case protocol.MatStone:
		return protocol.MatCobblestone
	case protocol.MatGrass:
		return protocol.MatDirt
	default:
		return m
	}
}

// Restore builds a robot from a snapshot state.
func Restore(st State, grid *voxel.Grid, opts Options) Robot {
	r := New(st.Kind, st.Owner, st.Pos, grid, Options{LiftTicks: opts.LiftTicks})
	switch rr := r.(type) {
	case *Pumpkin:
		rr.restore(st)
	case *Chicken:
		rr.restore(st)
	}
	return r
}

// SortedMaterials returns inventory keys in stable order.
func SortedMaterials(inv map[protocol.Material]int) []protocol.Material {
	out := make([]protocol.Material, 0, len(inv))
	for m := range inv {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
