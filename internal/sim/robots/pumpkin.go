package robots

import (
	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/voxel"
)

// Pumpkin is a ground robot. It walks on solid blocks, steps up or down one
// block at a time and cannot leave the ground. Tick drops it one block when the
// block under it is gone.
type Pumpkin struct {
	body
}

func (p *Pumpkin) Kind() string { return KindPumpkin }

func (p *Pumpkin) Move(d protocol.Direction) bool {
	if p.dead || p.grid == nil {
		return false
	}
	off, ok := voxel.Offset(d, p.facing)
	if !ok {
		return false
	}
	to := p.pos.Add(off)
	if !p.grid.InBounds(to) {
		return false
	}
	up := voxel.Vec3i{Y: 1}
	if p.grid.IsSolid(to) {
		// Climb a one-block step when there is room above both cells.
		if off.Y != 0 || !p.free(to.Add(up)) || !p.free(p.pos.Add(up)) {
			return false
		}
		to = to.Add(up)
	}
	if !p.supported(to) {
		// Step down a one-block drop; anything deeper is refused.
		down := to.Add(voxel.Vec3i{Y: -1})
		if off.Y != 0 || !p.free(down) || !p.supported(down) {
			return false
		}
		to = down
	}
	p.pos = to
	return true
}

func (p *Pumpkin) Turn(d protocol.Direction) bool                       { return p.turn(d) }
func (p *Pumpkin) Mine(d protocol.Direction) bool                       { return p.mine(d) }
func (p *Pumpkin) Place(d protocol.Direction, m protocol.Material) bool { return p.place(d, m) }

func (p *Pumpkin) Tick() {
	if p.dead || p.grid == nil || p.supported(p.pos) {
		return
	}
	p.pos = p.pos.Add(voxel.Vec3i{Y: -1})
}

func (p *Pumpkin) State() State { return p.state(KindPumpkin) }

func (p *Pumpkin) free(at voxel.Vec3i) bool {
	return p.grid.InBounds(at) && !p.grid.IsSolid(at)
}

// supported reports whether a solid block (or the world floor) is under at.
func (p *Pumpkin) supported(at voxel.Vec3i) bool {
	below := at.Add(voxel.Vec3i{Y: -1})
	return !p.grid.InBounds(below) || p.grid.IsSolid(below)
}
