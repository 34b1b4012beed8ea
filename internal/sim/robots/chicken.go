package robots

import (
	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/voxel"
)

// Chicken is an entity robot subject to gravity. It has no sustained flight of
// its own: each FlyingTick grants lift for a fixed number of ticks, and Tick
// drops it one block whenever lift has run out and nothing supports it.
type Chicken struct {
	body
	liftTicks int
	lift      int
}

func (c *Chicken) Kind() string { return KindChicken }

func (c *Chicken) Move(d protocol.Direction) bool                       { return c.move(d) }
func (c *Chicken) Turn(d protocol.Direction) bool                       { return c.turn(d) }
func (c *Chicken) Mine(d protocol.Direction) bool                       { return c.mine(d) }
func (c *Chicken) Place(d protocol.Direction, m protocol.Material) bool { return c.place(d, m) }

func (c *Chicken) Tick() {
	if c.dead || c.grid == nil {
		return
	}
	if c.lift > 0 {
		c.lift--
		return
	}
	below := c.pos.Add(voxel.Vec3i{Y: -1})
	if c.grid.InBounds(below) && !c.grid.IsSolid(below) {
		c.pos = below
	}
}

func (c *Chicken) FlyingTick() {
	if c.dead {
		return
	}
	c.lift = c.liftTicks
}

func (c *Chicken) State() State { return c.state(KindChicken) }
