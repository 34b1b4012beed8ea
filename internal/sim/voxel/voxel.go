// Package voxel is the block grid robots act on.
package voxel

import (
	"sort"

	"robominions.dev/internal/protocol"
)

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// DistSq is the squared euclidean distance between block centers.
func DistSq(a, b Vec3i) int {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

type GridConfig struct {
	// BoundaryR bounds |x| and |z|.
	BoundaryR int
	Height    int
	GroundY   int
}

// Grid is a flat generated terrain with sparse edits on top.
// Like the rest of the simulation it is owned by the world loop goroutine.
type Grid struct {
	cfg   GridConfig
	edits map[Vec3i]protocol.Material
}

func NewGrid(cfg GridConfig) *Grid {
	if cfg.BoundaryR <= 0 {
		cfg.BoundaryR = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 64
	}
	if cfg.GroundY <= 0 || cfg.GroundY >= cfg.Height {
		cfg.GroundY = cfg.Height / 2
	}
	return &Grid{cfg: cfg, edits: map[Vec3i]protocol.Material{}}
}

func (g *Grid) Config() GridConfig { return g.cfg }

func (g *Grid) InBounds(p Vec3i) bool {
	r := g.cfg.BoundaryR
	return p.X >= -r && p.X <= r && p.Z >= -r && p.Z <= r && p.Y >= 0 && p.Y < g.cfg.Height
}

func (g *Grid) generated(p Vec3i) protocol.Material {
	switch {
	case p.Y == 0:
		return protocol.MatBedrock
	case p.Y < g.cfg.GroundY-3:
		return protocol.MatStone
	case p.Y < g.cfg.GroundY-1:
		return protocol.MatDirt
	case p.Y == g.cfg.GroundY-1:
		return protocol.MatGrass
	default:
		return protocol.MatAir
	}
}

// Get returns the block at p. Outside the world everything is bedrock, except
// above the build height which is air.
func (g *Grid) Get(p Vec3i) protocol.Material {
	if p.Y >= g.cfg.Height {
		return protocol.MatAir
	}
	if !g.InBounds(p) {
		return protocol.MatBedrock
	}
	if m, ok := g.edits[p]; ok {
		return m
	}
	return g.generated(p)
}

// Set writes a block; it reports false outside the world.
func (g *Grid) Set(p Vec3i, m protocol.Material) bool {
	if !g.InBounds(p) {
		return false
	}
	if m == g.generated(p) {
		delete(g.edits, p)
		return true
	}
	g.edits[p] = m
	return true
}

func (g *Grid) IsSolid(p Vec3i) bool {
	switch g.Get(p) {
	case protocol.MatAir, protocol.MatTorch:
		return false
	default:
		return true
	}
}

// Breakable reports whether a robot may mine the block at p.
func (g *Grid) Breakable(p Vec3i) bool {
	if !g.InBounds(p) {
		return false
	}
	m := g.Get(p)
	return m != protocol.MatAir && m != protocol.MatBedrock
}

// SurfaceY returns the first air block above the highest solid block in column (x,z).
func (g *Grid) SurfaceY(x, z int) int {
	for y := g.cfg.Height - 1; y >= 0; y-- {
		if g.IsSolid(Vec3i{X: x, Y: y, Z: z}) {
			return y + 1
		}
	}
	return 0
}

// Edit is one block that differs from generated terrain.
type Edit struct {
	Pos      Vec3i
	Material protocol.Material
}

// Edits returns all edits in deterministic order.
func (g *Grid) Edits() []Edit {
	out := make([]Edit, 0, len(g.edits))
	for p, m := range g.edits {
		out = append(out, Edit{Pos: p, Material: m})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	return out
}
