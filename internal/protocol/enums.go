package protocol

import "strings"

type Direction string

const (
	DirUp       Direction = "UP"
	DirDown     Direction = "DOWN"
	DirLeft     Direction = "LEFT"
	DirRight    Direction = "RIGHT"
	DirForward  Direction = "FORWARD"
	DirBackward Direction = "BACKWARD"
	DirNorth    Direction = "NORTH"
	DirSouth    Direction = "SOUTH"
	DirEast     Direction = "EAST"
	DirWest     Direction = "WEST"
)

var directions = []Direction{
	DirUp, DirDown, DirLeft, DirRight, DirForward, DirBackward,
	DirNorth, DirSouth, DirEast, DirWest,
}

// Directions lists every wire direction in declaration order.
func Directions() []Direction {
	out := make([]Direction, len(directions))
	copy(out, directions)
	return out
}

func (d Direction) Valid() bool {
	for _, x := range directions {
		if d == x {
			return true
		}
	}
	return false
}

// ParseDirection accepts any letter case ("north", "North").
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", false
	}
	return d, true
}

// Material is a block type that can be placed or mined.
type Material string

const (
	MatAir         Material = "AIR"
	MatStone       Material = "STONE"
	MatGrass       Material = "GRASS"
	MatDirt        Material = "DIRT"
	MatCobblestone Material = "COBBLESTONE"
	MatPlanks      Material = "PLANKS"
	MatLog         Material = "LOG"
	MatSand        Material = "SAND"
	MatGravel      Material = "GRAVEL"
	MatGlass       Material = "GLASS"
	MatBrick       Material = "BRICK"
	MatWool        Material = "WOOL"
	MatCoalOre     Material = "COAL_ORE"
	MatIronOre     Material = "IRON_ORE"
	MatPumpkin     Material = "PUMPKIN"
	MatTorch       Material = "TORCH"
	MatBedrock     Material = "BEDROCK"
)

var materials = []Material{
	MatAir, MatStone, MatGrass, MatDirt, MatCobblestone, MatPlanks, MatLog, MatSand,
	MatGravel, MatGlass, MatBrick, MatWool, MatCoalOre, MatIronOre, MatPumpkin,
	MatTorch, MatBedrock,
}

func Materials() []Material {
	out := make([]Material, len(materials))
	copy(out, materials)
	return out
}

func (m Material) Valid() bool {
	for _, x := range materials {
		if m == x {
			return true
		}
	}
	return false
}

func ParseMaterial(s string) (Material, bool) {
	m := Material(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", false
	}
	return m, true
}
