package world

import (
	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/robots"
	"robominions.dev/internal/sim/tuning"
	"robominions.dev/internal/sim/voxel"
)

type WorldConfig struct {
	ID         string
	TickRateHz int

	// Cadences in ticks. A task runs on ticks where tick%every == 0.
	ExecutorEveryTicks   int
	RobotTickEveryTicks  int
	FlyingTickEveryTicks int
	SnapshotEveryTicks   int

	QueueCapacity int
	QueueOverflow actions.Overflow

	PickupRadius float64
	DefaultRobot string
	ChickenLift  int

	// Starter items granted to newly spawned robots.
	StarterItems map[protocol.Material]int

	Grid voxel.GridConfig
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "main"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ExecutorEveryTicks <= 0 {
		c.ExecutorEveryTicks = 2
	}
	if c.RobotTickEveryTicks <= 0 {
		c.RobotTickEveryTicks = 1
	}
	if c.FlyingTickEveryTicks <= 0 {
		c.FlyingTickEveryTicks = 10
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.PickupRadius <= 0 {
		c.PickupRadius = 3.0
	}
	c.DefaultRobot = robots.NormalizeKind(c.DefaultRobot)
}

// ConfigFromTuning maps tuning.yaml onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	overflow, _ := actions.ParseOverflow(t.QueueOverflow)
	starter := make(map[protocol.Material]int, len(t.StarterItems))
	for name, n := range t.StarterItems {
		if m, ok := protocol.ParseMaterial(name); ok && n > 0 {
			starter[m] = n
		}
	}
	return WorldConfig{
		ID:                   id,
		TickRateHz:           t.TickRateHz,
		ExecutorEveryTicks:   t.ExecutorEveryTicks,
		RobotTickEveryTicks:  t.RobotTickEveryTicks,
		FlyingTickEveryTicks: t.FlyingTickEveryTicks,
		SnapshotEveryTicks:   t.SnapshotEveryTicks,
		QueueCapacity:        t.QueueCapacity,
		QueueOverflow:        overflow,
		PickupRadius:         t.PickupRadius,
		DefaultRobot:         t.DefaultRobot,
		ChickenLift:          t.ChickenLift,
		StarterItems:         starter,
		Grid: voxel.GridConfig{
			BoundaryR: t.WorldBoundaryR,
			Height:    t.WorldHeight,
			GroundY:   t.GroundY,
		},
	}
}
