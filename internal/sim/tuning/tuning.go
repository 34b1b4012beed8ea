package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz           int `yaml:"tick_rate_hz"`
	ExecutorEveryTicks   int `yaml:"executor_every_ticks"`
	RobotTickEveryTicks  int `yaml:"robot_tick_every_ticks"`
	FlyingTickEveryTicks int `yaml:"flying_tick_every_ticks"`
	SnapshotEveryTicks   int `yaml:"snapshot_every_ticks"`

	QueueCapacity int    `yaml:"queue_capacity"`
	QueueOverflow string `yaml:"queue_overflow"`

	MaxOutstandingPerConn int `yaml:"max_outstanding_per_conn"`
	OutboundBuffer        int `yaml:"outbound_buffer"`

	PickupRadius   float64        `yaml:"pickup_radius"`
	DefaultRobot   string         `yaml:"default_robot"`
	ChickenLift    int            `yaml:"chicken_lift_ticks"`
	StarterItems   map[string]int `yaml:"starter_items"`
	WorldBoundaryR int            `yaml:"world_boundary_r"`
	WorldHeight    int            `yaml:"world_height"`
	GroundY        int            `yaml:"ground_y"`
}

// Defaults mirrors configs/tuning.yaml. Used when the file is missing on a snapshot resume.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:       "1.0",
		TickRateHz:            20,
		ExecutorEveryTicks:    2,
		RobotTickEveryTicks:   1,
		FlyingTickEveryTicks:  10,
		SnapshotEveryTicks:    3000,
		QueueCapacity:         0,
		QueueOverflow:         "reject_new",
		MaxOutstandingPerConn: 256,
		OutboundBuffer:        256,
		PickupRadius:          3.0,
		DefaultRobot:          "pumpkin",
		ChickenLift:           11,
		WorldBoundaryR:        64,
		WorldHeight:           64,
		GroundY:               32,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero cadences with defaults. queue_capacity 0 stays 0 (unbounded).
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ExecutorEveryTicks <= 0 {
		t.ExecutorEveryTicks = d.ExecutorEveryTicks
	}
	if t.RobotTickEveryTicks <= 0 {
		t.RobotTickEveryTicks = d.RobotTickEveryTicks
	}
	if t.FlyingTickEveryTicks <= 0 {
		t.FlyingTickEveryTicks = d.FlyingTickEveryTicks
	}
	if t.MaxOutstandingPerConn <= 0 {
		t.MaxOutstandingPerConn = d.MaxOutstandingPerConn
	}
	if t.OutboundBuffer <= 0 {
		t.OutboundBuffer = d.OutboundBuffer
	}
	if t.PickupRadius <= 0 {
		t.PickupRadius = d.PickupRadius
	}
	if t.ChickenLift <= 0 {
		t.ChickenLift = d.ChickenLift
	}
	if t.WorldBoundaryR <= 0 {
		t.WorldBoundaryR = d.WorldBoundaryR
	}
	if t.WorldHeight <= 0 {
		t.WorldHeight = d.WorldHeight
	}
	if t.GroundY <= 0 {
		t.GroundY = t.WorldHeight / 2
	}
	t.QueueOverflow = strings.ToLower(strings.TrimSpace(t.QueueOverflow))
	if t.QueueOverflow == "" {
		t.QueueOverflow = d.QueueOverflow
	}
	t.DefaultRobot = strings.ToLower(strings.TrimSpace(t.DefaultRobot))
	if t.DefaultRobot == "" {
		t.DefaultRobot = d.DefaultRobot
	}
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz too high: %d", t.TickRateHz)
	}
	if t.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be >= 0, got %d", t.QueueCapacity)
	}
	switch t.QueueOverflow {
	case "reject_new", "drop_oldest":
	default:
		return fmt.Errorf("queue_overflow: unknown policy %q", t.QueueOverflow)
	}
	switch t.DefaultRobot {
	case "pumpkin", "chicken":
	default:
		return fmt.Errorf("default_robot: unknown kind %q", t.DefaultRobot)
	}
	if t.GroundY < 1 || t.GroundY >= t.WorldHeight {
		return fmt.Errorf("ground_y %d outside world height %d", t.GroundY, t.WorldHeight)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	for name, n := range t.StarterItems {
		if n < 0 {
			return fmt.Errorf("starter_items[%s]: negative count", name)
		}
	}
	return nil
}
