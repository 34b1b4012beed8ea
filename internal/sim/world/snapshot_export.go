package world

import (
	"fmt"

	"github.com/google/uuid"

	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/robots"
	"robominions.dev/internal/sim/voxel"
)

// ExportSnapshot copies robots, the identity cache and block edits. World loop
// goroutine only (or before Run).
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	gc := w.grid.Config()
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: 1, WorldID: w.cfg.ID, Tick: nowTick},
		TickRate:      w.cfg.TickRateHz,
		BoundaryR:     gc.BoundaryR,
		Height:        gc.Height,
		GroundY:       gc.GroundY,
		ExecutorEvery: w.cfg.ExecutorEveryTicks,
		FlyingEvery:   w.cfg.FlyingTickEveryTicks,
		Counters: snapshot.CountersV1{
			Executed:  w.counters.executed,
			Delivered: w.counters.delivered,
			Dropped:   w.counters.dropped,
			Spawned:   w.counters.spawned,
		},
	}
	for _, st := range w.registry.Snapshot() {
		inv := make(map[string]int, len(st.Inventory))
		for _, m := range robots.SortedMaterials(st.Inventory) {
			inv[string(m)] = st.Inventory[m]
		}
		snap.Robots = append(snap.Robots, snapshot.RobotV1{
			Owner:     st.Owner.String(),
			Kind:      st.Kind,
			Pos:       st.Pos.ToArray(),
			Facing:    st.Facing.String(),
			Inventory: inv,
		})
	}
	for _, e := range w.cache.Snapshot() {
		snap.Identities = append(snap.Identities, snapshot.IdentityV1{Name: e.Name, ID: e.ID.String()})
	}
	for _, e := range w.grid.Edits() {
		snap.Blocks = append(snap.Blocks, snapshot.BlockV1{Pos: e.Pos.ToArray(), Material: string(e.Material)})
	}
	return snap
}

// ImportSnapshot replaces robots, the identity cache and block edits, and sets the
// world's tick to snapshotTick+1. Must be called before Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if w.started.Load() {
		return fmt.Errorf("import snapshot: world already started")
	}
	if snap.Header.Version != 1 {
		return fmt.Errorf("import snapshot: unsupported version %d", snap.Header.Version)
	}
	gc := w.grid.Config()
	if snap.BoundaryR != 0 && (snap.BoundaryR != gc.BoundaryR || snap.Height != gc.Height || snap.GroundY != gc.GroundY) {
		w.logger.Printf("snapshot grid differs from config; using snapshot boundary_r=%d height=%d ground_y=%d",
			snap.BoundaryR, snap.Height, snap.GroundY)
		w.grid = voxel.NewGrid(voxel.GridConfig{BoundaryR: snap.BoundaryR, Height: snap.Height, GroundY: snap.GroundY})
	}

	for _, b := range snap.Blocks {
		m, ok := protocol.ParseMaterial(b.Material)
		if !ok {
			return fmt.Errorf("import snapshot: block %v: unknown material %q", b.Pos, b.Material)
		}
		w.grid.Set(voxel.FromArray(b.Pos), m)
	}
	for _, e := range snap.Identities {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("import snapshot: identity %s: %w", e.Name, err)
		}
		w.cache.Put(e.Name, id)
	}
	w.registry.Clear()
	for _, rv := range snap.Robots {
		owner, err := uuid.Parse(rv.Owner)
		if err != nil {
			return fmt.Errorf("import snapshot: robot owner: %w", err)
		}
		inv := make(map[protocol.Material]int, len(rv.Inventory))
		for name, n := range rv.Inventory {
			if m, ok := protocol.ParseMaterial(name); ok {
				inv[m] = n
			}
		}
		st := robots.State{
			Owner:     owner,
			Kind:      rv.Kind,
			Pos:       voxel.FromArray(rv.Pos),
			Facing:    voxel.ParseFacing(rv.Facing),
			Inventory: inv,
		}
		w.registry.Put(owner, robots.Restore(st, w.grid, robots.Options{LiftTicks: w.cfg.ChickenLift}))
	}

	w.counters = counters{
		executed:  snap.Counters.Executed,
		delivered: snap.Counters.Delivered,
		dropped:   snap.Counters.Dropped,
		spawned:   snap.Counters.Spawned,
	}
	w.tick.Store(snap.Header.Tick + 1)
	w.publishMetrics(0)
	return nil
}
