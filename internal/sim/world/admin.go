package world

import (
	"context"
	"errors"
	"fmt"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/robots"
	"robominions.dev/internal/sim/voxel"
)

var (
	// ErrUnknownName means the name is neither online nor in the identity cache.
	ErrUnknownName = errors.New("unknown player name")
	// ErrNoRobot means the player has no live robot.
	ErrNoRobot = errors.New("player has no robot")
)

type adminKind int

const (
	adminSpawn adminKind = iota + 1
	adminCommand
	adminRemove
	adminDropItem
	adminRobots
)

func (k adminKind) String() string {
	switch k {
	case adminSpawn:
		return "spawn"
	case adminCommand:
		return "command"
	case adminRemove:
		return "remove"
	case adminDropItem:
		return "drop_item"
	case adminRobots:
		return "robots"
	default:
		return "unknown"
	}
}

type adminReq struct {
	kind adminKind

	name      string
	robotKind string
	pos       *voxel.Vec3i
	action    actions.Request
	material  protocol.Material
	count     int

	resp chan adminResp
}

type adminResp struct {
	ok     bool
	owner  identity.ID
	robots []RobotView
	err    error
}

// RobotView is a read-only copy of one robot for admin endpoints.
type RobotView struct {
	Name      string         `json:"name,omitempty"`
	Owner     identity.ID    `json:"owner"`
	Kind      string         `json:"kind"`
	Pos       [3]int         `json:"pos"`
	Facing    string         `json:"facing"`
	Inventory map[string]int `json:"inventory,omitempty"`
}

// RequestSpawn creates a robot for name, replacing (and killing) any robot it
// already owns. An empty kind uses the configured default; unknown kinds get a
// pumpkin. A nil pos spawns on the surface at the origin.
func (w *World) RequestSpawn(ctx context.Context, name, kind string, pos *voxel.Vec3i) (identity.ID, error) {
	resp, err := w.sendAdmin(ctx, adminReq{kind: adminSpawn, name: name, robotKind: kind, pos: pos})
	return resp.owner, err
}

// RequestCommand runs one capability directly on the world loop, bypassing the
// action queue. The bool is the capability result.
func (w *World) RequestCommand(ctx context.Context, name string, req actions.Request) (bool, error) {
	resp, err := w.sendAdmin(ctx, adminReq{kind: adminCommand, name: name, action: req})
	return resp.ok, err
}

// RequestRemove kills and unregisters name's robot.
func (w *World) RequestRemove(ctx context.Context, name string) (bool, error) {
	resp, err := w.sendAdmin(ctx, adminReq{kind: adminRemove, name: name})
	return resp.ok, err
}

// DropItem spawns an item stack at pos. The nearest robot within the pickup radius
// captures it; the returned bool reports whether any robot did.
func (w *World) DropItem(ctx context.Context, pos voxel.Vec3i, m protocol.Material, count int) (identity.ID, bool, error) {
	if !m.Valid() || m == protocol.MatAir {
		return identity.Nil, false, fmt.Errorf("drop item: invalid material %q", m)
	}
	if count <= 0 {
		count = 1
	}
	resp, err := w.sendAdmin(ctx, adminReq{kind: adminDropItem, pos: &pos, material: m, count: count})
	return resp.owner, resp.ok, err
}

// RequestRobots lists live robots in owner order.
func (w *World) RequestRobots(ctx context.Context) ([]RobotView, error) {
	resp, err := w.sendAdmin(ctx, adminReq{kind: adminRobots})
	return resp.robots, err
}

func (w *World) sendAdmin(ctx context.Context, req adminReq) (adminResp, error) {
	if w == nil || w.admin == nil {
		return adminResp{}, errors.New("admin not available")
	}
	req.resp = make(chan adminResp, 1)

	select {
	case w.admin <- req:
	case <-w.done:
		return adminResp{}, ErrNotRunning
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}

	select {
	case r := <-req.resp:
		return r, r.err
	case <-w.done:
		return adminResp{}, ErrNotRunning
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (w *World) handleAdmin(req adminReq) {
	resp := w.applyAdmin(req)
	if req.kind != adminRobots {
		w.tickAdmin = append(w.tickAdmin, RecordedAdmin{Op: req.kind.String(), Name: req.name, OK: resp.err == nil && resp.ok})
	}
	if req.resp == nil {
		return
	}
	select {
	case req.resp <- resp:
	default:
		// Caller gave up; never block the sim loop.
	}
}

func (w *World) applyAdmin(req adminReq) adminResp {
	switch req.kind {
	case adminSpawn:
		id, ok := w.cache.Resolve(identity.ResolverFunc(w.lookupSession), req.name)
		if !ok {
			return adminResp{err: fmt.Errorf("spawn %s: %w", req.name, ErrUnknownName)}
		}
		pos := w.spawnPoint()
		if req.pos != nil {
			pos = *req.pos
		}
		if !w.grid.InBounds(pos) {
			return adminResp{err: fmt.Errorf("spawn %s: position %v out of bounds", req.name, pos.ToArray())}
		}
		kind := req.robotKind
		if kind == "" {
			kind = w.cfg.DefaultRobot
		}
		r := robots.New(kind, id, pos, w.grid, robots.Options{StarterItems: w.cfg.StarterItems, LiftTicks: w.cfg.ChickenLift})
		w.registry.Put(id, r)
		w.counters.spawned++
		w.logger.Printf("spawn name=%s owner=%s kind=%s pos=%v", req.name, id, r.Kind(), pos.ToArray())
		return adminResp{ok: true, owner: id}

	case adminCommand, adminRemove:
		id, ok := w.cache.Resolve(identity.ResolverFunc(w.lookupSession), req.name)
		if !ok {
			return adminResp{err: fmt.Errorf("%s %s: %w", req.kind, req.name, ErrUnknownName)}
		}
		if req.kind == adminRemove {
			if !w.registry.Remove(id) {
				return adminResp{err: fmt.Errorf("remove %s: %w", req.name, ErrNoRobot)}
			}
			return adminResp{ok: true, owner: id}
		}
		r, ok := w.registry.Get(id)
		if !ok {
			return adminResp{err: fmt.Errorf("command %s: %w", req.name, ErrNoRobot)}
		}
		return adminResp{ok: actions.Dispatch(r, req.action), owner: id}

	case adminDropItem:
		r, ok := w.registry.Nearest(*req.pos, w.cfg.PickupRadius)
		if !ok {
			return adminResp{}
		}
		if !r.PickUp(req.material, req.count) {
			return adminResp{owner: r.Owner()}
		}
		return adminResp{ok: true, owner: r.Owner()}

	case adminRobots:
		out := make([]RobotView, 0, w.registry.Len())
		w.registry.Each(func(id identity.ID, r robots.Robot) {
			out = append(out, w.robotView(id, r.State()))
		})
		return adminResp{ok: true, robots: out}
	}
	return adminResp{err: fmt.Errorf("unknown admin request %d", req.kind)}
}

func (w *World) spawnPoint() voxel.Vec3i {
	return voxel.Vec3i{X: 0, Y: w.grid.SurfaceY(0, 0), Z: 0}
}

func (w *World) robotView(id identity.ID, st robots.State) RobotView {
	inv := make(map[string]int, len(st.Inventory))
	for m, n := range st.Inventory {
		inv[string(m)] = n
	}
	return RobotView{
		Name:      w.nameOf(id),
		Owner:     id,
		Kind:      st.Kind,
		Pos:       st.Pos.ToArray(),
		Facing:    st.Facing.String(),
		Inventory: inv,
	}
}
