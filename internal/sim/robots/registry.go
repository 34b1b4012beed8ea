package robots

import (
	"sort"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/voxel"
)

// Registry maps an owner identity to its single live robot.
// Only the world loop goroutine may call it.
type Registry struct {
	byOwner map[identity.ID]Robot
}

func NewRegistry() *Registry {
	return &Registry{byOwner: map[identity.ID]Robot{}}
}

// Put registers r for id. An existing robot for the same owner is killed first,
// so there is never more than one robot per identity.
func (r *Registry) Put(id identity.ID, robot Robot) {
	if robot == nil {
		return
	}
	if old, ok := r.byOwner[id]; ok && old != robot {
		old.Die()
	}
	r.byOwner[id] = robot
}

func (r *Registry) Get(id identity.ID) (Robot, bool) {
	robot, ok := r.byOwner[id]
	return robot, ok
}

// Remove kills and unregisters the robot for id.
func (r *Registry) Remove(id identity.ID) bool {
	robot, ok := r.byOwner[id]
	if !ok {
		return false
	}
	robot.Die()
	delete(r.byOwner, id)
	return true
}

func (r *Registry) Len() int { return len(r.byOwner) }

// IDs returns owners in deterministic order.
func (r *Registry) IDs() []identity.ID {
	ids := make([]identity.ID, 0, len(r.byOwner))
	for id := range r.byOwner {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Each visits robots in deterministic owner order.
func (r *Registry) Each(fn func(id identity.ID, robot Robot)) {
	for _, id := range r.IDs() {
		fn(id, r.byOwner[id])
	}
}

// Clear kills every robot and empties the registry.
func (r *Registry) Clear() {
	for id, robot := range r.byOwner {
		robot.Die()
		delete(r.byOwner, id)
	}
}

// Nearest returns the robot closest to pos that is strictly within radius blocks.
func (r *Registry) Nearest(pos voxel.Vec3i, radius float64) (Robot, bool) {
	var (
		best     Robot
		bestDist = radius * radius
	)
	for _, id := range r.IDs() {
		robot := r.byOwner[id]
		d := float64(voxel.DistSq(pos, robot.Location()))
		if d < bestDist {
			bestDist = d
			best = robot
		}
	}
	return best, best != nil
}

// Snapshot copies the state of every robot in owner order.
func (r *Registry) Snapshot() []State {
	out := make([]State, 0, len(r.byOwner))
	r.Each(func(_ identity.ID, robot Robot) {
		out = append(out, robot.State())
	})
	return out
}

// Give is a convenience for admin tooling: add items to a robot.
func Give(robot Robot, m protocol.Material, count int) bool {
	if robot == nil {
		return false
	}
	return robot.PickUp(m, count)
}
