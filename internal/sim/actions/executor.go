package actions

import (
	"fmt"
	"io"
	"log"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/identity"
)

// Capabilities is the part of a robot the executor drives.
type Capabilities interface {
	Move(d protocol.Direction) bool
	Turn(d protocol.Direction) bool
	Mine(d protocol.Direction) bool
	Place(d protocol.Direction, m protocol.Material) bool
}

// ActorLookup finds the live robot for an identity.
type ActorLookup interface {
	Actor(id identity.ID) (Capabilities, bool)
}

type ActorLookupFunc func(id identity.ID) (Capabilities, bool)

func (f ActorLookupFunc) Actor(id identity.ID) (Capabilities, bool) { return f(id) }

// State is the terminal state of one processed event.
type State int

const (
	// StateDelivered: the capability ran and the listener was invoked.
	StateDelivered State = iota + 1
	// StateDropped: no robot could be resolved; no result is ever delivered.
	StateDropped
	// StateFailed: processing panicked; the drain moved on.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDelivered:
		return "DELIVERED"
	case StateDropped:
		return "DROPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Outcome describes one processed event for logs and indexes.
type Outcome struct {
	Name     string      `json:"name"`
	Identity identity.ID `json:"identity"`
	Key      uint64      `json:"key"`
	Kind     Kind        `json:"-"`
	Action   string      `json:"action"`
	State    State       `json:"-"`
	Status   string      `json:"state"`
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
}

// Observer sees every outcome on the world loop goroutine; it must not block.
type Observer func(Outcome)

type DrainStats struct {
	Processed int
	Delivered int
	Dropped   int
	Failed    int
}

type ExecutorStats struct {
	Drains    uint64 `json:"drains"`
	Processed uint64 `json:"processed"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Succeeded uint64 `json:"succeeded"`
}

type ExecutorConfig struct {
	Queue    *Queue
	Resolver identity.Resolver
	Cache    *identity.Cache
	Actors   ActorLookup
	Logger   *log.Logger
	Observer Observer
}

// Executor drains the queue on the world loop goroutine. It owns no goroutine:
// the caller invokes Drain at its own cadence.
type Executor struct {
	queue    *Queue
	resolver identity.Resolver
	cache    *identity.Cache
	actors   ActorLookup
	log      *log.Logger
	observer Observer

	stats ExecutorStats
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cache := cfg.Cache
	if cache == nil {
		cache = identity.NewCache()
	}
	return &Executor{
		queue:    cfg.Queue,
		resolver: cfg.Resolver,
		cache:    cache,
		actors:   cfg.Actors,
		log:      logger,
		observer: cfg.Observer,
	}
}

// Drain processes the events queued when it starts. Events enqueued during the
// drain wait for the next one. One event's failure never stops the loop.
func (e *Executor) Drain() DrainStats {
	var ds DrainStats
	if e == nil || e.queue == nil {
		return ds
	}
	e.stats.Drains++
	for budget := e.queue.Len(); budget > 0; budget-- {
		ev, ok := e.queue.Next()
		if !ok {
			break
		}
		out := e.process(ev)
		ds.Processed++
		switch out.State {
		case StateDelivered:
			ds.Delivered++
		case StateDropped:
			ds.Dropped++
		case StateFailed:
			ds.Failed++
		}
		if out.State != StateDelivered {
			e.discard(ev)
		}
		e.observe(out)
	}
	e.stats.Processed += uint64(ds.Processed)
	e.stats.Delivered += uint64(ds.Delivered)
	e.stats.Dropped += uint64(ds.Dropped)
	e.stats.Failed += uint64(ds.Failed)
	return ds
}

func (e *Executor) discard(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("executor: drop hook panicked key=%d: %v", ev.Key(), r)
		}
	}()
	ev.discard()
}

// Stats returns cumulative counters. World loop goroutine only.
func (e *Executor) Stats() ExecutorStats { return e.stats }

func (e *Executor) process(ev Event) (out Outcome) {
	req := ev.Request()
	out = Outcome{Name: ev.Name(), Key: ev.Key(), Kind: req.Kind()}
	out.Action = out.Kind.String()

	defer func() {
		if r := recover(); r != nil {
			out.State = StateFailed
			out.Error = fmt.Sprint(r)
			e.log.Printf("executor: event panicked name=%s key=%d action=%s: %v", ev.Name(), ev.Key(), out.Action, r)
		}
		out.Status = out.State.String()
	}()

	id, ok := e.cache.Resolve(e.resolver, ev.Name())
	var actor Capabilities
	if ok && e.actors != nil {
		out.Identity = id
		actor, ok = e.actors.Actor(id)
	}
	if !ok || actor == nil {
		out.State = StateDropped
		e.log.Printf("executor: no robot for name=%s key=%d action=%s, dropping", ev.Name(), ev.Key(), out.Action)
		return out
	}

	success := Dispatch(actor, req)
	out.Success = success
	if success {
		e.stats.Succeeded++
	}

	if l := ev.Listener(); l != nil {
		l.Deliver(Result{Key: ev.Key(), Success: success})
	}
	out.State = StateDelivered
	return out
}

// Dispatch calls exactly one capability. A request with no recognizable
// action is a completed no-op that failed.
func Dispatch(actor Capabilities, req Request) bool {
	switch req.Kind() {
	case KindMove:
		return actor.Move(req.MoveDirection)
	case KindTurn:
		return actor.Turn(req.TurnDirection)
	case KindMine:
		return actor.Mine(req.MineDirection)
	case KindPlace:
		return actor.Place(req.PlaceDirection, req.PlaceMaterial)
	default:
		return false
	}
}

func (e *Executor) observe(out Outcome) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("executor: observer panicked key=%d: %v", out.Key, r)
		}
	}()
	e.observer(out)
}
