package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/robots"
	"robominions.dev/internal/sim/voxel"
)

// ErrNotRunning is returned by cross-goroutine requests once the world loop has exited.
var ErrNotRunning = errors.New("world not running")

type JoinRequest struct {
	Name string
	ID   identity.ID
}

type RecordedJoin struct {
	Name string      `json:"name"`
	ID   identity.ID `json:"id"`
}

// RecordedAdmin is a direct command applied on the world loop, bypassing the queue.
type RecordedAdmin struct {
	Op   string `json:"op"`
	Name string `json:"name,omitempty"`
	OK   bool   `json:"ok"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Joins    []RecordedJoin    `json:"joins,omitempty"`
	Leaves   []string          `json:"leaves,omitempty"`
	Admin    []RecordedAdmin   `json:"admin,omitempty"`
	Outcomes []actions.Outcome `json:"outcomes,omitempty"`
}

func (e TickLogEntry) empty() bool {
	return len(e.Joins) == 0 && len(e.Leaves) == 0 && len(e.Admin) == 0 && len(e.Outcomes) == 0
}

type session struct {
	id    identity.ID
	conns int
}

type counters struct {
	executed  uint64
	delivered uint64
	dropped   uint64
	failed    uint64
	spawned   uint64
}

// World owns every robot and the action queue's consumer side.
// All state except the queue, the request channels and the metrics snapshot must be
// accessed only from the world loop goroutine.
type World struct {
	cfg    WorldConfig
	logger *log.Logger

	tick atomic.Uint64

	queue    *actions.Queue
	cache    *identity.Cache
	registry *robots.Registry
	grid     *voxel.Grid
	executor *actions.Executor

	// Online sessions by display name. This is the live identity resolver.
	sessions map[string]*session

	join      chan JoinRequest
	leave     chan string
	admin     chan adminReq
	adminSnap chan adminSnapshotReq
	stop      chan struct{}
	done      chan struct{}

	started  atomic.Bool
	stopOnce sync.Once

	// Outcomes of the current tick, filled by the executor observer.
	tickOutcomes []actions.Outcome
	tickAdmin    []RecordedAdmin

	counters counters

	// Optional sinks (may be nil). Implemented in internal/persistence/*.
	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value
}

func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	cfg.applyDefaults()
	if g := cfg.Grid; g.Height > 0 && g.GroundY >= g.Height {
		return nil, fmt.Errorf("world %s: ground_y %d outside height %d", cfg.ID, g.GroundY, g.Height)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:       cfg,
		logger:    logger,
		queue:     actions.NewQueue(actions.QueueConfig{Capacity: cfg.QueueCapacity, Overflow: cfg.QueueOverflow}),
		cache:     identity.NewCache(),
		registry:  robots.NewRegistry(),
		grid:      voxel.NewGrid(cfg.Grid),
		sessions:  map[string]*session{},
		join:      make(chan JoinRequest, 1024),
		leave:     make(chan string, 1024),
		admin:     make(chan adminReq, 256),
		adminSnap: make(chan adminSnapshotReq, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.executor = actions.NewExecutor(actions.ExecutorConfig{
		Queue:    w.queue,
		Resolver: identity.ResolverFunc(w.lookupSession),
		Cache:    w.cache,
		Actors:   actions.ActorLookupFunc(w.actor),
		Logger:   logger,
		Observer: func(o actions.Outcome) { w.tickOutcomes = append(w.tickOutcomes, o) },
	})
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Submit hands an event to the executor. It never waits on the world loop.
func (w *World) Submit(ev actions.Event) error {
	select {
	case <-w.done:
		return ErrNotRunning
	default:
	}
	return w.queue.Enqueue(ev)
}

// Join marks name online with a stable identity; applied at the next tick boundary.
// Joins are reference counted so the same player may hold several connections.
func (w *World) Join(ctx context.Context, name string, id identity.ID) error {
	if name == "" || id == identity.Nil {
		return errors.New("join: empty name or identity")
	}
	select {
	case w.join <- JoinRequest{Name: name, ID: id}:
		return nil
	case <-w.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave drops one connection for name. It never blocks; a full channel means the
// world loop is wedged or gone, and the session goes away on teardown anyway.
func (w *World) Leave(name string) {
	select {
	case w.leave <- name:
	default:
		w.logger.Printf("leave dropped: channel full name=%s", name)
	}
}

func (w *World) lookupSession(name string) (identity.ID, bool) {
	s, ok := w.sessions[name]
	if !ok {
		return identity.Nil, false
	}
	return s.id, true
}

func (w *World) actor(id identity.ID) (actions.Capabilities, bool) {
	r, ok := w.registry.Get(id)
	if !ok {
		return nil, false
	}
	return r, true
}

func (w *World) applyJoin(req JoinRequest) bool {
	s, ok := w.sessions[req.Name]
	if !ok {
		w.sessions[req.Name] = &session{id: req.ID, conns: 1}
		return true
	}
	s.conns++
	if s.id != req.ID {
		w.logger.Printf("session identity changed name=%s old=%s new=%s", req.Name, s.id, req.ID)
		s.id = req.ID
	}
	return false
}

func (w *World) applyLeave(name string) bool {
	s, ok := w.sessions[name]
	if !ok {
		return false
	}
	s.conns--
	if s.conns > 0 {
		return false
	}
	delete(w.sessions, name)
	return true
}

// nameOf is a reverse identity lookup for admin views.
func (w *World) nameOf(id identity.ID) string {
	for name, s := range w.sessions {
		if s.id == id {
			return name
		}
	}
	for _, e := range w.cache.Snapshot() {
		if e.ID == id {
			return e.Name
		}
	}
	return ""
}
