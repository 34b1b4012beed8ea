package world

import (
	"context"
	"time"

	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/robots"
)

type tickInput struct {
	joins     []JoinRequest
	leaves    []string
	admin     []adminReq
	adminSnap []adminSnapshotReq
}

func (in *tickInput) reset() {
	in.joins = in.joins[:0]
	in.leaves = in.leaves[:0]
	in.admin = in.admin[:0]
	in.adminSnap = in.adminSnap[:0]
}

// Run drives the tick loop until ctx is cancelled or Stop is called. On exit every
// robot is killed and all sessions are dropped. A world runs at most once.
func (w *World) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrNotRunning
	}
	defer close(w.done)
	defer w.teardown()

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Printf("world %s running tick_rate_hz=%d executor_every=%d flying_every=%d",
		w.cfg.ID, w.cfg.TickRateHz, w.cfg.ExecutorEveryTicks, w.cfg.FlyingTickEveryTicks)

	var in tickInput
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			in.joins = append(in.joins, req)
		case name := <-w.leave:
			in.leaves = append(in.leaves, name)
		case req := <-w.admin:
			in.admin = append(in.admin, req)
		case req := <-w.adminSnap:
			in.adminSnap = append(in.adminSnap, req)
		case <-ticker.C:
			w.step(in)
			in.reset()
		}
	}
}

// Stop asks Run to return. Safe to call more than once and from any goroutine.
func (w *World) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Close stops the loop and waits for teardown. If Run was never called the
// teardown happens here.
func (w *World) Close() {
	w.Stop()
	if w.started.CompareAndSwap(false, true) {
		w.teardown()
		close(w.done)
		return
	}
	<-w.done
}

// Done is closed once the world loop has exited.
func (w *World) Done() <-chan struct{} { return w.done }

func (w *World) teardown() {
	n := w.registry.Len()
	w.registry.Clear()
	w.sessions = map[string]*session{}
	w.logger.Printf("world %s stopped tick=%d robots_killed=%d queue_depth=%d", w.cfg.ID, w.tick.Load(), n, w.queue.Len())
	w.publishMetrics(0)
}

func (w *World) step(in tickInput) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.tickOutcomes = w.tickOutcomes[:0]
	w.tickAdmin = w.tickAdmin[:0]

	entry := TickLogEntry{Tick: nowTick}

	// Session changes apply before anything else so this tick's drain sees them.
	for _, name := range in.leaves {
		if w.applyLeave(name) {
			entry.Leaves = append(entry.Leaves, name)
		}
	}
	for _, req := range in.joins {
		if w.applyJoin(req) {
			entry.Joins = append(entry.Joins, RecordedJoin{Name: req.Name, ID: req.ID})
		}
	}

	for _, req := range in.admin {
		w.handleAdmin(req)
	}

	if every(nowTick, w.cfg.ExecutorEveryTicks) {
		ds := w.executor.Drain()
		w.counters.executed += uint64(ds.Processed)
		w.counters.delivered += uint64(ds.Delivered)
		w.counters.dropped += uint64(ds.Dropped)
		w.counters.failed += uint64(ds.Failed)
	}
	if every(nowTick, w.cfg.RobotTickEveryTicks) {
		w.registry.Each(func(_ identity.ID, r robots.Robot) { r.Tick() })
	}
	if every(nowTick, w.cfg.FlyingTickEveryTicks) {
		w.registry.Each(func(_ identity.ID, r robots.Robot) {
			if f, ok := r.(robots.Flyer); ok {
				f.FlyingTick()
			}
		})
	}

	entry.Admin = append(entry.Admin, w.tickAdmin...)
	entry.Outcomes = append(entry.Outcomes, w.tickOutcomes...)
	if w.tickLogger != nil && !entry.empty() {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logger.Printf("tick log: %v", err)
		}
	}

	w.handleAdminSnapshotRequests(in.adminSnap)

	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if every(nowTick, w.cfg.SnapshotEveryTicks) {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	w.tick.Add(1)
	w.publishMetrics(float64(time.Since(stepStart).Microseconds()) / 1000.0)
}

func every(tick uint64, n int) bool {
	return n > 0 && tick%uint64(n) == 0
}
