package main

import (
	"fmt"
	"io"
)

// writeMetrics emits a minimal Prometheus text exposition.
func writeMetrics(out io.Writer, d serverDeps) {
	m := d.World.Metrics()
	tick := d.World.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}
	id := d.WorldID

	fmt.Fprintf(out, "# HELP robominions_world_tick Current world tick.\n")
	fmt.Fprintf(out, "# TYPE robominions_world_tick gauge\n")
	fmt.Fprintf(out, "robominions_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(out, "# HELP robominions_world_robots Live robots in the registry.\n")
	fmt.Fprintf(out, "# TYPE robominions_world_robots gauge\n")
	fmt.Fprintf(out, "robominions_world_robots{world=%q} %d\n", id, m.Robots)

	fmt.Fprintf(out, "# HELP robominions_world_sessions Players with at least one live connection.\n")
	fmt.Fprintf(out, "# TYPE robominions_world_sessions gauge\n")
	fmt.Fprintf(out, "robominions_world_sessions{world=%q} %d\n", id, m.Sessions)

	fmt.Fprintf(out, "# HELP robominions_world_queue_depth Pending items per intake queue.\n")
	fmt.Fprintf(out, "# TYPE robominions_world_queue_depth gauge\n")
	fmt.Fprintf(out, "robominions_world_queue_depth{world=%q,queue=%q} %d\n", id, "actions", m.Queue.Depth)
	fmt.Fprintf(out, "robominions_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.Queue.Join)
	fmt.Fprintf(out, "robominions_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.Queue.Leave)
	fmt.Fprintf(out, "robominions_world_queue_depth{world=%q,queue=%q} %d\n", id, "admin", m.Queue.Admin)

	fmt.Fprintf(out, "# HELP robominions_action_queue_high_water Deepest action queue seen.\n")
	fmt.Fprintf(out, "# TYPE robominions_action_queue_high_water gauge\n")
	fmt.Fprintf(out, "robominions_action_queue_high_water{world=%q} %d\n", id, m.Queue.HighWater)

	fmt.Fprintf(out, "# HELP robominions_action_queue_total Action queue intake by outcome.\n")
	fmt.Fprintf(out, "# TYPE robominions_action_queue_total counter\n")
	fmt.Fprintf(out, "robominions_action_queue_total{world=%q,outcome=%q} %d\n", id, "enqueued", m.Queue.Enqueued)
	fmt.Fprintf(out, "robominions_action_queue_total{world=%q,outcome=%q} %d\n", id, "rejected", m.Queue.Rejected)
	fmt.Fprintf(out, "robominions_action_queue_total{world=%q,outcome=%q} %d\n", id, "evicted", m.Queue.Evicted)

	fmt.Fprintf(out, "# HELP robominions_actions_total Executed actions by outcome.\n")
	fmt.Fprintf(out, "# TYPE robominions_actions_total counter\n")
	fmt.Fprintf(out, "robominions_actions_total{world=%q,outcome=%q} %d\n", id, "delivered", m.Delivered)
	fmt.Fprintf(out, "robominions_actions_total{world=%q,outcome=%q} %d\n", id, "dropped", m.Dropped)
	fmt.Fprintf(out, "robominions_actions_total{world=%q,outcome=%q} %d\n", id, "failed", m.Failed)

	fmt.Fprintf(out, "# HELP robominions_robots_spawned_total Robots spawned.\n")
	fmt.Fprintf(out, "# TYPE robominions_robots_spawned_total counter\n")
	fmt.Fprintf(out, "robominions_robots_spawned_total{world=%q} %d\n", id, m.Spawned)

	fmt.Fprintf(out, "# HELP robominions_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(out, "# TYPE robominions_world_step_ms gauge\n")
	fmt.Fprintf(out, "robominions_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	if d.WS != nil {
		s := d.WS.Stats()
		fmt.Fprintf(out, "# HELP robominions_ws_connections Open websocket connections.\n")
		fmt.Fprintf(out, "# TYPE robominions_ws_connections gauge\n")
		fmt.Fprintf(out, "robominions_ws_connections %d\n", s.Connections)

		fmt.Fprintf(out, "# HELP robominions_ws_frames_total Websocket frames by kind.\n")
		fmt.Fprintf(out, "# TYPE robominions_ws_frames_total counter\n")
		fmt.Fprintf(out, "robominions_ws_frames_total{kind=%q} %d\n", "request", s.Requests)
		fmt.Fprintf(out, "robominions_ws_frames_total{kind=%q} %d\n", "rejected", s.Rejected)
		fmt.Fprintf(out, "robominions_ws_frames_total{kind=%q} %d\n", "result", s.Results)
		fmt.Fprintf(out, "robominions_ws_frames_total{kind=%q} %d\n", "result_dropped", s.ResultsDropped)

		fmt.Fprintf(out, "# HELP robominions_ws_keys_released_total Request keys freed without a result (dropped, evicted or failed).\n")
		fmt.Fprintf(out, "# TYPE robominions_ws_keys_released_total counter\n")
		fmt.Fprintf(out, "robominions_ws_keys_released_total %d\n", s.KeysReleased)
	}

	if d.Index != nil {
		s := d.Index.Stats()
		fmt.Fprintf(out, "# HELP robominions_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(out, "# TYPE robominions_index_queue_depth gauge\n")
		fmt.Fprintf(out, "robominions_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(out, "# HELP robominions_index_queue_capacity Index writer queue capacity.\n")
		fmt.Fprintf(out, "# TYPE robominions_index_queue_capacity gauge\n")
		fmt.Fprintf(out, "robominions_index_queue_capacity %d\n", s.QueueCapacity)

		fmt.Fprintf(out, "# HELP robominions_index_dropped_total Index rows dropped on a saturated queue.\n")
		fmt.Fprintf(out, "# TYPE robominions_index_dropped_total counter\n")
		fmt.Fprintf(out, "robominions_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
		fmt.Fprintf(out, "robominions_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)

		fmt.Fprintf(out, "# HELP robominions_index_write_errors_total Failed index writes.\n")
		fmt.Fprintf(out, "# TYPE robominions_index_write_errors_total counter\n")
		fmt.Fprintf(out, "robominions_index_write_errors_total %d\n", s.WriteErrTotal)
	}
}
