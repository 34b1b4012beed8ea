package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Robots   int `json:"robots"`
	Sessions int `json:"sessions"`

	Queue QueueMetrics `json:"queue"`

	Executed  uint64 `json:"executed"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Spawned   uint64 `json:"spawned"`

	StepMS float64 `json:"step_ms"`
}

type QueueMetrics struct {
	Depth     int    `json:"depth"`
	HighWater int    `json:"high_water"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Rejected  uint64 `json:"rejected"`
	Evicted   uint64 `json:"evicted"`

	Join  int `json:"join"`
	Leave int `json:"leave"`
	Admin int `json:"admin"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(stepMS float64) {
	qs := w.queue.Stats()
	w.metrics.Store(WorldMetrics{
		Tick:     w.tick.Load(),
		Robots:   w.registry.Len(),
		Sessions: len(w.sessions),
		Queue: QueueMetrics{
			Depth:     qs.Depth,
			HighWater: qs.HighWater,
			Capacity:  w.queue.Capacity(),
			Enqueued:  qs.Enqueued,
			Rejected:  qs.Rejected,
			Evicted:   qs.Evicted,
			Join:      len(w.join),
			Leave:     len(w.leave),
			Admin:     len(w.admin),
		},
		Executed:  w.counters.executed,
		Delivered: w.counters.delivered,
		Dropped:   w.counters.dropped,
		Failed:    w.counters.failed,
		Spawned:   w.counters.spawned,
		StepMS:    stepMS,
	})
}
