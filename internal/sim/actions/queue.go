package actions

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Enqueue on a bounded queue with RejectNew policy.
var ErrQueueFull = errors.New("action queue full")

// Overflow selects what a bounded queue does when it is full.
type Overflow int

const (
	// RejectNew refuses the incoming event; the producer gets ErrQueueFull.
	RejectNew Overflow = iota
	// DropOldest evicts the head of the queue to make room. The evicted event is
	// dropped silently, like an event whose robot cannot be resolved; only its
	// Dropper hook runs, on the producer's goroutine.
	DropOldest
)

func ParseOverflow(s string) (Overflow, bool) {
	switch s {
	case "", "reject_new":
		return RejectNew, true
	case "drop_oldest":
		return DropOldest, true
	default:
		return RejectNew, false
	}
}

type QueueConfig struct {
	// Capacity bounds the queue; 0 means unbounded.
	Capacity int
	Overflow Overflow
}

type QueueStats struct {
	Depth     int    `json:"depth"`
	HighWater int    `json:"high_water"`
	Enqueued  uint64 `json:"enqueued"`
	Dequeued  uint64 `json:"dequeued"`
	Rejected  uint64 `json:"rejected"`
	Evicted   uint64 `json:"evicted"`
}

// Queue is a FIFO safe for any number of producers and a single consumer.
// Enqueue never waits on the consumer; everything enqueued before Enqueue
// returns is visible to the next Next call.
type Queue struct {
	cfg QueueConfig

	mu    sync.Mutex
	items []Event
	head  int
	stats QueueStats
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	return &Queue{cfg: cfg}
}

func (q *Queue) Enqueue(ev Event) error {
	evicted, err := q.enqueue(ev)
	if evicted != nil {
		evicted.discard()
	}
	return err
}

func (q *Queue) enqueue(ev Event) (*Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted *Event
	if q.cfg.Capacity > 0 && q.lenLocked() >= q.cfg.Capacity {
		switch q.cfg.Overflow {
		case DropOldest:
			if old, ok := q.popLocked(); ok {
				evicted = &old
			}
			q.stats.Evicted++
		default:
			q.stats.Rejected++
			return nil, ErrQueueFull
		}
	}
	q.items = append(q.items, ev)
	q.stats.Enqueued++
	if n := q.lenLocked(); n > q.stats.HighWater {
		q.stats.HighWater = n
	}
	return evicted, nil
}

// Next returns the oldest event, or false when the queue is empty.
// Only the consumer goroutine may call it.
func (q *Queue) Next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.popLocked()
	if ok {
		q.stats.Dequeued++
	}
	return ev, ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) Capacity() int { return q.cfg.Capacity }

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Depth = q.lenLocked()
	return s
}

func (q *Queue) lenLocked() int { return len(q.items) - q.head }

func (q *Queue) popLocked() (Event, bool) {
	if q.head >= len(q.items) {
		return Event{}, false
	}
	ev := q.items[q.head]
	q.items[q.head] = Event{} // release listener for GC
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 1024 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return ev, true
}
