package actions

import (
	"errors"
	"sync"
	"testing"

	"robominions.dev/internal/protocol"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(QueueConfig{})
	for i := uint64(1); i <= 5; i++ {
		if err := q.Enqueue(NewEvent("a", Move(protocol.DirNorth), i, nil)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for want := uint64(1); want <= 5; want++ {
		ev, ok := q.Next()
		if !ok {
			t.Fatalf("queue empty before key %d", want)
		}
		if ev.Key() != want {
			t.Fatalf("got key %d want %d", ev.Key(), want)
		}
	}
	if _, ok := q.Next(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueEmptyNext(t *testing.T) {
	q := NewQueue(QueueConfig{})
	ev, ok := q.Next()
	if ok {
		t.Fatalf("empty queue returned an event: %+v", ev)
	}
	if ev.Listener() != nil || ev.Key() != 0 {
		t.Fatalf("empty sentinel should be the zero event")
	}
	if st := q.Stats(); st.Dequeued != 0 || st.Depth != 0 {
		t.Fatalf("empty Next must not change stats: %+v", st)
	}
}

func TestQueueRejectNew(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 2, Overflow: RejectNew})
	_ = q.Enqueue(NewEvent("a", Request{}, 1, nil))
	_ = q.Enqueue(NewEvent("a", Request{}, 2, nil))
	if err := q.Enqueue(NewEvent("a", Request{}, 3, nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if st := q.Stats(); st.Rejected != 1 || st.Depth != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	ev, _ := q.Next()
	if ev.Key() != 1 {
		t.Fatalf("oldest event should survive, got %d", ev.Key())
	}
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 2, Overflow: DropOldest})
	rec := &keyRecorder{}
	for i := uint64(1); i <= 3; i++ {
		if err := q.Enqueue(NewEvent("a", Request{}, i, rec)); err != nil {
			t.Fatalf("drop_oldest should never reject: %v", err)
		}
	}
	if st := q.Stats(); st.Evicted != 1 || st.Depth != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if len(rec.dropped) != 1 || rec.dropped[0] != 1 || len(rec.delivered) != 0 {
		t.Fatalf("evicted event should only reach the drop hook: %+v", rec)
	}
	a, _ := q.Next()
	b, _ := q.Next()
	if a.Key() != 2 || b.Key() != 3 {
		t.Fatalf("expected keys 2,3 got %d,%d", a.Key(), b.Key())
	}
}

func TestParseOverflow(t *testing.T) {
	if o, ok := ParseOverflow("drop_oldest"); !ok || o != DropOldest {
		t.Fatalf("drop_oldest parse failed")
	}
	if o, ok := ParseOverflow(""); !ok || o != RejectNew {
		t.Fatalf("empty should default to reject_new")
	}
	if _, ok := ParseOverflow("block"); ok {
		t.Fatalf("block is not a supported policy")
	}
}

func TestQueueCompactsAfterLongRun(t *testing.T) {
	q := NewQueue(QueueConfig{})
	for i := uint64(0); i < 5000; i++ {
		_ = q.Enqueue(NewEvent("a", Request{}, i, nil))
		if i%2 == 1 {
			q.Next()
		}
	}
	want := uint64(2500)
	for {
		ev, ok := q.Next()
		if !ok {
			break
		}
		if ev.Key() != want {
			t.Fatalf("order broken across compaction: got %d want %d", ev.Key(), want)
		}
		want++
	}
	if want != 5000 {
		t.Fatalf("lost events: last=%d", want)
	}
}

// Many producers, one consumer draining concurrently: every event comes out
// exactly once and per-producer order holds.
func TestQueueConcurrentProducers(t *testing.T) {
	const (
		producers = 10
		perProd   = 100
	)
	q := NewQueue(QueueConfig{})

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				key := uint64(p*perProd + i)
				if err := q.Enqueue(NewEvent("p", Request{}, key, nil)); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make(map[uint64]bool, producers*perProd)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	consume := func() {
		for {
			ev, ok := q.Next()
			if !ok {
				return
			}
			k := ev.Key()
			if seen[k] {
				t.Fatalf("duplicate key %d", k)
			}
			seen[k] = true
			p, i := int(k)/perProd, int(k)%perProd
			if i <= last[p] {
				t.Fatalf("producer %d out of order: %d after %d", p, i, last[p])
			}
			last[p] = i
		}
	}

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		consume()
	}
	consume()

	if len(seen) != producers*perProd {
		t.Fatalf("saw %d events want %d", len(seen), producers*perProd)
	}
	if st := q.Stats(); st.Enqueued != producers*perProd || st.Dequeued != producers*perProd {
		t.Fatalf("stats mismatch: %+v", st)
	}
}
