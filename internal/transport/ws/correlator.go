package ws

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateKey means the key is still outstanding on this connection.
	ErrDuplicateKey = errors.New("correlation key already outstanding")
	// ErrTooManyOutstanding means the connection hit its in-flight cap.
	ErrTooManyOutstanding = errors.New("too many outstanding requests")
)

// Correlator tracks the keys in flight on one connection. Reserve runs on the
// reader goroutine; Release runs on the world loop when the result is delivered.
type Correlator struct {
	mu          sync.Mutex
	outstanding map[uint64]struct{}
	max         int
	next        uint64
}

func NewCorrelator(max int) *Correlator {
	return &Correlator{outstanding: map[uint64]struct{}{}, max: max, next: 1}
}

// Reserve marks key outstanding. With assign set and key 0, it picks the next
// free server key instead.
func (c *Correlator) Reserve(key uint64, assign bool) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.max > 0 && len(c.outstanding) >= c.max {
		return 0, ErrTooManyOutstanding
	}
	if assign && key == 0 {
		for {
			key = c.next
			c.next++
			if c.next == 0 {
				c.next = 1
			}
			if _, busy := c.outstanding[key]; !busy {
				break
			}
		}
	} else if _, busy := c.outstanding[key]; busy {
		return 0, ErrDuplicateKey
	}
	c.outstanding[key] = struct{}{}
	return key, nil
}

// Release frees key; it reports whether key was outstanding.
func (c *Correlator) Release(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outstanding[key]; !ok {
		return false
	}
	delete(c.outstanding, key)
	return true
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}
