// Package client is a small Go client for the robot action protocol. Requests
// from many goroutines share one connection; results are matched by key and
// may arrive in any order.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"robominions.dev/internal/protocol"
)

var ErrClosed = errors.New("client closed")

// ErrTimeout is returned when no result arrived within the timeout on any attempt.
// The world drops requests for robots it cannot find, so this is a normal outcome.
var ErrTimeout = errors.New("request timed out")

// ServerError is an ERROR frame addressed to one request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

type Options struct {
	Logger *log.Logger
	// Timeout per attempt. Defaults to 10s.
	Timeout time.Duration
	// Retries after the first attempt times out. Each retry uses a fresh key.
	Retries int
	// MaxOutstanding is advertised in HELLO; 0 leaves it to the server.
	MaxOutstanding int
	Dialer         *websocket.Dialer
}

type Stats struct {
	Sent    uint64
	Results uint64
	Retries uint64
	Late    uint64
}

type reply struct {
	success bool
	err     error
}

type Client struct {
	conn      *websocket.Conn
	name      string
	sessionID string
	tickRate  int
	opts      Options
	logger    *log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan reply
	err     error

	nextKey atomic.Uint64
	done    chan struct{}

	sent    atomic.Uint64
	results atomic.Uint64
	retries atomic.Uint64
	late    atomic.Uint64
}

// Dial connects, performs the HELLO/WELCOME handshake as name and starts the reader.
func Dial(ctx context.Context, url, name string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	d := opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Capabilities:    protocol.HelloCapabilities{MaxOutstanding: opts.MaxOutstanding},
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		conn.Close()
		return nil, &ServerError{Code: e.Code, Message: e.Message}
	default:
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}

	c := &Client{
		conn:      conn,
		name:      name,
		sessionID: w.SessionID,
		tickRate:  w.TickRateHz,
		opts:      opts,
		logger:    opts.Logger,
		pending:   map[uint64]chan reply{},
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Name() string      { return c.name }
func (c *Client) SessionID() string { return c.sessionID }
func (c *Client) TickRateHz() int   { return c.tickRate }

func (c *Client) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Results: c.results.Load(), Retries: c.retries.Load(), Late: c.late.Load()}
}

func (c *Client) Move(ctx context.Context, d protocol.Direction) (bool, error) {
	return c.Do(ctx, protocol.ActionRequest{MoveDirection: d})
}

func (c *Client) Turn(ctx context.Context, d protocol.Direction) (bool, error) {
	return c.Do(ctx, protocol.ActionRequest{TurnDirection: d})
}

func (c *Client) Mine(ctx context.Context, d protocol.Direction) (bool, error) {
	return c.Do(ctx, protocol.ActionRequest{MineDirection: d})
}

func (c *Client) Place(ctx context.Context, d protocol.Direction, m protocol.Material) (bool, error) {
	return c.Do(ctx, protocol.ActionRequest{PlaceDirection: d, PlaceMaterial: m})
}

// Do sends one action for the client's own robot and waits for its result.
func (c *Client) Do(ctx context.Context, a protocol.ActionRequest) (bool, error) {
	return c.DoAs(ctx, c.name, a)
}

// DoAs sends an action on behalf of name. The world only executes it while name
// has a live session.
func (c *Client) DoAs(ctx context.Context, name string, a protocol.ActionRequest) (bool, error) {
	for attempt := 0; ; attempt++ {
		ok, err := c.attempt(ctx, name, a)
		if !errors.Is(err, ErrTimeout) || attempt >= c.opts.Retries {
			return ok, err
		}
		c.retries.Add(1)
		c.logger.Printf("retry name=%s attempt=%d", name, attempt+1)
	}
}

func (c *Client) attempt(ctx context.Context, name string, a protocol.ActionRequest) (bool, error) {
	key := c.nextKey.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return false, err
	}
	c.pending[key] = ch
	c.mu.Unlock()
	defer c.forget(key)

	req := protocol.RequestMsg{
		Type:            protocol.TypeRequest,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Key:             key,
		Action:          a,
	}
	if err := c.write(req); err != nil {
		c.mu.Lock()
		if c.err != nil {
			err = c.err
		}
		c.mu.Unlock()
		return false, err
	}
	c.sent.Add(1)

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.success, r.err
	case <-timer.C:
		return false, ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return false, c.closedErr()
	}
}

func (c *Client) forget(key uint64) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// take removes and returns the waiter for key. A missing waiter means the
// request already timed out, so the frame is late.
func (c *Client) take(key uint64) (chan reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return ch, ok
}

func (c *Client) readLoop() {
	var err error
	for {
		var msg []byte
		_, msg, err = c.conn.ReadMessage()
		if err != nil {
			break
		}
		base, derr := protocol.DecodeBase(msg)
		if derr != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeResult:
			var r protocol.ResultMsg
			if json.Unmarshal(msg, &r) != nil {
				continue
			}
			ch, ok := c.take(r.Key)
			if !ok {
				c.late.Add(1)
				c.logger.Printf("late result key=%d ignored", r.Key)
				continue
			}
			c.results.Add(1)
			ch <- reply{success: r.Success}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if json.Unmarshal(msg, &e) != nil {
				continue
			}
			if e.Key == 0 {
				c.logger.Printf("server error code=%s msg=%s", e.Code, e.Message)
				continue
			}
			if ch, ok := c.take(e.Key); ok {
				ch <- reply{err: &ServerError{Code: e.Code, Message: e.Message}}
			}
		}
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// Close shuts the connection. Waiting requests return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed once the reader exits.
func (c *Client) Done() <-chan struct{} { return c.done }
