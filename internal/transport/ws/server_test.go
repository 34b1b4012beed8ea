package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/world"
)

// fakeWorld holds submitted events until the test releases them.
type fakeWorld struct {
	mu      sync.Mutex
	joined  map[string]identity.ID
	left    []string
	events  []actions.Event
	submitc chan actions.Event
	err     error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{joined: map[string]identity.ID{}, submitc: make(chan actions.Event, 64)}
}

func (f *fakeWorld) Submit(ev actions.Event) error {
	f.mu.Lock()
	err := f.err
	if err == nil {
		f.events = append(f.events, ev)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.submitc <- ev
	return nil
}

func (f *fakeWorld) Join(_ context.Context, name string, id identity.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[name] = id
	return nil
}

func (f *fakeWorld) Leave(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, name)
}

func (f *fakeWorld) TickRateHz() int { return 20 }

func (f *fakeWorld) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func startServer(t *testing.T, sub Submitter, cfg Config) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(sub, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	hello.Type = protocol.TypeHello
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	if err := c.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if hello.ProtocolVersion == protocol.Version {
		readInto(t, c, &welcome)
		if welcome.Type != protocol.TypeWelcome {
			t.Fatalf("expected WELCOME, got %+v", welcome)
		}
	}
	return c, welcome
}

func readInto(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

type frame struct {
	Type    string `json:"type"`
	Key     uint64 `json:"key"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
}

func request(name string, key uint64, a protocol.ActionRequest) protocol.RequestMsg {
	return protocol.RequestMsg{Type: protocol.TypeRequest, ProtocolVersion: protocol.Version, Name: name, Key: key, Action: a}
}

func nextEvent(t *testing.T, f *fakeWorld) actions.Event {
	t.Helper()
	select {
	case ev := <-f.submitc:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event submitted")
		return actions.Event{}
	}
}

func TestHelloWelcome(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{MaxOutstanding: 8})
	_, welcome := dial(t, url, protocol.HelloMsg{Name: "alice", Capabilities: protocol.HelloCapabilities{MaxOutstanding: 3}})
	if welcome.Name != "alice" || welcome.TickRateHz != 20 || welcome.MaxOutstanding != 3 {
		t.Fatalf("welcome = %+v", welcome)
	}
	if !strings.HasPrefix(welcome.SessionID, "S") {
		t.Fatalf("session id = %q", welcome.SessionID)
	}
	f.mu.Lock()
	id := f.joined["alice"]
	f.mu.Unlock()
	if id != identity.FromName("alice") {
		t.Fatalf("joined id = %v", id)
	}
}

func TestHelloVersionMismatch(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice", ProtocolVersion: "0.9"})
	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeError || got.Code != protocol.ErrProtoVersion {
		t.Fatalf("got %+v", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joined) != 0 {
		t.Fatalf("rejected hello should not join")
	}
}

func TestRequestResultRoundTrip(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	if err := c.WriteJSON(request("alice", 5, protocol.ActionRequest{MoveDirection: protocol.DirNorth})); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := nextEvent(t, f)
	if ev.Name() != "alice" || ev.Key() != 5 || ev.Request().Kind() != actions.KindMove {
		t.Fatalf("event = %s key=%d kind=%s", ev.Name(), ev.Key(), ev.Request().Kind())
	}
	ev.Listener().Deliver(actions.Result{Key: 5, Success: true})

	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeResult || got.Key != 5 || !got.Success {
		t.Fatalf("result = %+v", got)
	}
}

func TestDuplicateOutstandingKey(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	req := request("alice", 9, protocol.ActionRequest{TurnDirection: protocol.DirLeft})
	_ = c.WriteJSON(req)
	ev := nextEvent(t, f)
	_ = c.WriteJSON(req)

	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeError || got.Code != protocol.ErrConflict || got.Key != 9 {
		t.Fatalf("expected E_CONFLICT, got %+v", got)
	}

	// Once delivered, the key may be reused.
	ev.Listener().Deliver(actions.Result{Key: 9, Success: false})
	readInto(t, c, &got)
	if got.Type != protocol.TypeResult || got.Success {
		t.Fatalf("result = %+v", got)
	}
	_ = c.WriteJSON(req)
	if ev := nextEvent(t, f); ev.Key() != 9 {
		t.Fatalf("reused key = %d", ev.Key())
	}
}

func TestOutstandingCap(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{MaxOutstanding: 1})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	_ = c.WriteJSON(request("alice", 1, protocol.ActionRequest{MineDirection: protocol.DirDown}))
	nextEvent(t, f)
	_ = c.WriteJSON(request("alice", 2, protocol.ActionRequest{MineDirection: protocol.DirDown}))

	var got frame
	readInto(t, c, &got)
	if got.Code != protocol.ErrWorldBusy || got.Key != 2 {
		t.Fatalf("expected E_WORLD_BUSY for key 2, got %+v", got)
	}
}

func TestServerAssignedKeys(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice", Capabilities: protocol.HelloCapabilities{ServerKeys: true}})

	_ = c.WriteJSON(request("alice", 0, protocol.ActionRequest{MoveDirection: protocol.DirUp}))
	var acc frame
	readInto(t, c, &acc)
	if acc.Type != protocol.TypeAccepted || acc.Key == 0 {
		t.Fatalf("expected ACCEPTED with key, got %+v", acc)
	}
	ev := nextEvent(t, f)
	if ev.Key() != acc.Key {
		t.Fatalf("event key %d != accepted %d", ev.Key(), acc.Key)
	}
	ev.Listener().Deliver(actions.Result{Key: ev.Key(), Success: true})
	var res frame
	readInto(t, c, &res)
	if res.Type != protocol.TypeResult || res.Key != acc.Key {
		t.Fatalf("result = %+v", res)
	}
}

func TestBadFrames(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	cases := []struct {
		raw  string
		code string
	}{
		{`not json`, protocol.ErrProtoBadRequest},
		{`{"type":"HELLO","protocol_version":"1.0","name":"x"}`, protocol.ErrProtoBadRequest},
		{`{"type":"REQUEST","protocol_version":"2.0","name":"alice","key":1,"action":{}}`, protocol.ErrProtoVersion},
		{`{"type":"REQUEST","protocol_version":"1.0","name":"alice","key":4,"action":{"move_direction":"SIDEWAYS"}}`, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		if err := c.WriteMessage(websocket.TextMessage, []byte(tc.raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var got frame
		readInto(t, c, &got)
		if got.Type != protocol.TypeError || got.Code != tc.code {
			t.Fatalf("%s: got %+v want %s", tc.raw, got, tc.code)
		}
	}
}

func TestSubmitErrors(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	for _, tc := range []struct {
		err  error
		code string
	}{
		{actions.ErrQueueFull, protocol.ErrWorldBusy},
		{world.ErrNotRunning, protocol.ErrWorldNotFound},
	} {
		f.setErr(tc.err)
		_ = c.WriteJSON(request("alice", 11, protocol.ActionRequest{MoveDirection: protocol.DirEast}))
		var got frame
		readInto(t, c, &got)
		if got.Code != tc.code || got.Key != 11 {
			t.Fatalf("%v: got %+v", tc.err, got)
		}
	}
	// Rejected keys are released.
	f.setErr(nil)
	_ = c.WriteJSON(request("alice", 11, protocol.ActionRequest{MoveDirection: protocol.DirEast}))
	nextEvent(t, f)
}

func TestLeaveOnDisconnect(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})
	c.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		f.mu.Lock()
		n := len(f.left)
		f.mu.Unlock()
		if n == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("leave not called")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEndWithWorld(t *testing.T) {
	w, err := world.New(world.WorldConfig{TickRateHz: 200, ExecutorEveryTicks: 1}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	defer w.Close()

	url := startServer(t, w, Config{})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})
	for w.Metrics().Sessions == 0 {
		if ctx.Err() != nil {
			t.Fatalf("join never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := w.RequestSpawn(ctx, "alice", "", nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	_ = c.WriteJSON(request("alice", 1, protocol.ActionRequest{MoveDirection: protocol.DirSouth}))
	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeResult || got.Key != 1 || !got.Success {
		t.Fatalf("result = %+v", got)
	}

	// A name with no live session is dropped: no result ever arrives.
	_ = c.WriteJSON(request("bob", 2, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	_ = c.WriteJSON(request("alice", 3, protocol.ActionRequest{TurnDirection: protocol.DirRight}))
	readInto(t, c, &got)
	if got.Key != 3 {
		t.Fatalf("expected result for key 3 only, got %+v", got)
	}
}

func TestDroppedEventFreesKey(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{MaxOutstanding: 1})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})

	_ = c.WriteJSON(request("alice", 1, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	ev := nextEvent(t, f)
	d, ok := ev.Listener().(actions.Dropper)
	if !ok {
		t.Fatalf("connection listener should implement actions.Dropper")
	}
	d.Dropped(ev.Key())

	_ = c.WriteJSON(request("alice", 2, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	ev = nextEvent(t, f)
	ev.Listener().Deliver(actions.Result{Key: 2, Success: true})

	// Nothing is sent for the dropped key; the first frame is key 2's result.
	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeResult || got.Key != 2 {
		t.Fatalf("expected RESULT for key 2, got %+v", got)
	}
}

func TestDropsBeforeSpawnDoNotExhaustKeys(t *testing.T) {
	w, err := world.New(world.WorldConfig{TickRateHz: 200, ExecutorEveryTicks: 1}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	defer w.Close()

	url := startServer(t, w, Config{MaxOutstanding: 2})
	c, _ := dial(t, url, protocol.HelloMsg{Name: "alice"})
	for w.Metrics().Sessions == 0 {
		if ctx.Err() != nil {
			t.Fatalf("join never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// alice has no robot yet: both requests are dropped without a reply.
	_ = c.WriteJSON(request("alice", 1, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	_ = c.WriteJSON(request("alice", 2, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	for w.Metrics().Dropped < 2 {
		if ctx.Err() != nil {
			t.Fatalf("requests never dropped, metrics=%+v", w.Metrics())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := w.RequestSpawn(ctx, "alice", "", nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = c.WriteJSON(request("alice", 3, protocol.ActionRequest{TurnDirection: protocol.DirRight}))
	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeResult || got.Key != 3 || !got.Success {
		t.Fatalf("after spawn, key 3 got %+v", got)
	}
}

func TestBlankHelloName(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "   "})

	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeError || got.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("blank HELLO name: got %+v", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joined) != 0 {
		t.Fatalf("blank name should not join: %v", f.joined)
	}
}

func TestRequestNameNormalized(t *testing.T) {
	f := newFakeWorld()
	url := startServer(t, f, Config{})
	c, welcome := dial(t, url, protocol.HelloMsg{Name: " alice "})
	if welcome.Name != "alice" {
		t.Fatalf("welcome name = %q", welcome.Name)
	}

	_ = c.WriteJSON(request("\talice ", 4, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	if ev := nextEvent(t, f); ev.Name() != "alice" {
		t.Fatalf("event name = %q", ev.Name())
	}

	_ = c.WriteJSON(request("  ", 5, protocol.ActionRequest{MoveDirection: protocol.DirNorth}))
	var got frame
	readInto(t, c, &got)
	if got.Type != protocol.TypeError || got.Code != protocol.ErrProtoBadRequest || got.Key != 5 {
		t.Fatalf("blank request name: got %+v", got)
	}
}
