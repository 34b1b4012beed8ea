// Package actions carries robot requests from network goroutines to the world
// loop: the hand-off queue, the event/result types and the tick-bound executor.
package actions

import "robominions.dev/internal/protocol"

// Kind is the capability a request dispatches to.
type Kind int

const (
	KindNone Kind = iota
	KindMove
	KindTurn
	KindMine
	KindPlace
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "MOVE"
	case KindTurn:
		return "TURN"
	case KindMine:
		return "MINE"
	case KindPlace:
		return "PLACE"
	default:
		return "NONE"
	}
}

// Request is a robot action. Exactly one action is expected to be set; when
// several are, Kind picks by precedence move > turn > mine > place.
type Request struct {
	MoveDirection  protocol.Direction
	TurnDirection  protocol.Direction
	MineDirection  protocol.Direction
	PlaceDirection protocol.Direction
	PlaceMaterial  protocol.Material
}

func Move(d protocol.Direction) Request { return Request{MoveDirection: d} }
func Turn(d protocol.Direction) Request { return Request{TurnDirection: d} }
func Mine(d protocol.Direction) Request { return Request{MineDirection: d} }
func Place(d protocol.Direction, m protocol.Material) Request {
	return Request{PlaceDirection: d, PlaceMaterial: m}
}

func FromProtocol(a protocol.ActionRequest) Request {
	return Request{
		MoveDirection:  a.MoveDirection,
		TurnDirection:  a.TurnDirection,
		MineDirection:  a.MineDirection,
		PlaceDirection: a.PlaceDirection,
		PlaceMaterial:  a.PlaceMaterial,
	}
}

func (r Request) Protocol() protocol.ActionRequest {
	return protocol.ActionRequest{
		MoveDirection:  r.MoveDirection,
		TurnDirection:  r.TurnDirection,
		MineDirection:  r.MineDirection,
		PlaceDirection: r.PlaceDirection,
		PlaceMaterial:  r.PlaceMaterial,
	}
}

// Kind reports which capability the request dispatches to. Place needs both a
// direction and a material; anything else is KindNone.
func (r Request) Kind() Kind {
	switch {
	case r.MoveDirection != "":
		return KindMove
	case r.TurnDirection != "":
		return KindTurn
	case r.MineDirection != "":
		return KindMine
	case r.PlaceDirection != "" && r.PlaceMaterial != "":
		return KindPlace
	default:
		return KindNone
	}
}

// Result is delivered to the submitter once the request has executed.
type Result struct {
	Key     uint64
	Success bool
}

// Listener routes a result back to whoever submitted the request. Deliver runs
// on the world loop goroutine and must not block.
type Listener interface {
	Deliver(Result)
}

type ListenerFunc func(Result)

func (f ListenerFunc) Deliver(r Result) { f(r) }

// Dropper is an optional Listener extension. Dropped runs when an event ends
// without a result: dropped by the executor, evicted from a full queue or failed.
// The requester is told nothing; Dropped only lets the submitter free its own
// bookkeeping for key. It must not block.
type Dropper interface {
	Dropped(key uint64)
}

// Event is an immutable queued request.
type Event struct {
	name     string
	req      Request
	key      uint64
	listener Listener
}

func NewEvent(name string, req Request, key uint64, l Listener) Event {
	return Event{name: name, req: req, key: key, listener: l}
}

func (e Event) Name() string       { return e.name }
func (e Event) Request() Request   { return e.req }
func (e Event) Key() uint64        { return e.key }
func (e Event) Listener() Listener { return e.listener }

func (e Event) discard() {
	if d, ok := e.listener.(Dropper); ok {
		d.Dropped(e.key)
	}
}
