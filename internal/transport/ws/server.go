package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/world"
)

// Submitter is the world side of the connection: event intake plus session
// presence. *world.World implements it.
type Submitter interface {
	Submit(ev actions.Event) error
	Join(ctx context.Context, name string, id identity.ID) error
	Leave(name string)
	TickRateHz() int
}

// AccountStore maps a player name to its stable identity at HELLO time.
type AccountStore interface {
	AccountID(ctx context.Context, name string) (identity.ID, error)
}

type Config struct {
	// MaxOutstanding caps in-flight requests per connection. Clients may ask for less.
	MaxOutstanding int
	// OutboundBuffer is the per-connection result buffer. Results that find it full
	// are dropped; the client's timeout covers them.
	OutboundBuffer int
	// Accounts is optional; without it identities derive from the name.
	Accounts AccountStore
}

type Stats struct {
	Connections    int64  `json:"connections"`
	Requests       uint64 `json:"requests"`
	Rejected       uint64 `json:"rejected"`
	Results        uint64 `json:"results"`
	ResultsDropped uint64 `json:"results_dropped"`
	// KeysReleased counts keys freed for events that ended without a result.
	KeysReleased uint64 `json:"keys_released"`
}

type Server struct {
	sub Submitter
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	nextSession    atomic.Uint64
	connections    atomic.Int64
	requests       atomic.Uint64
	rejected       atomic.Uint64
	results        atomic.Uint64
	resultsDropped atomic.Uint64
	released       atomic.Uint64
}

func NewServer(sub Submitter, cfg Config, logger *log.Logger) *Server {
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 256
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 256
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		sub: sub,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections:    s.connections.Load(),
		Requests:       s.requests.Load(),
		Rejected:       s.rejected.Load(),
		Results:        s.results.Load(),
		ResultsDropped: s.resultsDropped.Load(),
		KeysReleased:   s.released.Load(),
	}
}

// conn is one client connection. Its out channel is never closed: listeners may
// still fire from the world loop after the socket is gone.
type conn struct {
	s          *Server
	name       string
	sessionID  string
	serverKeys bool
	corr       *Correlator
	out        chan []byte
}

func (c *conn) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// resultListener routes one result back to its connection without blocking the
// world loop. Events that end without a result only free their key.
type resultListener struct{ c *conn }

func (l resultListener) Deliver(r actions.Result) {
	c := l.c
	c.corr.Release(r.Key)
	if !c.send(protocol.NewResult(r.Key, r.Success)) {
		c.s.resultsDropped.Add(1)
		c.s.log.Printf("ws: result dropped session=%s key=%d: outbound full", c.sessionID, r.Key)
		return
	}
	c.s.results.Add(1)
}

func (l resultListener) Dropped(key uint64) {
	if l.c.corr.Release(key) {
		l.c.s.released.Add(1)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := s.handshake(r.Context(), ws)
		if c == nil {
			return
		}
		s.connections.Add(1)
		defer s.connections.Add(-1)
		defer s.sub.Leave(c.name)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleFrame(c, msg)
		}
		s.log.Printf("ws: closed session=%s name=%s outstanding=%d", c.sessionID, c.name, c.corr.Len())
	}
}

func (s *Server) handleFrame(c *conn, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reject(c, 0, protocol.ErrProtoBadRequest, "invalid json")
		return
	}
	if base.Type != protocol.TypeRequest {
		s.reject(c, 0, protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reject(c, 0, protocol.ErrProtoVersion, "bad protocol_version")
		return
	}
	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		s.reject(c, peekKey(msg), protocol.ErrBadRequest, err.Error())
		return
	}
	s.requests.Add(1)
	name := normalizeName(req.Name)
	if name == "" {
		s.reject(c, req.Key, protocol.ErrProtoBadRequest, "blank name")
		return
	}

	key, err := c.corr.Reserve(req.Key, c.serverKeys)
	switch {
	case errors.Is(err, ErrDuplicateKey):
		s.reject(c, req.Key, protocol.ErrConflict, "key already outstanding")
		return
	case errors.Is(err, ErrTooManyOutstanding):
		s.reject(c, req.Key, protocol.ErrWorldBusy, "too many outstanding requests")
		return
	case err != nil:
		s.reject(c, req.Key, protocol.ErrInternal, err.Error())
		return
	}
	if c.serverKeys && req.Key == 0 {
		c.send(protocol.NewAccepted(key))
	}

	ev := actions.NewEvent(name, actions.FromProtocol(req.Action), key, resultListener{c})
	if err := s.sub.Submit(ev); err != nil {
		c.corr.Release(key)
		switch {
		case errors.Is(err, actions.ErrQueueFull):
			s.reject(c, key, protocol.ErrWorldBusy, "action queue full")
		case errors.Is(err, world.ErrNotRunning):
			s.reject(c, key, protocol.ErrWorldNotFound, "world not running")
		default:
			s.reject(c, key, protocol.ErrInternal, err.Error())
		}
	}
}

func (s *Server) reject(c *conn, key uint64, code, msg string) {
	s.rejected.Add(1)
	c.send(protocol.NewError(key, code, msg))
}

func peekKey(msg []byte) uint64 {
	var v struct {
		Key uint64 `json:"key"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.Key
}

func (s *Server) handshake(ctx context.Context, ws *websocket.Conn) *conn {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(ws, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(ws, protocol.NewError(0, protocol.ErrProtoVersion, "bad protocol_version"))
		closeWith(ws, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	hello, err := protocol.DecodeHello(msg)
	if err != nil {
		_ = writeJSON(ws, protocol.NewError(0, protocol.ErrProtoBadRequest, err.Error()))
		closeWith(ws, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	name := normalizeName(hello.Name)
	if name == "" {
		_ = writeJSON(ws, protocol.NewError(0, protocol.ErrProtoBadRequest, "blank name"))
		closeWith(ws, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id := identity.FromName(name)
	if s.cfg.Accounts != nil {
		id, err = s.cfg.Accounts.AccountID(ctx, name)
		if err != nil {
			s.log.Printf("ws: account lookup name=%s: %v", name, err)
			_ = writeJSON(ws, protocol.NewError(0, protocol.ErrInternal, "account lookup failed"))
			return nil
		}
	}
	if err := s.sub.Join(ctx, name, id); err != nil {
		s.log.Printf("ws: join name=%s: %v", name, err)
		_ = writeJSON(ws, protocol.NewError(0, protocol.ErrWorldNotFound, "world not available"))
		return nil
	}

	maxOut := s.cfg.MaxOutstanding
	if n := hello.Capabilities.MaxOutstanding; n > 0 && n < maxOut {
		maxOut = n
	}
	c := &conn{
		s:          s,
		name:       name,
		sessionID:  fmt.Sprintf("S%06d", s.nextSession.Add(1)),
		serverKeys: hello.Capabilities.ServerKeys,
		corr:       NewCorrelator(maxOut),
		out:        make(chan []byte, s.cfg.OutboundBuffer),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.sessionID,
		Name:            name,
		TickRateHz:      s.sub.TickRateHz(),
		MaxOutstanding:  maxOut,
	}
	if err := writeJSON(ws, welcome); err != nil {
		s.sub.Leave(name)
		return nil
	}
	s.log.Printf("ws: hello session=%s name=%s id=%s max_outstanding=%d", c.sessionID, name, id, maxOut)
	return c
}

// normalizeName trims surrounding whitespace; HELLO and REQUEST names go
// through it so both refer to the same player.
func normalizeName(name string) string { return strings.TrimSpace(name) }

func closeWith(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, b)
}
