package wstransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ionhub/session-broker-go/sessionbroker"
)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the slog logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithCheckOrigin overrides the upgrader's origin policy. The default accepts
// any origin; browser-facing deployments should restrict it.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(t *Transport) { t.upgrader.CheckOrigin = fn }
}

// Transport serves WebSocket connections and implements the broker's
// Transport interface over its room membership.
type Transport struct {
	handler  sessionbroker.ConnectionHandler
	cfg      sessionbroker.Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}
	rooms map[string]map[*conn]struct{}
}

var _ sessionbroker.Transport = (*Transport)(nil)
var _ http.Handler = (*Transport)(nil)

// New builds a Transport driving the given handler. cfg supplies the
// keepalive cadence, frame size cap and admission timeout; it must already be
// validated. Attach the Transport to the broker before serving.
func New(handler sessionbroker.ConnectionHandler, cfg sessionbroker.Config, opts ...Option) *Transport {
	t := &Transport{
		handler: handler,
		cfg:     cfg,
		log:     slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
		rooms: make(map[string]map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ServeHTTP upgrades the request and runs the connection to completion. The
// credential comes from the Authorization header or the token query
// parameter; a resumable sessionID from the sessionId query parameter.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &conn{
		id: uuid.NewString(),
		hs: sessionbroker.Handshake{
			Token:      bearerToken(r),
			SessionID:  r.URL.Query().Get("sessionId"),
			RemoteAddr: r.RemoteAddr,
		},
		transport: t,
		ws:        ws,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	go c.writePump(t.cfg.PingInterval)

	ctx := r.Context()
	connectCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	err = t.handler.HandleConnect(connectCtx, c)
	cancel()
	if err != nil {
		c.Close(err)
		t.detach(c)
		return
	}

	c.readPump(ctx, t)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// detach removes the connection from the live set and every room. It runs
// before the disconnect is reported, so presence checks see the departure.
func (t *Transport) detach(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
	for room, members := range t.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
}

func (t *Transport) join(c *conn, room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.rooms[room]
	if !ok {
		members = make(map[*conn]struct{})
		t.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (t *Transport) leave(c *conn, room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
}

// EmitToRoom queues the event on every connection in the room. Slow
// consumers are skipped, not waited for.
func (t *Transport) EmitToRoom(room, event string, payload any) error {
	for _, c := range t.members(room) {
		if err := c.Emit(event, payload); err != nil {
			t.log.Warn("room emit dropped",
				slog.String("room", room),
				slog.String("conn_id", c.ID()),
				slog.Any("err", err))
		}
	}
	return nil
}

// Broadcast queues the event on every live connection.
func (t *Transport) Broadcast(event string, payload any) error {
	t.mu.RLock()
	targets := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		targets = append(targets, c)
	}
	t.mu.RUnlock()
	for _, c := range targets {
		if err := c.Emit(event, payload); err != nil {
			t.log.Warn("broadcast emit dropped",
				slog.String("conn_id", c.ID()),
				slog.Any("err", err))
		}
	}
	return nil
}

// CountInRoom reports the room's current membership.
func (t *Transport) CountInRoom(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}

func (t *Transport) members(room string) []*conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*conn, 0, len(t.rooms[room]))
	for c := range t.rooms[room] {
		out = append(out, c)
	}
	return out
}
