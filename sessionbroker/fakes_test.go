package sessionbroker

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeTransport implements Transport over in-memory room membership, driven
// by the fakeConns it creates.
type fakeTransport struct {
	mu    sync.Mutex
	conns map[*fakeConn]struct{}
	rooms map[string]map[*fakeConn]struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		conns: make(map[*fakeConn]struct{}),
		rooms: make(map[string]map[*fakeConn]struct{}),
	}
}

func (t *fakeTransport) newConn(id string, hs Handshake) *fakeConn {
	c := &fakeConn{transport: t, id: id, hs: hs}
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
	return c
}

// detach removes the connection from every room and from the live set, as a
// real transport does before reporting a disconnect.
func (t *fakeTransport) detach(c *fakeConn) {
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

func (t *fakeTransport) join(c *fakeConn, room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.rooms[room]
	if !ok {
		members = make(map[*fakeConn]struct{})
		t.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (t *fakeTransport) leave(c *fakeConn, room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
}

func (t *fakeTransport) EmitToRoom(room, event string, payload any) error {
	t.mu.Lock()
	targets := make([]*fakeConn, 0)
	for c := range t.rooms[room] {
		targets = append(targets, c)
	}
	t.mu.Unlock()
	for _, c := range targets {
		_ = c.Emit(event, payload)
	}
	return nil
}

func (t *fakeTransport) Broadcast(event string, payload any) error {
	t.mu.Lock()
	targets := make([]*fakeConn, 0, len(t.conns))
	for c := range t.conns {
		targets = append(targets, c)
	}
	t.mu.Unlock()
	for _, c := range targets {
		_ = c.Emit(event, payload)
	}
	return nil
}

func (t *fakeTransport) CountInRoom(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[room])
}

type emission struct {
	Event   string
	Payload any
}

type fakeConn struct {
	transport *fakeTransport
	id        string
	hs        Handshake

	failJoin bool

	mu      sync.Mutex
	emitted []emission
	closed  []error
}

func (c *fakeConn) ID() string           { return c.id }
func (c *fakeConn) Handshake() Handshake { return c.hs }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, emission{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) Join(room string) error {
	if c.failJoin {
		return errors.New("join refused")
	}
	c.transport.join(c, room)
	return nil
}

func (c *fakeConn) Leave(room string) error {
	c.transport.leave(c, room)
	return nil
}

func (c *fakeConn) Close(reason error) {
	c.mu.Lock()
	c.closed = append(c.closed, reason)
	c.mu.Unlock()
	c.transport.detach(c)
}

func (c *fakeConn) emissions(event string) []emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emission
	for _, e := range c.emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) closeReasons() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.closed...)
}

// sessionAck returns the SessionInfo from the connection's "session" ack.
func (c *fakeConn) sessionAck(t *testing.T) SessionInfo {
	t.Helper()
	acks := c.emissions("session")
	if len(acks) != 1 {
		t.Fatalf("session acks = %d, want 1", len(acks))
	}
	info, ok := acks[0].Payload.(SessionInfo)
	if !ok {
		t.Fatalf("session ack payload is %T", acks[0].Payload)
	}
	return info
}

// newTestBroker builds a broker over a fake transport.
func newTestBroker(t *testing.T, cfg Config, opts ...Option) (*Broker, *fakeTransport) {
	t.Helper()
	b, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	ft := newFakeTransport()
	b.Attach(ft)
	return b, ft
}

// connect drives a full connection attempt through the fake transport.
func connect(t *testing.T, b *Broker, ft *fakeTransport, id string, hs Handshake) (*fakeConn, error) {
	t.Helper()
	c := ft.newConn(id, hs)
	err := b.HandleConnect(context.Background(), c)
	if err != nil {
		ft.detach(c)
	}
	return c, err
}

// disconnect mimics the transport's teardown order: detach from rooms, then
// report the disconnect.
func disconnect(b *Broker, ft *fakeTransport, c *fakeConn) {
	ft.detach(c)
	b.HandleDisconnect(context.Background(), c)
}
