package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ionhub/session-broker-go/sessionbroker"
)

const writeWait = 10 * time.Second

// ErrSendQueueFull is returned by Emit when the connection's outbound queue
// cannot accept another frame. The client is too slow to keep up.
var ErrSendQueueFull = errors.New("wstransport: send queue full")

// frame is the JSON envelope exchanged with clients. Inbound frames carry an
// action; outbound frames carry an event and its data.
type frame struct {
	Action string          `json:"action,omitempty"`
	Room   string          `json:"room,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type conn struct {
	id        string
	hs        sessionbroker.Handshake
	transport *Transport
	ws        *websocket.Conn

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ sessionbroker.Conn = (*conn)(nil)

func (c *conn) ID() string                         { return c.id }
func (c *conn) Handshake() sessionbroker.Handshake { return c.hs }

func (c *conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %q payload: %w", event, err)
	}
	msg, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %q frame: %w", event, err)
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return net.ErrClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *conn) Join(room string) error {
	c.transport.join(c, room)
	return nil
}

func (c *conn) Leave(room string) error {
	c.transport.leave(c, room)
	return nil
}

// Close sends a close frame carrying the reason and tears down the socket.
// The read pump observes the closure and reports the disconnect; nothing here
// calls back into the broker.
func (c *conn) Close(reason error) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if reason != nil {
			msg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason.Error())
		}
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// readPump consumes client frames until the socket dies, then reports the
// disconnect. It is the only reader of the socket.
func (c *conn) readPump(ctx context.Context, t *Transport) {
	defer func() {
		c.Close(nil)
		t.detach(c)
		t.handler.HandleDisconnect(ctx, c)
	}()

	c.ws.SetReadLimit(t.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(t.cfg.PingInterval + t.cfg.PingTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(t.cfg.PingInterval + t.cfg.PingTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.handler.HandleError(ctx, c, fmt.Errorf("decode client frame: %w", err))
			continue
		}
		switch f.Action {
		case "subscribe":
			t.handler.HandleSubscribe(ctx, c, f.Room)
		case "unsubscribe":
			t.handler.HandleUnsubscribe(ctx, c, f.Room)
		case "disconnect":
			return
		default:
			t.handler.HandleError(ctx, c, fmt.Errorf("unknown client action %q", f.Action))
		}
	}
}

// writePump is the socket's single writer: queued frames and keepalive pings.
func (c *conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
