package sessionbroker

import "context"

// Handshake carries the client-supplied, out-of-band credential fields of a
// connection attempt.
type Handshake struct {
	// Token is the bearer credential. Required iff authentication is enabled.
	Token string
	// SessionID, when set, asks to resume a previously issued session.
	SessionID string
	// RemoteAddr is informational, used for logging only.
	RemoteAddr string
}

// Conn is one live transport-level channel from a client. Implementations
// must be safe for concurrent use; Emit, Join and Leave may be called from
// the bus consumption loop while the connection's own events are in flight.
//
// Close must not invoke ConnectionHandler callbacks synchronously.
type Conn interface {
	// ID identifies the physical connection (not the session).
	ID() string
	// Handshake returns the credential fields presented at connect time.
	Handshake() Handshake
	// Emit sends a named event with a payload to this connection.
	Emit(event string, payload any) error
	// Join adds the connection to a named group.
	Join(room string) error
	// Leave removes the connection from a named group.
	Leave(room string) error
	// Close tears the connection down, surfacing reason to the client where
	// the wire protocol allows it.
	Close(reason error)
}

// Transport is the room-addressing primitive of the underlying connection
// server.
type Transport interface {
	// EmitToRoom sends to every connection joined to room. Emitting to an
	// empty or unknown room is a no-op, not an error.
	EmitToRoom(room, event string, payload any) error
	// Broadcast sends to every live connection.
	Broadcast(event string, payload any) error
	// CountInRoom reports how many live connections are joined to room.
	CountInRoom(room string) int
}

// ConnectionHandler is the surface a transport drives as connections come
// and go. The Broker implements it.
//
// Transports must deliver a given connection's events in arrival order, must
// detach a connection from all rooms before calling HandleDisconnect, and
// must close the handshake with the returned error when HandleConnect fails.
type ConnectionHandler interface {
	HandleConnect(ctx context.Context, conn Conn) error
	HandleSubscribe(ctx context.Context, conn Conn, room string)
	HandleUnsubscribe(ctx context.Context, conn Conn, room string)
	HandleDisconnect(ctx context.Context, conn Conn)
	HandleError(ctx context.Context, conn Conn, connErr error)
}
