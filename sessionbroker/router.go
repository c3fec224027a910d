package sessionbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ionhub/session-broker-go/auth"
	"github.com/ionhub/session-broker-go/internal/logctx"
)

// HandleSubscribe joins the connection to a named room. Failures are logged
// and surfaced to the error hook; they are never fatal to the connection.
func (b *Broker) HandleSubscribe(ctx context.Context, conn Conn, room string) {
	if err := conn.Join(room); err != nil {
		b.log.WarnContext(ctx, "room join failed",
			slog.String("conn_id", conn.ID()),
			slog.String("room", room),
			slog.Any("err", err))
		if b.onError != nil {
			b.onError(ctx, fmt.Errorf("join room %q: %w", room, err))
		}
	}
}

// HandleUnsubscribe removes the connection from a named room, with the same
// failure policy as HandleSubscribe.
func (b *Broker) HandleUnsubscribe(ctx context.Context, conn Conn, room string) {
	if err := conn.Leave(room); err != nil {
		b.log.WarnContext(ctx, "room leave failed",
			slog.String("conn_id", conn.ID()),
			slog.String("room", room),
			slog.Any("err", err))
		if b.onError != nil {
			b.onError(ctx, fmt.Errorf("leave room %q: %w", room, err))
		}
	}
}

// HandleDisconnect applies the retention policy for the connection's
// session. The transport has already detached the connection from its rooms,
// so presence is recomputed from what remains addressable under the userID:
// while another live connection still backs the user, the session entry is
// left untouched. A second disconnect for the same connection is a no-op.
func (b *Broker) HandleDisconnect(ctx context.Context, conn Conn) {
	sessionID, ok := b.untrackConn(conn)
	if !ok {
		return
	}
	sess, ok := b.registry.Resolve(sessionID)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sessionID,
		UserID:    sess.UserID,
	})

	if b.transport != nil && b.transport.CountInRoom(sess.UserID) > 0 {
		b.log.DebugContext(ctx, "user still addressable after disconnect")
		return
	}
	if b.registry.MarkDisconnected(sessionID) {
		b.log.InfoContext(ctx, "session disconnected",
			slog.String("retention", b.registry.Policy().String()))
	}
}

// HandleError inspects a connection-reported error. Credential failures
// force the connection closed and purge its session; anything else is
// contained locally and forwarded to the error hook.
func (b *Broker) HandleError(ctx context.Context, conn Conn, connErr error) {
	if isCredentialError(connErr) {
		if sessionID, ok := b.untrackConn(conn); ok {
			b.registry.Remove(sessionID)
		}
		conn.Close(connErr)
		b.log.InfoContext(ctx, "connection closed on credential error",
			slog.String("conn_id", conn.ID()),
			slog.Any("err", connErr))
		return
	}
	b.log.WarnContext(ctx, "connection error",
		slog.String("conn_id", conn.ID()),
		slog.Any("err", connErr))
	if b.onError != nil {
		b.onError(ctx, connErr)
	}
}

func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrMissingCredential) ||
		errors.Is(err, auth.ErrInvalidSignature) ||
		errors.Is(err, auth.ErrExpired) ||
		errors.Is(err, auth.ErrKeyNotFound)
}

// Dispatch routes one notification to its target connections. A notification
// addressed to a user with no connected session is dropped without error.
func (b *Broker) Dispatch(ctx context.Context, n Notification) error {
	if b.transport == nil {
		return ErrNoTransport
	}
	event := n.EventName()
	ctx = logctx.WithDispatchData(ctx, &logctx.DispatchData{
		Event: event,
		To:    n.To,
		Room:  n.Room,
	})

	switch {
	case n.To != "":
		if !b.userConnected(n.To) {
			b.log.DebugContext(ctx, "dispatch miss: no connected session for user")
			return nil
		}
		// The per-user group is named by the userID, so one room emission
		// reaches every connection of the user exactly once.
		return b.transport.EmitToRoom(n.To, event, n.Content)
	case n.Room != "":
		return b.transport.EmitToRoom(n.Room, event, n.Content)
	default:
		return b.transport.Broadcast(event, n.Content)
	}
}

func (b *Broker) userConnected(userID string) bool {
	for _, s := range b.registry.Snapshot() {
		if s.Connected && s.UserID == userID {
			return true
		}
	}
	return false
}
