// Package logctx enriches slog records with connection, session and dispatch
// attributes carried on the context, so broker internals never thread
// loggers by hand.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler, appending any context-carried groups.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnID),
			slog.String("remote_addr", cd.RemoteAddr),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
		))
	}

	if dd, ok := ctx.Value(dispatchDataKey{}).(*DispatchData); ok {
		r.AddAttrs(slog.Group("dispatch",
			slog.String("event", dd.Event),
			slog.String("to", dd.To),
			slog.String("room", dd.Room),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type connDataKey struct{}

type ConnData struct {
	ConnID     string
	RemoteAddr string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	UserID    string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type dispatchDataKey struct{}

type DispatchData struct {
	Event string
	To    string
	Room  string
}

func WithDispatchData(ctx context.Context, data *DispatchData) context.Context {
	return context.WithValue(ctx, dispatchDataKey{}, data)
}
