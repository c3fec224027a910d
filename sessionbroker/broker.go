package sessionbroker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ionhub/session-broker-go/auth"
	"github.com/ionhub/session-broker-go/bus"
	"github.com/ionhub/session-broker-go/sessions"
)

// NewSessionRoutingKey is the routing key of the lifecycle event published
// when PublishNewSession is enabled.
const NewSessionRoutingKey = "new_user_connected"

// ErrNoTransport is returned by handlers invoked before a Transport was
// attached.
var ErrNoTransport = errors.New("sessionbroker: no transport attached")

// ErrNoBus is returned by Run when no bus was configured.
var ErrNoBus = errors.New("sessionbroker: no bus configured")

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the slog logger used by the broker. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.log = l }
}

// WithAuthenticator overrides the verifier the config would select.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(b *Broker) { b.authn = a }
}

// WithBus attaches the upstream bus the broker consumes notifications from
// and publishes lifecycle events to.
func WithBus(bs bus.Bus) Option {
	return func(b *Broker) { b.bus = bs }
}

// WithNewSessionHook observes every successfully admitted session.
func WithNewSessionHook(fn func(ctx context.Context, info SessionInfo)) Option {
	return func(b *Broker) { b.onSession = fn }
}

// WithErrorHook observes non-fatal errors surfaced by connections.
func WithErrorHook(fn func(ctx context.Context, err error)) Option {
	return func(b *Broker) { b.onError = fn }
}

// Broker is the session broker core. It implements ConnectionHandler for a
// Transport to drive, and consumes an upstream bus via Run.
type Broker struct {
	cfg      Config
	log      *slog.Logger
	authn    auth.Authenticator
	bus      bus.Bus
	registry *sessions.Registry

	onSession func(ctx context.Context, info SessionInfo)
	onError   func(ctx context.Context, err error)

	transport Transport

	// connSessions maps live connection IDs to their sessionID, so that
	// disconnect and error handling never trust client-supplied fields.
	mu           sync.Mutex
	connSessions map[string]string
}

// New builds a Broker from cfg. The context bounds construction-time work
// (key set fetch for the config-selected verifier). A Transport must be
// attached before the broker receives connections.
func New(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, ttl := cfg.retention()
	b := &Broker{
		cfg:          cfg,
		log:          slog.New(slog.DiscardHandler),
		registry:     sessions.NewRegistry(policy, ttl),
		connSessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.authn == nil {
		a, err := cfg.NewAuthenticator(ctx)
		if err != nil {
			return nil, err
		}
		b.authn = a
	}
	if cfg.AuthRequired && b.authn == nil {
		return nil, errors.New("sessionbroker: authentication required but no authenticator available")
	}
	return b, nil
}

// Attach binds the transport the broker addresses rooms through. It must be
// called once, before the transport delivers its first connection.
func (b *Broker) Attach(t Transport) { b.transport = t }

// Registry exposes the session registry for inspection.
func (b *Broker) Registry() *sessions.Registry { return b.registry }

// Run consumes the upstream bus until ctx is done, dispatching every decoded
// notification to matching connections. Malformed payloads are logged and
// acknowledged; dispatch failures are logged and never block acknowledgment
// of subsequent messages. Run also drives the registry's tombstone sweeper.
func (b *Broker) Run(ctx context.Context) error {
	if b.bus == nil {
		return ErrNoBus
	}
	go b.registry.RunSweeper(ctx, time.Minute)

	b.log.Info("consuming upstream bus",
		slog.String("exchange", b.cfg.Exchange),
		slog.Any("patterns", b.cfg.Patterns))

	return b.bus.Subscribe(ctx, b.cfg.Exchange, b.cfg.Patterns, b.handleDelivery)
}

func (b *Broker) handleDelivery(ctx context.Context, d bus.Delivery) error {
	// The message is acknowledged no matter what happens below; redelivering
	// a payload we cannot decode or route would only loop.
	defer d.Ack()

	var n Notification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		b.log.Warn("dropping malformed notification",
			slog.String("routing_key", d.RoutingKey),
			slog.Any("err", err))
		return nil
	}
	if err := b.Dispatch(ctx, n); err != nil {
		b.log.Warn("notification dispatch failed",
			slog.String("routing_key", d.RoutingKey),
			slog.Any("err", err))
	}
	return nil
}

// publishNewSession emits the lifecycle event for a freshly admitted
// session when configured to do so.
func (b *Broker) publishNewSession(ctx context.Context, info SessionInfo) {
	if !b.cfg.PublishNewSession || b.bus == nil {
		return
	}
	body, err := json.Marshal(info)
	if err != nil {
		b.log.Warn("encode new session event", slog.Any("err", err))
		return
	}
	if err := b.bus.Publish(ctx, b.cfg.Exchange, NewSessionRoutingKey, body); err != nil {
		b.log.Warn("publish new session event", slog.Any("err", err))
	}
}

func (b *Broker) trackConn(conn Conn, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connSessions[conn.ID()] = sessionID
}

// untrackConn forgets the connection and returns its sessionID, if the
// connection was ever admitted.
func (b *Broker) untrackConn(conn Conn) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.connSessions[conn.ID()]
	if ok {
		delete(b.connSessions, conn.ID())
	}
	return id, ok
}

var _ ConnectionHandler = (*Broker)(nil)
