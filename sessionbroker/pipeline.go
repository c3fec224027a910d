package sessionbroker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ionhub/session-broker-go/auth"
	"github.com/ionhub/session-broker-go/internal/logctx"
	"github.com/ionhub/session-broker-go/sessions"
)

// ErrNoUserID rejects a connection whose verified identity mapped to an
// empty userID.
var ErrNoUserID = errors.New("sessionbroker: identity produced no user id")

// admissionState names a step of the per-connection admission pipeline.
type admissionState int

const (
	stateArriving admissionState = iota
	stateAuthenticating
	stateSessionResolving
	statePolicyEnforcing
	stateConnected
	stateRejected
)

func (s admissionState) String() string {
	switch s {
	case stateArriving:
		return "arriving"
	case stateAuthenticating:
		return "authenticating"
	case stateSessionResolving:
		return "session-resolving"
	case statePolicyEnforcing:
		return "policy-enforcing"
	case stateConnected:
		return "connected"
	case stateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// admission is the in-flight state of one connection attempt.
type admission struct {
	state    admissionState
	conn     Conn
	identity auth.Identity
	sess     sessions.Session
	resumed  bool
	reject   error
}

func (a *admission) fail(err error) {
	a.reject = err
	a.state = stateRejected
}

// HandleConnect runs the admission pipeline for a new connection attempt.
// A non-nil return is a rejection: the transport must close the handshake
// with it, and no registry state exists for the connection.
func (b *Broker) HandleConnect(ctx context.Context, conn Conn) error {
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		ConnID:     conn.ID(),
		RemoteAddr: conn.Handshake().RemoteAddr,
	})

	a := &admission{state: stateArriving, conn: conn}
	for {
		switch a.state {
		case stateArriving:
			a.state = stateAuthenticating
		case stateAuthenticating:
			b.authenticate(ctx, a)
		case stateSessionResolving:
			b.resolveSession(ctx, a)
		case statePolicyEnforcing:
			b.enforcePolicy(ctx, a)
		case stateConnected:
			b.finalize(ctx, a)
			return nil
		case stateRejected:
			b.log.InfoContext(ctx, "connection rejected", slog.Any("err", a.reject))
			return a.reject
		}
	}
}

// authenticate verifies the handshake credential when authentication is
// required. When it is not, the token is ignored entirely.
func (b *Broker) authenticate(ctx context.Context, a *admission) {
	if !b.cfg.AuthRequired {
		a.state = stateSessionResolving
		return
	}
	token := a.conn.Handshake().Token
	if token == "" {
		a.fail(auth.ErrMissingCredential)
		return
	}
	identity, err := b.authn.Verify(ctx, token)
	if err != nil {
		a.fail(err)
		return
	}
	a.identity = identity
	a.state = stateSessionResolving
}

// resolveSession resumes a known session presented by the client, or mints a
// fresh one.
func (b *Broker) resolveSession(ctx context.Context, a *admission) {
	hs := a.conn.Handshake()

	if hs.SessionID != "" {
		if prev, ok := b.registry.Resolve(hs.SessionID); ok {
			a.resumed = true
			a.sess = sessions.Session{
				SessionID: prev.SessionID,
				UserID:    prev.UserID,
				Login:     prev.Login,
				Connected: true,
				Conn:      a.conn,
			}
			a.state = statePolicyEnforcing
			return
		}
	}

	userID := b.deriveUserID(a.identity)
	if userID == "" {
		a.fail(ErrNoUserID)
		return
	}
	var login string
	if a.identity != nil {
		login = a.identity.Login()
	}
	a.sess = sessions.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Login:     login,
		Connected: true,
		Conn:      a.conn,
	}
	a.state = statePolicyEnforcing
}

// deriveUserID applies the configured identity-to-userID mapping. With no
// identity (authentication disabled) a random userID is minted.
func (b *Broker) deriveUserID(identity auth.Identity) string {
	if b.cfg.UserID != nil {
		return b.cfg.UserID(identity)
	}
	if identity != nil && identity.Subject() != "" {
		return identity.Subject()
	}
	return uuid.NewString()
}

// enforcePolicy registers the session and evicts the user's other connected
// sessions when concurrent sessions are disallowed. The session is upserted
// before eviction so that two attempts racing on the same userID converge:
// whichever registers last finds the other already connected and evicts it.
// The registry re-checks connectedness under its lock, so a racing attempt
// that already finished its own pipeline is judged by its current state, not
// by anything observed earlier in this turn.
func (b *Broker) enforcePolicy(ctx context.Context, a *admission) {
	b.registry.Upsert(a.sess)
	if !b.cfg.AllowMultipleSessions {
		for _, evicted := range b.registry.EvictOthers(a.sess.UserID, a.sess.SessionID) {
			b.log.InfoContext(ctx, "evicted concurrent session",
				slog.String("evicted_session_id", evicted.SessionID),
				slog.String("user_id", evicted.UserID))
		}
	}
	a.state = stateConnected
}

// finalize joins the per-user group and acknowledges the client. Room join
// or emit failures at this stage are logged but do not reject the
// connection; the session is already canonical.
func (b *Broker) finalize(ctx context.Context, a *admission) {
	b.trackConn(a.conn, a.sess.SessionID)

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: a.sess.SessionID,
		UserID:    a.sess.UserID,
	})

	if err := a.conn.Join(a.sess.UserID); err != nil {
		b.log.WarnContext(ctx, "join user group failed", slog.Any("err", err))
	}

	info := SessionInfo{
		SessionID: a.sess.SessionID,
		UserID:    a.sess.UserID,
		Login:     a.sess.Login,
	}
	if err := a.conn.Emit("session", info); err != nil {
		b.log.WarnContext(ctx, "session ack emit failed", slog.Any("err", err))
	}

	b.log.InfoContext(ctx, "session connected", slog.Bool("resumed", a.resumed))

	if b.onSession != nil {
		b.onSession(ctx, info)
	}
	b.publishNewSession(ctx, info)
}
