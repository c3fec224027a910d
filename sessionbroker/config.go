package sessionbroker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ionhub/session-broker-go/auth"
	"github.com/ionhub/session-broker-go/sessions"
)

// UserIDFunc maps a verified identity to the broker's userID. Deployments
// with a custom identity claim supply their own; the default uses the
// token's subject and falls back to a random UUID.
type UserIDFunc func(identity auth.Identity) string

// Config collects every broker tunable into one explicit, validated value.
// Defaults can be loaded from the environment via FromEnv.
type Config struct {
	// AuthRequired rejects handshakes without a verifiable credential.
	// ENV: AUTH_REQUIRED. Default false.
	AuthRequired bool `env:"AUTH_REQUIRED,default=false"`
	// SharedSecret enables the shared-secret verifier. ENV: JWT_SECRET_KEY.
	SharedSecret string `env:"JWT_SECRET_KEY"`
	// SecretFile enables the shared-secret verifier with file-based secret
	// rotation. Takes precedence over SharedSecret. ENV: JWT_SECRET_FILE.
	SecretFile string `env:"JWT_SECRET_FILE"`
	// JWKSURI enables the key-set verifier. ENV: JWKS_URI.
	JWKSURI string `env:"JWKS_URI"`
	// Issuer enables the key-set verifier via OIDC discovery when JWKSURI is
	// not set, and pins the token issuer otherwise. ENV: JWT_ISSUER.
	Issuer string `env:"JWT_ISSUER"`

	// AllowMultipleSessions permits several concurrently connected sessions
	// per user. When false, a successful connect evicts the user's other
	// connected sessions. ENV: ALLOW_MULTIPLE_SESSIONS. Default false.
	AllowMultipleSessions bool `env:"ALLOW_MULTIPLE_SESSIONS,default=false"`

	// Exchange names the upstream topic exchange to consume. ENV: EXCHANGE.
	// Default "event".
	Exchange string `env:"EXCHANGE,default=event"`
	// Patterns are the routing patterns bound on the exchange, semicolon
	// separated in the environment. Empty means everything ("#").
	// ENV: PATTERNS.
	Patterns []string `env:"PATTERNS"`
	// PublishNewSession publishes a lifecycle event on the exchange for every
	// successful connect. ENV: PUBLISH_NEW_SESSION. Default false.
	PublishNewSession bool `env:"PUBLISH_NEW_SESSION,default=false"`

	// ConnectTimeout bounds the admission pipeline per connection attempt.
	// ENV: CONNECT_TIMEOUT. Default 45s.
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT,default=45s"`
	// PingTimeout is how long a connection may be silent past a ping before
	// the transport declares it dead. ENV: PING_TIMEOUT. Default 20s.
	PingTimeout time.Duration `env:"PING_TIMEOUT,default=20s"`
	// PingInterval is the transport keepalive cadence. ENV: PING_INTERVAL.
	// Default 25s.
	PingInterval time.Duration `env:"PING_INTERVAL,default=25s"`
	// MaxMessageSize caps inbound frames in bytes. ENV: MAX_MESSAGE_SIZE.
	// Default 100000.
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE,default=100000"`

	// SessionTTL bounds how long a disconnected session stays resumable.
	// Ignored when DropOnDisconnect is set. ENV: SESSION_TTL. Default 24h.
	SessionTTL time.Duration `env:"SESSION_TTL,default=24h"`
	// DropOnDisconnect removes a session immediately when its connection
	// goes away instead of keeping a resumable tombstone.
	// ENV: DROP_ON_DISCONNECT. Default false.
	DropOnDisconnect bool `env:"DROP_ON_DISCONNECT,default=false"`

	// UserID overrides the identity-to-userID mapping. Not loadable from the
	// environment.
	UserID UserIDFunc
}

// FromEnv loads a Config from the process environment and validates it.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Exchange == "" {
		c.Exchange = "event"
	}
	if len(c.Patterns) == 0 {
		c.Patterns = []string{"#"}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 45 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 20 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 100_000
	}
	if !c.DropOnDisconnect && c.SessionTTL < 0 {
		return errors.New("session ttl must not be negative")
	}
	return nil
}

// retention translates the config's retention choice for the registry.
func (c *Config) retention() (sessions.Policy, time.Duration) {
	if c.DropOnDisconnect {
		return sessions.DropOnDisconnect, 0
	}
	return sessions.RetainDisconnected, c.SessionTTL
}

// NewAuthenticator selects and builds the verifier the config describes:
// file-backed shared secret, static shared secret, explicit JWKS endpoint,
// or OIDC discovery, in that order. It returns nil when the config names no
// verifier at all.
func (c *Config) NewAuthenticator(ctx context.Context) (auth.Authenticator, error) {
	switch {
	case c.SecretFile != "":
		return auth.NewSharedSecretFromFile(c.SecretFile)
	case c.SharedSecret != "":
		return auth.NewSharedSecret([]byte(c.SharedSecret))
	case c.JWKSURI != "":
		var opts []auth.KeySetOption
		if c.Issuer != "" {
			opts = append(opts, auth.WithKeySetIssuer(c.Issuer))
		}
		return auth.NewKeySet(ctx, c.JWKSURI, opts...)
	case c.Issuer != "":
		return auth.NewFromDiscovery(ctx, c.Issuer)
	default:
		return nil, nil
	}
}
