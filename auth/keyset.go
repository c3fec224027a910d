package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// KeySet validates tokens against a remote JWKS endpoint. The key set is
// fetched once up front and refreshed in the background, so a connection
// handshake never pays for a remote round trip on a cache hit. Failed
// lookups for unknown key IDs draw from a small refresh budget; once it is
// exhausted the failure is reported as ErrRateLimited rather than
// ErrKeyNotFound so callers can tell a transient condition from a bad token.
type KeySet struct {
	kf      keyfunc.Keyfunc
	algs    []string
	leeway  time.Duration
	issuer  string
	limiter *rate.Limiter
}

// KeySetOption configures a KeySet verifier.
type KeySetOption func(*KeySet)

// WithKeySetAlgs overrides the accepted signing algorithms. The default
// accepts RS256 only.
func WithKeySetAlgs(algs ...string) KeySetOption {
	return func(k *KeySet) { k.algs = algs }
}

// WithKeySetLeeway sets the clock-skew tolerance applied to exp/nbf/iat
// validation. Defaults to one minute.
func WithKeySetLeeway(d time.Duration) KeySetOption {
	return func(k *KeySet) { k.leeway = d }
}

// WithKeySetIssuer requires the token's iss claim to match exactly.
func WithKeySetIssuer(issuer string) KeySetOption {
	return func(k *KeySet) { k.issuer = issuer }
}

// WithUnknownKeyBudget sets how many unknown-key-ID misses per minute are
// reported as ErrKeyNotFound before the verifier degrades to ErrRateLimited.
// Defaults to 10, matching the remote lookup budget.
func WithUnknownKeyBudget(perMinute int) KeySetOption {
	return func(k *KeySet) {
		k.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// NewKeySet constructs a verifier over the JWKS document served at jwksURI.
// The provided context bounds the initial fetch and the lifetime of the
// background refresh.
func NewKeySet(ctx context.Context, jwksURI string, opts ...KeySetOption) (*KeySet, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri is required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	k := &KeySet{
		kf:      kf,
		algs:    []string{"RS256"},
		leeway:  time.Minute,
		limiter: rate.NewLimiter(rate.Every(time.Minute/10), 10),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// NewFromDiscovery locates the issuer's JWKS endpoint via OIDC discovery and
// returns a KeySet verifier pinned to that issuer.
func NewFromDiscovery(ctx context.Context, issuer string, opts ...KeySetOption) (*KeySet, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery metadata missing jwks_uri")
	}
	opts = append(opts, WithKeySetIssuer(issuer))
	return NewKeySet(ctx, meta.JwksURI, opts...)
}

// Verify implements Authenticator.
func (k *KeySet) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(k.algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(k.leeway),
	}
	if k.issuer != "" {
		popts = append(popts, jwt.WithIssuer(k.issuer))
	}
	parser := jwt.NewParser(popts...)

	parsed, err := parser.Parse(credential, k.kf.Keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			// Key resolution failed. The key set has already attempted its
			// internal refresh at this point.
			if !k.limiter.Allow() {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
		}
		return nil, mapTokenError(err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidSignature)
	}
	return newClaimsIdentity(claims), nil
}

var _ Authenticator = (*KeySet)(nil)
