package auth

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for credential verification failures. All of them are
// terminal for the connection attempt that presented the credential; none are
// retried automatically by the broker.
var (
	// ErrMissingCredential indicates authentication is required but the
	// handshake carried no token.
	ErrMissingCredential = errors.New("auth: missing credential")

	// ErrInvalidSignature indicates the token's signature did not verify
	// against the configured key material.
	ErrInvalidSignature = errors.New("auth: invalid signature")

	// ErrExpired indicates the token verified but is outside its validity
	// window.
	ErrExpired = errors.New("auth: token expired")

	// ErrKeyNotFound indicates the key set does not contain a key matching
	// the token's key ID, even after a refresh.
	ErrKeyNotFound = errors.New("auth: signing key not found")

	// ErrRateLimited indicates the key set refused a remote lookup because
	// the refresh budget is exhausted. Unlike ErrKeyNotFound this failure is
	// transient; callers may retry the handshake later.
	ErrRateLimited = errors.New("auth: key set lookup rate limited")
)

// Identity is the decoded, verified claim set produced by an Authenticator.
// Implementations are immutable and safe for concurrent use.
type Identity interface {
	// Subject returns the token's stable subject identifier, or "" when the
	// token carries none.
	Subject() string
	// Login returns the human-facing login claim when the token carries one.
	Login() string
	// Claims unmarshals the full claim set into the provided struct reference.
	Claims(ref any) error
}

// Authenticator verifies a bearer credential and exposes its claims. It
// should return one of the sentinel errors above (possibly wrapped) so the
// broker can signal a precise rejection reason on the handshake.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// claimsIdentity backs Identity for both verifier implementations.
type claimsIdentity struct {
	sub    string
	login  string
	claims map[string]any
}

func (i *claimsIdentity) Subject() string { return i.sub }
func (i *claimsIdentity) Login() string   { return i.login }
func (i *claimsIdentity) Claims(ref any) error {
	b, err := json.Marshal(i.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

func newClaimsIdentity(claims map[string]any) *claimsIdentity {
	sub, _ := claims["sub"].(string)
	login, _ := claims["login"].(string)
	return &claimsIdentity{sub: sub, login: login, claims: claims}
}
