// Package authtest provides a canned Authenticator for tests and local
// development.
package authtest

import (
	"context"
	"encoding/json"

	"github.com/ionhub/session-broker-go/auth"
)

// Identity is a literal auth.Identity value.
type Identity struct {
	Sub      string
	LoginVal string
	ClaimSet map[string]any
}

func (i Identity) Subject() string { return i.Sub }
func (i Identity) Login() string   { return i.LoginVal }
func (i Identity) Claims(ref any) error {
	b, err := json.Marshal(i.ClaimSet)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Static resolves credentials against a fixed token table. Unknown tokens
// fail with auth.ErrInvalidSignature; a non-nil Err overrides everything.
type Static struct {
	Tokens map[string]Identity
	Err    error
}

// NewStatic builds a Static authenticator accepting the given tokens.
func NewStatic() *Static {
	return &Static{Tokens: make(map[string]Identity)}
}

// Add registers a credential resolving to the given subject and login.
func (s *Static) Add(token, subject, login string) *Static {
	s.Tokens[token] = Identity{Sub: subject, LoginVal: login, ClaimSet: map[string]any{"sub": subject, "login": login}}
	return s
}

// Verify implements auth.Authenticator.
func (s *Static) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if credential == "" {
		return nil, auth.ErrMissingCredential
	}
	id, ok := s.Tokens[credential]
	if !ok {
		return nil, auth.ErrInvalidSignature
	}
	return id, nil
}

var _ auth.Authenticator = (*Static)(nil)
