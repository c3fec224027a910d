// Package auth provides the pluggable credential verification capability
// consumed by the session broker. The broker only ever calls
// Authenticator.Verify and inspects the returned Identity; everything about
// key material, caching and rotation is the verifier's concern.
//
// Two verifiers are provided, selected by deployment configuration rather
// than subclassing:
//
//   - SharedSecret validates HMAC-signed tokens against a single static
//     secret. The secret may optionally be sourced from a file that is
//     watched for changes, so it can be rotated without a restart.
//   - KeySet extracts the key ID from the token header and resolves the
//     matching public key from a remote JWKS endpoint. Keys are cached and
//     refreshed in the background; lookups for unknown key IDs are rate
//     limited so a flood of bad tokens cannot hammer the endpoint.
//
// NewFromDiscovery builds a KeySet verifier from an OIDC issuer, using
// discovery metadata to locate the jwks_uri.
//
// # Errors
//
// Verification failures map onto a small sentinel taxonomy so the broker can
// reject handshakes with a precise reason: ErrMissingCredential,
// ErrInvalidSignature, ErrExpired, ErrKeyNotFound and ErrRateLimited.
// ErrRateLimited is the only transient member; a client seeing it may retry.
package auth
