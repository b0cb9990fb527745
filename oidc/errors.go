package oidc

import "errors"

var (
	// ErrInvalidConfig is returned for unusable provider configurations.
	ErrInvalidConfig = errors.New("oidc: invalid configuration")
	// ErrInvalidState is returned when the callback state is missing, unknown or mismatched.
	ErrInvalidState = errors.New("oidc: invalid state")
	// ErrNonceMismatch is returned when the ID token nonce differs from the stored nonce.
	ErrNonceMismatch = errors.New("oidc: nonce mismatch")
	// ErrInvalidIDToken is returned when the ID token fails signature, audience, issuer or expiry checks.
	ErrInvalidIDToken = errors.New("oidc: invalid id token")
	// ErrUnknownSigningKey is returned when no key is published for the token's kid.
	ErrUnknownSigningKey = errors.New("oidc: unknown signing key")
	// ErrTokenExchangeFailed is returned when the provider rejects the code, fails,
	// times out or returns no ID token.
	ErrTokenExchangeFailed = errors.New("oidc: token exchange failed")
	// ErrStateNotFound is returned by StateStore.Take for unknown or expired states.
	ErrStateNotFound = errors.New("oidc: state not found")
)
