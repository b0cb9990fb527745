// Package oidc drives an OpenID Connect authorization-code federation.
//
// [Flow.Start] creates a single-use exchange state (state, nonce and optional PKCE
// verifier) and the provider authorization URL. [Flow.Callback] takes that state
// back out of the [StateStore] before anything else happens, exchanges the code
// server to server, verifies the ID token against keys from a [KeyResolver] and
// checks the nonce.
//
// [JWKSCache] is the production [KeyResolver]: keys are cached by kid, fetched
// lazily on a miss, and concurrent misses collapse into one request. [StaticKeys]
// serves a fixed key set.
package oidc
