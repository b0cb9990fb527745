// Package middleware exposes net/http adapters that authenticate requests with
// authcore access tokens.
//
// # Guards
//
//   - [Guard]: stateless access token check, no store read.
//   - [RequireRole]: Guard plus a role allow-list (403 on denial).
//   - [RequireUser]: Guard plus a store lookup of the current identity.
//
// Each guard reads the bearer token from the Authorization header, falling back
// to the [AccessCookie] cookie, and injects the validated claims into the request
// context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself; every decision is delegated to Engine.ValidateAccess.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Touch the identity store outside RequireUser.
package middleware
