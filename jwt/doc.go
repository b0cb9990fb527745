// Package jwt signs and verifies the session tokens minted by the engine.
//
// Access tokens carry a fixed claim set (uid, role, iat, exp, aud) and are validated
// statelessly. Refresh tokens carry uid and a random jti, are signed under a separate
// secret, and are only ever persisted as digests by the caller.
package jwt
