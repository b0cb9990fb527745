// Package authcore is an authentication and token lifecycle engine: password
// sign-in, rotating refresh tokens with reuse detection, single-use email
// verification and password reset tokens, and OpenID Connect federation.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and value types
// ([User], [SessionResult], [Delivery]). Flow orchestration, rate limiting, sealing and
// audit dispatch live under internal/. Storage backends live under store/ and implement
// [identity.Store]; every read-modify-write goes through Store.Update, which is atomic in
// every backend, so two racing refreshes or proof redemptions can never both succeed.
//
// # What this package must NOT do
//
//   - Persist a presented token. Only digests of refresh and proof tokens are stored.
//   - Read the identity store in ValidateAccess.
//   - Import a sub-package that re-imports authcore.
package authcore
