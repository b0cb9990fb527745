// Package tokencodec issues high-entropy single-use secrets and verifies them against
// persisted digests.
//
// # Strategies
//
// Each token kind is bound to exactly one strategy so that a value issued under a kind
// always verifies under the same kind:
//
//   - sha256: unsalted SHA-256 over the presented value. The value carries at least
//     128 bits of entropy, so precomputation is not practical.
//   - hmac-sha256: HMAC-SHA-256 keyed by a per-kind server secret. A leaked store
//     alone is not enough to confirm guesses.
//
// # What this package must NOT do
//
//   - Persist tokens or digests.
//   - Return digests that compare in variable time.
package tokencodec
