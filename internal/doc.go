// Package internal contains helpers that are private to authcore, such as
// random token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - rate: Redis-backed fixed-window login throttling
//   - seal: AES-GCM sealing of federated provider credentials
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
