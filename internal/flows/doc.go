// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunIssueProof, RunLink, ...) accepts a
// typed dependency struct and returns a result carrying a failure kind that the
// root package maps to its sentinel errors. Audit events and metrics are emitted
// by the caller from the returned result.
//
// # Architecture boundaries
//
// Flow functions coordinate the identity store, the password manager, the token
// codec and the session issuer. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform side effects inside an identity.Store mutate callback other than on
//     the record it is given.
package flows
