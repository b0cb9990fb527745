// Package session mints and checks access/refresh token pairs.
//
// # Architecture boundaries
//
// This package combines the signed token [jwt.Manager] with the digest
// [tokencodec.Codec]. It never touches storage: the caller persists the refresh
// digest returned by [Issuer.Issue] and compares it on rotation.
//
// # What this package must NOT do
//
//   - Import the root authcore package or any store.
//   - Return or log refresh token digests alongside their plaintext.
package session
