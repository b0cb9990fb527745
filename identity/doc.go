// Package identity defines the account record shared by the engine, its flows and
// every storage backend, together with the [Store] contract those backends satisfy.
//
// # Architecture boundaries
//
// The record carries only digests of proof and refresh tokens. Backends index
// identities by email, handle, federated subject and proof digest, and provide
// [Store.Update] as a compare-and-swap so that refresh rotation and proof consumption
// have exactly one winner under concurrency.
//
// # What this package must NOT do
//
//   - Import the engine or any backend.
//   - Hash, sign or otherwise interpret token material.
package identity
