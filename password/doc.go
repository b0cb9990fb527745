// Package password implements password proof hashing and verification.
//
// # Output formats
//
// bcrypt proofs use the standard modular crypt format ($2a$/$2b$). argon2id proofs are
// PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Manager] hashes with one primary algorithm and verifies either format, so stored
// proofs survive a change of algorithm. [Manager.NeedsRehash] flags proofs that should
// be replaced after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Enforce password policy beyond algorithm limits; length rules live in the engine.
//   - Log plaintext passwords.
package password
