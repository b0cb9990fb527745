package password

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Algorithm selects the hash used for new password proofs.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

var (
	// ErrInvalidConfig is returned for unusable hasher parameters.
	ErrInvalidConfig = errors.New("password: invalid configuration")
	// ErrMalformedHash is returned when a stored proof cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrTooLong is returned when a password exceeds what the algorithm accepts.
	ErrTooLong = errors.New("password: too long")
)

// Config configures a Manager.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Config
}

// Hasher is implemented by every supported algorithm.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) (bool, error)
}

// Manager hashes with the configured algorithm and verifies proofs produced by any
// supported algorithm, dispatching on the encoded prefix.
type Manager struct {
	primary Algorithm
	bcrypt  *Bcrypt
	argon2  *Argon2
	dummy   string
}

// New builds a Manager. Both algorithms are always available for verification so a
// deployment can migrate between them without invalidating stored proofs.
func New(cfg Config) (*Manager, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmBcrypt
	}
	if cfg.Algorithm != AlgorithmBcrypt && cfg.Algorithm != AlgorithmArgon2id {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, cfg.Algorithm)
	}
	if cfg.Argon2 == (Argon2Config{}) {
		cfg.Argon2 = DefaultArgon2Config()
	}

	b, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}

	m := &Manager{primary: cfg.Algorithm, bcrypt: b, argon2: a}

	seed := make([]byte, 18)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if m.dummy, err = m.Hash(base64.RawURLEncoding.EncodeToString(seed)); err != nil {
		return nil, err
	}
	return m, nil
}

// Hash produces a proof with the primary algorithm.
func (m *Manager) Hash(password string) (string, error) {
	return m.primaryHasher().Hash(password)
}

// Verify checks password against encoded. It returns ErrMalformedHash for proofs of
// unknown format and (false, nil) for an empty stored proof.
func (m *Manager) Verify(password, encoded string) (bool, error) {
	if encoded == "" {
		return false, nil
	}
	h, err := m.hasherFor(encoded)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encoded)
}

// NeedsRehash reports whether encoded should be replaced on the next successful login.
func (m *Manager) NeedsRehash(encoded string) bool {
	h, err := m.hasherFor(encoded)
	if err != nil {
		return false
	}
	if h != m.primaryHasher() {
		return true
	}
	upgrade, err := h.NeedsRehash(encoded)
	return err == nil && upgrade
}

// DummyVerify spends the same work as a real verification. Login calls it for
// unknown identifiers so response timing does not reveal account existence.
func (m *Manager) DummyVerify(password string) {
	_, _ = m.Verify(password, m.dummy)
}

func (m *Manager) primaryHasher() Hasher {
	if m.primary == AlgorithmArgon2id {
		return m.argon2
	}
	return m.bcrypt
}

func (m *Manager) hasherFor(encoded string) (Hasher, error) {
	switch {
	case isBcrypt(encoded):
		return m.bcrypt, nil
	case strings.HasPrefix(encoded, argon2Prefix):
		return m.argon2, nil
	default:
		return nil, ErrMalformedHash
	}
}
