package tokencodec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Strategy selects the digest function used for a token kind.
type Strategy string

const (
	// StrategySHA256 digests the presented value with unsalted SHA-256.
	StrategySHA256 Strategy = "sha256"
	// StrategyHMACSHA256 digests the presented value with HMAC-SHA-256 keyed by a server secret.
	StrategyHMACSHA256 Strategy = "hmac-sha256"
)

// Kind names a family of tokens that share one digest configuration.
type Kind string

const (
	// KindEmailVerification is used for email-verification proof tokens.
	KindEmailVerification Kind = "email-verify"
	// KindPasswordReset is used for password-reset proof tokens.
	KindPasswordReset Kind = "password-reset"
	// KindRefresh is used to digest refresh tokens before they are persisted.
	KindRefresh Kind = "refresh"
)

const (
	defaultValueBytes = 32
	minValueBytes     = 16
	minSecretBytes    = 32
)

var (
	// ErrUnknownKind is returned when a kind has no configuration.
	ErrUnknownKind = errors.New("tokencodec: unknown token kind")
	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("tokencodec: invalid configuration")
)

// KindConfig configures one token kind.
type KindConfig struct {
	Strategy   Strategy
	Secret     []byte
	TTL        time.Duration
	ValueBytes int
}

// Config maps every kind the codec serves to its configuration.
type Config struct {
	Kinds map[Kind]KindConfig
	Now   func() time.Time
	Rand  io.Reader
}

// Issued is the result of Issue. Value is handed to the holder out of band,
// Digest is the only form that may be persisted.
type Issued struct {
	Value     string
	Digest    string
	ExpiresAt time.Time
}

// Codec issues random secrets and verifies presented values against stored digests.
//
// Codec is immutable after New and safe for concurrent use.
type Codec struct {
	kinds map[Kind]KindConfig
	now   func() time.Time
	rand  io.Reader
}

// New validates cfg and returns a Codec.
func New(cfg Config) (*Codec, error) {
	if len(cfg.Kinds) == 0 {
		return nil, fmt.Errorf("%w: no kinds configured", ErrInvalidConfig)
	}

	kinds := make(map[Kind]KindConfig, len(cfg.Kinds))
	for kind, kc := range cfg.Kinds {
		if kind == "" {
			return nil, fmt.Errorf("%w: empty kind", ErrInvalidConfig)
		}
		switch kc.Strategy {
		case StrategySHA256:
		case StrategyHMACSHA256:
			if len(kc.Secret) < minSecretBytes {
				return nil, fmt.Errorf("%w: %s secret must be at least %d bytes", ErrInvalidConfig, kind, minSecretBytes)
			}
		default:
			return nil, fmt.Errorf("%w: %s has unsupported strategy %q", ErrInvalidConfig, kind, kc.Strategy)
		}
		if kc.TTL < 0 {
			return nil, fmt.Errorf("%w: %s ttl must not be negative", ErrInvalidConfig, kind)
		}
		if kc.ValueBytes == 0 {
			kc.ValueBytes = defaultValueBytes
		}
		if kc.ValueBytes < minValueBytes {
			return nil, fmt.Errorf("%w: %s value must be at least %d bytes", ErrInvalidConfig, kind, minValueBytes)
		}
		kc.Secret = append([]byte(nil), kc.Secret...)
		kinds[kind] = kc
	}

	c := &Codec{
		kinds: kinds,
		now:   cfg.Now,
		rand:  cfg.Rand,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	return c, nil
}

// Issue draws a fresh random value for kind and returns it with its digest and expiry.
// A kind configured without TTL yields a zero ExpiresAt.
func (c *Codec) Issue(kind Kind) (Issued, error) {
	kc, ok := c.kinds[kind]
	if !ok {
		return Issued{}, ErrUnknownKind
	}

	raw := make([]byte, kc.ValueBytes)
	if _, err := io.ReadFull(c.rand, raw); err != nil {
		return Issued{}, fmt.Errorf("tokencodec: read random: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)

	issued := Issued{
		Value:  value,
		Digest: digest(kc, value),
	}
	if kc.TTL > 0 {
		issued.ExpiresAt = c.now().Add(kc.TTL)
	}
	return issued, nil
}

// Digest returns the stored form of value for kind. Stores index tokens by this value.
func (c *Codec) Digest(kind Kind, value string) (string, error) {
	kc, ok := c.kinds[kind]
	if !ok {
		return "", ErrUnknownKind
	}
	return digest(kc, value), nil
}

// Verify reports whether value digests to storedDigest under kind's strategy.
// Comparison is constant time; unknown kinds, empty inputs and length mismatches yield false.
func (c *Codec) Verify(kind Kind, value, storedDigest string) bool {
	if value == "" || storedDigest == "" {
		return false
	}
	kc, ok := c.kinds[kind]
	if !ok {
		return false
	}
	return Equal(digest(kc, value), storedDigest)
}

// TTL returns the configured lifetime for kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	return c.kinds[kind].TTL
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func digest(kc KindConfig, value string) string {
	if kc.Strategy == StrategyHMACSHA256 {
		mac := hmac.New(sha256.New, kc.Secret)
		_, _ = mac.Write([]byte(value))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
