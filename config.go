package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/oidc"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/tokencodec"
)

// Config is the root engine configuration. Start from DefaultConfig and override
// what the deployment needs; Build calls Validate.
type Config struct {
	JWT               JWTConfig
	Codec             CodecConfig
	Password          PasswordConfig
	Account           AccountConfig
	EmailVerification ProofTokenConfig
	PasswordReset     ProofTokenConfig
	Federation        FederationConfig
	Notification      NotificationConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and refresh tokens.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SigningMethod is "hs256" or "ed25519" and applies to access tokens only.
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	// RefreshSecret signs refresh tokens and must differ from an HS256 PrivateKey.
	RefreshSecret []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
TOKEN CODEC CONFIG
====================================
*/

// CodecConfig selects how proof and refresh tokens are digested before storage.
type CodecConfig struct {
	// Strategy is "sha256" or "hmac-sha256" and applies to every token kind:
	// email verification, password reset and refresh.
	Strategy string
	// Secret keys the hmac-sha256 strategy. Each kind derives its own key from it.
	Secret     []byte
	ValueBytes int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures password hashing and policy.
type PasswordConfig struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig holds registration and login policy.
type AccountConfig struct {
	DefaultRole string
	// RequireVerifiedEmail gates login (and federated sign-in) on a verified email.
	RequireVerifiedEmail bool
	HandleMinLength      int
	HandleMaxLength      int
}

/*
====================================
PROOF TOKEN CONFIG
====================================
*/

// ProofTokenConfig configures one single-use proof token kind.
type ProofTokenConfig struct {
	TTL time.Duration
	// Cooldown rejects re-issuance while the previous token is active and younger than this.
	Cooldown time.Duration
}

/*
====================================
FEDERATION CONFIG
====================================
*/

// FederationConfig enables sign-in through an OpenID Connect provider.
type FederationConfig struct {
	Enabled  bool
	Provider oidc.Config
	// SealKey is a 32 byte AES key for provider refresh credentials at rest.
	// Without it provider refresh credentials are not kept.
	SealKey []byte
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig controls outgoing mail links.
type NotificationConfig struct {
	// BaseURL prefixes /verify-email and /reset-password links.
	BaseURL string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the Redis-backed login throttle. It requires a Redis
// client on the Builder when enabled.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	RedisPrefix      string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration with every tunable set. Signing keys and
// secrets are left empty and must be supplied.
func DefaultConfig() Config {
	argon := password.DefaultArgon2Config()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Audience:      "authcore",
			Leeway:        30 * time.Second,
		},
		Codec: CodecConfig{
			Strategy:   string(tokencodec.StrategySHA256),
			ValueBytes: 32,
		},
		Password: PasswordConfig{
			Algorithm:      string(password.AlgorithmBcrypt),
			BcryptCost:     password.DefaultBcryptCost,
			Memory:         argon.Memory,
			Time:           argon.Time,
			Parallelism:    argon.Parallelism,
			SaltLength:     argon.SaltLength,
			KeyLength:      argon.KeyLength,
			MinLength:      8,
			MaxLength:      password.MaxBcryptBytes,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			DefaultRole:          "user",
			RequireVerifiedEmail: true,
			HandleMinLength:      3,
			HandleMaxLength:      32,
		},
		EmailVerification: ProofTokenConfig{
			TTL:      20 * time.Minute,
			Cooldown: time.Minute,
		},
		PasswordReset: ProofTokenConfig{
			TTL:      20 * time.Minute,
			Cooldown: time.Minute,
		},
		Federation: FederationConfig{
			Enabled: false,
		},
		Notification: NotificationConfig{
			BaseURL: "http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			EnableIPThrottle: true,
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
			RedisPrefix:      "rl",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.Codec.Secret = cloneBytes(cfg.Codec.Secret)
	out.Federation.SealKey = cloneBytes(cfg.Federation.SealKey)
	out.Federation.Provider.Issuers = append([]string(nil), cfg.Federation.Provider.Issuers...)
	out.Federation.Provider.Scopes = append([]string(nil), cfg.Federation.Provider.Scopes...)
	if cfg.Federation.Provider.ExtraAuthParams != nil {
		params := make(map[string]string, len(cfg.Federation.Provider.ExtraAuthParams))
		for k, v := range cfg.Federation.Provider.ExtraAuthParams {
			params[k] = v
		}
		out.Federation.Provider.ExtraAuthParams = params
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found. Key material is checked
// for presence here and for shape by the token manager during Build.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be longer than AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return fmt.Errorf("%s requires PrivateKey", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if len(c.JWT.RefreshSecret) == 0 {
		return errors.New("JWT RefreshSecret is required")
	}
	if strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0,2m]")
	}

	// Codec
	switch tokencodec.Strategy(c.Codec.Strategy) {
	case tokencodec.StrategySHA256:
	case tokencodec.StrategyHMACSHA256:
		if len(c.Codec.Secret) < 32 {
			return errors.New("Codec Secret must be at least 32 bytes for hmac-sha256")
		}
	default:
		return errors.New("Codec Strategy must be 'sha256' or 'hmac-sha256'")
	}
	if c.Codec.ValueBytes != 0 && c.Codec.ValueBytes < 16 {
		return errors.New("Codec ValueBytes must be >= 16")
	}

	// Password
	switch password.Algorithm(c.Password.Algorithm) {
	case password.AlgorithmBcrypt, password.AlgorithmArgon2id:
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if password.Algorithm(c.Password.Algorithm) == password.AlgorithmBcrypt && c.Password.MaxLength > password.MaxBcryptBytes {
		return fmt.Errorf("Password MaxLength must be <= %d with bcrypt", password.MaxBcryptBytes)
	}

	// Account
	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole is required")
	}
	if c.Account.HandleMinLength < 1 || c.Account.HandleMaxLength < c.Account.HandleMinLength {
		return errors.New("Account handle length bounds are invalid")
	}

	// Proof tokens
	for name, p := range map[string]ProofTokenConfig{
		"EmailVerification": c.EmailVerification,
		"PasswordReset":     c.PasswordReset,
	} {
		if p.TTL <= 0 {
			return fmt.Errorf("%s TTL must be > 0", name)
		}
		if p.Cooldown < 0 {
			return fmt.Errorf("%s Cooldown must be >= 0", name)
		}
	}

	// Federation
	if c.Federation.Enabled {
		if err := c.Federation.Provider.Validate(); err != nil {
			return err
		}
		if len(c.Federation.SealKey) != 0 && len(c.Federation.SealKey) != 32 {
			return errors.New("Federation SealKey must be 32 bytes")
		}
	}

	// Notification
	u, err := url.Parse(c.Notification.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Notification BaseURL must be an absolute URL")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
