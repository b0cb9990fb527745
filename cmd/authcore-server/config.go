package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/oidc"
)

// serverConfig is read from an optional YAML file and then overlaid by
// AUTHCORE_* environment variables.
type serverConfig struct {
	HTTP       httpConfig       `yaml:"http" envPrefix:"HTTP_"`
	Log        logConfig        `yaml:"log" envPrefix:"LOG_"`
	Storage    storageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Redis      redisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Auth       authConfig       `yaml:"auth" envPrefix:"AUTH_"`
	Federation federationConfig `yaml:"federation" envPrefix:"FEDERATION_"`
	Metrics    metricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Audit      auditConfig      `yaml:"audit" envPrefix:"AUDIT_"`
}

type httpConfig struct {
	Addr               string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	RequestsPerMinute  int           `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	CookieDomain       string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookieSecure       bool          `yaml:"cookie_secure" env:"COOKIE_SECURE"`
	FederationRedirect string        `yaml:"federation_redirect" env:"FEDERATION_REDIRECT"`
}

type logConfig struct {
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
	Level       string `yaml:"level" env:"LEVEL"`
}

type storageConfig struct {
	// Driver is memory, redis, sqlite or postgres.
	Driver      string `yaml:"driver" env:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

type redisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type authConfig struct {
	BaseURL              string        `yaml:"base_url" env:"BASE_URL"`
	SigningMethod        string        `yaml:"signing_method" env:"SIGNING_METHOD"`
	AccessSecret         string        `yaml:"access_secret" env:"ACCESS_SECRET"`
	Ed25519Seed          string        `yaml:"ed25519_seed" env:"ED25519_SEED"`
	RefreshSecret        string        `yaml:"refresh_secret" env:"REFRESH_SECRET"`
	CodecStrategy        string        `yaml:"codec_strategy" env:"CODEC_STRATEGY"`
	CodecSecret          string        `yaml:"codec_secret" env:"CODEC_SECRET"`
	AccessTTL            time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL           time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL"`
	Issuer               string        `yaml:"issuer" env:"ISSUER"`
	Audience             string        `yaml:"audience" env:"AUDIENCE"`
	PasswordAlgorithm    string        `yaml:"password_algorithm" env:"PASSWORD_ALGORITHM"`
	RequireVerifiedEmail bool          `yaml:"require_verified_email" env:"REQUIRE_VERIFIED_EMAIL"`
	LoginRateLimit       bool          `yaml:"login_rate_limit" env:"LOGIN_RATE_LIMIT"`
	MaxLoginAttempts     int           `yaml:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS"`
	LoginCooldown        time.Duration `yaml:"login_cooldown" env:"LOGIN_COOLDOWN"`
}

type federationConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Google fills endpoints and issuers with the Google defaults.
	Google       bool     `yaml:"google" env:"GOOGLE"`
	ProviderName string   `yaml:"provider_name" env:"PROVIDER_NAME"`
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url" env:"REDIRECT_URL"`
	AuthURL      string   `yaml:"auth_url" env:"AUTH_URL"`
	TokenURL     string   `yaml:"token_url" env:"TOKEN_URL"`
	JWKSURL      string   `yaml:"jwks_url" env:"JWKS_URL"`
	Issuers      []string `yaml:"issuers" env:"ISSUERS"`
	// SealKey is base64 and encrypts provider refresh tokens at rest.
	SealKey string `yaml:"seal_key" env:"SEAL_KEY"`
}

type metricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
	OTel    bool   `yaml:"otel" env:"OTEL"`
}

type auditConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		HTTP: httpConfig{
			Addr:              ":8080",
			ShutdownTimeout:   10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			RequestsPerMinute: 600,
			CookieSecure:      true,
		},
		Log:     logConfig{Level: "info"},
		Storage: storageConfig{Driver: "memory"},
		Redis:   redisConfig{Prefix: "authcore"},
		Auth: authConfig{
			BaseURL:              "http://localhost:8080",
			SigningMethod:        "ed25519",
			CodecStrategy:        "sha256",
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			Audience:             "authcore",
			PasswordAlgorithm:    "bcrypt",
			RequireVerifiedEmail: true,
			MaxLoginAttempts:     5,
			LoginCooldown:        15 * time.Minute,
		},
		Metrics: metricsConfig{Enabled: true, Path: "/metrics"},
		Audit:   auditConfig{BufferSize: 1024},
	}
}

// loadConfig reads path when it exists and applies the environment on top.
// A missing file is not an error.
func loadConfig(path string) (*serverConfig, error) {
	cfg := defaultServerConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "AUTHCORE_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the server settings onto authcore.Config.
func (c *serverConfig) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	a := c.Auth

	cfg.JWT.SigningMethod = a.SigningMethod
	cfg.JWT.AccessTTL = a.AccessTTL
	cfg.JWT.RefreshTTL = a.RefreshTTL
	overlay(&cfg.JWT.Issuer, a.Issuer)
	overlay(&cfg.JWT.Audience, a.Audience)
	cfg.JWT.RefreshSecret = []byte(a.RefreshSecret)
	switch strings.ToLower(a.SigningMethod) {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(a.AccessSecret)
	case "ed25519":
		seed, err := base64.StdEncoding.DecodeString(a.Ed25519Seed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return cfg, fmt.Errorf("auth.ed25519_seed must be %d base64 bytes", ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
	}

	cfg.Codec.Strategy = a.CodecStrategy
	cfg.Codec.Secret = []byte(a.CodecSecret)
	cfg.Password.Algorithm = a.PasswordAlgorithm
	if a.PasswordAlgorithm == "argon2id" {
		cfg.Password.MaxLength = 128
	}
	cfg.Account.RequireVerifiedEmail = a.RequireVerifiedEmail
	cfg.Notification.BaseURL = a.BaseURL

	cfg.RateLimit.Enabled = a.LoginRateLimit
	cfg.RateLimit.MaxLoginAttempts = a.MaxLoginAttempts
	cfg.RateLimit.LoginCooldown = a.LoginCooldown
	if c.Redis.Prefix != "" {
		cfg.RateLimit.RedisPrefix = c.Redis.Prefix + ":rl"
	}

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize

	if f := c.Federation; f.Enabled {
		provider := oidc.Config{}
		if f.Google {
			provider = oidc.GoogleDefaults()
		}
		overlay(&provider.ProviderName, f.ProviderName)
		overlay(&provider.AuthURL, f.AuthURL)
		overlay(&provider.TokenURL, f.TokenURL)
		overlay(&provider.JWKSURL, f.JWKSURL)
		if len(f.Issuers) > 0 {
			provider.Issuers = f.Issuers
		}
		provider.ClientID = f.ClientID
		provider.ClientSecret = f.ClientSecret
		provider.RedirectURL = f.RedirectURL

		key, err := base64.StdEncoding.DecodeString(f.SealKey)
		if err != nil {
			return cfg, fmt.Errorf("federation.seal_key: %w", err)
		}
		cfg.Federation.Enabled = true
		cfg.Federation.Provider = provider
		cfg.Federation.SealKey = key
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
