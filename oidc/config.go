package oidc

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultStateTTL              = 10 * time.Minute
	DefaultHTTPTimeout           = 10 * time.Second
	DefaultJWKSRequestsPerMinute = 10
)

// Config describes one OpenID Connect provider and this client's registration with it.
type Config struct {
	ProviderName string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL  string
	TokenURL string
	JWKSURL  string
	// Issuers, when set, is the allow-list for the ID token iss claim.
	Issuers []string
	Scopes  []string

	StateTTL        time.Duration
	UsePKCE         bool
	ExtraAuthParams map[string]string

	// JWKSCacheTTL bounds how long a fetched key is trusted. Zero keeps keys until
	// the next refetch triggered by an unknown kid.
	JWKSCacheTTL          time.Duration
	JWKSRequestsPerMinute int
	HTTPTimeout           time.Duration
	Leeway                time.Duration
}

// GoogleDefaults returns endpoints and issuers for Google accounts. Client
// credentials and the redirect URL are left empty.
func GoogleDefaults() Config {
	return Config{
		ProviderName: "google",
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		JWKSURL:      "https://www.googleapis.com/oauth2/v3/certs",
		Issuers:      []string{"https://accounts.google.com", "accounts.google.com"},
		Scopes:       []string{"openid", "email", "profile"},
		StateTTL:     DefaultStateTTL,
		UsePKCE:      true,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		JWKSRequestsPerMinute: DefaultJWKSRequestsPerMinute,
		HTTPTimeout:           DefaultHTTPTimeout,
		Leeway:                30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.JWKSRequestsPerMinute <= 0 {
		c.JWKSRequestsPerMinute = DefaultJWKSRequestsPerMinute
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "email", "profile"}
	}
	return c
}

// Validate checks that the configuration can drive a flow.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ProviderName) == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}
	for name, raw := range map[string]string{
		"auth url":     c.AuthURL,
		"token url":    c.TokenURL,
		"redirect url": c.RedirectURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute URL", ErrInvalidConfig, name)
		}
	}
	if c.Leeway < 0 || c.Leeway > 5*time.Minute {
		return fmt.Errorf("%w: leeway must be within [0,5m]", ErrInvalidConfig)
	}
	if !slices.Contains(c.withDefaults().Scopes, "openid") {
		return fmt.Errorf("%w: scopes must include openid", ErrInvalidConfig)
	}
	return nil
}
