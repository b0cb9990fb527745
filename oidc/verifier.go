package oidc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Bool decodes JSON booleans that some providers send as strings.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("oidc: invalid boolean %q", string(data))
	}
	*b = Bool(v)
	return nil
}

// IDTokenClaims is the fixed claim set read from a provider ID token.
type IDTokenClaims struct {
	Nonce         string `json:"nonce"`
	Email         string `json:"email"`
	EmailVerified Bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// Verifier checks provider ID tokens.
type Verifier struct {
	clientID string
	issuers  []string
	keys     KeyResolver
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier returns a Verifier accepting RS256 tokens for clientID. An empty
// issuers list accepts any issuer.
func NewVerifier(clientID string, issuers []string, keys KeyResolver, leeway time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		clientID: clientID,
		issuers:  slices.Clone(issuers),
		keys:     keys,
		leeway:   leeway,
		now:      now,
	}
}

// Verify checks signature, algorithm, audience, expiry and issuer of raw.
// Unknown signing keys fail with ErrUnknownSigningKey, every other failure with
// ErrInvalidIDToken. The nonce is not checked here.
func (v *Verifier) Verify(ctx context.Context, raw string) (*IDTokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	var resolveErr error
	claims := &IDTokenClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		key, err := v.keys.ResolveKey(ctx, kid)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		return key, nil
	})
	if resolveErr != nil && errors.Is(resolveErr, ErrUnknownSigningKey) {
		return nil, resolveErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	if len(v.issuers) > 0 && !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: issuer %q not allowed", ErrInvalidIDToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}
	return claims, nil
}
