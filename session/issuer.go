package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/tokencodec"
)

// ErrInvalidConfig is returned by NewIssuer when a dependency is missing.
var ErrInvalidConfig = errors.New("session: invalid configuration")

// Pair is the token pair handed to a client after login or rotation.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Issuer mints token pairs and derives the stored form of refresh tokens.
//
// Issuer is immutable and safe for concurrent use.
type Issuer struct {
	tokens *jwt.Manager
	codec  *tokencodec.Codec
}

// NewIssuer returns an Issuer. codec must have tokencodec.KindRefresh configured.
func NewIssuer(tokens *jwt.Manager, codec *tokencodec.Codec) (*Issuer, error) {
	if tokens == nil || codec == nil {
		return nil, fmt.Errorf("%w: token manager and codec are required", ErrInvalidConfig)
	}
	if _, err := codec.Digest(tokencodec.KindRefresh, "self-check"); err != nil {
		return nil, fmt.Errorf("%w: refresh kind not configured", ErrInvalidConfig)
	}
	return &Issuer{tokens: tokens, codec: codec}, nil
}

// Issue mints a new pair for userID and returns the digest of its refresh token.
// The digest is the only form of the refresh token that may be stored.
func (i *Issuer) Issue(userID, role string) (Pair, string, error) {
	access, accessExp, err := i.tokens.CreateAccess(userID, role)
	if err != nil {
		return Pair{}, "", fmt.Errorf("session: sign access token: %w", err)
	}
	refresh, refreshExp, err := i.tokens.CreateRefresh(userID)
	if err != nil {
		return Pair{}, "", fmt.Errorf("session: sign refresh token: %w", err)
	}
	digest, err := i.codec.Digest(tokencodec.KindRefresh, refresh)
	if err != nil {
		return Pair{}, "", err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, digest, nil
}

// RefreshDigest returns the stored form of a presented refresh token.
func (i *Issuer) RefreshDigest(refreshToken string) (string, error) {
	return i.codec.Digest(tokencodec.KindRefresh, refreshToken)
}

// MatchesRefresh reports whether refreshToken is the one recorded by storedDigest.
func (i *Issuer) MatchesRefresh(refreshToken, storedDigest string) bool {
	return i.codec.Verify(tokencodec.KindRefresh, refreshToken, storedDigest)
}

// ParseRefresh verifies a refresh token's signature and expiry.
func (i *Issuer) ParseRefresh(refreshToken string) (*jwt.RefreshClaims, error) {
	return i.tokens.ParseRefresh(refreshToken)
}

// ValidateAccess verifies an access token statelessly.
func (i *Issuer) ValidateAccess(accessToken string) (*jwt.AccessClaims, error) {
	return i.tokens.ParseAccess(accessToken)
}

// AccessTTL returns the access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.tokens.AccessTTL() }

// RefreshTTL returns the refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.tokens.RefreshTTL() }
