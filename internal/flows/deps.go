package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tokencodec"
)

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login   LoginDeps
	Session SessionDeps
	Proof   ProofDeps
	Link    LinkDeps
}

// PasswordVerifier is the password proof surface used by login and password flows.
type PasswordVerifier interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
	DummyVerify(password string)
}

// SessionTokens mints pairs and checks presented refresh tokens.
type SessionTokens interface {
	Issue(userID, role string) (session.Pair, string, error)
	ParseRefresh(refreshToken string) (*jwt.RefreshClaims, error)
	MatchesRefresh(refreshToken, storedDigest string) bool
}

// ProofCodec issues and checks proof token values.
type ProofCodec interface {
	Issue(kind tokencodec.Kind) (tokencodec.Issued, error)
	Digest(kind tokencodec.Kind, value string) (string, error)
	Verify(kind tokencodec.Kind, value, storedDigest string) bool
}

// LoginLimiter throttles failed logins.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	IncrementLogin(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier string) error
}

// issueError marks failures to mint tokens inside a store mutate callback.
type issueError struct{ err error }

func (e *issueError) Error() string { return "issue: " + e.err.Error() }
func (e *issueError) Unwrap() error { return e.err }

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func roleOf(ident *identity.Identity, fallback string) string {
	if ident.Role != "" {
		return ident.Role
	}
	return fallback
}
