package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalidToken
	RefreshFailureNotFound
	RefreshFailureReuse
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	UserID   string
	Identity *identity.Identity
	Pair     session.Pair
	// Revoked is set when reuse detection cleared a stored refresh digest.
	Revoked bool
}

// SessionDeps captures session issue/rotate/revoke dependencies.
type SessionDeps struct {
	Store       identity.Store
	Tokens      SessionTokens
	DefaultRole string
	Now         func() time.Time
}

// RunIssue mints a pair for userID and records its refresh digest, replacing any
// previous one. extra, when set, is applied to the record in the same update.
func RunIssue(ctx context.Context, userID string, deps SessionDeps, extra func(*identity.Identity)) (session.Pair, *identity.Identity, error) {
	now := nowFunc(deps.Now)

	var pair session.Pair
	updated, err := deps.Store.Update(ctx, userID, func(ident *identity.Identity) error {
		p, digest, err := deps.Tokens.Issue(ident.ID, roleOf(ident, deps.DefaultRole))
		if err != nil {
			return &issueError{err: err}
		}
		pair = p
		if extra != nil {
			extra(ident)
		}
		ident.RefreshDigest = digest
		ident.UpdatedAt = now()
		return nil
	})
	if err != nil {
		return session.Pair{}, nil, err
	}
	return pair, updated, nil
}

// RunRefresh rotates a presented refresh token.
//
// The stored digest is compared and replaced inside one atomic update. A token that
// does not match the stored digest, including one that was already rotated, clears
// the stored digest in that same update so every outstanding refresh token dies.
func RunRefresh(ctx context.Context, refreshToken string, deps SessionDeps) RefreshResult {
	claims, err := deps.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: err}
	}

	now := nowFunc(deps.Now)
	var (
		pair    session.Pair
		reused  bool
		revoked bool
	)
	updated, err := deps.Store.Update(ctx, claims.UserID, func(ident *identity.Identity) error {
		reused, revoked = false, false
		if !deps.Tokens.MatchesRefresh(refreshToken, ident.RefreshDigest) {
			reused = true
			if ident.RefreshDigest != "" {
				revoked = true
				ident.RefreshDigest = ""
				ident.UpdatedAt = now()
			}
			return nil
		}

		p, digest, err := deps.Tokens.Issue(ident.ID, roleOf(ident, deps.DefaultRole))
		if err != nil {
			return &issueError{err: err}
		}
		pair = p
		ident.RefreshDigest = digest
		ident.UpdatedAt = now()
		return nil
	})
	if err != nil {
		var ie *issueError
		switch {
		case errors.Is(err, identity.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err, UserID: claims.UserID}
		case errors.As(err, &ie):
			return RefreshResult{Failure: RefreshFailureIssue, Err: ie.err, UserID: claims.UserID}
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: claims.UserID}
		}
	}
	if reused {
		return RefreshResult{
			Failure:  RefreshFailureReuse,
			UserID:   claims.UserID,
			Identity: updated,
			Revoked:  revoked,
		}
	}

	return RefreshResult{
		Failure:  RefreshFailureNone,
		UserID:   claims.UserID,
		Identity: updated,
		Pair:     pair,
	}
}

// RunRevoke clears the stored refresh digest unconditionally. Unknown identities
// are treated as already revoked.
func RunRevoke(ctx context.Context, userID string, deps SessionDeps) error {
	now := nowFunc(deps.Now)
	_, err := deps.Store.Update(ctx, userID, func(ident *identity.Identity) error {
		if ident.RefreshDigest == "" {
			return nil
		}
		ident.RefreshDigest = ""
		ident.UpdatedAt = now()
		return nil
	})
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	return err
}
