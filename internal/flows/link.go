package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/identity"
)

// LinkFailureKind classifies identity linking failures for root-level mapping.
type LinkFailureKind int

const (
	LinkFailureNone LinkFailureKind = iota
	LinkFailureInvalidInput
	LinkFailureEmailNotVerified
	LinkFailureConflict
	LinkFailureStore
)

// LinkClaims are the verified provider claims an identity is linked from.
// RefreshToken is already sealed by the caller.
type LinkClaims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	RefreshToken  string
}

// LinkResult reports the linked identity.
type LinkResult struct {
	Failure  LinkFailureKind
	Err      error
	Identity *identity.Identity
	Created  bool
}

// LinkDeps captures identity linking dependencies.
type LinkDeps struct {
	Store                identity.Store
	NewID                func() string
	DefaultRole          string
	RequireVerifiedEmail bool
	Now                  func() time.Time
}

// RunLink maps verified provider claims to an identity, creating one on first login.
// An email already held by another identity is a conflict; accounts are never merged.
func RunLink(ctx context.Context, claims LinkClaims, deps LinkDeps) LinkResult {
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Provider == "" || claims.Subject == "" || claims.Email == "" {
		return LinkResult{Failure: LinkFailureInvalidInput}
	}
	if deps.RequireVerifiedEmail && !claims.EmailVerified {
		return LinkResult{Failure: LinkFailureEmailNotVerified}
	}

	res := linkExisting(ctx, claims, deps)
	if res.Failure != LinkFailureNone || res.Identity != nil {
		return res
	}

	now := nowFunc(deps.Now)()
	ident := &identity.Identity{
		ID:                   deps.NewID(),
		Email:                claims.Email,
		FullName:             claims.Name,
		AvatarURL:            claims.Picture,
		EmailVerified:        claims.EmailVerified,
		Role:                 deps.DefaultRole,
		Provider:             claims.Provider,
		ProviderSubject:      claims.Subject,
		ProviderRefreshToken: claims.RefreshToken,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	err := deps.Store.Create(ctx, ident)
	if err == nil {
		return LinkResult{Failure: LinkFailureNone, Identity: ident, Created: true}
	}

	var conflict *identity.ConflictError
	if errors.As(err, &conflict) {
		if conflict.Field == identity.FieldSubject {
			// A concurrent callback created it first.
			res := linkExisting(ctx, claims, deps)
			if res.Identity != nil || res.Failure != LinkFailureNone {
				return res
			}
		}
		return LinkResult{Failure: LinkFailureConflict, Err: err}
	}
	return LinkResult{Failure: LinkFailureStore, Err: err}
}

// linkExisting returns an empty result when no identity holds the subject.
func linkExisting(ctx context.Context, claims LinkClaims, deps LinkDeps) LinkResult {
	existing, err := deps.Store.FindBy(ctx, identity.FieldSubject, identity.SubjectKey(claims.Provider, claims.Subject))
	if errors.Is(err, identity.ErrNotFound) {
		return LinkResult{}
	}
	if err != nil {
		return LinkResult{Failure: LinkFailureStore, Err: err}
	}
	if claims.RefreshToken == "" {
		return LinkResult{Failure: LinkFailureNone, Identity: existing}
	}

	now := nowFunc(deps.Now)
	updated, err := deps.Store.Update(ctx, existing.ID, func(ident *identity.Identity) error {
		if ident.ProviderRefreshToken == claims.RefreshToken {
			return nil
		}
		ident.ProviderRefreshToken = claims.RefreshToken
		ident.UpdatedAt = now()
		return nil
	})
	if err != nil {
		return LinkResult{Failure: LinkFailureStore, Err: err}
	}
	return LinkResult{Failure: LinkFailureNone, Identity: updated}
}
