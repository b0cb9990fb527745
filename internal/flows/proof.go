package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/tokencodec"
)

// ProofFailureKind classifies proof token failures for root-level mapping.
type ProofFailureKind int

const (
	ProofFailureNone ProofFailureKind = iota
	ProofFailureInvalidInput
	ProofFailureNotFound
	ProofFailureAlreadyVerified
	ProofFailureRateLimited
	ProofFailureInvalidToken
	ProofFailureIssue
	ProofFailureStore
)

var (
	errAlreadyVerified = errors.New("email already verified")
	errCooldown        = errors.New("proof issued within cool-down")
	errInvalidProof    = errors.New("proof invalid or expired")
)

// ProofIssueResult carries the presented value of a freshly issued proof token.
type ProofIssueResult struct {
	Failure   ProofFailureKind
	Err       error
	Identity  *identity.Identity
	Token     string
	ExpiresAt time.Time
	// RetryAfter is the remaining cool-down when Failure is ProofFailureRateLimited.
	RetryAfter time.Duration
}

// ProofConsumeResult carries the identity a consumed proof token belonged to.
type ProofConsumeResult struct {
	Failure  ProofFailureKind
	Err      error
	Identity *identity.Identity
	// Changed is false when consuming had no effect beyond clearing the token.
	Changed bool
}

// ProofDeps captures proof token dependencies.
type ProofDeps struct {
	Store    identity.Store
	Codec    ProofCodec
	Cooldown time.Duration
	Now      func() time.Time
}

// RunIssueProof issues a proof token of kind for userID, replacing any previous one.
func RunIssueProof(ctx context.Context, userID string, kind identity.ProofKind, deps ProofDeps) ProofIssueResult {
	now := nowFunc(deps.Now)

	var (
		issued     tokencodec.Issued
		retryAfter time.Duration
	)
	updated, err := deps.Store.Update(ctx, userID, func(ident *identity.Identity) error {
		slot := ident.Proof(kind)
		if slot == nil {
			return errInvalidProof
		}
		if kind == identity.ProofEmailVerification && ident.EmailVerified {
			return errAlreadyVerified
		}

		at := now()
		if deps.Cooldown > 0 && slot.Active(at) {
			if elapsed := at.Sub(slot.IssuedAt); elapsed < deps.Cooldown {
				retryAfter = deps.Cooldown - elapsed
				return errCooldown
			}
		}

		iss, err := deps.Codec.Issue(tokencodec.Kind(kind))
		if err != nil {
			return &issueError{err: err}
		}
		issued = iss
		*slot = identity.Proof{Digest: iss.Digest, IssuedAt: at, ExpiresAt: iss.ExpiresAt}
		ident.UpdatedAt = at
		return nil
	})
	if err != nil {
		var ie *issueError
		switch {
		case errors.Is(err, errInvalidProof):
			return ProofIssueResult{Failure: ProofFailureInvalidInput, Err: err}
		case errors.Is(err, errAlreadyVerified):
			return ProofIssueResult{Failure: ProofFailureAlreadyVerified, Err: err}
		case errors.Is(err, errCooldown):
			return ProofIssueResult{Failure: ProofFailureRateLimited, Err: err, RetryAfter: retryAfter}
		case errors.Is(err, identity.ErrNotFound):
			return ProofIssueResult{Failure: ProofFailureNotFound, Err: err}
		case errors.As(err, &ie):
			return ProofIssueResult{Failure: ProofFailureIssue, Err: ie.err}
		default:
			return ProofIssueResult{Failure: ProofFailureStore, Err: err}
		}
	}

	return ProofIssueResult{
		Failure:   ProofFailureNone,
		Identity:  updated,
		Token:     issued.Value,
		ExpiresAt: issued.ExpiresAt,
	}
}

// RunConsumeProof redeems a presented proof token exactly once.
//
// The identity is located by the token digest. Inside one atomic update the stored
// digest is re-checked, expiry enforced, the token cleared and effect applied to the
// record. Rejected tokens leave the record untouched. effect may be nil.
func RunConsumeProof(
	ctx context.Context,
	kind identity.ProofKind,
	token string,
	effect func(*identity.Identity) bool,
	deps ProofDeps,
) ProofConsumeResult {
	if token == "" {
		return ProofConsumeResult{Failure: ProofFailureInvalidToken}
	}
	digest, err := deps.Codec.Digest(tokencodec.Kind(kind), token)
	if err != nil {
		return ProofConsumeResult{Failure: ProofFailureInvalidInput, Err: err}
	}

	ident, err := deps.Store.FindByProof(ctx, kind, digest)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ProofConsumeResult{Failure: ProofFailureInvalidToken, Err: err}
		}
		return ProofConsumeResult{Failure: ProofFailureStore, Err: err}
	}

	now := nowFunc(deps.Now)
	changed := false
	updated, err := deps.Store.Update(ctx, ident.ID, func(cur *identity.Identity) error {
		slot := cur.Proof(kind)
		at := now()
		if slot == nil || !deps.Codec.Verify(tokencodec.Kind(kind), token, slot.Digest) || !at.Before(slot.ExpiresAt) {
			return errInvalidProof
		}
		*slot = identity.Proof{}
		changed = false
		if effect != nil {
			changed = effect(cur)
		}
		cur.UpdatedAt = at
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errInvalidProof), errors.Is(err, identity.ErrNotFound):
			return ProofConsumeResult{Failure: ProofFailureInvalidToken, Err: err}
		default:
			return ProofConsumeResult{Failure: ProofFailureStore, Err: err}
		}
	}

	return ProofConsumeResult{Failure: ProofFailureNone, Identity: updated, Changed: changed}
}

// VerifyEmailEffect marks the email verified. It reports false for an identity
// that was already verified.
func VerifyEmailEffect(ident *identity.Identity) bool {
	if ident.EmailVerified {
		return false
	}
	ident.EmailVerified = true
	return true
}

// ResetPasswordEffect returns an effect that installs passwordHash and revokes the
// current session.
func ResetPasswordEffect(passwordHash string) func(*identity.Identity) bool {
	return func(ident *identity.Identity) bool {
		ident.PasswordHash = passwordHash
		ident.RefreshDigest = ""
		return true
	}
}
