package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/flows"
)

// RequestEmailVerification mails a fresh verification link to the current
// email of userID, replacing any earlier link.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (Delivery, error) {
	if !e.ready() {
		return Delivery{}, ErrEngineNotReady
	}
	return e.requestVerification(ctx, userID)
}

// ResendEmailVerification is RequestEmailVerification addressed by email.
// It returns ErrNotFound for unknown emails and ErrAlreadyVerified for
// verified ones.
func (e *Engine) ResendEmailVerification(ctx context.Context, email string) (Delivery, error) {
	if !e.ready() {
		return Delivery{}, ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Delivery{}, err
	}
	ident, err := e.store.FindBy(ctx, identity.FieldEmail, email)
	if err != nil {
		return Delivery{}, e.identityError(err)
	}
	return e.requestVerification(ctx, ident.ID)
}

func (e *Engine) requestVerification(ctx context.Context, userID string) (Delivery, error) {
	delivery, err := e.issueProof(ctx, userID, identity.ProofEmailVerification, true)
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, err == nil, userID, err, nil)
	return delivery, err
}

// VerifyEmail redeems a verification token. Redeeming a valid token of an
// identity that is already verified succeeds without change.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunConsumeProof(ctx, identity.ProofEmailVerification, token, flows.VerifyEmailEffect,
		e.proofDeps(identity.ProofEmailVerification))
	userID := ""
	if res.Identity != nil {
		userID = res.Identity.ID
	}
	if err := e.proofConsumeError(res); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			e.metricInc(MetricEmailVerificationFailure)
		}
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, err, nil)
		return nil, err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, userID, nil, nil)
	u := userFromIdentity(res.Identity)
	return &u, nil
}
