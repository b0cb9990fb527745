package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/flows"
)

var errPasswordChangedConcurrently = errors.New("password changed concurrently")

// ChangePassword replaces the password of userID after checking the old one
// and revokes the current session.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validatePassword(newPassword); err != nil {
		return err
	}

	ident, err := e.store.Get(ctx, userID)
	if err != nil {
		return e.identityError(err)
	}
	if ident.PasswordHash == "" {
		return fmt.Errorf("%w: identity has no password, use password reset", ErrInvalidInput)
	}
	ok, err := e.passwords.Verify(oldPassword, ident.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, userID, ErrWrongPassword, nil)
		return ErrWrongPassword
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authcore: hash password: %w", err)
	}
	_, err = e.store.Update(ctx, userID, func(cur *identity.Identity) error {
		if cur.PasswordHash != ident.PasswordHash {
			return errPasswordChangedConcurrently
		}
		cur.PasswordHash = hash
		cur.RefreshDigest = ""
		cur.UpdatedAt = e.now()
		return nil
	})
	if errors.Is(err, errPasswordChangedConcurrently) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, userID, ErrWrongPassword, nil)
		return ErrWrongPassword
	}
	if err != nil {
		return e.identityError(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, nil, nil)
	return nil
}

// ForgotPassword mails a password reset link. Unknown emails succeed with an
// unsent Delivery so callers cannot tell them apart.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (Delivery, error) {
	if !e.ready() {
		return Delivery{}, ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Delivery{}, err
	}
	e.metricInc(MetricPasswordResetRequest)

	ident, err := e.store.FindBy(ctx, identity.FieldEmail, email)
	if errors.Is(err, identity.ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrNotFound, nil)
		return Delivery{}, nil
	}
	if err != nil {
		return Delivery{}, e.identityError(err)
	}

	delivery, err := e.issueProof(ctx, ident.ID, identity.ProofPasswordReset, false)
	e.emitAudit(ctx, auditEventPasswordResetRequest, err == nil, ident.ID, err, nil)
	return delivery, err
}

// ResetPassword redeems a reset token, installs newPassword and revokes the
// session of the identity it belonged to.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authcore: hash password: %w", err)
	}

	res := flows.RunConsumeProof(ctx, identity.ProofPasswordReset, token, flows.ResetPasswordEffect(hash),
		e.proofDeps(identity.ProofPasswordReset))
	userID := ""
	if res.Identity != nil {
		userID = res.Identity.ID
	}
	if err := e.proofConsumeError(res); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, err, nil)
		return err
	}

	e.logger.Info("password reset", zap.String("user_id", userID))
	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, userID, nil, nil)
	return nil
}
