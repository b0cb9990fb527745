package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/notify"
)

var errDeliveryFailed = errors.New("notification delivery failed")

func (e *Engine) proofDeps(kind identity.ProofKind) flows.ProofDeps {
	deps := e.flows.Proof
	switch kind {
	case identity.ProofEmailVerification:
		deps.Cooldown = e.config.EmailVerification.Cooldown
	case identity.ProofPasswordReset:
		deps.Cooldown = e.config.PasswordReset.Cooldown
	}
	return deps
}

// issueProof issues a proof token of kind for userID and mails it.
func (e *Engine) issueProof(ctx context.Context, userID string, kind identity.ProofKind, resend bool) (Delivery, error) {
	res := flows.RunIssueProof(ctx, userID, kind, e.proofDeps(kind))
	if err := e.proofIssueError(res); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricProofRateLimited)
		}
		return Delivery{}, err
	}

	var (
		msg notify.Message
		err error
	)
	name := res.Identity.FullName
	if name == "" {
		name = res.Identity.Handle
	}
	switch kind {
	case identity.ProofEmailVerification:
		link := notify.VerifyEmailLink(e.config.Notification.BaseURL, res.Token)
		msg, err = notify.VerificationMail(res.Identity.Email, name, link, e.config.EmailVerification.TTL, resend)
	case identity.ProofPasswordReset:
		link := notify.ResetPasswordLink(e.config.Notification.BaseURL, res.Token)
		msg, err = notify.PasswordResetMail(res.Identity.Email, name, link, e.config.PasswordReset.TTL)
	}
	if err != nil {
		e.logger.Error("render mail failed", zap.String("kind", string(kind)), zap.Error(err))
		return e.deliveryFailed(ctx, userID, kind, res, err), nil
	}

	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("mail delivery failed",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return e.deliveryFailed(ctx, userID, kind, res, err), nil
	}
	return Delivery{Sent: true, ExpiresAt: res.ExpiresAt}, nil
}

func (e *Engine) deliveryFailed(ctx context.Context, userID string, kind identity.ProofKind, res flows.ProofIssueResult, cause error) Delivery {
	e.metricInc(MetricNotificationFailure)
	e.emitAudit(ctx, auditEventNotificationFailure, false, userID, fmt.Errorf("%w: %v", errDeliveryFailed, cause), func() map[string]string {
		return map[string]string{"kind": string(kind)}
	})
	return Delivery{Sent: false, ExpiresAt: res.ExpiresAt}
}

func (e *Engine) proofIssueError(res flows.ProofIssueResult) error {
	switch res.Failure {
	case flows.ProofFailureNone:
		return nil
	case flows.ProofFailureInvalidInput:
		return ErrInvalidInput
	case flows.ProofFailureNotFound:
		return ErrNotFound
	case flows.ProofFailureAlreadyVerified:
		return ErrAlreadyVerified
	case flows.ProofFailureRateLimited:
		return &RateLimitError{RetryAfter: res.RetryAfter}
	case flows.ProofFailureIssue:
		e.logger.Error("proof token issue failed", zap.Error(res.Err))
		return fmt.Errorf("authcore: issue proof token: %w", res.Err)
	default:
		e.logger.Error("proof token store failure", zap.Error(res.Err))
		return storageError(res.Err)
	}
}

func (e *Engine) proofConsumeError(res flows.ProofConsumeResult) error {
	switch res.Failure {
	case flows.ProofFailureNone:
		return nil
	case flows.ProofFailureInvalidToken, flows.ProofFailureInvalidInput:
		return ErrInvalidOrExpiredToken
	default:
		e.logger.Error("proof token store failure", zap.Error(res.Err))
		return storageError(res.Err)
	}
}
