package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
)

// Login verifies identifier (email or handle) and password and issues a token
// pair, replacing any earlier refresh token of the identity.
//
// ErrNotFound and ErrWrongPassword are distinct here for audit and metrics;
// transports must answer both identically. ErrEmailNotVerified is only returned
// after the password matched.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*SessionResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunLogin(ctx, identifier, password, e.flows.Login)
	userID := ""
	if res.Identity != nil {
		userID = res.Identity.ID
	}

	var err error
	switch res.Failure {
	case flows.LoginFailureNone:
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, userID, nil, func() map[string]string {
			if !res.Rehashed {
				return nil
			}
			return map[string]string{"password_rehashed": "true"}
		})
		return &SessionResult{User: userFromIdentity(res.Identity), Tokens: res.Pair}, nil
	case flows.LoginFailureInvalidInput:
		err = ErrInvalidInput
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", ErrRateLimited, nil)
		retry := e.config.RateLimit.LoginCooldown
		var limited *rate.LimitedError
		if errors.As(res.Err, &limited) {
			retry = limited.RetryAfter
		}
		return nil, &RateLimitError{RetryAfter: retry}
	case flows.LoginFailureNotFound:
		err = ErrNotFound
	case flows.LoginFailureWrongPassword:
		err = ErrWrongPassword
	case flows.LoginFailureEmailNotVerified:
		e.metricInc(MetricLoginUnverified)
		err = ErrEmailNotVerified
	case flows.LoginFailureIssue:
		e.logger.Error("login token issue failed", zap.String("user_id", userID), zap.Error(res.Err))
		err = fmt.Errorf("authcore: issue session: %w", res.Err)
	default:
		e.logger.Error("login store failure", zap.Error(res.Err))
		err = storageError(res.Err)
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, err, nil)
	return nil, err
}

// Refresh rotates a refresh token. A token that is validly signed but is not
// the identity's current one revokes the session and returns ErrRefreshReuse;
// the caller must sign in again.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*SessionResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flows.Session)
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, nil, nil)
		return &SessionResult{User: userFromIdentity(res.Identity), Tokens: res.Pair}, nil
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		if res.Revoked {
			e.metricInc(MetricSessionRevoked)
		}
		e.logger.Warn("refresh token reuse detected",
			zap.String("user_id", res.UserID),
			zap.Bool("revoked", res.Revoked),
			zap.String("ip", clientIPFromContext(ctx)),
		)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.UserID, ErrRefreshReuse, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
		})
		return nil, ErrRefreshReuse
	}

	var err error
	switch res.Failure {
	case flows.RefreshFailureInvalidToken, flows.RefreshFailureNotFound:
		err = ErrInvalidRefreshToken
	case flows.RefreshFailureIssue:
		e.logger.Error("refresh token issue failed", zap.String("user_id", res.UserID), zap.Error(res.Err))
		err = fmt.Errorf("authcore: issue session: %w", res.Err)
	default:
		e.logger.Error("refresh store failure", zap.String("user_id", res.UserID), zap.Error(res.Err))
		err = storageError(res.Err)
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, err, nil)
	return nil, err
}
