package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/oidc"
)

// StartFederation begins a provider sign-in. The returned state and nonce must
// reach CompleteFederation through http-only cookies.
func (e *Engine) StartFederation(ctx context.Context) (*FederationStart, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.federation == nil {
		return nil, ErrFederationDisabled
	}

	auth, err := e.federation.Start(ctx)
	if err != nil {
		e.logger.Error("federation start failed", zap.Error(err))
		return nil, storageError(err)
	}
	e.metricInc(MetricFederationStart)
	e.emitAudit(ctx, auditEventFederationStart, true, "", nil, nil)
	return &FederationStart{
		URL:    auth.URL,
		State:  auth.State,
		Nonce:  auth.Nonce,
		MaxAge: auth.MaxAge,
	}, nil
}

// CompleteFederation verifies the provider callback, links or creates the
// identity for the provider subject and issues a local token pair.
//
// A new identity whose email already belongs to another identity fails with
// ErrConflict; accounts are never merged implicitly.
func (e *Engine) CompleteFederation(ctx context.Context, cb FederationCallback) (*FederationResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.federation == nil {
		return nil, ErrFederationDisabled
	}

	res, err := e.federation.Callback(ctx, oidc.CallbackRequest{
		Code:          cb.Code,
		State:         cb.State,
		CookieState:   cb.CookieState,
		CookieNonce:   cb.CookieNonce,
		ProviderError: cb.ProviderError,
	})
	if err != nil {
		return nil, e.federationFailed(ctx, "", federationError(err))
	}

	claims := flows.LinkClaims{
		Provider:      res.Provider,
		Subject:       res.Claims.Subject,
		Email:         res.Claims.Email,
		EmailVerified: bool(res.Claims.EmailVerified),
		Name:          res.Claims.Name,
		Picture:       res.Claims.Picture,
	}
	if e.sealer != nil && res.Tokens != nil && res.Tokens.RefreshToken != "" {
		sealed, err := e.sealer.Seal(res.Tokens.RefreshToken)
		if err != nil {
			e.logger.Error("seal provider refresh token failed", zap.Error(err))
		} else {
			claims.RefreshToken = sealed
		}
	}

	link := flows.RunLink(ctx, claims, e.flows.Link)
	switch link.Failure {
	case flows.LinkFailureNone:
	case flows.LinkFailureInvalidInput:
		return nil, e.federationFailed(ctx, "", fmt.Errorf("%w: id token lacks subject or email", ErrInvalidIDToken))
	case flows.LinkFailureEmailNotVerified:
		return nil, e.federationFailed(ctx, "", ErrEmailNotVerified)
	case flows.LinkFailureConflict:
		return nil, e.federationFailed(ctx, "", conflictError(link.Err))
	default:
		e.logger.Error("federation link store failure", zap.Error(link.Err))
		return nil, e.federationFailed(ctx, "", storageError(link.Err))
	}
	if link.Created {
		e.metricInc(MetricFederationIdentityCreated)
	}

	pair, updated, err := flows.RunIssue(ctx, link.Identity.ID, e.flows.Session, nil)
	if err != nil {
		return nil, e.federationFailed(ctx, link.Identity.ID, e.identityError(err))
	}

	e.metricInc(MetricFederationSuccess)
	e.emitAudit(ctx, auditEventFederationSuccess, true, updated.ID, nil, func() map[string]string {
		return map[string]string{"created": fmt.Sprint(link.Created)}
	})
	return &FederationResult{
		SessionResult: SessionResult{User: userFromIdentity(updated), Tokens: pair},
		Provider:      res.Provider,
		Created:       link.Created,
	}, nil
}

func (e *Engine) federationFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricFederationFailure)
	e.emitAudit(ctx, auditEventFederationFailure, false, userID, err, nil)
	return err
}

// federationError keeps the oidc sentinels and wraps anything else as a
// storage failure of the state store.
func federationError(err error) error {
	for _, sentinel := range []error{
		oidc.ErrInvalidState,
		oidc.ErrNonceMismatch,
		oidc.ErrInvalidIDToken,
		oidc.ErrUnknownSigningKey,
		oidc.ErrTokenExchangeFailed,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return storageError(err)
}

// ProviderRefreshToken returns the provider refresh credential kept for userID,
// or "" when none was stored.
func (e *Engine) ProviderRefreshToken(ctx context.Context, userID string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if e.sealer == nil {
		return "", ErrFederationDisabled
	}
	ident, err := e.store.Get(ctx, userID)
	if err != nil {
		return "", e.identityError(err)
	}
	if ident.ProviderRefreshToken == "" {
		return "", nil
	}
	token, err := e.sealer.Open(ident.ProviderRefreshToken)
	if err != nil {
		e.logger.Error("open provider refresh token failed", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("authcore: open provider refresh token: %w", err)
	}
	return token, nil
}
