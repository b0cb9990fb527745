package authcore

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventLogout                   = "logout"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventProfileUpdate            = "profile_update"
	auditEventFederationStart          = "federation_start"
	auditEventFederationSuccess        = "federation_success"
	auditEventFederationFailure        = "federation_failure"
	auditEventNotificationFailure      = "notification_failure"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized      AuditErrorCode = "unauthorized"
	auditErrInvalidCreds      AuditErrorCode = "invalid_credentials"
	auditErrUnverified        AuditErrorCode = "email_unverified"
	auditErrAlreadyVerified   AuditErrorCode = "already_verified"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrRefreshReuse      AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrUserNotFound      AuditErrorCode = "user_not_found"
	auditErrDuplicate         AuditErrorCode = "duplicate"
	auditErrInvalidInput      AuditErrorCode = "invalid_input"
	auditErrInvalidState      AuditErrorCode = "invalid_state"
	auditErrNonceMismatch     AuditErrorCode = "nonce_mismatch"
	auditErrInvalidIDToken    AuditErrorCode = "invalid_id_token"
	auditErrExchangeFailed    AuditErrorCode = "token_exchange_failed"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrDeliveryFailed    AuditErrorCode = "delivery_failed"
	auditErrInternal          AuditErrorCode = "internal_error"
	auditErrFederationDisable AuditErrorCode = "federation_disabled"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if eventType == auditEventFederationStart || eventType == auditEventFederationSuccess || eventType == auditEventFederationFailure {
		event.Provider = e.provider()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return auditErrUnauthorized
	case errors.Is(err, ErrWrongPassword):
		return auditErrInvalidCreds
	case errors.Is(err, ErrNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrUnverified
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInvalidState):
		return auditErrInvalidState
	case errors.Is(err, ErrNonceMismatch):
		return auditErrNonceMismatch
	case errors.Is(err, ErrInvalidIDToken), errors.Is(err, ErrUnknownSigningKey):
		return auditErrInvalidIDToken
	case errors.Is(err, ErrTokenExchangeFailed):
		return auditErrExchangeFailed
	case errors.Is(err, ErrFederationDisabled):
		return auditErrFederationDisable
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	case errors.Is(err, errDeliveryFailed):
		return auditErrDeliveryFailed
	default:
		return auditErrInternal
	}
}

func (e *Engine) provider() string {
	if e.federation == nil {
		return ""
	}
	return e.federation.Provider()
}
