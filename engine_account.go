package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Register creates a password identity and mails a verification link. The
// identity exists even when the mail could not be delivered; Delivery reports it.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	handle := strings.TrimSpace(req.Handle)
	if err := e.validateHandle(handle); err != nil {
		return nil, err
	}
	if err := e.validatePassword(req.Password); err != nil {
		return nil, err
	}
	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("authcore: hash password: %w", err)
	}

	now := e.now()
	ident := &identity.Identity{
		ID:           e.newID(),
		Handle:       handle,
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
		Role:         e.config.Account.DefaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Create(ctx, ident); err != nil {
		err = e.identityError(err)
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricRegisterConflict)
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, nil)
		return nil, err
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, ident.ID, nil, nil)

	delivery, err := e.issueProof(ctx, ident.ID, identity.ProofEmailVerification, false)
	if err != nil {
		e.logger.Warn("verification token not issued after register", zap.String("user_id", ident.ID), zap.Error(err))
		delivery = Delivery{}
	} else {
		e.metricInc(MetricEmailVerificationRequest)
	}
	return &RegisterResult{User: userFromIdentity(ident), Delivery: delivery}, nil
}

// UpdateProfile applies the non-nil fields of upd. A changed email is stored
// unverified and a new verification link is mailed to it. An empty handle
// clears it only on identities without a password, since password logins
// need one; otherwise ErrInvalidInput is returned.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*ProfileResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var handle, email, fullName string
	if upd.Handle != nil {
		handle = strings.TrimSpace(*upd.Handle)
		if handle != "" {
			if err := e.validateHandle(handle); err != nil {
				return nil, err
			}
		}
	}
	if upd.Email != nil {
		var err error
		if email, err = normalizeEmail(*upd.Email); err != nil {
			return nil, err
		}
	}
	if upd.FullName != nil {
		fullName = strings.TrimSpace(*upd.FullName)
	}

	emailChanged := false
	updated, err := e.store.Update(ctx, userID, func(ident *identity.Identity) error {
		before := ident.Clone()
		emailChanged = false
		if upd.Handle != nil {
			if handle == "" && ident.PasswordHash != "" {
				return errHandleRequired
			}
			ident.Handle = handle
		}
		if upd.FullName != nil {
			ident.FullName = fullName
		}
		if upd.Email != nil && email != ident.Email {
			ident.Email = email
			ident.EmailVerified = false
			ident.EmailVerification = identity.Proof{}
			emailChanged = true
		}
		if !ident.Equal(before) {
			ident.UpdatedAt = e.now()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errHandleRequired) {
			return nil, err
		}
		return nil, e.identityError(err)
	}

	e.metricInc(MetricProfileUpdate)
	e.emitAudit(ctx, auditEventProfileUpdate, true, userID, nil, func() map[string]string {
		return map[string]string{"email_changed": fmt.Sprint(emailChanged)}
	})

	out := &ProfileResult{User: userFromIdentity(updated), EmailChanged: emailChanged}
	if emailChanged {
		delivery, err := e.issueProof(ctx, userID, identity.ProofEmailVerification, false)
		if err != nil {
			e.logger.Warn("verification token not issued after email change", zap.String("user_id", userID), zap.Error(err))
		} else {
			e.metricInc(MetricEmailVerificationRequest)
		}
		out.Delivery = delivery
	}
	return out, nil
}

var errHandleRequired = fmt.Errorf("%w: handle is required for password accounts", ErrInvalidInput)

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return email, nil
}

func (e *Engine) validateHandle(handle string) error {
	n := utf8.RuneCountInString(handle)
	switch {
	case n == 0:
		return fmt.Errorf("%w: handle is required", ErrInvalidInput)
	case n < e.config.Account.HandleMinLength || n > e.config.Account.HandleMaxLength:
		return fmt.Errorf("%w: handle must be %d to %d characters", ErrInvalidInput,
			e.config.Account.HandleMinLength, e.config.Account.HandleMaxLength)
	case strings.Contains(handle, "@") || !handlePattern.MatchString(handle):
		return fmt.Errorf("%w: handle may contain letters, digits, '.', '_' and '-'", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, e.config.Password.MinLength)
	}
	if len(pw) > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, e.config.Password.MaxLength)
	}
	return nil
}
