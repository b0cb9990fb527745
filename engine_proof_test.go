package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterSendsVerificationAndVerifyEmail(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) { b.WithMetricsEnabled(true) })
	ctx := context.Background()

	res, err := env.engine.Register(ctx, RegisterRequest{
		Handle:   "carol",
		Email:    "carol@x.test",
		Password: testPassword,
		FullName: "Carol",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.User.EmailVerified {
		t.Fatalf("new identity must be unverified")
	}
	if !res.Delivery.Sent || res.Delivery.Degraded() {
		t.Fatalf("expected delivered mail, got %+v", res.Delivery)
	}
	if want := env.clock.Now().Add(20 * time.Minute); !res.Delivery.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v got %v", want, res.Delivery.ExpiresAt)
	}

	token := env.mail.lastToken(t, "carol@x.test")
	user, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !user.EmailVerified || user.ID != res.User.ID {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token must be single-use, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "carol", testPassword); err != nil {
		t.Fatalf("login after verification: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricEmailVerificationSuccess] != 1 || snap.Counters[MetricEmailVerificationFailure] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestVerifyEmailRejectsExpiredAndUnknownTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Handle: "carol", Email: "carol@x.test", Password: testPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}
	token := env.mail.lastToken(t, "carol@x.test")

	if _, err := env.engine.VerifyEmail(ctx, ""); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for empty token, got %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, "forged-token"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for unknown token, got %v", err)
	}

	env.clock.Advance(21 * time.Minute)
	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for expired token, got %v", err)
	}
}

func TestVerificationCooldownAndReplacement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Register(ctx, RegisterRequest{Handle: "carol", Email: "carol@x.test", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	first := env.mail.lastToken(t, "carol@x.test")

	_, err = env.engine.RequestEmailVerification(ctx, res.User.ID)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError during cool-down, got %v", err)
	}
	if rl.RetryAfter != time.Minute {
		t.Fatalf("expected RetryAfter=1m got %v", rl.RetryAfter)
	}

	env.clock.Advance(61 * time.Second)
	delivery, err := env.engine.ResendEmailVerification(ctx, "CAROL@x.test")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !delivery.Sent {
		t.Fatalf("expected delivered mail")
	}
	if env.mail.count() != 2 {
		t.Fatalf("expected 2 mails, got %d", env.mail.count())
	}
	second := env.mail.lastToken(t, "carol@x.test")

	if _, err := env.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("replaced token must be invalid, got %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("verify with newest token: %v", err)
	}

	if _, err := env.engine.ResendEmailVerification(ctx, "carol@x.test"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	if _, err := env.engine.ResendEmailVerification(ctx, "nobody@x.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	registerVerified(t, env.engine, "dave", "dave@x.test")
	ctx := context.Background()

	session, err := env.engine.Login(ctx, "dave", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	delivery, err := env.engine.ForgotPassword(ctx, "dave@x.test")
	if err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if !delivery.Sent {
		t.Fatalf("expected delivered mail")
	}
	token := env.mail.lastToken(t, "dave@x.test")

	if _, err := env.engine.ForgotPassword(ctx, "dave@x.test"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited during cool-down, got %v", err)
	}

	if err := env.engine.ResetPassword(ctx, token, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	const newPassword = "brand-new-password-456"
	if err := env.engine.ResetPassword(ctx, token, newPassword); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, token, newPassword); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("reset token must be single-use, got %v", err)
	}

	if _, err := env.engine.Refresh(ctx, session.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("reset must revoke the session, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "dave", testPassword); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "dave", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	delivery, err := env.engine.ForgotPassword(context.Background(), "ghost@x.test")
	if err != nil {
		t.Fatalf("expected success for unknown email, got %v", err)
	}
	if delivery.Sent {
		t.Fatalf("expected unsent delivery")
	}
	if env.mail.count() != 0 {
		t.Fatalf("expected no mail, got %d", env.mail.count())
	}
	if _, err := env.engine.ForgotPassword(context.Background(), "not-an-email"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	registerVerified(t, env.engine, "dave", "dave@x.test")
	ctx := context.Background()

	if _, err := env.engine.ForgotPassword(ctx, "dave@x.test"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := env.mail.lastToken(t, "dave@x.test")

	env.clock.Advance(20 * time.Minute)
	if err := env.engine.ResetPassword(ctx, token, "brand-new-password-456"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken at expiry, got %v", err)
	}
}

func TestVerificationTokenCannotResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Handle: "erin", Email: "erin@x.test", Password: testPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}
	token := env.mail.lastToken(t, "erin@x.test")

	if err := env.engine.ResetPassword(ctx, token, "brand-new-password-456"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verification token must still work: %v", err)
	}
}

func TestDeliveryFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) { b.WithMetricsEnabled(true) })
	env.mail.fail.Store(true)

	res, err := env.engine.Register(context.Background(), RegisterRequest{Handle: "frank", Email: "frank@x.test", Password: testPassword})
	if err != nil {
		t.Fatalf("register must succeed without mail, got %v", err)
	}
	if !res.Delivery.Degraded() {
		t.Fatalf("expected degraded delivery")
	}
	if res.Delivery.ExpiresAt.IsZero() {
		t.Fatalf("the token is still issued")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricNotificationFailure]; got != 1 {
		t.Fatalf("expected MetricNotificationFailure=1 got %d", got)
	}
}

func TestChangePassword(t *testing.T) {
	engine := newTestEngine(t)
	user := registerVerified(t, engine, "gina", "gina@x.test")
	ctx := context.Background()

	session, err := engine.Login(ctx, "gina", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := engine.ChangePassword(ctx, user.ID, "wrong-password", "another-password-789"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := engine.ChangePassword(ctx, user.ID, testPassword, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := engine.ChangePassword(ctx, user.ID, testPassword, "another-password-789"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, err := engine.Refresh(ctx, session.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("change must revoke the session, got %v", err)
	}
	if _, err := engine.Login(ctx, "gina", "another-password-789"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := engine.ChangePassword(ctx, "missing", testPassword, "another-password-789"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
