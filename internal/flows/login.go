package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/session"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidInput
	LoginFailureRateLimited
	LoginFailureNotFound
	LoginFailureWrongPassword
	LoginFailureEmailNotVerified
	LoginFailureIssue
	LoginFailureStore
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Failure  LoginFailureKind
	Err      error
	Identity *identity.Identity
	Pair     session.Pair
	// Rehashed is set when the stored password proof was upgraded to the primary algorithm.
	Rehashed bool
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Session              SessionDeps
	Passwords            PasswordVerifier
	Limiter              LoginLimiter
	RateLimited          error
	RequireVerifiedEmail bool
	UpgradeHashOnLogin   bool
	ClientIPFromContext  func(context.Context) string
	Warn                 func(string, ...any)
}

// LookupField picks the unique field an identifier refers to.
func LookupField(identifier string) (identity.Field, string) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return identity.FieldEmail, strings.ToLower(identifier)
	}
	return identity.FieldHandle, identifier
}

// RunLogin verifies credentials and, on success, issues a session pair.
//
// NotFound and identities without a password still spend a password comparison. The email verification gate is
// checked only after the password matched.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	field, value := LookupField(identifier)
	if value == "" || password == "" {
		return LoginResult{Failure: LoginFailureInvalidInput}
	}

	ip := ""
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, value, ip); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return LoginResult{Failure: LoginFailureRateLimited, Err: err}
			}
			return LoginResult{Failure: LoginFailureStore, Err: err}
		}
	}

	failed := func(kind LoginFailureKind, err error, ident *identity.Identity) LoginResult {
		if deps.Limiter != nil {
			if limErr := deps.Limiter.IncrementLogin(ctx, value, ip); limErr != nil &&
				(deps.RateLimited == nil || !errors.Is(limErr, deps.RateLimited)) {
				deps.Warn("authcore: login limiter increment failed", "error", limErr)
			}
		}
		return LoginResult{Failure: kind, Err: err, Identity: ident}
	}

	ident, err := deps.Session.Store.FindBy(ctx, field, value)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			deps.Passwords.DummyVerify(password)
			return failed(LoginFailureNotFound, err, nil)
		}
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}

	if ident.PasswordHash == "" {
		deps.Passwords.DummyVerify(password)
		return failed(LoginFailureWrongPassword, nil, ident)
	}

	ok, err := deps.Passwords.Verify(password, ident.PasswordHash)
	if err != nil || !ok {
		return failed(LoginFailureWrongPassword, err, ident)
	}

	if deps.RequireVerifiedEmail && !ident.EmailVerified {
		return LoginResult{Failure: LoginFailureEmailNotVerified, Identity: ident}
	}

	upgraded := ""
	if deps.UpgradeHashOnLogin && deps.Passwords.NeedsRehash(ident.PasswordHash) {
		if h, err := deps.Passwords.Hash(password); err == nil {
			upgraded = h
		} else {
			deps.Warn("authcore: password hash upgrade failed", "error", err)
		}
	}
	previousHash := ident.PasswordHash

	rehashed := false
	pair, updated, err := RunIssue(ctx, ident.ID, deps.Session, func(cur *identity.Identity) {
		rehashed = false
		if upgraded != "" && cur.PasswordHash == previousHash {
			cur.PasswordHash = upgraded
			rehashed = true
		}
	})
	if err != nil {
		var ie *issueError
		switch {
		case errors.Is(err, identity.ErrNotFound):
			return LoginResult{Failure: LoginFailureNotFound, Err: err}
		case errors.As(err, &ie):
			return LoginResult{Failure: LoginFailureIssue, Err: ie.err, Identity: ident}
		default:
			return LoginResult{Failure: LoginFailureStore, Err: err, Identity: ident}
		}
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, value); err != nil {
			deps.Warn("authcore: login limiter reset failed", "error", err)
		}
	}

	return LoginResult{
		Failure:  LoginFailureNone,
		Identity: updated,
		Pair:     pair,
		Rehashed: rehashed,
	}
}
