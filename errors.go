package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/oidc"
)

var (
	// ErrUnauthorized is returned for missing, malformed or expired access tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated identity lacks a required role.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when no identity matches the request.
	ErrNotFound = errors.New("identity not found")
	// ErrWrongPassword is returned when a password does not match the stored proof.
	ErrWrongPassword = errors.New("wrong password")
	// ErrEmailNotVerified is returned by Login for identities that never verified their email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAlreadyVerified is returned when verification is requested for a verified email.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrInvalidOrExpiredToken is returned for proof tokens that are unknown, used or expired.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrRateLimited is matched by *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRefreshToken is returned when a refresh token fails signature or expiry checks.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when a refresh token is not the current one. The
	// session is revoked before this is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrConflict is returned when a handle, email or provider subject is already taken.
	ErrConflict = errors.New("already taken")
	// ErrInvalidInput is returned for requests that fail validation or password policy.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable wraps identity store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrFederationDisabled is returned by federation operations when no provider is configured.
	ErrFederationDisabled = errors.New("federation disabled")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidState is returned when the federation state is missing, unknown or mismatched.
	ErrInvalidState = oidc.ErrInvalidState
	// ErrNonceMismatch is returned when the ID token nonce differs from the stored one.
	ErrNonceMismatch = oidc.ErrNonceMismatch
	// ErrInvalidIDToken is returned when the provider ID token fails verification.
	ErrInvalidIDToken = oidc.ErrInvalidIDToken
	// ErrUnknownSigningKey is returned when the provider publishes no key for the token's kid.
	ErrUnknownSigningKey = oidc.ErrUnknownSigningKey
	// ErrTokenExchangeFailed is returned when the provider rejects or fails the code exchange.
	ErrTokenExchangeFailed = oidc.ErrTokenExchangeFailed
)

// RateLimitError carries how long the caller should wait before retrying.
// RetryAfter is zero when the limiter does not know.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ConflictError names the unique field that was already taken: "email",
// "handle" or "subject".
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, ErrConflict)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func storageError(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
