package authcore

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/session"
)

// User is the public view of an identity. Password proofs, token digests and
// provider credentials never leave the engine.
type User struct {
	ID            string    `json:"id"`
	Handle        string    `json:"handle,omitempty"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Role          string    `json:"role"`
	Provider      string    `json:"provider,omitempty"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func userFromIdentity(ident *identity.Identity) User {
	return User{
		ID:            ident.ID,
		Handle:        ident.Handle,
		Email:         ident.Email,
		FullName:      ident.FullName,
		AvatarURL:     ident.AvatarURL,
		EmailVerified: ident.EmailVerified,
		Role:          ident.Role,
		Provider:      ident.Provider,
		HasPassword:   ident.PasswordHash != "",
		CreatedAt:     ident.CreatedAt,
		UpdatedAt:     ident.UpdatedAt,
	}
}

// TokenPair is an access token with its rotating refresh token.
type TokenPair = session.Pair

// SessionResult is returned by Login, Refresh and CompleteFederation.
type SessionResult struct {
	User   User
	Tokens TokenPair
}

// AccessClaims are the verified claims of an access token.
type AccessClaims struct {
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Delivery reports what happened to an outgoing notification. Sent is false
// when the channel failed; the operation that triggered it still succeeded.
type Delivery struct {
	Sent      bool
	ExpiresAt time.Time
}

// Degraded reports whether the mail could not be delivered.
func (d Delivery) Degraded() bool { return !d.Sent }

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Handle   string
	Email    string
	Password string
	FullName string
}

// RegisterResult is the created user and the verification mail delivery.
type RegisterResult struct {
	User     User
	Delivery Delivery
}

// ProfileUpdate changes the non-nil fields only. An empty Handle clears it.
type ProfileUpdate struct {
	Handle   *string
	Email    *string
	FullName *string
}

// ProfileResult is the updated user. Delivery is set when the email changed and
// a fresh verification mail went out.
type ProfileResult struct {
	User         User
	EmailChanged bool
	Delivery     Delivery
}

// FederationStart is returned by StartFederation. Redirect the browser to URL and
// set State and Nonce as http-only cookies living MaxAge.
type FederationStart struct {
	URL    string
	State  string
	Nonce  string
	MaxAge time.Duration
}

// FederationCallback carries the provider redirect parameters and the cookies
// set by StartFederation.
type FederationCallback struct {
	Code          string
	State         string
	CookieState   string
	CookieNonce   string
	ProviderError string
}

// FederationResult is a completed federated sign-in.
type FederationResult struct {
	SessionResult
	Provider string
	// Created is set when this callback created the identity.
	Created bool
}

// AuditEvent is one emitted audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// LoggerSink writes events to a zap logger.
type LoggerSink = internalaudit.LoggerSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLoggerSink returns a sink logging events at info level.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return internalaudit.NewLoggerSink(logger)
}
