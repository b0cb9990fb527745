package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProofKind names a single-use proof token family stored on an Identity.
type ProofKind string

const (
	// ProofEmailVerification proves control of the identity's email address.
	ProofEmailVerification ProofKind = "email-verify"
	// ProofPasswordReset authorizes replacing the password proof.
	ProofPasswordReset ProofKind = "password-reset"
)

// Field names a unique lookup field.
type Field string

const (
	FieldID      Field = "id"
	FieldEmail   Field = "email"
	FieldHandle  Field = "handle"
	FieldSubject Field = "subject"
	// FieldProof is only reported by conflicts on proof digest indexes.
	FieldProof Field = "proof"
)

var (
	// ErrNotFound is returned when no identity matches a lookup.
	ErrNotFound = errors.New("identity: not found")
	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("identity: unique field conflict")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("identity: store unavailable")
	// ErrInvalid is returned by Create for records without an id or email.
	ErrInvalid = errors.New("identity: invalid record")
	// ErrContention is returned when an update keeps losing its compare-and-swap.
	ErrContention = errors.New("identity: update contention")
)

// ConflictError reports which unique field collided.
type ConflictError struct {
	Field Field
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity: %s already taken", e.Field)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Proof is the persisted half of a proof token. Only the digest is stored.
type Proof struct {
	Digest    string    `json:"digest,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the proof is issued and not yet expired at now.
func (p Proof) Active(now time.Time) bool {
	return p.Digest != "" && now.Before(p.ExpiresAt)
}

// Equal compares proofs ignoring monotonic clock readings.
func (p Proof) Equal(o Proof) bool {
	return p.Digest == o.Digest && p.IssuedAt.Equal(o.IssuedAt) && p.ExpiresAt.Equal(o.ExpiresAt)
}

// Identity is a registered principal. Stores treat it as a value; callers never
// hold references into store memory.
type Identity struct {
	ID            string `json:"id"`
	Handle        string `json:"handle,omitempty"`
	Email         string `json:"email"`
	FullName      string `json:"full_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	PasswordHash  string `json:"password_hash,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`

	Provider             string `json:"provider,omitempty"`
	ProviderSubject      string `json:"provider_subject,omitempty"`
	ProviderRefreshToken string `json:"provider_refresh_token,omitempty"`

	RefreshDigest     string `json:"refresh_digest,omitempty"`
	EmailVerification Proof  `json:"email_verification"`
	PasswordReset     Proof  `json:"password_reset"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Proof returns a pointer to the proof slot for kind, or nil for unknown kinds.
func (i *Identity) Proof(kind ProofKind) *Proof {
	switch kind {
	case ProofEmailVerification:
		return &i.EmailVerification
	case ProofPasswordReset:
		return &i.PasswordReset
	default:
		return nil
	}
}

// SubjectKey returns the unique federated key, or "" for local-only identities.
func (i *Identity) SubjectKey() string {
	if i.Provider == "" || i.ProviderSubject == "" {
		return ""
	}
	return SubjectKey(i.Provider, i.ProviderSubject)
}

// Clone returns an independent copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Equal reports whether two identities carry the same persisted state.
func (i *Identity) Equal(o *Identity) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.ID == o.ID &&
		i.Handle == o.Handle &&
		i.Email == o.Email &&
		i.FullName == o.FullName &&
		i.AvatarURL == o.AvatarURL &&
		i.PasswordHash == o.PasswordHash &&
		i.EmailVerified == o.EmailVerified &&
		i.Role == o.Role &&
		i.Provider == o.Provider &&
		i.ProviderSubject == o.ProviderSubject &&
		i.ProviderRefreshToken == o.ProviderRefreshToken &&
		i.RefreshDigest == o.RefreshDigest &&
		i.EmailVerification.Equal(o.EmailVerification) &&
		i.PasswordReset.Equal(o.PasswordReset) &&
		i.CreatedAt.Equal(o.CreatedAt) &&
		i.UpdatedAt.Equal(o.UpdatedAt)
}

// SubjectKey joins a provider name and its stable subject id.
func SubjectKey(provider, subject string) string {
	return provider + ":" + subject
}

// Store persists identities. Email lookups are case-insensitive.
//
// Update is an atomic read-modify-write: mutate runs against the current record and
// the result is committed only if the record did not change in between. Stores retry
// mutate on contention, so it must be free of side effects other than on its argument.
// A mutate error aborts the update and is returned unchanged. If mutate leaves the
// record unchanged nothing is written.
type Store interface {
	Create(ctx context.Context, ident *Identity) error
	Get(ctx context.Context, id string) (*Identity, error)
	FindBy(ctx context.Context, field Field, value string) (*Identity, error)
	FindByProof(ctx context.Context, kind ProofKind, digest string) (*Identity, error)
	Update(ctx context.Context, id string, mutate func(*Identity) error) (*Identity, error)
	Delete(ctx context.Context, id string) error
}
