package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/seal"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/oidc"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tokencodec"
)

// Engine runs every authentication operation. It is safe for concurrent use
// after Build; all shared state lives in the identity store.
type Engine struct {
	config     Config
	store      identity.Store
	passwords  *password.Manager
	codec      *tokencodec.Codec
	tokens     *session.Issuer
	limiter    *rate.Limiter
	federation *oidc.Flow
	sealer     *seal.Sealer
	notifier   notify.Channel
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	flows      flows.Deps
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AccessTTL is the lifetime of issued access tokens.
func (e *Engine) AccessTTL() time.Duration { return e.config.JWT.AccessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (e *Engine) RefreshTTL() time.Duration { return e.config.JWT.RefreshTTL }

// FederationEnabled reports whether a provider is configured.
func (e *Engine) FederationEnabled() bool { return e != nil && e.federation != nil }

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.tokens != nil
}

// ValidateAccess verifies an access token by signature, expiry and audience. It
// never reads the identity store, so a token stays valid until it expires even
// after logout.
func (e *Engine) ValidateAccess(token string) (*AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.tokens.ValidateAccess(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	out := &AccessClaims{
		UserID: claims.UserID,
		Role:   claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// CurrentUser returns the public view of userID.
func (e *Engine) CurrentUser(ctx context.Context, userID string) (*User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ident, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, e.identityError(err)
	}
	u := userFromIdentity(ident)
	return &u, nil
}

// Logout revokes the stored refresh token of userID. It succeeds for unknown
// identities and for identities without a session.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := flows.RunRevoke(ctx, userID, e.flows.Session); err != nil {
		e.logger.Error("logout revoke failed", zap.String("user_id", userID), zap.Error(err))
		return storageError(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, nil, nil)
	return nil
}

// LogoutRefresh revokes the session a refresh token belongs to. Only the
// signature and expiry are checked, so an already rotated token still ends the
// current session of its identity.
func (e *Engine) LogoutRefresh(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	return e.Logout(ctx, claims.UserID)
}

// identityError maps identity store errors onto engine sentinels.
func (e *Engine) identityError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, identity.ErrConflict):
		return conflictError(err)
	default:
		e.logger.Error("identity store failure", zap.Error(err))
		return storageError(err)
	}
}

func conflictError(err error) error {
	var ce *identity.ConflictError
	if errors.As(err, &ce) {
		return &ConflictError{Field: string(ce.Field)}
	}
	return ErrConflict
}
